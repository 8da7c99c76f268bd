package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dharsanguruparan/sonoral/internal/apperr"
	"github.com/dharsanguruparan/sonoral/internal/database"
	"github.com/dharsanguruparan/sonoral/internal/model"
)

// Memory keeps every table in maps guarded by an RWMutex. It ignores the
// querier argument and exists for development and tests.
type Memory struct {
	mu           sync.RWMutex
	nextID       int64
	assets       map[int64]model.AssetRecord
	users        map[int64]model.UserRecord
	compositions map[int64]model.CompositionRecord
	now          func() time.Time
}

// NewMemory constructs an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		assets:       make(map[int64]model.AssetRecord),
		users:        make(map[int64]model.UserRecord),
		compositions: make(map[int64]model.CompositionRecord),
		now:          time.Now,
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

// InsertAsset stores a copy of rec.
func (m *Memory) InsertAsset(_ context.Context, _ database.Querier, rec *model.AssetRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = m.id()
	rec.UploadedAt = m.now().UTC()
	m.assets[rec.ID] = *rec
	return rec.ID, nil
}

// FindAssetByID returns a copy so callers cannot mutate stored state.
func (m *Memory) FindAssetByID(_ context.Context, _ database.Querier, id int64) (*model.AssetRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.assets[id]
	if !ok {
		return nil, apperr.NotFound.Wrap(fmt.Errorf("asset %d: %w", id, apperr.ErrNotFound))
	}
	return &rec, nil
}

// PathReferenced scans the stored assets for relPath.
func (m *Memory) PathReferenced(_ context.Context, _ database.Querier, relPath string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.assets {
		if rec.RelativePath == relPath {
			return true, nil
		}
	}
	return false, nil
}

// InsertUser stores a copy of u.
func (m *Memory) InsertUser(_ context.Context, _ database.Querier, u *model.UserRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.ID = m.id()
	m.users[u.ID] = *u
	return u.ID, nil
}

// FindUserByID returns a copy of the user.
func (m *Memory) FindUserByID(_ context.Context, _ database.Querier, id int64) (*model.UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, apperr.NotFound.Wrap(fmt.Errorf("user %d: %w", id, apperr.ErrNotFound))
	}
	return &u, nil
}

// InsertComposition stores a copy of c.
func (m *Memory) InsertComposition(_ context.Context, _ database.Querier, c *model.CompositionRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.id()
	m.compositions[c.ID] = *c
	return c.ID, nil
}

// FindCompositionByID returns a copy of the composition.
func (m *Memory) FindCompositionByID(_ context.Context, _ database.Querier, id int64) (*model.CompositionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.compositions[id]
	if !ok {
		return nil, apperr.NotFound.Wrap(fmt.Errorf("composition %d: %w", id, apperr.ErrNotFound))
	}
	return &c, nil
}
