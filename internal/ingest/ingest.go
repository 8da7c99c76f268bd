// Package ingest coordinates one upload: allocate a path, write the bytes,
// measure them, then record the metadata row on the request's connection.
//
// The filesystem write happens first. If the insert that follows fails the
// file is orphaned; the coordinator hands its path to a Reclaimer, which
// deletes it later once it has confirmed no row references it.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/sonoral/internal/apperr"
	"github.com/dharsanguruparan/sonoral/internal/database"
	"github.com/dharsanguruparan/sonoral/internal/model"
	"github.com/dharsanguruparan/sonoral/internal/pathalloc"
	"github.com/dharsanguruparan/sonoral/internal/storage"
)

// DefaultMimeType is recorded when the client declared none.
const DefaultMimeType = "application/octet-stream"

// createAttempts bounds re-allocation when a path is taken between the
// allocator's existence check and the exclusive create.
const createAttempts = 3

// AssetStore is the metadata store the coordinator writes through.
type AssetStore interface {
	InsertAsset(ctx context.Context, q database.Querier, rec *model.AssetRecord) (int64, error)
	FindAssetByID(ctx context.Context, q database.Querier, id int64) (*model.AssetRecord, error)
}

// Reclaimer schedules removal of a file that has no metadata row.
type Reclaimer interface {
	Reclaim(ctx context.Context, relPath string) error
}

// Upload is one file received from a client, fully buffered.
type Upload struct {
	Data     []byte
	Filename string
	MimeType string
}

// Coordinator implements the ingestion and read paths.
type Coordinator struct {
	log     *zap.Logger
	alloc   *pathalloc.Allocator
	backend storage.Backend
	store   AssetStore
	reclaim Reclaimer
}

// New builds a Coordinator. reclaim may be nil, in which case orphaned files
// are only logged.
func New(log *zap.Logger, alloc *pathalloc.Allocator, backend storage.Backend, store AssetStore, reclaim Reclaimer) *Coordinator {
	return &Coordinator{
		log:     log,
		alloc:   alloc,
		backend: backend,
		store:   store,
		reclaim: reclaim,
	}
}

// Ingest stores up and returns its record. A nil upload is ErrNoFile.
func (c *Coordinator) Ingest(ctx context.Context, q database.Querier, up *Upload) (*model.AssetRecord, error) {
	if up == nil {
		return nil, apperr.Validation.Wrap(apperr.ErrNoFile)
	}
	if up.Filename == "" {
		return nil, apperr.Validation.Wrap(apperr.ErrEmptyFilename)
	}

	alloc, err := c.write(ctx, up)
	if err != nil {
		return nil, err
	}
	rel := alloc.Path.Relative()

	// the recorded size comes from storage, not from the client
	size, err := c.backend.Size(ctx, rel)
	if err != nil {
		c.orphaned(ctx, rel, err)
		return nil, apperr.StorageWrite.Wrap(err)
	}

	mime := up.MimeType
	if mime == "" {
		mime = DefaultMimeType
	}
	rec := &model.AssetRecord{
		OriginalFilename: alloc.OriginalFilename,
		StorageFilename:  alloc.Path.Filename,
		RelativePath:     rel,
		MimeType:         mime,
		SizeBytes:        size,
	}
	if _, err := c.store.InsertAsset(ctx, q, rec); err != nil {
		c.orphaned(ctx, rel, err)
		if !apperr.Persistence.Has(err) {
			err = apperr.Persistence.Wrap(err)
		}
		return nil, err
	}

	c.log.Info("asset stored",
		zap.Int64("id", rec.ID),
		zap.String("path", rel),
		zap.Int64("size", rec.SizeBytes))
	return rec, nil
}

func (c *Coordinator) write(ctx context.Context, up *Upload) (pathalloc.Allocation, error) {
	for attempt := 1; ; attempt++ {
		alloc, err := c.alloc.Allocate(ctx, up.Filename)
		if err != nil {
			return pathalloc.Allocation{}, err
		}
		err = c.backend.Create(ctx, alloc.Path.Relative(), up.Data)
		if err == nil {
			return alloc, nil
		}
		if errors.Is(err, storage.ErrExists) && attempt < createAttempts {
			c.log.Warn("storage path taken after allocation, retrying", zap.String("path", alloc.Path.Relative()))
			continue
		}
		return pathalloc.Allocation{}, apperr.StorageWrite.Wrap(err)
	}
}

func (c *Coordinator) orphaned(ctx context.Context, rel string, cause error) {
	log := c.log.With(zap.String("path", rel), zap.Error(cause))
	if c.reclaim == nil {
		log.Error("metadata insert failed, file left on storage")
		return
	}
	// the request may already be cancelled; reclamation must still be queued
	if err := c.reclaim.Reclaim(context.WithoutCancel(ctx), rel); err != nil {
		log.Error("metadata insert failed and reclaim could not be scheduled", zap.NamedError("reclaim", err))
		return
	}
	log.Warn("metadata insert failed, orphaned file scheduled for reclaim")
}

// Lookup returns the metadata for id.
func (c *Coordinator) Lookup(ctx context.Context, q database.Querier, id int64) (*model.AssetRecord, error) {
	return c.store.FindAssetByID(ctx, q, id)
}

// Open resolves id to its record and an open reader over the stored bytes.
// The caller closes the object.
func (c *Coordinator) Open(ctx context.Context, q database.Querier, id int64) (*model.AssetRecord, storage.Object, error) {
	rec, err := c.store.FindAssetByID(ctx, q, id)
	if err != nil {
		return nil, nil, err
	}
	obj, err := c.backend.Open(ctx, rec.RelativePath)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			c.log.Error("asset row has no file", zap.Int64("id", id), zap.String("path", rec.RelativePath))
			return nil, nil, apperr.NotFound.Wrap(fmt.Errorf("asset %d file: %w", id, apperr.ErrNotFound))
		}
		return nil, nil, fmt.Errorf("open asset %d: %w", id, err)
	}
	return rec, obj, nil
}
