// Package reconcile removes stored files that no asset row references. Those
// appear when a metadata insert fails after the bytes were already written.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/sonoral/internal/database"
	"github.com/dharsanguruparan/sonoral/internal/pathalloc"
	"github.com/dharsanguruparan/sonoral/internal/storage"
)

// PathIndex answers whether a relative path belongs to a row.
type PathIndex interface {
	PathReferenced(ctx context.Context, q database.Querier, relPath string) (bool, error)
}

// Leaser hands out a connection for the duration of fn.
type Leaser interface {
	WithLease(ctx context.Context, fn func(database.Querier) error) error
}

// Sweeper checks storage against the metadata store.
type Sweeper struct {
	log     *zap.Logger
	backend storage.Backend
	index   PathIndex
	pool    Leaser
	now     func() time.Time
}

// New builds a Sweeper.
func New(log *zap.Logger, backend storage.Backend, index PathIndex, pool Leaser) *Sweeper {
	return &Sweeper{log: log, backend: backend, index: index, pool: pool, now: time.Now}
}

// ReclaimPath deletes relPath unless a row references it. It reports whether
// a file was removed; a path that is already gone is not an error.
func (s *Sweeper) ReclaimPath(ctx context.Context, relPath string) (bool, error) {
	if _, ok := pathalloc.ParsePath(relPath); !ok {
		s.log.Warn("refusing to reclaim path outside the partitions", zap.String("path", relPath))
		return false, nil
	}
	var removed bool
	err := s.pool.WithLease(ctx, func(q database.Querier) error {
		referenced, err := s.index.PathReferenced(ctx, q, relPath)
		if err != nil {
			return err
		}
		if referenced {
			return nil
		}
		if err := s.backend.Remove(ctx, relPath); err != nil {
			if errors.Is(err, storage.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("remove orphan: %w", err)
		}
		removed = true
		return nil
	})
	if removed {
		s.log.Info("orphaned file removed", zap.String("path", relPath))
	}
	return removed, err
}

// SweepOptions tunes Sweep.
type SweepOptions struct {
	// OlderThan skips files modified more recently, which may belong to an
	// upload whose insert has not committed yet.
	OlderThan time.Duration
	// DryRun reports orphans without deleting them.
	DryRun bool
}

// Report summarizes a sweep.
type Report struct {
	Scanned int      `json:"scanned"`
	Orphans []string `json:"orphans"`
	Removed int      `json:"removed"`
}

// Sweep walks the whole storage root and removes every old enough file with
// no matching row.
func (s *Sweeper) Sweep(ctx context.Context, opts SweepOptions) (Report, error) {
	var (
		report     Report
		candidates []string
	)
	cutoff := s.now().Add(-opts.OlderThan)
	err := s.backend.Walk(ctx, func(e storage.Entry) error {
		report.Scanned++
		// only files the allocator could have produced are candidates
		if _, ok := pathalloc.ParsePath(e.RelativePath); !ok {
			return nil
		}
		if e.ModTime.Before(cutoff) {
			candidates = append(candidates, e.RelativePath)
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("walk storage: %w", err)
	}

	err = s.pool.WithLease(ctx, func(q database.Querier) error {
		for _, rel := range candidates {
			referenced, err := s.index.PathReferenced(ctx, q, rel)
			if err != nil {
				return err
			}
			if referenced {
				continue
			}
			report.Orphans = append(report.Orphans, rel)
			if opts.DryRun {
				continue
			}
			if err := s.backend.Remove(ctx, rel); err != nil && !errors.Is(err, storage.ErrNotExist) {
				return fmt.Errorf("remove orphan: %w", err)
			}
			report.Removed++
		}
		return nil
	})
	s.log.Info("sweep finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("orphans", len(report.Orphans)),
		zap.Int("removed", report.Removed),
		zap.Bool("dry_run", opts.DryRun))
	return report, err
}
