// Package pathalloc decides where a new upload is stored: a YYYY/MM partition
// below the storage root and a random filename that is free inside it.
package pathalloc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/sonoral/internal/apperr"
	"github.com/dharsanguruparan/sonoral/internal/model"
	"github.com/dharsanguruparan/sonoral/internal/storage"
)

// DefaultMaxAttempts caps the suffix loop used when a generated name is taken.
const DefaultMaxAttempts = 16

// PartitionLayout formats the current date into a partition directory.
const PartitionLayout = "2006/01"

// MaxFilenameLength matches the original_filename column width.
const MaxFilenameLength = 255

// ParsePath splits relPath into partition and filename when it has the
// YYYY/MM/<name> shape Allocate produces. Dot files are never allocated and
// are rejected.
func ParsePath(relPath string) (model.StoragePath, bool) {
	parts := strings.Split(relPath, "/")
	if len(parts) != 3 || parts[2] == "" || strings.HasPrefix(parts[2], ".") {
		return model.StoragePath{}, false
	}
	partition := parts[0] + "/" + parts[1]
	if len(partition) != len(PartitionLayout) {
		return model.StoragePath{}, false
	}
	if _, err := time.Parse(PartitionLayout, partition); err != nil {
		return model.StoragePath{}, false
	}
	return model.StoragePath{Partition: partition, Filename: parts[2]}, true
}

// Allocation is the result of Allocate.
type Allocation struct {
	// OriginalFilename is the sanitized client filename.
	OriginalFilename string
	Path             model.StoragePath
}

// Allocator hands out storage paths. It is safe for concurrent use.
type Allocator struct {
	backend     storage.Backend
	allowed     map[string]struct{}
	maxAttempts int
	now         func() time.Time
	newID       func() string
}

// Option customizes an Allocator.
type Option func(*Allocator)

// WithClock overrides the time source used for partitions.
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) { a.now = now }
}

// WithIDSource overrides the random identifier generator.
func WithIDSource(newID func() string) Option {
	return func(a *Allocator) { a.newID = newID }
}

// WithMaxAttempts bounds the collision loop.
func WithMaxAttempts(n int) Option {
	return func(a *Allocator) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

// New builds an Allocator for the given extension allow-list.
func New(backend storage.Backend, allowedExtensions []string, opts ...Option) *Allocator {
	allowed := make(map[string]struct{}, len(allowedExtensions))
	for _, ext := range allowedExtensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			allowed[ext] = struct{}{}
		}
	}
	a := &Allocator{
		backend:     backend,
		allowed:     allowed,
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allowed reports whether ext is on the allow-list.
func (a *Allocator) Allowed(ext string) bool {
	_, ok := a.allowed[strings.ToLower(ext)]
	return ok
}

// Allocate validates originalFilename, makes sure today's partition exists and
// returns a filename not yet present in it.
func (a *Allocator) Allocate(ctx context.Context, originalFilename string) (Allocation, error) {
	if !a.Allowed(Extension(originalFilename)) {
		return Allocation{}, apperr.Validation.Wrap(apperr.ErrInvalidFileType)
	}
	clean := Sanitize(originalFilename)
	if clean == "" {
		return Allocation{}, apperr.Validation.Wrap(apperr.ErrInvalidFilename)
	}
	if len(clean) > MaxFilenameLength {
		return Allocation{}, apperr.Validation.Wrap(apperr.ErrFilenameTooLong)
	}
	// "..mp3" passes the first check but sanitizes to "mp3".
	ext := Extension(clean)
	if !a.Allowed(ext) {
		return Allocation{}, apperr.Validation.Wrap(apperr.ErrInvalidFileType)
	}

	partition := a.now().UTC().Format(PartitionLayout)
	if err := a.backend.EnsureDir(ctx, partition); err != nil {
		return Allocation{}, apperr.StorageWrite.Wrap(err)
	}

	id := a.newID()
	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		name := id + "." + ext
		if attempt > 0 {
			name = fmt.Sprintf("%s_%d.%s", id, attempt, ext)
		}
		p := model.StoragePath{Partition: partition, Filename: name}
		taken, err := a.backend.Exists(ctx, p.Relative())
		if err != nil {
			return Allocation{}, apperr.StorageWrite.Wrap(err)
		}
		if !taken {
			return Allocation{OriginalFilename: clean, Path: p}, nil
		}
	}
	return Allocation{}, apperr.Allocation.Wrap(apperr.ErrAllocationExhausted)
}
