// Package storage defines where audio bytes live. Files are addressed by a
// slash separated path relative to the storage root, e.g. "2024/05/<id>.mp3".
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrExists is returned by Create when the target path is already taken.
	ErrExists = errors.New("object already exists")
	// ErrNotExist is returned when a path has nothing stored at it.
	ErrNotExist = errors.New("object does not exist")
)

// Object is an opened stored file; http.ServeContent needs the Seeker.
type Object interface {
	io.ReadSeekCloser
}

// Entry describes one stored file found while walking the root.
type Entry struct {
	RelativePath string
	Size         int64
	ModTime      time.Time
}

// Backend is the storage root. Implementations must make EnsureDir idempotent
// and safe to race, and Create must never overwrite an existing file.
type Backend interface {
	EnsureDir(ctx context.Context, partition string) error
	Exists(ctx context.Context, relPath string) (bool, error)
	Create(ctx context.Context, relPath string, data []byte) error
	Size(ctx context.Context, relPath string) (int64, error)
	Open(ctx context.Context, relPath string) (Object, error)
	Remove(ctx context.Context, relPath string) error
	Walk(ctx context.Context, fn func(Entry) error) error
}
