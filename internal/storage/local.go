package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Local stores files under a directory on the host filesystem.
type Local struct {
	root string
}

// NewLocal creates the root directory if needed and returns a backend for it.
func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Local{root: root}, nil
}

// Root returns the directory files are stored under.
func (l *Local) Root() string { return l.root }

func (l *Local) resolve(relPath string) (string, error) {
	native := filepath.FromSlash(relPath)
	if relPath == "" || !filepath.IsLocal(native) {
		return "", fmt.Errorf("path %q escapes storage root", relPath)
	}
	return filepath.Join(l.root, native), nil
}

// EnsureDir creates the partition directory. MkdirAll tolerates another
// request creating the same directory concurrently.
func (l *Local) EnsureDir(ctx context.Context, partition string) error {
	dir, err := l.resolve(partition)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create partition: %w", err)
	}
	return nil
}

// Exists reports whether a file is present at relPath.
func (l *Local) Exists(ctx context.Context, relPath string) (bool, error) {
	p, err := l.resolve(relPath)
	if err != nil {
		return false, err
	}
	_, err = os.Lstat(p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat file: %w", err)
	}
}

// Create writes data to a new file. O_EXCL closes the window between the
// allocator's existence check and the write.
func (l *Local) Create(ctx context.Context, relPath string, data []byte) error {
	p, err := l.resolve(relPath)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("create %s: %w", relPath, ErrExists)
		}
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(p)
		return fmt.Errorf("write file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(p)
		return fmt.Errorf("close file: %w", err)
	}
	return nil
}

// Size returns the on-disk length of the file.
func (l *Local) Size(ctx context.Context, relPath string) (int64, error) {
	p, err := l.resolve(relPath)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("stat %s: %w", relPath, ErrNotExist)
		}
		return 0, fmt.Errorf("stat file: %w", err)
	}
	return info.Size(), nil
}

// Open opens the file for reading.
func (l *Local) Open(ctx context.Context, relPath string) (Object, error) {
	p, err := l.resolve(relPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("open %s: %w", relPath, ErrNotExist)
		}
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// Remove deletes the file at relPath.
func (l *Local) Remove(ctx context.Context, relPath string) error {
	p, err := l.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", relPath, ErrNotExist)
		}
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

// Walk calls fn for every regular file below the root.
func (l *Local) Walk(ctx context.Context, fn func(Entry) error) error {
	return filepath.WalkDir(l.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		return fn(Entry{
			RelativePath: filepath.ToSlash(rel),
			Size:         info.Size(),
			ModTime:      info.ModTime(),
		})
	})
}
