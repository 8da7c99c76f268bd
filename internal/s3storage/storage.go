package s3storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/sonoral/internal/config"
	"github.com/dharsanguruparan/sonoral/internal/storage"
)

// Storage keeps audio files in a MinIO/S3 bucket, using the relative path as
// the object key below an optional prefix.
type Storage struct {
	client *minio.Client
	bucket string
	prefix string
	region string
}

var _ storage.Backend = (*Storage)(nil)

// New creates a MinIO client from the S3 section of the config.
func New(cfg config.S3Config) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		region: cfg.Region,
	}, nil
}

// EnsureBucket makes sure the bucket exists before use.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

func (s *Storage) key(relPath string) string {
	if s.prefix == "" {
		return relPath
	}
	return path.Join(s.prefix, relPath)
}

func (s *Storage) relative(key string) string {
	if s.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, s.prefix+"/")
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

// EnsureDir is a no-op: object keys need no parent directories.
func (s *Storage) EnsureDir(ctx context.Context, partition string) error {
	return nil
}

// Exists stats the object behind relPath.
func (s *Storage) Exists(ctx context.Context, relPath string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, s.key(relPath), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat object: %w", err)
}

// Create uploads data unless the key is already taken. The check and the put
// are two requests, so a narrow race remains.
func (s *Storage) Create(ctx context.Context, relPath string, data []byte) error {
	exists, err := s.Exists(ctx, relPath)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("create %s: %w", relPath, storage.ErrExists)
	}
	opts := minio.PutObjectOptions{ContentType: "application/octet-stream"}
	_, err = s.client.PutObject(ctx, s.bucket, s.key(relPath), bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		return fmt.Errorf("upload object: %w", err)
	}
	return nil
}

// Size returns the stored object length.
func (s *Storage) Size(ctx context.Context, relPath string) (int64, error) {
	info, err := s.client.StatObject(ctx, s.bucket, s.key(relPath), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("stat %s: %w", relPath, storage.ErrNotExist)
		}
		return 0, fmt.Errorf("stat object: %w", err)
	}
	return info.Size, nil
}

// Open returns a seekable reader over the object.
func (s *Storage) Open(ctx context.Context, relPath string) (storage.Object, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(relPath), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	// GetObject is lazy; Stat surfaces a missing key before streaming starts.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if isNotFound(err) {
			return nil, fmt.Errorf("open %s: %w", relPath, storage.ErrNotExist)
		}
		return nil, fmt.Errorf("stat object: %w", err)
	}
	return obj, nil
}

// Remove deletes the object.
func (s *Storage) Remove(ctx context.Context, relPath string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, s.key(relPath), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

// Walk lists every object below the prefix.
func (s *Storage) Walk(ctx context.Context, fn func(storage.Entry) error) error {
	opts := minio.ListObjectsOptions{Recursive: true}
	if s.prefix != "" {
		opts.Prefix = s.prefix + "/"
	}
	for info := range s.client.ListObjects(ctx, s.bucket, opts) {
		if info.Err != nil {
			return fmt.Errorf("list objects: %w", info.Err)
		}
		if err := fn(storage.Entry{
			RelativePath: s.relative(info.Key),
			Size:         info.Size,
			ModTime:      info.LastModified,
		}); err != nil {
			return err
		}
	}
	return nil
}
