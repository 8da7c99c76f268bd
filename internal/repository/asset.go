// Package repository holds the SQL for every table. Methods take the
// database.Querier leased for the current request and never open or release
// connections themselves.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dharsanguruparan/sonoral/internal/apperr"
	"github.com/dharsanguruparan/sonoral/internal/database"
	"github.com/dharsanguruparan/sonoral/internal/model"
)

// Postgres implements the metadata, user and composition stores over pgx.
type Postgres struct{}

// NewPostgres constructs a repository.
func NewPostgres() *Postgres {
	return &Postgres{}
}

// InsertAsset stores rec and fills in the generated id and upload date.
func (r *Postgres) InsertAsset(ctx context.Context, q database.Querier, rec *model.AssetRecord) (int64, error) {
	row := q.QueryRow(ctx, `
		INSERT INTO audio (original_filename, storage_filename, file_path, mime_type, file_size)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, upload_date
	`, rec.OriginalFilename, rec.StorageFilename, rec.RelativePath, rec.MimeType, rec.SizeBytes)
	if err := row.Scan(&rec.ID, &rec.UploadedAt); err != nil {
		return 0, apperr.Persistence.Wrap(fmt.Errorf("insert asset: %w", err))
	}
	return rec.ID, nil
}

// FindAssetByID returns the asset row with the given id.
func (r *Postgres) FindAssetByID(ctx context.Context, q database.Querier, id int64) (*model.AssetRecord, error) {
	var rec model.AssetRecord
	row := q.QueryRow(ctx, `
		SELECT id, original_filename, storage_filename, file_path, mime_type, file_size, upload_date
		FROM audio WHERE id=$1
	`, id)
	if err := row.Scan(&rec.ID, &rec.OriginalFilename, &rec.StorageFilename, &rec.RelativePath, &rec.MimeType, &rec.SizeBytes, &rec.UploadedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound.Wrap(fmt.Errorf("asset %d: %w", id, apperr.ErrNotFound))
		}
		return nil, apperr.Persistence.Wrap(fmt.Errorf("select asset: %w", err))
	}
	return &rec, nil
}

// PathReferenced reports whether any asset row points at relPath.
func (r *Postgres) PathReferenced(ctx context.Context, q database.Querier, relPath string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM audio WHERE file_path=$1)`, relPath).Scan(&exists)
	if err != nil {
		return false, apperr.Persistence.Wrap(fmt.Errorf("check asset path: %w", err))
	}
	return exists, nil
}
