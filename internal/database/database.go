package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolConfig sizes the underlying pgx pool.
type PoolConfig struct {
	MinConns        int32
	MaxConns        int32
	MaxConnIdleTime time.Duration
}

// Connect opens a pgx connection pool using the provided DSN. MaxConns should
// match the lease ceiling so pgx never queues behind the Pool semaphore.
func Connect(ctx context.Context, dsn string, pc PoolConfig) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MinConns = pc.MinConns
	cfg.MaxConns = pc.MaxConns
	if pc.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = pc.MaxConnIdleTime
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the audio, users and compositions tables if needed.
func EnsureSchema(ctx context.Context, q Querier) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS audio (
	id SERIAL PRIMARY KEY,
	original_filename VARCHAR(255) NOT NULL,
	storage_filename VARCHAR(255) NOT NULL,
	file_path VARCHAR(255) NOT NULL,
	mime_type VARCHAR(100) NOT NULL,
	file_size BIGINT NOT NULL,
	upload_date TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_audio_file_path ON audio(file_path);
CREATE TABLE IF NOT EXISTS users (
	id SERIAL PRIMARY KEY,
	firebase_id VARCHAR(255) NOT NULL,
	email VARCHAR(255) NOT NULL,
	username VARCHAR(255) NOT NULL
);
CREATE TABLE IF NOT EXISTS compositions (
	id SERIAL PRIMARY KEY,
	info VARCHAR(255),
	creating_user_id VARCHAR(255) NOT NULL
);`
	if _, err := q.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
