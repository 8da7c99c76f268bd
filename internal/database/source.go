package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is what a request may do with its leased connection.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Conn is a live session handed out by a Source.
type Conn interface {
	Querier
	Release()
}

// Source produces connections for the Pool.
type Source interface {
	Acquire(ctx context.Context) (Conn, error)
}

// PgxSource adapts a pgxpool.Pool to Source.
type PgxSource struct {
	Pool *pgxpool.Pool
}

// Acquire checks a connection out of pgx.
func (s PgxSource) Acquire(ctx context.Context) (Conn, error) {
	c, err := s.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ErrNoDatabase is returned by connections from StaticSource.
var ErrNoDatabase = errors.New("no database configured")

// StaticSource hands out placeholder connections for the in-memory metadata
// driver. Every query on them fails with ErrNoDatabase.
type StaticSource struct{}

// Acquire returns a placeholder connection.
func (StaticSource) Acquire(ctx context.Context) (Conn, error) {
	return nopConn{}, nil
}

type nopConn struct{}

func (nopConn) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, ErrNoDatabase
}

func (nopConn) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, ErrNoDatabase
}

func (nopConn) QueryRow(context.Context, string, ...any) pgx.Row {
	return errRow{}
}

func (nopConn) Release() {}

type errRow struct{}

func (errRow) Scan(...any) error { return ErrNoDatabase }
