// Package database owns the relational store: opening pgx, bootstrapping the
// schema and lending one connection per request through Pool.
package database

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/dharsanguruparan/sonoral/internal/apperr"
)

// Options bounds the Pool.
type Options struct {
	// MaxConns is the ceiling of simultaneously leased connections.
	MaxConns int
	// AcquireTimeout is how long Acquire waits for a free slot. Zero or less
	// means fail fast as soon as the ceiling is reached.
	AcquireTimeout time.Duration
}

// Pool lends connections from a Source, never more than MaxConns at a time.
// When the ceiling is reached Acquire waits at most AcquireTimeout and then
// reports an apperr.Overload error.
type Pool struct {
	log     *zap.Logger
	src     Source
	sem     *semaphore.Weighted
	ceiling int64
	timeout time.Duration
	inUse   atomic.Int64
}

// Stats is a point in time view of the Pool.
type Stats struct {
	InUse   int64 `json:"in_use"`
	Ceiling int64 `json:"ceiling"`
}

// NewPool builds a Pool over src.
func NewPool(log *zap.Logger, src Source, opts Options) *Pool {
	if opts.MaxConns <= 0 {
		opts.MaxConns = 1
	}
	return &Pool{
		log:     log,
		src:     src,
		sem:     semaphore.NewWeighted(int64(opts.MaxConns)),
		ceiling: int64(opts.MaxConns),
		timeout: opts.AcquireTimeout,
	}
}

// Acquire leases a connection. The caller must Release it; WithLease does
// that automatically.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	if err := p.reserve(ctx); err != nil {
		return nil, err
	}
	conn, err := p.src.Acquire(ctx)
	if err != nil {
		p.sem.Release(1)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperr.Persistence.Wrap(fmt.Errorf("acquire connection: %w", err))
	}
	p.inUse.Add(1)
	return &Lease{pool: p, conn: conn}, nil
}

func (p *Pool) reserve(ctx context.Context) error {
	if p.timeout <= 0 {
		if !p.sem.TryAcquire(1) {
			return p.overloaded()
		}
		return nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.sem.Acquire(waitCtx, 1); err != nil {
		// the caller gave up, which is not the pool's fault
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return p.overloaded()
	}
	return nil
}

func (p *Pool) overloaded() error {
	p.log.Warn("connection pool exhausted", zap.Int64("ceiling", p.ceiling))
	return apperr.Overload.Wrap(apperr.ErrPoolOverloaded)
}

// WithLease runs fn on a freshly leased connection and releases it on every
// exit path, panics included.
func (p *Pool) WithLease(ctx context.Context, fn func(Querier) error) error {
	lease, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()
	return fn(lease)
}

// Stats reports how many leases are outstanding.
func (p *Pool) Stats() Stats {
	return Stats{InUse: p.inUse.Load(), Ceiling: p.ceiling}
}

// Lease is one checked out connection. It is owned by a single request and
// must not be shared between goroutines.
type Lease struct {
	pool *Pool
	conn Conn
	once sync.Once
}

var _ Querier = (*Lease)(nil)

// Exec runs a statement on the leased connection.
func (l *Lease) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return l.conn.Exec(ctx, sql, args...)
}

// Query runs a query on the leased connection.
func (l *Lease) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return l.conn.Query(ctx, sql, args...)
}

// QueryRow runs a single row query on the leased connection.
func (l *Lease) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return l.conn.QueryRow(ctx, sql, args...)
}

// Release returns the connection. Calls after the first are no-ops.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.conn.Release()
		l.pool.inUse.Add(-1)
		l.pool.sem.Release(1)
	})
}
