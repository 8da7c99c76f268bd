package database

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/sonoral/internal/apperr"
)

type countingSource struct {
	open atomic.Int64
	max  atomic.Int64
	fail error
}

func (s *countingSource) Acquire(ctx context.Context) (Conn, error) {
	if s.fail != nil {
		return nil, s.fail
	}
	n := s.open.Add(1)
	for {
		m := s.max.Load()
		if n <= m || s.max.CompareAndSwap(m, n) {
			break
		}
	}
	return &countingConn{src: s}, nil
}

type countingConn struct {
	nopConn
	src *countingSource
}

func (c *countingConn) Release() { c.src.open.Add(-1) }

func TestPoolOverloadFailFast(t *testing.T) {
	src := &countingSource{}
	p := NewPool(zaptest.NewLogger(t), src, Options{MaxConns: 2})
	ctx := context.Background()

	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	b, err := p.Acquire(ctx)
	require.NoError(t, err)

	_, err = p.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, apperr.Overload.Has(err))
	assert.ErrorIs(t, err, apperr.ErrPoolOverloaded)
	assert.EqualValues(t, 2, src.open.Load())

	a.Release()
	c, err := p.Acquire(ctx)
	require.NoError(t, err)

	b.Release()
	c.Release()
	assert.Equal(t, Stats{InUse: 0, Ceiling: 2}, p.Stats())
	assert.Zero(t, src.open.Load())
}

func TestPoolOverloadAfterBoundedWait(t *testing.T) {
	p := NewPool(zaptest.NewLogger(t), &countingSource{}, Options{MaxConns: 1, AcquireTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	held, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer held.Release()

	start := time.Now()
	_, err = p.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, apperr.Overload.Has(err))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestPoolWaitsForRelease(t *testing.T) {
	p := NewPool(zaptest.NewLogger(t), &countingSource{}, Options{MaxConns: 1, AcquireTimeout: 5 * time.Second})
	ctx := context.Background()

	held, err := p.Acquire(ctx)
	require.NoError(t, err)
	go func() {
		time.Sleep(20 * time.Millisecond)
		held.Release()
	}()

	next, err := p.Acquire(ctx)
	require.NoError(t, err)
	next.Release()
}

func TestPoolCallerCancellationIsNotOverload(t *testing.T) {
	p := NewPool(zaptest.NewLogger(t), &countingSource{}, Options{MaxConns: 1, AcquireTimeout: time.Minute})
	held, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, apperr.Overload.Has(err))
}

func TestPoolSourceFailureReleasesSlot(t *testing.T) {
	src := &countingSource{fail: errors.New("connection refused")}
	p := NewPool(zaptest.NewLogger(t), src, Options{MaxConns: 1})

	for i := 0; i < 3; i++ {
		_, err := p.Acquire(context.Background())
		require.Error(t, err)
		assert.True(t, apperr.Persistence.Has(err))
	}
	assert.Zero(t, p.Stats().InUse)
}

func TestLeaseReleaseIsIdempotent(t *testing.T) {
	src := &countingSource{}
	p := NewPool(zaptest.NewLogger(t), src, Options{MaxConns: 1})

	l, err := p.Acquire(context.Background())
	require.NoError(t, err)
	l.Release()
	l.Release()

	assert.Zero(t, p.Stats().InUse)
	assert.Zero(t, src.open.Load())
	// a double release must not widen the ceiling
	a, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer a.Release()
	_, err = p.Acquire(context.Background())
	assert.True(t, apperr.Overload.Has(err))
}

func TestWithLeaseReleasesOnEveryPath(t *testing.T) {
	src := &countingSource{}
	p := NewPool(zaptest.NewLogger(t), src, Options{MaxConns: 3})
	ctx := context.Background()
	boom := errors.New("handler failed")

	for i := 0; i < 50; i++ {
		require.NoError(t, p.WithLease(ctx, func(Querier) error { return nil }))
		require.ErrorIs(t, p.WithLease(ctx, func(Querier) error { return boom }), boom)
		func() {
			defer func() { _ = recover() }()
			_ = p.WithLease(ctx, func(Querier) error { panic("handler panicked") })
		}()
		require.Zero(t, p.Stats().InUse)
	}
	assert.Zero(t, src.open.Load())
}

func TestPoolNeverExceedsCeiling(t *testing.T) {
	src := &countingSource{}
	p := NewPool(zaptest.NewLogger(t), src, Options{MaxConns: 4, AcquireTimeout: 10 * time.Millisecond})

	var (
		g         errgroup.Group
		mu        sync.Mutex
		overloads int
	)
	for i := 0; i < 64; i++ {
		g.Go(func() error {
			err := p.WithLease(context.Background(), func(Querier) error {
				time.Sleep(time.Millisecond)
				return nil
			})
			if apperr.Overload.Has(err) {
				mu.Lock()
				overloads++
				mu.Unlock()
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.LessOrEqual(t, src.max.Load(), int64(4))
	assert.Zero(t, p.Stats().InUse)
	assert.Zero(t, src.open.Load())
	t.Logf("overloaded acquisitions: %d", overloads)
}

func TestStaticSourceQueriesFail(t *testing.T) {
	p := NewPool(zaptest.NewLogger(t), StaticSource{}, Options{MaxConns: 1})
	err := p.WithLease(context.Background(), func(q Querier) error {
		var n int
		return q.QueryRow(context.Background(), "SELECT 1").Scan(&n)
	})
	assert.ErrorIs(t, err, ErrNoDatabase)
}
