// Package processing runs orphan reclamation inside the API process when no
// Redis is configured for asynq. Jobs are kept in a buffered channel; when it
// is full new jobs are refused rather than blocking the request.
package processing

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrQueueFull is returned by Reclaim when the buffer is exhausted.
var ErrQueueFull = errors.New("reclaim queue full")

// PathReclaimer removes a file when no row references it.
type PathReclaimer interface {
	ReclaimPath(ctx context.Context, relPath string) (bool, error)
}

// Job is one pending reclaim.
type Job struct {
	RelativePath string
	NotBefore    time.Time
}

// Processor consumes Jobs with a fixed number of goroutines.
type Processor struct {
	log      *zap.Logger
	reclaims PathReclaimer
	queue    chan Job
	workers  int
	delay    time.Duration
}

// New builds a Processor. delay postpones each job like asynq.ProcessIn.
func New(log *zap.Logger, reclaims PathReclaimer, workers, queueSize int, delay time.Duration) *Processor {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 4
	}
	return &Processor{
		log:      log,
		reclaims: reclaims,
		queue:    make(chan Job, queueSize),
		workers:  workers,
		delay:    delay,
	}
}

// Reclaim queues relPath without blocking.
func (p *Processor) Reclaim(_ context.Context, relPath string) error {
	job := Job{RelativePath: relPath, NotBefore: time.Now().Add(p.delay)}
	select {
	case p.queue <- job:
		return nil
	default:
		p.log.Warn("reclaim queue full, dropping job", zap.String("path", relPath))
		return ErrQueueFull
	}
}

// Run processes jobs until ctx is cancelled. Jobs still queued at that point
// are left for the next sweep.
func (p *Processor) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx)
		}()
	}
	wg.Wait()
	return nil
}

func (p *Processor) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.queue:
			if !sleepUntil(ctx, job.NotBefore) {
				return
			}
			if _, err := p.reclaims.ReclaimPath(ctx, job.RelativePath); err != nil {
				p.log.Warn("reclaim failed", zap.String("path", job.RelativePath), zap.Error(err))
			}
		}
	}
}

func sleepUntil(ctx context.Context, t time.Time) bool {
	d := time.Until(t)
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
