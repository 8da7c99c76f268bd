package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// ReclaimAssetTask is scheduled when a metadata insert fails after the
	// file was written.
	ReclaimAssetTask = "asset:reclaim"
)

// ReclaimPayload tells the worker which stored file to check.
type ReclaimPayload struct {
	RelativePath string `json:"relative_path"`
}

// NewReclaimTask encodes payload as an asynq task.
func NewReclaimTask(payload ReclaimPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(ReclaimAssetTask, data), nil
}

// EnqueueReclaim enqueues a reclaim job that runs no sooner than delay.
func EnqueueReclaim(ctx context.Context, client *asynq.Client, payload ReclaimPayload, delay time.Duration) error {
	task, err := NewReclaimTask(payload)
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.MaxRetry(5)}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}
	if _, err := client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue reclaim task: %w", err)
	}
	return nil
}

// Reclaimer schedules orphan removal through asynq.
type Reclaimer struct {
	client *asynq.Client
	delay  time.Duration
}

// NewReclaimer wraps an asynq client. delay gives in-flight commits time to
// settle before the worker looks for a row.
func NewReclaimer(client *asynq.Client, delay time.Duration) *Reclaimer {
	return &Reclaimer{client: client, delay: delay}
}

// Reclaim enqueues relPath for the worker.
func (r *Reclaimer) Reclaim(ctx context.Context, relPath string) error {
	return EnqueueReclaim(ctx, r.client, ReclaimPayload{RelativePath: relPath}, r.delay)
}
