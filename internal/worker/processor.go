package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/sonoral/internal/queue"
)

// PathReclaimer removes a file when no row references it.
type PathReclaimer interface {
	ReclaimPath(ctx context.Context, relPath string) (bool, error)
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	log      *zap.Logger
	reclaims PathReclaimer
}

// NewProcessor constructs a worker processor.
func NewProcessor(log *zap.Logger, reclaims PathReclaimer) *Processor {
	return &Processor{log: log, reclaims: reclaims}
}

// Handler registers the reclaim job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ReclaimAssetTask, p.handleReclaim)
	return mux
}

func (p *Processor) handleReclaim(ctx context.Context, task *asynq.Task) error {
	var payload queue.ReclaimPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		// retrying cannot fix a malformed payload
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.RelativePath == "" {
		return fmt.Errorf("empty relative path: %w", asynq.SkipRetry)
	}
	removed, err := p.reclaims.ReclaimPath(ctx, payload.RelativePath)
	if err != nil {
		p.log.Warn("reclaim failed", zap.String("path", payload.RelativePath), zap.Error(err))
		return err
	}
	p.log.Debug("reclaim checked", zap.String("path", payload.RelativePath), zap.Bool("removed", removed))
	return nil
}
