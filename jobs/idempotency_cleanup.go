package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/lumbung-erp/lumbung-erp/internal/jobs"
	"github.com/lumbung-erp/lumbung-erp/internal/shared"
)

// IdempotencyCleanupJob purges claims past the retention window. After
// the window a repeated key is treated as a new request.
type IdempotencyCleanupJob struct {
	store     *shared.IdempotencyStore
	retention time.Duration
	logger    *slog.Logger
	metrics   *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob constructs the cleanup handler.
func NewIdempotencyCleanupJob(store *shared.IdempotencyStore, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &IdempotencyCleanupJob{store: store, retention: retention, logger: logger, metrics: metrics}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, _ *asynq.Task) error {
	tracker := j.metrics.Track("idempotency_cleanup")
	removed, err := j.store.Cleanup(ctx, j.retention)
	if err != nil {
		return tracker.End(err)
	}
	j.logger.Info("idempotency cleanup", slog.Int64("removed", removed))
	return tracker.End(nil)
}
