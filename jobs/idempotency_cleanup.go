package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
)

// KeyPruner removes idempotency keys older than the retention window.
type KeyPruner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleanupJob prunes expired idempotency keys so the table stays
// bounded. Replays older than the retention window behave as fresh requests.
type IdempotencyCleanupJob struct {
	Pruner    KeyPruner
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob initialises the cleanup handler.
func NewIdempotencyCleanupJob(pruner KeyPruner, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{
		Pruner:    pruner,
		Retention: retention,
		Logger:    logger,
		Metrics:   metrics,
	}
}

// Handle executes the cleanup.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pruner == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	var payload ScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskIdempotencyCleanup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	retention := j.Retention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}

	logger := j.logger()
	if err := j.Pruner.Cleanup(ctx, retention); err != nil {
		resultErr = err
		logger.Error("idempotency cleanup failed", slog.Any("error", err))
		return resultErr
	}

	logger.Info("pruned expired idempotency keys", slog.Duration("retention", retention))
	return resultErr
}

func (j *IdempotencyCleanupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *IdempotencyCleanupJob) metrics() *jobmetrics.Metrics {
	return j.Metrics
}
