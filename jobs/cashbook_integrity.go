package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/cashbook"
	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
)

// BalanceVerifier replays bank movement chains read-only.
type BalanceVerifier interface {
	VerifyBalances(ctx context.Context) ([]cashbook.BalanceDrift, error)
}

// CashbookIntegrityJob verifies every bank's running balances against
// the movement recurrence.
type CashbookIntegrityJob struct {
	Verifier BalanceVerifier
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewCashbookIntegrityJob initialises the cashbook integrity handler.
func NewCashbookIntegrityJob(verifier BalanceVerifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *CashbookIntegrityJob {
	return &CashbookIntegrityJob{Verifier: verifier, Logger: logger, Metrics: metrics}
}

// Handle executes the balance verification.
func (j *CashbookIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Verifier == nil {
		return errors.New("cashbook integrity: handler not configured")
	}
	var payload ScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := time.Now()
	tracker := j.Metrics.Track(TaskCashbookIntegrity)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	drifts, err := j.Verifier.VerifyBalances(ctx)
	if err != nil {
		resultErr = err
		logger.Error("balance verification failed", slog.Any("error", err))
		return resultErr
	}
	for _, d := range drifts {
		logger.Warn("cash balance drift detected",
			slog.Int64("bank_id", d.BankID),
			slog.String("bank_code", d.BankCode),
			slog.Int("bad_rows", d.BadRows),
			slog.String("stored_tail", d.StoredTail.String()),
			slog.String("computed_tail", d.ComputedTail.String()),
		)
	}
	j.Metrics.AddDrift("cashbook", len(drifts))

	logger.Info("completed cashbook integrity scan",
		slog.Int("drifted_banks", len(drifts)),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *CashbookIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
