package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerDriftScan checks stock and profit consistency nightly.
	TaskLedgerDriftScan = "ledger:drift_scan"
	// TaskCashbookIntegrity verifies cash movement running balances.
	TaskCashbookIntegrity = "cashbook:integrity"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "shared:idempotency_cleanup"
)

// ScanPayload carries scheduling metadata shared by the integrity scans.
type ScanPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewLedgerDriftScanTask constructs an Asynq task for the ledger drift scan.
func NewLedgerDriftScanTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ScanPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerDriftScan, body, asynq.Queue(QueueDefault)), nil
}

// NewCashbookIntegrityTask constructs an Asynq task for the cashbook scan.
func NewCashbookIntegrityTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ScanPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCashbookIntegrity, body, asynq.Queue(QueueDefault)), nil
}

// NewIdempotencyCleanupTask constructs an Asynq task for the key pruning run.
func NewIdempotencyCleanupTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ScanPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
