package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/accounting"
	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/cashbook"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/procurement"
	"github.com/meridian-erp/meridian-erp/internal/reconcile"
	"github.com/meridian-erp/meridian-erp/internal/sales"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	ledger := inventory.NewLedger()

	salesService := sales.NewService(sales.NewRepository(pool), ledger, auditLogger)
	procurementService := procurement.NewService(procurement.NewRepository(pool), ledger, auditLogger)
	accountingService := accounting.NewService(accounting.NewRepository(pool), auditLogger)
	reconcileService := reconcile.NewService(reconcile.NewRepository(pool), salesService, procurementService, accountingService, auditLogger)
	cashbookService := cashbook.NewService(cashbook.NewRepository(pool), auditLogger)

	metrics := jobmetrics.NewMetrics(nil)
	driftScanJob := jobs.NewLedgerDriftScanJob(reconcileService, logger, metrics)
	cashbookJob := jobs.NewCashbookIntegrityJob(cashbookService, logger, metrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(idempotencyStore, cfg.IdempotencyRetention, logger, metrics)

	now := time.Now().UTC()
	driftTask, err := jobs.NewLedgerDriftScanTask(now)
	if err != nil {
		logger.Error("build drift scan task", slog.Any("error", err))
		os.Exit(1)
	}
	cashbookTask, err := jobs.NewCashbookIntegrityTask(now)
	if err != nil {
		logger.Error("build cashbook task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(now)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:          asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:             logger,
		DriftScan:          driftScanJob,
		CashbookIntegrity:  cashbookJob,
		IdempotencyCleanup: cleanupJob,
		Cron: []jobs.CronRegistration{
			{Spec: "15 1 * * *", Task: driftTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 1 * * *", Task: cashbookTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 2 * * 0", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
