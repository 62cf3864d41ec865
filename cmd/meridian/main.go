package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/cmd/meridian/cli"
	"github.com/meridian-erp/meridian-erp/internal/accounting"
	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/cashbook"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/masterdata"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/platform/cache"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/procurement"
	"github.com/meridian-erp/meridian-erp/internal/reconcile"
	"github.com/meridian-erp/meridian-erp/internal/sales"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	if len(os.Args) > 1 {
		os.Exit(runCommand(ctx, cfg, logger, os.Args[1], os.Args[2:]))
	}

	runServer(ctx, stop, cfg, logger)
}

func runServer(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) {
	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	ledger := inventory.NewLedger()

	masterDataService := masterdata.NewService(masterdata.NewRepository(dbpool))
	masterDataHandler := masterdata.NewHandler(logger, masterDataService)

	inventoryService := inventory.NewService(inventory.NewRepository(dbpool), ledger, auditLogger)
	inventoryHandler := inventory.NewHandler(logger, inventoryService)

	salesService := sales.NewService(sales.NewRepository(dbpool), ledger, auditLogger)
	salesHandler := sales.NewHandler(logger, salesService, idempotencyStore)

	procurementService := procurement.NewService(procurement.NewRepository(dbpool), ledger, auditLogger)
	procurementHandler := procurement.NewHandler(logger, procurementService, idempotencyStore)

	accountingService := accounting.NewService(accounting.NewRepository(dbpool), auditLogger)
	accountingHandler := accounting.NewHandler(logger, accountingService)

	cashbookService := cashbook.NewService(cashbook.NewRepository(dbpool), auditLogger)
	cashbookHandler := cashbook.NewHandler(logger, cashbookService)

	reconcileService := reconcile.NewService(reconcile.NewRepository(dbpool), salesService, procurementService, accountingService, auditLogger)
	reconcileHandler := reconcile.NewHandler(logger, reconcileService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		MasterDataHandler:  masterDataHandler,
		InventoryHandler:   inventoryHandler,
		SalesHandler:       salesHandler,
		ProcurementHandler: procurementHandler,
		AccountingHandler:  accountingHandler,
		CashbookHandler:    cashbookHandler,
		ReconcileHandler:   reconcileHandler,
		JobHandler:         jobHandler,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

// runCommand dispatches the operational subcommands. They share the server's
// configuration but connect only to what they need.
func runCommand(ctx context.Context, cfg *app.Config, logger *slog.Logger, name string, args []string) int {
	switch name {
	case "reprocess":
		fs := flag.NewFlagSet("reprocess", flag.ExitOnError)
		jsonOut := fs.Bool("json", false, "print the report as JSON")
		_ = fs.Parse(args)
		return withReconcileCLI(ctx, cfg, logger, func(c *cli.ReconcileCLI) int {
			return c.ReprocessCommand(ctx, cli.ReprocessOptions{JSONOutput: *jsonOut})
		})
	case "profit-sync":
		fs := flag.NewFlagSet("profit-sync", flag.ExitOnError)
		apply := fs.Bool("apply", false, "write corrections instead of reporting")
		jsonOut := fs.Bool("json", false, "print the report as JSON")
		_ = fs.Parse(args)
		return withReconcileCLI(ctx, cfg, logger, func(c *cli.ReconcileCLI) int {
			return c.ProfitSyncCommand(ctx, cli.ProfitSyncOptions{Apply: *apply, JSONOutput: *jsonOut})
		})
	case "drift":
		fs := flag.NewFlagSet("drift", flag.ExitOnError)
		jsonOut := fs.Bool("json", false, "print the report as JSON")
		_ = fs.Parse(args)
		return withReconcileCLI(ctx, cfg, logger, func(c *cli.ReconcileCLI) int {
			return c.DriftCommand(ctx, cli.DriftOptions{JSONOutput: *jsonOut})
		})
	case "trigger":
		if len(args) < 1 {
			fmt.Fprintln(os.Stderr, "trigger: task name required")
			return 1
		}
		jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
		if err != nil {
			logger.Error("jobs cli", slog.Any("error", err))
			return 1
		}
		defer jobsCLI.Close()
		info, err := jobsCLI.Trigger(ctx, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "trigger: %v\n", err)
			return 1
		}
		fmt.Printf("enqueued %s (id %s)\n", info.Type, info.ID)
		return 0
	case "queue":
		jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
		if err != nil {
			logger.Error("jobs cli", slog.Any("error", err))
			return 1
		}
		defer jobsCLI.Close()
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "queue: %v\n", err)
			return 1
		}
		fmt.Printf("queue %s: %d pending, %d active, %d scheduled, %d retry\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (expected reprocess | profit-sync | drift | trigger | queue)\n", name)
		return 1
	}
}

func withReconcileCLI(ctx context.Context, cfg *app.Config, logger *slog.Logger, fn func(*cli.ReconcileCLI) int) int {
	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer dbpool.Close()

	reconcileCLI, err := cli.NewReconcileCLI(buildReconcileService(dbpool))
	if err != nil {
		logger.Error("reconcile cli", slog.Any("error", err))
		return 1
	}
	return fn(reconcileCLI)
}

func buildReconcileService(pool *pgxpool.Pool) *reconcile.Service {
	auditLogger := shared.NewAuditLogger(pool)
	ledger := inventory.NewLedger()
	salesService := sales.NewService(sales.NewRepository(pool), ledger, auditLogger)
	procurementService := procurement.NewService(procurement.NewRepository(pool), ledger, auditLogger)
	accountingService := accounting.NewService(accounting.NewRepository(pool), auditLogger)
	return reconcile.NewService(reconcile.NewRepository(pool), salesService, procurementService, accountingService, auditLogger)
}
