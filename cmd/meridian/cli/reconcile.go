package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/meridian-erp/meridian-erp/internal/reconcile"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// LedgerService is the subset of the reconcile service the ops CLI drives.
type LedgerService interface {
	ReprocessAllTransactions(ctx context.Context, actor shared.Actor) (reconcile.ReprocessReport, error)
	SyncProfitFromJournalAdjustments(ctx context.Context, dryRun bool, actor shared.Actor) (reconcile.SyncReport, error)
	CompareProfitAcrossSources(ctx context.Context) (reconcile.CompareReport, error)
	CheckStockDrift(ctx context.Context) ([]reconcile.StockDrift, error)
}

// ReconcileCLI exposes the ledger repair workflows as terminal commands.
type ReconcileCLI struct {
	service LedgerService
}

// NewReconcileCLI constructs the helper around a reconcile service.
func NewReconcileCLI(service LedgerService) (*ReconcileCLI, error) {
	if service == nil {
		return nil, fmt.Errorf("reconcile cli: service is required")
	}
	return &ReconcileCLI{service: service}, nil
}

// ReprocessOptions defines available flags for the reprocess command.
type ReprocessOptions struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ReprocessCommand rebuilds all derived ledger state from source documents
// and prints the outcome. Exit code 10 means some documents failed to replay.
func (c *ReconcileCLI) ReprocessCommand(ctx context.Context, opts ReprocessOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	report, err := c.service.ReprocessAllTransactions(ctx, shared.System)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "reprocess: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(report); err != nil {
			_, _ = fmt.Fprintf(stderr, "reprocess: encode json: %v\n", err)
			return 1
		}
	} else {
		_, _ = fmt.Fprintf(stdout, "Reprocessed %d document(s): %d confirmed, %d failed (%s)\n",
			report.Documents, report.Confirmed, report.Failed, report.Took)
		for _, failure := range report.Failures {
			_, _ = fmt.Fprintf(stdout, " - %s %d: %s\n", failure.Ref.Kind, failure.Ref.ID, failure.Reason)
		}
	}
	if report.Failed > 0 {
		return 10
	}
	return 0
}

// ProfitSyncOptions defines available flags for the profit-sync command.
type ProfitSyncOptions struct {
	Apply      bool
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ProfitSyncCommand aligns stored sale costs with the posted journal COGS.
// Without --apply it only reports. Exit code 10 means drift was found.
func (c *ReconcileCLI) ProfitSyncCommand(ctx context.Context, opts ProfitSyncOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	report, err := c.service.SyncProfitFromJournalAdjustments(ctx, !opts.Apply, shared.System)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "profit-sync: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(report); err != nil {
			_, _ = fmt.Fprintf(stderr, "profit-sync: encode json: %v\n", err)
			return 1
		}
	} else {
		mode := "dry run"
		if opts.Apply {
			mode = "applied"
		}
		_, _ = fmt.Fprintf(stdout, "Profit sync (%s): %d checked, %d drifted, %d updated\n",
			mode, report.Checked, report.Drifted, report.Updated)
		for _, item := range report.Items {
			_, _ = fmt.Fprintf(stdout, " - sale %d: stored %s, journal %s\n",
				item.SaleID, item.StoredCost.StringFixed(2), item.JournalCogs.StringFixed(2))
		}
	}
	if report.Drifted > 0 && !opts.Apply {
		return 10
	}
	return 0
}

// DriftOptions defines available flags for the drift command.
type DriftOptions struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// DriftSummary is the JSON response for the drift command.
type DriftSummary struct {
	OK     bool                    `json:"ok"`
	Stock  []reconcile.StockDrift  `json:"stock"`
	Profit reconcile.CompareReport `json:"profit"`
}

// DriftCommand runs the read-only consistency checks. Exit code 10 means
// at least one source disagrees.
func (c *ReconcileCLI) DriftCommand(ctx context.Context, opts DriftOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	stock, err := c.service.CheckStockDrift(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "drift: %v\n", err)
		return 1
	}
	profit, err := c.service.CompareProfitAcrossSources(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "drift: %v\n", err)
		return 1
	}
	summary := DriftSummary{
		OK:     len(stock) == 0 && profit.Consistent,
		Stock:  stock,
		Profit: profit,
	}
	if summary.Stock == nil {
		summary.Stock = []reconcile.StockDrift{}
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(stderr, "drift: encode json: %v\n", err)
			return 1
		}
	} else {
		renderDriftHuman(stdout, summary)
	}
	if !summary.OK {
		return 10
	}
	return 0
}

func renderDriftHuman(out io.Writer, summary DriftSummary) {
	if len(summary.Stock) == 0 {
		_, _ = fmt.Fprintln(out, "Stock: no drift.")
	} else {
		_, _ = fmt.Fprintf(out, "Stock: %d item(s) drifted:\n", len(summary.Stock))
		for _, d := range summary.Stock {
			_, _ = fmt.Fprintf(out, " - %s (item %d): stock %s, movements %s, lots %s\n",
				d.SKU, d.ItemID, d.Stock.StringFixed(2), d.MovementSum.StringFixed(2), d.LotRemaining.StringFixed(2))
		}
	}
	if summary.Profit.Consistent {
		_, _ = fmt.Fprintln(out, "Profit: all three sources agree.")
	} else {
		_, _ = fmt.Fprintf(out, "Profit: sources disagree (sales %s, journal %s, mappings %s)\n",
			summary.Profit.FromSales.StringFixed(2),
			summary.Profit.FromJournal.StringFixed(2),
			summary.Profit.FromMappings.StringFixed(2))
	}
}

func writers(stdout, stderr io.Writer) (io.Writer, io.Writer) {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return stdout, stderr
}
