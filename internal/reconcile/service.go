package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-erp/meridian-erp/internal/accounting"
	"github.com/meridian-erp/meridian-erp/internal/procurement"
	"github.com/meridian-erp/meridian-erp/internal/sales"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// TxRepository is the repair surface: the confirmation and posting
// engines of the other packages exposed on one shared transaction, plus
// the bulk resets only a reprocess may perform.
type TxRepository interface {
	Sales() sales.TxRepository
	Procurement() procurement.TxRepository
	Accounting() accounting.TxRepository

	// Savepoint runs fn inside a nested transaction. A failed document
	// replay rolls back to the savepoint without poisoning the batch.
	Savepoint(ctx context.Context, fn func(context.Context, TxRepository) error) error

	SelectConfirmedDocs(ctx context.Context) ([]Doc, error)
	DeleteTransactionalMovements(ctx context.Context) error
	DeleteTransactionalJournals(ctx context.Context) error
	ResetLotRemainders(ctx context.Context) error
	ResetItemStocks(ctx context.Context) error
	ResetDocumentsPending(ctx context.Context) error

	SelectJournalCogsBySale(ctx context.Context) (map[int64]decimal.Decimal, error)
	UpdateSaleTotals(ctx context.Context, saleID int64, totalCost, totalProfit decimal.Decimal) error
}

// RepositoryPort abstracts transactional repair plus the lock-free
// diagnostic reads.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	SumProfitFromSales(ctx context.Context) (decimal.Decimal, error)
	SumProfitFromJournal(ctx context.Context) (decimal.Decimal, error)
	SumProfitFromMappings(ctx context.Context) (decimal.Decimal, error)
	SelectStockDrift(ctx context.Context) ([]StockDrift, error)
}

// AuditPort records corrective actions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service detects and repairs drift between the document tables, the
// FIFO ledger, and the journal.
type Service struct {
	repo        RepositoryPort
	sales       *sales.Service
	procurement *procurement.Service
	accounting  *accounting.Service
	audit       AuditPort
	now         func() time.Time
}

// NewService constructs the reconcile service.
func NewService(repo RepositoryPort, salesSvc *sales.Service, procurementSvc *procurement.Service, accountingSvc *accounting.Service, audit AuditPort) *Service {
	return &Service{
		repo:        repo,
		sales:       salesSvc,
		procurement: procurementSvc,
		accounting:  accountingSvc,
		audit:       audit,
		now:         time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ReprocessAllTransactions rebuilds every derived row from the documents:
// wipe transactional movements, mappings and journals, reset lot
// remainders and item stocks to what the surviving non-transactional
// movements imply, then replay every confirmed document — supply side
// first so demand allocations find their lots, both waves in
// (date, id) order. Documents that fail to re-confirm are left pending
// and reported, never silently re-marked. The whole rebuild is one
// transaction: a half-replayed ledger must never become visible.
func (s *Service) ReprocessAllTransactions(ctx context.Context, actor shared.Actor) (ReprocessReport, error) {
	started := s.now()
	report := ReprocessReport{StartedAt: started}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		docs, err := tx.SelectConfirmedDocs(ctx)
		if err != nil {
			return err
		}
		report.Documents = len(docs)

		if err := tx.DeleteTransactionalMovements(ctx); err != nil {
			return err
		}
		if err := tx.DeleteTransactionalJournals(ctx); err != nil {
			return err
		}
		if err := tx.ResetLotRemainders(ctx); err != nil {
			return err
		}
		if err := tx.ResetItemStocks(ctx); err != nil {
			return err
		}
		if err := tx.ResetDocumentsPending(ctx); err != nil {
			return err
		}

		sort.SliceStable(docs, func(i, j int) bool {
			if !docs[i].Date.Equal(docs[j].Date) {
				return docs[i].Date.Before(docs[j].Date)
			}
			return docs[i].Ref.ID < docs[j].Ref.ID
		})

		for _, wave := range [][]Doc{filterDocs(docs, true), filterDocs(docs, false)} {
			for _, doc := range wave {
				if err := s.replayDoc(ctx, tx, doc, actor); err != nil {
					report.Failed++
					report.Failures = append(report.Failures, Failure{Ref: doc.Ref, Reason: err.Error()})
					continue
				}
				report.Confirmed++
			}
		}
		return nil
	})
	if err != nil {
		return ReprocessReport{}, err
	}
	report.Took = s.now().Sub(started).String()
	s.recordAudit(ctx, actor, "reconcile.reprocess", 0, map[string]any{
		"documents": report.Documents,
		"confirmed": report.Confirmed,
		"failed":    report.Failed,
	})
	return report, nil
}

func filterDocs(docs []Doc, supply bool) []Doc {
	var out []Doc
	for _, d := range docs {
		if d.supplySide() == supply {
			out = append(out, d)
		}
	}
	return out
}

// replayDoc re-confirms one document and re-posts its journal inside a
// savepoint. Replay is strict: an estimated FIFO cost means the lot
// history cannot reproduce the original allocation deterministically, so
// the document fails rather than drifting.
func (s *Service) replayDoc(ctx context.Context, tx TxRepository, doc Doc, actor shared.Actor) error {
	return tx.Savepoint(ctx, func(ctx context.Context, sp TxRepository) error {
		switch doc.Ref.Kind {
		case shared.RefPurchase:
			if err := s.procurement.ConfirmPurchaseTx(ctx, sp.Procurement(), doc.Ref.ID); err != nil {
				return err
			}
			_, err := s.accounting.PostPurchaseJournalTx(ctx, sp.Accounting(), doc.Ref.ID, actor)
			return err
		case shared.RefSaleReturn:
			if err := s.sales.ConfirmSaleReturnTx(ctx, sp.Sales(), doc.Ref.ID); err != nil {
				return err
			}
			_, err := s.accounting.PostSaleReturnJournalTx(ctx, sp.Accounting(), doc.Ref.ID, actor)
			return err
		case shared.RefSale:
			if err := s.sales.ConfirmSaleTx(ctx, sp.Sales(), doc.Ref.ID, true); err != nil {
				return err
			}
			_, err := s.accounting.PostSaleJournalTx(ctx, sp.Accounting(), doc.Ref.ID, actor)
			return err
		case shared.RefPurchaseReturn:
			if err := s.procurement.ConfirmPurchaseReturnTx(ctx, sp.Procurement(), doc.Ref.ID, true); err != nil {
				return err
			}
			_, err := s.accounting.PostPurchaseReturnJournalTx(ctx, sp.Accounting(), doc.Ref.ID, actor)
			return err
		default:
			return fmt.Errorf("reconcile: unexpected document kind %s", doc.Ref.Kind)
		}
	})
}

// SyncProfitFromJournalAdjustments realigns each sale's stored cost and
// profit with the COGS its journal entries carry, picking up manual
// adjustment entries posted after confirmation. With dryRun the drift is
// reported and nothing is written.
func (s *Service) SyncProfitFromJournalAdjustments(ctx context.Context, dryRun bool, actor shared.Actor) (SyncReport, error) {
	report := SyncReport{DryRun: dryRun}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cogsBySale, err := tx.SelectJournalCogsBySale(ctx)
		if err != nil {
			return err
		}
		saleIDs := make([]int64, 0, len(cogsBySale))
		for id := range cogsBySale {
			saleIDs = append(saleIDs, id)
		}
		sort.Slice(saleIDs, func(i, j int) bool { return saleIDs[i] < saleIDs[j] })

		for _, saleID := range saleIDs {
			journalCogs := cogsBySale[saleID]
			sale, err := tx.Sales().GetSaleForUpdate(ctx, saleID)
			if err != nil {
				return err
			}
			report.Checked++
			if sale.TotalCost.Sub(journalCogs).Abs().LessThanOrEqual(driftTolerance) {
				continue
			}
			report.Drifted++
			report.Items = append(report.Items, ProfitDrift{
				SaleID:      saleID,
				StoredCost:  sale.TotalCost,
				JournalCogs: journalCogs,
			})
			if dryRun {
				continue
			}
			newProfit := sale.TotalProfit.Add(sale.TotalCost.Sub(journalCogs))
			if err := tx.UpdateSaleTotals(ctx, saleID, journalCogs, newProfit); err != nil {
				return err
			}
			report.Updated++
			s.recordAudit(ctx, actor, "reconcile.profit_sync", saleID, map[string]any{
				"before_cost":   sale.TotalCost,
				"after_cost":    journalCogs,
				"before_profit": sale.TotalProfit,
				"after_profit":  newProfit,
			})
		}
		return nil
	})
	if err != nil {
		return SyncReport{}, err
	}
	return report, nil
}

// CompareProfitAcrossSources derives total profit three independent ways
// and reports whether they agree: the sales headers, the journal
// (revenue minus COGS), and the FIFO mappings. Read-only.
func (s *Service) CompareProfitAcrossSources(ctx context.Context) (CompareReport, error) {
	var report CompareReport
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		report.FromSales, err = s.repo.SumProfitFromSales(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		report.FromJournal, err = s.repo.SumProfitFromJournal(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		report.FromMappings, err = s.repo.SumProfitFromMappings(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return CompareReport{}, err
	}
	report.Consistent = report.FromSales.Sub(report.FromJournal).Abs().LessThanOrEqual(driftTolerance) &&
		report.FromSales.Sub(report.FromMappings).Abs().LessThanOrEqual(driftTolerance)
	return report, nil
}

// CheckStockDrift lists items whose materialized stock disagrees with
// the movement sum or the open lot remainders. Read-only.
func (s *Service) CheckStockDrift(ctx context.Context) ([]StockDrift, error) {
	return s.repo.SelectStockDrift(ctx)
}

// AdjustSaleCogs applies an explicit cost correction to one confirmed
// sale: a delta-only journal entry plus the matching header update, in
// one transaction, with before and after values audit-logged. History is
// never rewritten; the correction rides on top.
func (s *Service) AdjustSaleCogs(ctx context.Context, saleID int64, costDelta decimal.Decimal, reason string, actor shared.Actor) error {
	if costDelta.IsZero() {
		return ErrZeroDelta
	}
	var before, after sales.Sale
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.Sales().GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.Status != sales.StatusConfirmed {
			return ErrSaleNotConfirmed
		}
		if _, err := s.accounting.PostCogsAdjustmentTx(ctx, tx.Accounting(), saleID, costDelta, reason, actor); err != nil {
			return err
		}
		before = sale
		after = sale
		after.TotalCost = sale.TotalCost.Add(costDelta)
		after.TotalProfit = sale.TotalProfit.Sub(costDelta)
		return tx.UpdateSaleTotals(ctx, saleID, after.TotalCost, after.TotalProfit)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "reconcile.cogs_adjust", saleID, map[string]any{
		"reason":        reason,
		"delta":         costDelta,
		"before_cost":   before.TotalCost,
		"after_cost":    after.TotalCost,
		"before_profit": before.TotalProfit,
		"after_profit":  after.TotalProfit,
	})
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "reconcile",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
		At:       s.now(),
	})
}
