package reconcile

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/accounting"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/procurement"
	"github.com/meridian-erp/meridian-erp/internal/sales"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// transactionalKinds are the document kinds whose derived rows a
// reprocess wipes and rebuilds. Adjustment and opening movements survive.
var transactionalKinds = []string{
	string(shared.RefPurchase),
	string(shared.RefSale),
	string(shared.RefPurchaseReturn),
	string(shared.RefSaleReturn),
}

// Repository persists reconciliation queries in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("reconcile repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// SumProfitFromSales totals profit straight off the sale headers.
func (r *Repository) SumProfitFromSales(ctx context.Context) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(total_profit), 0) FROM sales WHERE status = 'confirmed'`).Scan(&sum)
	return sum, err
}

// SumProfitFromJournal derives profit as revenue minus COGS across all
// posted journal lines.
func (r *Repository) SumProfitFromJournal(ctx context.Context) (decimal.Decimal, error) {
	var sum decimal.Decimal
	// Revenue is carried as credit, COGS as debit, so credit minus debit
	// over both codes is revenue minus COGS.
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(d.credit - d.debit), 0)
FROM journal_entry_details d
JOIN chart_of_accounts a ON a.id = d.account_id
JOIN journal_entries e ON e.id = d.journal_entry_id
WHERE e.status = 'posted' AND a.code IN ('REVENUE', 'COGS')`).Scan(&sum)
	return sum, err
}

// SumProfitFromMappings derives profit from sale detail subtotals minus
// the FIFO mapping costs consumed for them.
func (r *Repository) SumProfitFromMappings(ctx context.Context) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT
COALESCE((SELECT SUM(sd.subtotal) FROM sale_details sd JOIN sales s ON s.id = sd.sale_id WHERE s.status = 'confirmed'), 0)
- COALESCE((SELECT SUM(fm.total_cost) FROM fifo_mappings fm WHERE fm.ref_kind = $1), 0)`,
		string(shared.RefSale)).Scan(&sum)
	return sum, err
}

// SelectStockDrift lists items whose stock disagrees with the movement
// sum or the open lot remainders.
func (r *Repository) SelectStockDrift(ctx context.Context) ([]StockDrift, error) {
	rows, err := r.pool.Query(ctx, `SELECT i.id, i.sku, i.stock,
COALESCE((SELECT SUM(sm.qty) FROM stock_movements sm WHERE sm.item_id = i.id), 0) AS movement_sum,
COALESCE((SELECT SUM(sm.remaining_qty) FROM stock_movements sm WHERE sm.item_id = i.id AND sm.qty > 0), 0) AS lot_remaining
FROM items i
WHERE i.stock <> COALESCE((SELECT SUM(sm.qty) FROM stock_movements sm WHERE sm.item_id = i.id), 0)
   OR i.stock <> COALESCE((SELECT SUM(sm.remaining_qty) FROM stock_movements sm WHERE sm.item_id = i.id AND sm.qty > 0), 0)
ORDER BY i.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var drifts []StockDrift
	for rows.Next() {
		var d StockDrift
		if err := rows.Scan(&d.ItemID, &d.SKU, &d.Stock, &d.MovementSum, &d.LotRemaining); err != nil {
			return nil, err
		}
		drifts = append(drifts, d)
	}
	return drifts, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) Sales() sales.TxRepository {
	return sales.NewTxRepository(r.tx)
}

func (r *txRepository) Procurement() procurement.TxRepository {
	return procurement.NewTxRepository(r.tx)
}

func (r *txRepository) Accounting() accounting.TxRepository {
	return accounting.NewTxRepository(r.tx)
}

// Savepoint nests a transaction so one failed document replay rolls back
// cleanly while the batch continues.
func (r *txRepository) Savepoint(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	nested, err := r.tx.Begin(ctx)
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: nested}
	if err := fn(ctx, wrapper); err != nil {
		_ = nested.Rollback(ctx)
		return err
	}
	return nested.Commit(ctx)
}

func (r *txRepository) SelectConfirmedDocs(ctx context.Context) ([]Doc, error) {
	rows, err := r.tx.Query(ctx, `
SELECT $1::text AS kind, id, purchase_date AS doc_date FROM purchases WHERE status = 'confirmed'
UNION ALL
SELECT $2::text, id, sale_date FROM sales WHERE status = 'confirmed'
UNION ALL
SELECT $3::text, id, return_date FROM purchase_returns WHERE status = 'confirmed'
UNION ALL
SELECT $4::text, id, return_date FROM sale_returns WHERE status = 'confirmed'
ORDER BY doc_date, id`,
		string(shared.RefPurchase), string(shared.RefSale),
		string(shared.RefPurchaseReturn), string(shared.RefSaleReturn))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []Doc
	for rows.Next() {
		var d Doc
		var kind string
		if err := rows.Scan(&kind, &d.Ref.ID, &d.Date); err != nil {
			return nil, err
		}
		d.Ref.Kind = shared.RefKind(kind)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (r *txRepository) DeleteTransactionalMovements(ctx context.Context) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM fifo_mappings WHERE ref_kind = ANY($1)`, transactionalKinds); err != nil {
		return err
	}
	_, err := r.tx.Exec(ctx, `DELETE FROM stock_movements WHERE ref_kind = ANY($1)`, transactionalKinds)
	return err
}

func (r *txRepository) DeleteTransactionalJournals(ctx context.Context) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM journal_entry_details WHERE journal_entry_id IN (
SELECT id FROM journal_entries WHERE ref_kind = ANY($1))`, transactionalKinds); err != nil {
		return err
	}
	_, err := r.tx.Exec(ctx, `DELETE FROM journal_entries WHERE ref_kind = ANY($1)`, transactionalKinds)
	return err
}

// ResetLotRemainders sets every surviving lot's remainder to its quantity
// minus whatever the surviving mappings still consume from it.
func (r *txRepository) ResetLotRemainders(ctx context.Context) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_movements sm
SET remaining_qty = sm.qty - COALESCE((SELECT SUM(fm.qty) FROM fifo_mappings fm WHERE fm.stock_movement_id = sm.id), 0)
WHERE sm.qty > 0`)
	return err
}

// ResetItemStocks rebuilds each item's materialized stock from the
// surviving movement rows.
func (r *txRepository) ResetItemStocks(ctx context.Context) error {
	_, err := r.tx.Exec(ctx, `UPDATE items i
SET stock = COALESCE((SELECT SUM(sm.qty) FROM stock_movements sm WHERE sm.item_id = i.id), 0), updated_at = NOW()`)
	return err
}

// ResetDocumentsPending flips every confirmed document back to pending
// and zeroes derived costs so the replay starts from a clean slate.
func (r *txRepository) ResetDocumentsPending(ctx context.Context) error {
	statements := []string{
		`UPDATE sale_details SET cost = 0, profit = 0, cost_estimated = FALSE
WHERE sale_id IN (SELECT id FROM sales WHERE status = 'confirmed')`,
		`UPDATE sales SET status = 'pending', total_cost = 0, total_profit = 0, updated_at = NOW() WHERE status = 'confirmed'`,
		`UPDATE purchases SET status = 'pending', updated_at = NOW() WHERE status = 'confirmed'`,
		`UPDATE purchase_return_details SET cost = 0, cost_estimated = FALSE
WHERE purchase_return_id IN (SELECT id FROM purchase_returns WHERE status = 'confirmed')`,
		`UPDATE purchase_returns SET status = 'pending', total_cost = 0, updated_at = NOW() WHERE status = 'confirmed'`,
		`UPDATE sale_returns SET status = 'pending', updated_at = NOW() WHERE status = 'confirmed'`,
	}
	for _, stmt := range statements {
		if _, err := r.tx.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// SelectJournalCogsBySale sums the net COGS each sale carries in the
// journal, including delta adjustment entries posted afterwards.
func (r *txRepository) SelectJournalCogsBySale(ctx context.Context) (map[int64]decimal.Decimal, error) {
	rows, err := r.tx.Query(ctx, `SELECT e.ref_id, COALESCE(SUM(d.debit - d.credit), 0)
FROM journal_entries e
JOIN journal_entry_details d ON d.journal_entry_id = e.id
JOIN chart_of_accounts a ON a.id = d.account_id
WHERE e.status = 'posted' AND a.code = 'COGS' AND e.ref_kind IN ($1, $2)
GROUP BY e.ref_id`,
		string(shared.RefSale), string(shared.RefCogsAdjustment))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]decimal.Decimal)
	for rows.Next() {
		var saleID int64
		var cogs decimal.Decimal
		if err := rows.Scan(&saleID, &cogs); err != nil {
			return nil, err
		}
		out[saleID] = cogs
	}
	return out, rows.Err()
}

func (r *txRepository) UpdateSaleTotals(ctx context.Context, saleID int64, totalCost, totalProfit decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE sales SET total_cost = $1, total_profit = $2, updated_at = NOW() WHERE id = $3`,
		totalCost, totalProfit, saleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return sales.ErrNotFound
	}
	return nil
}
