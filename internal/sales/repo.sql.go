package sales

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository persists sales documents in PostgreSQL.
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
		return errors.New("sales repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

const saleColumns = `id, number, customer_id, branch_id, sale_date, status, subtotal, discount, tax_amount, total_amount, total_cost, total_profit, created_at, updated_at`

func scanSale(row pgx.Row) (Sale, error) {
	var s Sale
	err := row.Scan(&s.ID, &s.Number, &s.CustomerID, &s.BranchID, &s.SaleDate, &s.Status,
		&s.Subtotal, &s.Discount, &s.TaxAmount, &s.TotalAmount, &s.TotalCost, &s.TotalProfit,
		&s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, ErrNotFound
	}
	return s, err
}

// GetSale loads a sale header without locking.
func (r *Repository) GetSale(ctx context.Context, id int64) (Sale, error) {
	return scanSale(r.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
}

// ListSaleDetails loads line items without locking.
func (r *Repository) ListSaleDetails(ctx context.Context, saleID int64) ([]SaleDetail, error) {
	return queryDetails(ctx, r.pool, saleID)
}

// GetReturn loads a return header without locking.
func (r *Repository) GetReturn(ctx context.Context, id int64) (SaleReturn, error) {
	return scanReturn(r.pool.QueryRow(ctx, `SELECT `+returnColumns+` FROM sale_returns WHERE id = $1`, id))
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const detailColumns = `id, sale_id, item_id, unit_id, qty, price, discount, subtotal, cost, profit, cost_estimated`

func queryDetails(ctx context.Context, q querier, saleID int64) ([]SaleDetail, error) {
	rows, err := q.Query(ctx, `SELECT `+detailColumns+` FROM sale_details WHERE sale_id = $1 ORDER BY id`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var details []SaleDetail
	for rows.Next() {
		var d SaleDetail
		if err := rows.Scan(&d.ID, &d.SaleID, &d.ItemID, &d.UnitID, &d.Qty, &d.Price, &d.Discount,
			&d.Subtotal, &d.Cost, &d.Profit, &d.CostEstimated); err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

const returnColumns = `id, sale_id, number, return_date, status, total_amount, created_at, updated_at`

func scanReturn(row pgx.Row) (SaleReturn, error) {
	var ret SaleReturn
	err := row.Scan(&ret.ID, &ret.SaleID, &ret.Number, &ret.ReturnDate, &ret.Status, &ret.TotalAmount, &ret.CreatedAt, &ret.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SaleReturn{}, ErrNotFound
	}
	return ret, err
}

// txRepository implements TxRepository over a pgx transaction, delegating
// lot operations to the inventory implementation on the same tx.
type txRepository struct {
	inventory.TxRepository
	tx pgx.Tx
}

// NewTxRepository wraps a transaction. Exported so the reconcile batch can
// drive sale confirmation inside its own single transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{TxRepository: inventory.NewTxRepository(tx), tx: tx}
}

func (t *txRepository) GetSaleForUpdate(ctx context.Context, id int64) (Sale, error) {
	return scanSale(t.tx.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepository) ListDetails(ctx context.Context, saleID int64) ([]SaleDetail, error) {
	return queryDetails(ctx, t.tx, saleID)
}

func (t *txRepository) UpdateDetailCost(ctx context.Context, detailID int64, cost, profit decimal.Decimal, estimated bool) error {
	tag, err := t.tx.Exec(ctx, `UPDATE sale_details SET cost = $1, profit = $2, cost_estimated = $3 WHERE id = $4`,
		cost, profit, estimated, detailID)
	if err == nil && tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return err
}

func (t *txRepository) SetSaleConfirmation(ctx context.Context, saleID int64, status Status, totalCost, totalProfit decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `UPDATE sales SET status = $1, total_cost = $2, total_profit = $3, updated_at = NOW() WHERE id = $4`,
		status, totalCost, totalProfit, saleID)
	if err == nil && tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return err
}

func (t *txRepository) GetReturnForUpdate(ctx context.Context, id int64) (SaleReturn, error) {
	return scanReturn(t.tx.QueryRow(ctx, `SELECT `+returnColumns+` FROM sale_returns WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepository) ListReturnDetails(ctx context.Context, returnID int64) ([]SaleReturnDetail, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, sale_return_id, sale_detail_id, item_id, unit_id, qty, price, subtotal
FROM sale_return_details WHERE sale_return_id = $1 ORDER BY id`, returnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var details []SaleReturnDetail
	for rows.Next() {
		var d SaleReturnDetail
		if err := rows.Scan(&d.ID, &d.SaleReturnID, &d.SaleDetailID, &d.ItemID, &d.UnitID, &d.Qty, &d.Price, &d.Subtotal); err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

func (t *txRepository) SetReturnStatus(ctx context.Context, returnID int64, status Status) error {
	tag, err := t.tx.Exec(ctx, `UPDATE sale_returns SET status = $1, updated_at = NOW() WHERE id = $2`, status, returnID)
	if err == nil && tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return err
}

func (t *txRepository) GetItemStockForUpdate(ctx context.Context, itemID int64) (decimal.Decimal, error) {
	var stock decimal.Decimal
	err := t.tx.QueryRow(ctx, `SELECT stock FROM items WHERE id = $1 FOR UPDATE`, itemID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, inventory.ErrItemNotFound
	}
	return stock, err
}

func (t *txRepository) ConversionFactor(ctx context.Context, itemID, unitID int64) (decimal.Decimal, error) {
	var factor decimal.Decimal
	err := t.tx.QueryRow(ctx, `SELECT CASE WHEN i.unit_id = $2 THEN 1 ELSE COALESCE(iu.factor, 0) END
FROM items i LEFT JOIN item_units iu ON iu.item_id = i.id AND iu.unit_id = $2
WHERE i.id = $1`, itemID, unitID).Scan(&factor)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, inventory.ErrItemNotFound
	}
	if err != nil {
		return decimal.Zero, err
	}
	if factor.Sign() <= 0 {
		return decimal.Zero, errors.New("sales: unit not linked to item")
	}
	return factor, nil
}
