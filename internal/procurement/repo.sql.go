package procurement

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository persists procurement documents in PostgreSQL.
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
		return errors.New("procurement repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

const purchaseColumns = `id, number, supplier_id, branch_id, purchase_date, status, subtotal, discount, tax_amount, total_amount, created_at, updated_at`

func scanPurchase(row pgx.Row) (Purchase, error) {
	var p Purchase
	err := row.Scan(&p.ID, &p.Number, &p.SupplierID, &p.BranchID, &p.PurchaseDate, &p.Status,
		&p.Subtotal, &p.Discount, &p.TaxAmount, &p.TotalAmount, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Purchase{}, ErrNotFound
	}
	return p, err
}

// GetPurchase loads a purchase header without locking.
func (r *Repository) GetPurchase(ctx context.Context, id int64) (Purchase, error) {
	return scanPurchase(r.pool.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, id))
}

// ListPurchaseDetails loads line items without locking.
func (r *Repository) ListPurchaseDetails(ctx context.Context, purchaseID int64) ([]PurchaseDetail, error) {
	return queryDetails(ctx, r.pool, purchaseID)
}

// GetReturn loads a return header without locking.
func (r *Repository) GetReturn(ctx context.Context, id int64) (PurchaseReturn, error) {
	return scanReturn(r.pool.QueryRow(ctx, `SELECT `+returnColumns+` FROM purchase_returns WHERE id = $1`, id))
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryDetails(ctx context.Context, q querier, purchaseID int64) ([]PurchaseDetail, error) {
	rows, err := q.Query(ctx, `SELECT id, purchase_id, item_id, unit_id, qty, price, discount, subtotal
FROM purchase_details WHERE purchase_id = $1 ORDER BY id`, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var details []PurchaseDetail
	for rows.Next() {
		var d PurchaseDetail
		if err := rows.Scan(&d.ID, &d.PurchaseID, &d.ItemID, &d.UnitID, &d.Qty, &d.Price, &d.Discount, &d.Subtotal); err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

const returnColumns = `id, purchase_id, number, return_date, status, total_amount, total_cost, created_at, updated_at`

func scanReturn(row pgx.Row) (PurchaseReturn, error) {
	var ret PurchaseReturn
	err := row.Scan(&ret.ID, &ret.PurchaseID, &ret.Number, &ret.ReturnDate, &ret.Status,
		&ret.TotalAmount, &ret.TotalCost, &ret.CreatedAt, &ret.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseReturn{}, ErrNotFound
	}
	return ret, err
}

// txRepository implements TxRepository over a pgx transaction.
type txRepository struct {
	inventory.TxRepository
	tx pgx.Tx
}

// NewTxRepository wraps a transaction. Exported so the reconcile batch can
// drive purchase confirmation inside its own single transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{TxRepository: inventory.NewTxRepository(tx), tx: tx}
}

func (t *txRepository) GetPurchaseForUpdate(ctx context.Context, id int64) (Purchase, error) {
	return scanPurchase(t.tx.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepository) ListDetails(ctx context.Context, purchaseID int64) ([]PurchaseDetail, error) {
	return queryDetails(ctx, t.tx, purchaseID)
}

func (t *txRepository) SetPurchaseStatus(ctx context.Context, purchaseID int64, status Status) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchases SET status = $1, updated_at = NOW() WHERE id = $2`, status, purchaseID)
	if err == nil && tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return err
}

func (t *txRepository) GetReturnForUpdate(ctx context.Context, id int64) (PurchaseReturn, error) {
	return scanReturn(t.tx.QueryRow(ctx, `SELECT `+returnColumns+` FROM purchase_returns WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepository) ListReturnDetails(ctx context.Context, returnID int64) ([]PurchaseReturnDetail, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, purchase_return_id, purchase_detail_id, item_id, unit_id, qty, price, subtotal, cost, cost_estimated
FROM purchase_return_details WHERE purchase_return_id = $1 ORDER BY id`, returnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var details []PurchaseReturnDetail
	for rows.Next() {
		var d PurchaseReturnDetail
		if err := rows.Scan(&d.ID, &d.PurchaseReturnID, &d.PurchaseDetailID, &d.ItemID, &d.UnitID,
			&d.Qty, &d.Price, &d.Subtotal, &d.Cost, &d.CostEstimated); err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

func (t *txRepository) UpdateReturnDetailCost(ctx context.Context, detailID int64, cost decimal.Decimal, estimated bool) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_return_details SET cost = $1, cost_estimated = $2 WHERE id = $3`, cost, estimated, detailID)
	if err == nil && tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return err
}

func (t *txRepository) SetReturnConfirmation(ctx context.Context, returnID int64, status Status, totalCost decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_returns SET status = $1, total_cost = $2, updated_at = NOW() WHERE id = $3`,
		status, totalCost, returnID)
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
		return decimal.Zero, errors.New("procurement: unit not linked to item")
	}
	return factor, nil
}
