package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository persists the cost-lot ledger in PostgreSQL.
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
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// GetStockCard lists card entries for one item in (movement_date, id) order.
func (r *Repository) GetStockCard(ctx context.Context, filter StockCardFilter) ([]CardEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, ref_kind, ref_id, movement_date, qty, unit_cost,
SUM(qty) OVER (ORDER BY movement_date ASC, id ASC) AS running_qty
FROM stock_movements
WHERE item_id=$1 AND movement_date BETWEEN COALESCE(NULLIF($2::timestamptz, '0001-01-01'::timestamptz), '-infinity') AND COALESCE(NULLIF($3::timestamptz, '0001-01-01'::timestamptz), 'infinity')
ORDER BY movement_date ASC, id ASC
LIMIT $4`, filter.ItemID, filter.From, filter.To, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []CardEntry{}
	for rows.Next() {
		var e CardEntry
		var kind string
		var qty decimal.Decimal
		if err := rows.Scan(&e.MovementID, &kind, &e.Ref.ID, &e.MovementDate, &qty, &e.UnitCost, &e.Balance); err != nil {
			return nil, err
		}
		e.Ref.Kind = shared.RefKind(kind)
		if qty.Sign() >= 0 {
			e.QtyIn = qty
			e.QtyOut = decimal.Zero
		} else {
			e.QtyIn = decimal.Zero
			e.QtyOut = qty.Neg()
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetItemStock reads the denormalised stock column.
func (r *Repository) GetItemStock(ctx context.Context, itemID int64) (decimal.Decimal, error) {
	var stock decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT stock FROM items WHERE id=$1`, itemID).Scan(&stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrItemNotFound
		}
		return decimal.Zero, err
	}
	return stock, nil
}

// SumMovementQty totals every movement for an item; used by drift checks.
func (r *Repository) SumMovementQty(ctx context.Context, itemID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(qty), 0) FROM stock_movements WHERE item_id=$1`, itemID).Scan(&sum)
	return sum, err
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps a pgx transaction so other packages can drive the
// ledger inside their own transaction boundary.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

const movementColumns = `id, item_id, ref_kind, ref_id, ref_detail_id, qty, unit_cost, remaining_qty, movement_date, created_at`

func scanMovement(row pgx.Row) (StockMovement, error) {
	var m StockMovement
	var kind string
	err := row.Scan(&m.ID, &m.ItemID, &kind, &m.Ref.ID, &m.RefDetailID, &m.Qty, &m.UnitCost, &m.Remaining, &m.MovementDate, &m.CreatedAt)
	if err != nil {
		return StockMovement{}, err
	}
	m.Ref.Kind = shared.RefKind(kind)
	return m, nil
}

func (r *txRepository) SelectLotsForUpdate(ctx context.Context, itemID int64, asOf time.Time) ([]StockMovement, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements
WHERE item_id=$1 AND remaining_qty > 0 AND movement_date <= $2
ORDER BY movement_date ASC, id ASC
FOR UPDATE`, itemID, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMovements(rows)
}

func (r *txRepository) SelectOpenLotsForUpdate(ctx context.Context, itemID int64) ([]StockMovement, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements
WHERE item_id=$1 AND remaining_qty > 0
ORDER BY movement_date ASC, id ASC
FOR UPDATE`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMovements(rows)
}

func collectMovements(rows pgx.Rows) ([]StockMovement, error) {
	var movements []StockMovement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (r *txRepository) UpdateLotRemaining(ctx context.Context, lotID int64, remaining decimal.Decimal) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE stock_movements SET remaining_qty=$2 WHERE id=$1 AND $2 >= 0 AND $2 <= qty`, lotID, remaining)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrLotOverRestore
	}
	return nil
}

func (r *txRepository) IncrementLotRemaining(ctx context.Context, lotID int64, delta decimal.Decimal) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE stock_movements SET remaining_qty = remaining_qty + $2
WHERE id=$1 AND remaining_qty + $2 <= qty`, lotID, delta)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrLotOverRestore
	}
	return nil
}

func (r *txRepository) InsertMovement(ctx context.Context, m StockMovement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (item_id, ref_kind, ref_id, ref_detail_id, qty, unit_cost, remaining_qty, movement_date, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW()) RETURNING id`,
		m.ItemID, string(m.Ref.Kind), m.Ref.ID, m.RefDetailID, m.Qty, m.UnitCost, m.Remaining, m.MovementDate).Scan(&id)
	return id, err
}

func (r *txRepository) SelectMovementsByRef(ctx context.Context, ref shared.Reference) ([]StockMovement, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements
WHERE ref_kind=$1 AND ref_id=$2 ORDER BY id ASC`, string(ref.Kind), ref.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMovements(rows)
}

func (r *txRepository) GetLotForUpdate(ctx context.Context, ref shared.Reference, refDetailID int64) (StockMovement, error) {
	m, err := scanMovement(r.tx.QueryRow(ctx, `SELECT `+movementColumns+` FROM stock_movements
WHERE ref_kind=$1 AND ref_id=$2 AND ref_detail_id=$3 AND qty > 0 FOR UPDATE`, string(ref.Kind), ref.ID, refDetailID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockMovement{}, ErrNoMovements
		}
		return StockMovement{}, err
	}
	return m, nil
}

func (r *txRepository) DeleteMovement(ctx context.Context, id int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM stock_movements WHERE id=$1`, id)
	return err
}

func (r *txRepository) DeleteMovementsByRef(ctx context.Context, ref shared.Reference) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM stock_movements WHERE ref_kind=$1 AND ref_id=$2`, string(ref.Kind), ref.ID)
	return err
}

func (r *txRepository) InsertFifoMappings(ctx context.Context, mappings []FifoMapping) error {
	for _, m := range mappings {
		if _, err := r.tx.Exec(ctx, `INSERT INTO fifo_mappings (ref_kind, ref_id, ref_detail_id, stock_movement_id, qty, unit_cost, total_cost)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, string(m.Ref.Kind), m.Ref.ID, m.RefDetailID, m.StockMovementID, m.Qty, m.UnitCost, m.TotalCost); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) SelectMappingsByRef(ctx context.Context, ref shared.Reference) ([]FifoMapping, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, ref_kind, ref_id, ref_detail_id, stock_movement_id, qty, unit_cost, total_cost
FROM fifo_mappings WHERE ref_kind=$1 AND ref_id=$2 ORDER BY id ASC`, string(ref.Kind), ref.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var mappings []FifoMapping
	for rows.Next() {
		var m FifoMapping
		var kind string
		if err := rows.Scan(&m.ID, &kind, &m.Ref.ID, &m.RefDetailID, &m.StockMovementID, &m.Qty, &m.UnitCost, &m.TotalCost); err != nil {
			return nil, err
		}
		m.Ref.Kind = shared.RefKind(kind)
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

func (r *txRepository) DeleteMappingsByRef(ctx context.Context, ref shared.Reference) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM fifo_mappings WHERE ref_kind=$1 AND ref_id=$2`, string(ref.Kind), ref.ID)
	return err
}

func (r *txRepository) AddItemStock(ctx context.Context, itemID int64, delta decimal.Decimal) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE items SET stock = stock + $2, updated_at=NOW() WHERE id=$1`, itemID, delta)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}
