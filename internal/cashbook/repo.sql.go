package cashbook

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

// Repository persists banks and cash movements in PostgreSQL.
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
		return errors.New("cashbook repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

const bankColumns = `id, code, name, initial_balance, balance, is_active, created_at, updated_at`

const movementColumns = `id, bank_id, kind, ref_kind, ref_id, movement_date, debit, credit, balance, memo, created_at`

func scanBank(row pgx.Row) (Bank, error) {
	var b Bank
	err := row.Scan(&b.ID, &b.Code, &b.Name, &b.InitialBalance, &b.Balance, &b.IsActive, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Bank{}, ErrBankNotFound
	}
	return b, err
}

func scanMovement(row pgx.Row) (CashMovement, error) {
	var m CashMovement
	err := row.Scan(&m.ID, &m.BankID, &m.Kind, &m.Ref.Kind, &m.Ref.ID, &m.MovementDate,
		&m.Debit, &m.Credit, &m.Balance, &m.Memo, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return CashMovement{}, ErrMovementNotFound
	}
	return m, err
}

// ListBanks returns all banks ordered by code.
func (r *Repository) ListBanks(ctx context.Context) ([]Bank, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+bankColumns+` FROM banks ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var banks []Bank
	for rows.Next() {
		var b Bank
		if err := rows.Scan(&b.ID, &b.Code, &b.Name, &b.InitialBalance, &b.Balance, &b.IsActive, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		banks = append(banks, b)
	}
	return banks, rows.Err()
}

// GetBank loads one bank without locking.
func (r *Repository) GetBank(ctx context.Context, id int64) (Bank, error) {
	return scanBank(r.pool.QueryRow(ctx, `SELECT `+bankColumns+` FROM banks WHERE id = $1`, id))
}

// ListMovements returns movements inside a date range in replay order.
func (r *Repository) ListMovements(ctx context.Context, bankID int64, from, to time.Time) ([]CashMovement, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+movementColumns+` FROM cash_movements
WHERE bank_id = $1 AND movement_date >= $2 AND movement_date <= $3
ORDER BY movement_date, id`, bankID, from, to)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}

func collectMovements(rows pgx.Rows) ([]CashMovement, error) {
	defer rows.Close()
	var movements []CashMovement
	for rows.Next() {
		var m CashMovement
		if err := rows.Scan(&m.ID, &m.BankID, &m.Kind, &m.Ref.Kind, &m.Ref.ID, &m.MovementDate,
			&m.Debit, &m.Credit, &m.Balance, &m.Memo, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

func (r *txRepository) GetBankForUpdate(ctx context.Context, id int64) (Bank, error) {
	return scanBank(r.tx.QueryRow(ctx, `SELECT `+bankColumns+` FROM banks WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepository) SetBankBalance(ctx context.Context, bankID int64, balance decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE banks SET balance = $1, updated_at = NOW() WHERE id = $2`, balance, bankID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBankNotFound
	}
	return nil
}

func (r *txRepository) GetLastMovement(ctx context.Context, bankID int64) (CashMovement, bool, error) {
	m, err := scanMovement(r.tx.QueryRow(ctx, `SELECT `+movementColumns+` FROM cash_movements
WHERE bank_id = $1 ORDER BY movement_date DESC, id DESC LIMIT 1 FOR UPDATE`, bankID))
	if errors.Is(err, ErrMovementNotFound) {
		return CashMovement{}, false, nil
	}
	return m, err == nil, err
}

func (r *txRepository) InsertMovement(ctx context.Context, m CashMovement) (CashMovement, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO cash_movements (bank_id, kind, ref_kind, ref_id, movement_date, debit, credit, balance, memo)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING `+movementColumns,
		m.BankID, m.Kind, m.Ref.Kind, m.Ref.ID, m.MovementDate, m.Debit, m.Credit, m.Balance, m.Memo)
	return scanMovement(row)
}

func (r *txRepository) GetMovementForUpdate(ctx context.Context, id int64) (CashMovement, error) {
	return scanMovement(r.tx.QueryRow(ctx, `SELECT `+movementColumns+` FROM cash_movements WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepository) DeleteMovement(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM cash_movements WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMovementNotFound
	}
	return nil
}

func (r *txRepository) SetMovementRef(ctx context.Context, id int64, ref shared.Reference) error {
	_, err := r.tx.Exec(ctx, `UPDATE cash_movements SET ref_kind = $1, ref_id = $2 WHERE id = $3`, ref.Kind, ref.ID, id)
	return err
}

func (r *txRepository) UpdateMovementBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE cash_movements SET balance = $1 WHERE id = $2`, balance, id)
	return err
}

func (r *txRepository) BalanceBefore(ctx context.Context, bankID int64, before time.Time) (decimal.Decimal, bool, error) {
	var balance decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT balance FROM cash_movements
WHERE bank_id = $1 AND movement_date < $2
ORDER BY movement_date DESC, id DESC LIMIT 1`, bankID, before).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	return balance, err == nil, err
}

func (r *txRepository) SelectMovementsFrom(ctx context.Context, bankID int64, from time.Time) ([]CashMovement, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+movementColumns+` FROM cash_movements
WHERE bank_id = $1 AND movement_date >= $2
ORDER BY movement_date, id FOR UPDATE`, bankID, from)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}

func (r *txRepository) SelectAllMovements(ctx context.Context, bankID int64) ([]CashMovement, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+movementColumns+` FROM cash_movements
WHERE bank_id = $1 ORDER BY movement_date, id`, bankID)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}
