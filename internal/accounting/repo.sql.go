package accounting

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository persists the chart of accounts and journal entries.
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
		return errors.New("accounting repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

const accountColumns = `id, code, name, type, is_active, created_at, updated_at`

const entryColumns = `id, number, entry_date, ref_kind, ref_id, memo, status, reversed_by, posted_by, branch_id, created_at, updated_at`

func scanEntry(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	err := row.Scan(&e.ID, &e.Number, &e.EntryDate, &e.Ref.Kind, &e.Ref.ID, &e.Memo, &e.Status,
		&e.ReversedBy, &e.PostedBy, &e.BranchID, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return JournalEntry{}, ErrEntryNotFound
	}
	return e, err
}

// GetJournal loads an entry with its lines without locking.
func (r *Repository) GetJournal(ctx context.Context, id int64) (JournalEntry, error) {
	entry, err := scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id = $1`, id))
	if err != nil {
		return JournalEntry{}, err
	}
	details, err := queryDetails(ctx, r.pool, id)
	if err != nil {
		return JournalEntry{}, err
	}
	entry.Details = details
	return entry, nil
}

// ListAccounts retrieves the chart of accounts ordered by code.
func (r *Repository) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM chart_of_accounts ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryDetails(ctx context.Context, q querier, entryID int64) ([]JournalDetail, error) {
	rows, err := q.Query(ctx, `SELECT id, journal_entry_id, account_id, debit, credit, memo
FROM journal_entry_details WHERE journal_entry_id = $1 ORDER BY id`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var details []JournalDetail
	for rows.Next() {
		var d JournalDetail
		if err := rows.Scan(&d.ID, &d.JournalEntryID, &d.AccountID, &d.Debit, &d.Credit, &d.Memo); err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction so other packages can post
// journals as part of their own unit of work.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

func (r *txRepository) GetAccountsByCode(ctx context.Context, codes []AccountCode) (map[AccountCode]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM chart_of_accounts WHERE code = ANY($1)`, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	accounts := make(map[AccountCode]Account, len(codes))
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		accounts[a.Code] = a
	}
	return accounts, rows.Err()
}

func (r *txRepository) GetAccountByID(ctx context.Context, id int64) (Account, error) {
	var a Account
	err := r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM chart_of_accounts WHERE id = $1`, id).
		Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, fmt.Errorf("accounting: account %d not found: %w", id, shared.ErrConfiguration)
	}
	return a, err
}

// LockNumberTail takes an exclusive lock on the highest-numbered entry for
// the prefix and returns its number, or empty when the day has none yet.
func (r *txRepository) LockNumberTail(ctx context.Context, prefix string) (string, error) {
	var number string
	err := r.tx.QueryRow(ctx, `SELECT number FROM journal_entries WHERE number LIKE $1 ORDER BY number DESC LIMIT 1 FOR UPDATE`,
		prefix+"-%").Scan(&number)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return number, err
}

func (r *txRepository) InsertEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (number, entry_date, ref_kind, ref_id, memo, status, posted_by, branch_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING `+entryColumns,
		entry.Number, entry.EntryDate, entry.Ref.Kind, entry.Ref.ID, entry.Memo, entry.Status, entry.PostedBy, entry.BranchID)
	return scanEntry(row)
}

func (r *txRepository) InsertDetails(ctx context.Context, entryID int64, details []JournalDetail) error {
	for _, d := range details {
		_, err := r.tx.Exec(ctx, `INSERT INTO journal_entry_details (journal_entry_id, account_id, debit, credit, memo)
VALUES ($1, $2, $3, $4, $5)`, entryID, d.AccountID, d.Debit, d.Credit, d.Memo)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) GetEntryForUpdate(ctx context.Context, id int64) (JournalEntry, error) {
	return scanEntry(r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepository) ListDetails(ctx context.Context, entryID int64) ([]JournalDetail, error) {
	return queryDetails(ctx, r.tx, entryID)
}

func (r *txRepository) MarkReversed(ctx context.Context, id, reversedBy int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status = $1, reversed_by = $2, updated_at = NOW() WHERE id = $3`,
		JournalStatusReversed, reversedBy, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *txRepository) ListEntriesByRef(ctx context.Context, ref shared.Reference) ([]JournalEntry, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE ref_kind = $1 AND ref_id = $2 ORDER BY id`,
		ref.Kind, ref.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(&e.ID, &e.Number, &e.EntryDate, &e.Ref.Kind, &e.Ref.ID, &e.Memo, &e.Status,
			&e.ReversedBy, &e.PostedBy, &e.BranchID, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *txRepository) DeleteEntriesByRef(ctx context.Context, ref shared.Reference) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM journal_entry_details WHERE journal_entry_id IN (
SELECT id FROM journal_entries WHERE ref_kind = $1 AND ref_id = $2)`, ref.Kind, ref.ID)
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `DELETE FROM journal_entries WHERE ref_kind = $1 AND ref_id = $2`, ref.Kind, ref.ID)
	return err
}

func (r *txRepository) GetSaleAmounts(ctx context.Context, id int64) (DocumentAmounts, error) {
	var doc DocumentAmounts
	var status string
	err := r.tx.QueryRow(ctx, `SELECT number, sale_date, status, subtotal - discount, tax_amount, total_amount, total_cost
FROM sales WHERE id = $1`, id).Scan(&doc.Number, &doc.Date, &status, &doc.Net, &doc.Tax, &doc.Total, &doc.Cost)
	if errors.Is(err, pgx.ErrNoRows) {
		return DocumentAmounts{}, shared.ErrNotFound
	}
	doc.Confirmed = status == "confirmed"
	return doc, err
}

func (r *txRepository) GetPurchaseAmounts(ctx context.Context, id int64) (DocumentAmounts, error) {
	var doc DocumentAmounts
	var status string
	err := r.tx.QueryRow(ctx, `SELECT number, purchase_date, status, subtotal - discount, tax_amount, total_amount
FROM purchases WHERE id = $1`, id).Scan(&doc.Number, &doc.Date, &status, &doc.Net, &doc.Tax, &doc.Total)
	if errors.Is(err, pgx.ErrNoRows) {
		return DocumentAmounts{}, shared.ErrNotFound
	}
	doc.Confirmed = status == "confirmed"
	return doc, err
}

func (r *txRepository) GetSaleReturnAmounts(ctx context.Context, id int64) (DocumentAmounts, error) {
	var doc DocumentAmounts
	var status string
	err := r.tx.QueryRow(ctx, `SELECT number, return_date, status, total_amount
FROM sale_returns WHERE id = $1`, id).Scan(&doc.Number, &doc.Date, &status, &doc.Total)
	if errors.Is(err, pgx.ErrNoRows) {
		return DocumentAmounts{}, shared.ErrNotFound
	}
	doc.Net = doc.Total
	doc.Confirmed = status == "confirmed"
	return doc, err
}

func (r *txRepository) GetPurchaseReturnAmounts(ctx context.Context, id int64) (DocumentAmounts, error) {
	var doc DocumentAmounts
	var status string
	err := r.tx.QueryRow(ctx, `SELECT number, return_date, status, total_amount, total_cost
FROM purchase_returns WHERE id = $1`, id).Scan(&doc.Number, &doc.Date, &status, &doc.Total, &doc.Cost)
	if errors.Is(err, pgx.ErrNoRows) {
		return DocumentAmounts{}, shared.ErrNotFound
	}
	doc.Net = doc.Total
	doc.Confirmed = status == "confirmed"
	return doc, err
}

func (r *txRepository) GetCashDocAmounts(ctx context.Context, kind shared.RefKind, id int64) (DocumentAmounts, error) {
	var table string
	switch kind {
	case shared.RefCashIn:
		table = "cash_ins"
	case shared.RefCashOut:
		table = "cash_outs"
	default:
		return DocumentAmounts{}, fmt.Errorf("accounting: unsupported cash document kind %s", kind)
	}
	var doc DocumentAmounts
	var status string
	err := r.tx.QueryRow(ctx, `SELECT number, doc_date, status, amount FROM `+table+` WHERE id = $1`, id).
		Scan(&doc.Number, &doc.Date, &status, &doc.Total)
	if errors.Is(err, pgx.ErrNoRows) {
		return DocumentAmounts{}, shared.ErrNotFound
	}
	doc.Net = doc.Total
	doc.Confirmed = status == "confirmed"
	return doc, err
}
