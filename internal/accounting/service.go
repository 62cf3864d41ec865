package accounting

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// DocumentAmounts is the slice of a business document the poster needs:
// header date, confirmed flag, and the monetary totals the recipes map
// onto debit/credit lines.
type DocumentAmounts struct {
	Number    string
	Date      time.Time
	Confirmed bool
	Net       decimal.Decimal
	Tax       decimal.Decimal
	Total     decimal.Decimal
	Cost      decimal.Decimal
}

// TxRepository exposes the transactional operations the poster needs.
// Reconcile embeds this interface to replay postings inside its own
// transaction.
type TxRepository interface {
	GetAccountsByCode(ctx context.Context, codes []AccountCode) (map[AccountCode]Account, error)
	GetAccountByID(ctx context.Context, id int64) (Account, error)
	LockNumberTail(ctx context.Context, prefix string) (string, error)
	InsertEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error)
	InsertDetails(ctx context.Context, entryID int64, details []JournalDetail) error
	GetEntryForUpdate(ctx context.Context, id int64) (JournalEntry, error)
	ListDetails(ctx context.Context, entryID int64) ([]JournalDetail, error)
	MarkReversed(ctx context.Context, id, reversedBy int64) error
	ListEntriesByRef(ctx context.Context, ref shared.Reference) ([]JournalEntry, error)
	// DeleteEntriesByRef exists for ledger reprocessing only; posted
	// entries are otherwise never hard-deleted.
	DeleteEntriesByRef(ctx context.Context, ref shared.Reference) error

	GetSaleAmounts(ctx context.Context, id int64) (DocumentAmounts, error)
	GetPurchaseAmounts(ctx context.Context, id int64) (DocumentAmounts, error)
	GetSaleReturnAmounts(ctx context.Context, id int64) (DocumentAmounts, error)
	GetPurchaseReturnAmounts(ctx context.Context, id int64) (DocumentAmounts, error)
	GetCashDocAmounts(ctx context.Context, kind shared.RefKind, id int64) (DocumentAmounts, error)
}

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetJournal(ctx context.Context, id int64) (JournalEntry, error)
	ListAccounts(ctx context.Context) ([]Account, error)
}

// AuditPort records ledger events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service maps business events onto balanced journal entries.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	now   func() time.Time
}

// NewService constructs the poster service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// GetJournal loads an entry with its lines.
func (s *Service) GetJournal(ctx context.Context, id int64) (JournalEntry, error) {
	return s.repo.GetJournal(ctx, id)
}

// ListAccounts retrieves the chart of accounts.
func (s *Service) ListAccounts(ctx context.Context) ([]Account, error) {
	return s.repo.ListAccounts(ctx)
}

// PostSaleJournal records a confirmed sale:
// DR receivable for the grand total, CR revenue net of discount, CR tax
// payable when charged, and a DR COGS / CR inventory pair at FIFO cost.
// Receivable = revenue + tax and COGS = inventory reduction are independent
// balanced pairs, so the entry balances by construction.
func (s *Service) PostSaleJournal(ctx context.Context, saleID int64, actor shared.Actor) (JournalEntry, error) {
	return s.runPost(ctx, actor, "journal.post", func(ctx context.Context, tx TxRepository) (JournalEntry, error) {
		return s.PostSaleJournalTx(ctx, tx, saleID, actor)
	})
}

// PostSaleJournalTx is PostSaleJournal inside an existing transaction.
func (s *Service) PostSaleJournalTx(ctx context.Context, tx TxRepository, saleID int64, actor shared.Actor) (JournalEntry, error) {
	doc, err := tx.GetSaleAmounts(ctx, saleID)
	if err != nil {
		return JournalEntry{}, err
	}
	if !doc.Confirmed {
		return JournalEntry{}, ErrSourcePending
	}
	lines := []line{
		debit(AccountReceivable, doc.Total, ""),
		credit(AccountRevenue, doc.Net, ""),
	}
	if doc.Tax.IsPositive() {
		lines = append(lines, credit(AccountTax, doc.Tax, ""))
	}
	if doc.Cost.IsPositive() {
		lines = append(lines,
			debit(AccountCogs, doc.Cost, ""),
			credit(AccountInventory, doc.Cost, ""))
	}
	ref := shared.Reference{Kind: shared.RefSale, ID: saleID}
	return s.post(ctx, tx, actor, doc.Date, ref, "Sale "+doc.Number, lines)
}

// PostPurchaseJournal records a confirmed purchase:
// DR inventory net, DR tax receivable when charged, CR payable the total.
func (s *Service) PostPurchaseJournal(ctx context.Context, purchaseID int64, actor shared.Actor) (JournalEntry, error) {
	return s.runPost(ctx, actor, "journal.post", func(ctx context.Context, tx TxRepository) (JournalEntry, error) {
		return s.PostPurchaseJournalTx(ctx, tx, purchaseID, actor)
	})
}

// PostPurchaseJournalTx is PostPurchaseJournal inside an existing transaction.
func (s *Service) PostPurchaseJournalTx(ctx context.Context, tx TxRepository, purchaseID int64, actor shared.Actor) (JournalEntry, error) {
	doc, err := tx.GetPurchaseAmounts(ctx, purchaseID)
	if err != nil {
		return JournalEntry{}, err
	}
	if !doc.Confirmed {
		return JournalEntry{}, ErrSourcePending
	}
	lines := []line{debit(AccountInventory, doc.Net, "")}
	if doc.Tax.IsPositive() {
		lines = append(lines, debit(AccountTax, doc.Tax, ""))
	}
	lines = append(lines, credit(AccountPayable, doc.Total, ""))
	ref := shared.Reference{Kind: shared.RefPurchase, ID: purchaseID}
	return s.post(ctx, tx, actor, doc.Date, ref, "Purchase "+doc.Number, lines)
}

// PostSaleReturnJournal records a confirmed sale return. Returned goods
// re-enter stock as lots valued at the return amount, so both the revenue
// pair and the inventory pair use the return total.
func (s *Service) PostSaleReturnJournal(ctx context.Context, returnID int64, actor shared.Actor) (JournalEntry, error) {
	return s.runPost(ctx, actor, "journal.post", func(ctx context.Context, tx TxRepository) (JournalEntry, error) {
		return s.PostSaleReturnJournalTx(ctx, tx, returnID, actor)
	})
}

// PostSaleReturnJournalTx is PostSaleReturnJournal inside an existing transaction.
func (s *Service) PostSaleReturnJournalTx(ctx context.Context, tx TxRepository, returnID int64, actor shared.Actor) (JournalEntry, error) {
	doc, err := tx.GetSaleReturnAmounts(ctx, returnID)
	if err != nil {
		return JournalEntry{}, err
	}
	if !doc.Confirmed {
		return JournalEntry{}, ErrSourcePending
	}
	lines := []line{
		debit(AccountRevenue, doc.Total, ""),
		credit(AccountReceivable, doc.Total, ""),
		debit(AccountInventory, doc.Total, ""),
		credit(AccountCogs, doc.Total, ""),
	}
	ref := shared.Reference{Kind: shared.RefSaleReturn, ID: returnID}
	return s.post(ctx, tx, actor, doc.Date, ref, "Sale return "+doc.Number, lines)
}

// PostPurchaseReturnJournal records a confirmed purchase return. Goods
// leave at FIFO cost while the supplier credit is the return total; the
// difference books against COGS as a price variance.
func (s *Service) PostPurchaseReturnJournal(ctx context.Context, returnID int64, actor shared.Actor) (JournalEntry, error) {
	return s.runPost(ctx, actor, "journal.post", func(ctx context.Context, tx TxRepository) (JournalEntry, error) {
		return s.PostPurchaseReturnJournalTx(ctx, tx, returnID, actor)
	})
}

// PostPurchaseReturnJournalTx is PostPurchaseReturnJournal inside an existing transaction.
func (s *Service) PostPurchaseReturnJournalTx(ctx context.Context, tx TxRepository, returnID int64, actor shared.Actor) (JournalEntry, error) {
	doc, err := tx.GetPurchaseReturnAmounts(ctx, returnID)
	if err != nil {
		return JournalEntry{}, err
	}
	if !doc.Confirmed {
		return JournalEntry{}, ErrSourcePending
	}
	lines := []line{
		debit(AccountPayable, doc.Total, ""),
		credit(AccountInventory, doc.Cost, ""),
	}
	variance := doc.Total.Sub(doc.Cost)
	switch {
	case variance.IsPositive():
		lines = append(lines, credit(AccountCogs, variance, "price variance"))
	case variance.IsNegative():
		lines = append(lines, debit(AccountCogs, variance.Neg(), "price variance"))
	}
	ref := shared.Reference{Kind: shared.RefPurchaseReturn, ID: returnID}
	return s.post(ctx, tx, actor, doc.Date, ref, "Purchase return "+doc.Number, lines)
}

// PostCashIn records a customer receipt: DR cash, CR receivable.
func (s *Service) PostCashIn(ctx context.Context, docID int64, actor shared.Actor) (JournalEntry, error) {
	return s.runPost(ctx, actor, "journal.post", func(ctx context.Context, tx TxRepository) (JournalEntry, error) {
		return s.postCashTx(ctx, tx, shared.RefCashIn, docID, actor)
	})
}

// PostCashOut records a supplier payment: DR payable, CR cash.
func (s *Service) PostCashOut(ctx context.Context, docID int64, actor shared.Actor) (JournalEntry, error) {
	return s.runPost(ctx, actor, "journal.post", func(ctx context.Context, tx TxRepository) (JournalEntry, error) {
		return s.postCashTx(ctx, tx, shared.RefCashOut, docID, actor)
	})
}

func (s *Service) postCashTx(ctx context.Context, tx TxRepository, kind shared.RefKind, docID int64, actor shared.Actor) (JournalEntry, error) {
	doc, err := tx.GetCashDocAmounts(ctx, kind, docID)
	if err != nil {
		return JournalEntry{}, err
	}
	if !doc.Confirmed {
		return JournalEntry{}, ErrSourcePending
	}
	var lines []line
	var memo string
	if kind == shared.RefCashIn {
		lines = []line{
			debit(AccountCash, doc.Total, ""),
			credit(AccountReceivable, doc.Total, ""),
		}
		memo = "Cash in " + doc.Number
	} else {
		lines = []line{
			debit(AccountPayable, doc.Total, ""),
			credit(AccountCash, doc.Total, ""),
		}
		memo = "Cash out " + doc.Number
	}
	ref := shared.Reference{Kind: kind, ID: docID}
	return s.post(ctx, tx, actor, doc.Date, ref, memo, lines)
}

// PostCogsAdjustment posts a delta-only correcting entry for a sale's COGS.
// A positive delta raises COGS and lowers inventory; a negative delta does
// the opposite. History is never mutated, the delta rides on top.
func (s *Service) PostCogsAdjustment(ctx context.Context, saleID int64, delta decimal.Decimal, reason string, actor shared.Actor) (JournalEntry, error) {
	return s.runPost(ctx, actor, "journal.cogs_adjustment", func(ctx context.Context, tx TxRepository) (JournalEntry, error) {
		return s.PostCogsAdjustmentTx(ctx, tx, saleID, delta, reason, actor)
	})
}

// PostCogsAdjustmentTx is PostCogsAdjustment inside an existing transaction.
func (s *Service) PostCogsAdjustmentTx(ctx context.Context, tx TxRepository, saleID int64, delta decimal.Decimal, reason string, actor shared.Actor) (JournalEntry, error) {
	if delta.IsZero() {
		return JournalEntry{}, fmt.Errorf("accounting: cogs adjustment delta must be non-zero")
	}
	var lines []line
	if delta.IsPositive() {
		lines = []line{
			debit(AccountCogs, delta, reason),
			credit(AccountInventory, delta, reason),
		}
	} else {
		lines = []line{
			debit(AccountInventory, delta.Neg(), reason),
			credit(AccountCogs, delta.Neg(), reason),
		}
	}
	ref := shared.Reference{Kind: shared.RefCogsAdjustment, ID: saleID}
	memo := fmt.Sprintf("COGS adjustment for sale %d", saleID)
	return s.post(ctx, tx, actor, s.now(), ref, memo, lines)
}

// PostManualJournal posts caller-supplied lines after balance validation.
func (s *Service) PostManualJournal(ctx context.Context, input ManualJournalInput) (JournalEntry, error) {
	if len(input.Lines) < 2 {
		return JournalEntry{}, ErrTooFewLines
	}
	var totalDebit, totalCredit decimal.Decimal
	details := make([]JournalDetail, 0, len(input.Lines))
	for idx, l := range input.Lines {
		if l.Debit.IsNegative() || l.Credit.IsNegative() {
			return JournalEntry{}, fmt.Errorf("accounting: line %d negative amount", idx)
		}
		if l.Debit.IsPositive() && l.Credit.IsPositive() {
			return JournalEntry{}, fmt.Errorf("accounting: line %d cannot carry both debit and credit", idx)
		}
		totalDebit = totalDebit.Add(l.Debit)
		totalCredit = totalCredit.Add(l.Credit)
		details = append(details, JournalDetail{AccountID: l.AccountID, Debit: l.Debit, Credit: l.Credit, Memo: l.Memo})
	}
	if totalDebit.Sub(totalCredit).Abs().GreaterThan(balanceTolerance) {
		return JournalEntry{}, &ImbalanceError{Debit: totalDebit, Credit: totalCredit}
	}
	return s.runPost(ctx, input.Actor, "journal.post", func(ctx context.Context, tx TxRepository) (JournalEntry, error) {
		for _, d := range details {
			account, err := tx.GetAccountByID(ctx, d.AccountID)
			if err != nil {
				return JournalEntry{}, err
			}
			if !account.IsActive {
				return JournalEntry{}, fmt.Errorf("accounting: account %s inactive: %w", account.Code, shared.ErrConfiguration)
			}
		}
		ref := shared.Reference{Kind: shared.RefManual, ID: s.now().UnixNano()}
		return s.postDetails(ctx, tx, input.Actor, input.EntryDate, ref, input.Memo, details)
	})
}

// ReverseJournal posts a new entry with every line's debit and credit
// swapped and marks the original reversed. The original is never deleted;
// the two entries net to zero on every account touched.
func (s *Service) ReverseJournal(ctx context.Context, entryID int64, actor shared.Actor) (JournalEntry, error) {
	return s.runPost(ctx, actor, "journal.reverse", func(ctx context.Context, tx TxRepository) (JournalEntry, error) {
		return s.ReverseJournalTx(ctx, tx, entryID, actor)
	})
}

// ReverseJournalTx is ReverseJournal inside an existing transaction.
func (s *Service) ReverseJournalTx(ctx context.Context, tx TxRepository, entryID int64, actor shared.Actor) (JournalEntry, error) {
	original, err := tx.GetEntryForUpdate(ctx, entryID)
	if err != nil {
		return JournalEntry{}, err
	}
	switch original.Status {
	case JournalStatusReversed:
		return JournalEntry{}, ErrAlreadyReversed
	case JournalStatusPosted:
	default:
		return JournalEntry{}, ErrNotPosted
	}
	details, err := tx.ListDetails(ctx, original.ID)
	if err != nil {
		return JournalEntry{}, err
	}
	swapped := make([]JournalDetail, 0, len(details))
	for _, d := range details {
		swapped = append(swapped, JournalDetail{
			AccountID: d.AccountID,
			Debit:     d.Credit,
			Credit:    d.Debit,
			Memo:      d.Memo,
		})
	}
	reversal, err := s.postDetails(ctx, tx, actor, s.now(), original.Ref, "Reversal of "+original.Number, swapped)
	if err != nil {
		return JournalEntry{}, err
	}
	if err := tx.MarkReversed(ctx, original.ID, reversal.ID); err != nil {
		return JournalEntry{}, err
	}
	return reversal, nil
}

// post resolves account codes and writes a balanced entry. Missing or
// inactive accounts fail before any row is written.
func (s *Service) post(ctx context.Context, tx TxRepository, actor shared.Actor, date time.Time, ref shared.Reference, memo string, lines []line) (JournalEntry, error) {
	if err := checkBalanced(lines); err != nil {
		return JournalEntry{}, err
	}
	codes := make([]AccountCode, 0, len(lines))
	for _, l := range lines {
		codes = append(codes, l.Code)
	}
	accounts, err := tx.GetAccountsByCode(ctx, codes)
	if err != nil {
		return JournalEntry{}, err
	}
	details := make([]JournalDetail, 0, len(lines))
	for _, l := range lines {
		account, ok := accounts[l.Code]
		if !ok || !account.IsActive {
			return JournalEntry{}, fmt.Errorf("accounting: account %s missing or inactive: %w", l.Code, shared.ErrConfiguration)
		}
		details = append(details, JournalDetail{AccountID: account.ID, Debit: l.Debit, Credit: l.Credit, Memo: l.Memo})
	}
	return s.postDetails(ctx, tx, actor, date, ref, memo, details)
}

func (s *Service) postDetails(ctx context.Context, tx TxRepository, actor shared.Actor, date time.Time, ref shared.Reference, memo string, details []JournalDetail) (JournalEntry, error) {
	number, err := nextNumber(ctx, tx, actor, date)
	if err != nil {
		return JournalEntry{}, err
	}
	entry := JournalEntry{
		Number:    number,
		EntryDate: date,
		Ref:       ref,
		Memo:      memo,
		Status:    JournalStatusPosted,
		PostedBy:  actor.UserID,
		BranchID:  actor.BranchID,
	}
	inserted, err := tx.InsertEntry(ctx, entry)
	if err != nil {
		return JournalEntry{}, err
	}
	if err := tx.InsertDetails(ctx, inserted.ID, details); err != nil {
		return JournalEntry{}, err
	}
	for i := range details {
		details[i].JournalEntryID = inserted.ID
	}
	inserted.Details = details
	return inserted, nil
}

// runPost executes one posting inside its own transaction, retrying a
// bounded number of times when the journal number collided or the tail
// lock timed out.
func (s *Service) runPost(ctx context.Context, actor shared.Actor, action string, build func(context.Context, TxRepository) (JournalEntry, error)) (JournalEntry, error) {
	var entry JournalEntry
	var err error
	for attempt := 1; attempt <= maxPostAttempts; attempt++ {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var txErr error
			entry, txErr = build(ctx, tx)
			return txErr
		})
		if err == nil || !retryablePostErr(err) {
			break
		}
	}
	if err != nil {
		return JournalEntry{}, err
	}
	s.recordAudit(ctx, actor, action, entry.ID, map[string]any{
		"number": entry.Number,
		"ref":    entry.Ref.String(),
		"status": entry.Status,
	})
	return entry, nil
}

func retryablePostErr(err error) bool {
	return db.IsUniqueViolation(err, "journal_entries_number_key") || db.IsLockTimeout(err)
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "journal_entry",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
		At:       s.now(),
	})
}
