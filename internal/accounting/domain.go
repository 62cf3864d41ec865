package accounting

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// AccountCode identifies one of the fixed chart-of-accounts roles the
// posting recipes use. The chart may hold more accounts; these are the
// only codes the poster resolves.
type AccountCode string

const (
	AccountCash       AccountCode = "CASH"
	AccountReceivable AccountCode = "RECEIVABLE"
	AccountPayable    AccountCode = "PAYABLE"
	AccountRevenue    AccountCode = "REVENUE"
	AccountCogs       AccountCode = "COGS"
	AccountInventory  AccountCode = "INVENTORY"
	AccountTax        AccountCode = "TAX"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// JournalStatus enumerates journal lifecycle values. Posted entries are
// never deleted; a reversal supersedes them and links back via ReversedBy.
type JournalStatus string

const (
	JournalStatusDraft    JournalStatus = "draft"
	JournalStatusPosted   JournalStatus = "posted"
	JournalStatusReversed JournalStatus = "reversed"
)

// Account models a chart of accounts node.
type Account struct {
	ID        int64       `json:"id"`
	Code      AccountCode `json:"code"`
	Name      string      `json:"name"`
	Type      AccountType `json:"type"`
	IsActive  bool        `json:"is_active"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// JournalEntry captures posting metadata. Ref points at the business
// document the entry records; reversals reuse the original's reference.
type JournalEntry struct {
	ID         int64            `json:"id"`
	Number     string           `json:"number"`
	EntryDate  time.Time        `json:"entry_date"`
	Ref        shared.Reference `json:"ref"`
	Memo       string           `json:"memo"`
	Status     JournalStatus    `json:"status"`
	ReversedBy *int64           `json:"reversed_by,omitempty"`
	PostedBy   int64            `json:"posted_by"`
	BranchID   int64            `json:"branch_id"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	Details    []JournalDetail  `json:"details,omitempty"`
}

// JournalDetail stores the debit or credit amount for one account.
type JournalDetail struct {
	ID             int64           `json:"id"`
	JournalEntryID int64           `json:"journal_entry_id"`
	AccountID      int64           `json:"account_id"`
	Debit          decimal.Decimal `json:"debit"`
	Credit         decimal.Decimal `json:"credit"`
	Memo           string          `json:"memo,omitempty"`
}

// ManualLineInput is one line of a manually posted journal.
type ManualLineInput struct {
	AccountID int64           `json:"account_id" validate:"required,gt=0"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Memo      string          `json:"memo"`
}

// ManualJournalInput groups fields required to post a manual entry.
type ManualJournalInput struct {
	EntryDate time.Time         `json:"entry_date" validate:"required"`
	Memo      string            `json:"memo" validate:"required"`
	Lines     []ManualLineInput `json:"lines" validate:"required,min=2,dive"`
	Actor     shared.Actor      `json:"-"`
}

var (
	ErrEntryNotFound   = errors.New("accounting: journal entry not found")
	ErrAlreadyReversed = errors.New("accounting: journal entry already reversed")
	ErrNotPosted       = errors.New("accounting: journal entry is not posted")
	ErrTooFewLines     = errors.New("accounting: journal requires at least two lines")
	ErrSourcePending   = errors.New("accounting: source document is not confirmed")
)

// balanceTolerance bounds the acceptable debit/credit difference. Amounts
// are decimals, so anything beyond a rounding cent is a caller bug.
var balanceTolerance = decimal.New(1, -2)

// ImbalanceError reports journal lines whose debits and credits disagree.
type ImbalanceError struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

func (e *ImbalanceError) Error() string {
	return fmt.Sprintf("accounting: journal out of balance: debit %s, credit %s, difference %s",
		e.Debit, e.Credit, e.Debit.Sub(e.Credit))
}

// line is an internal posting line keyed by account role rather than id.
type line struct {
	Code   AccountCode
	Debit  decimal.Decimal
	Credit decimal.Decimal
	Memo   string
}

func debit(code AccountCode, amount decimal.Decimal, memo string) line {
	return line{Code: code, Debit: amount, Memo: memo}
}

func credit(code AccountCode, amount decimal.Decimal, memo string) line {
	return line{Code: code, Credit: amount, Memo: memo}
}

// checkBalanced verifies the debit/credit totals of a prepared line set.
func checkBalanced(lines []line) error {
	if len(lines) < 2 {
		return ErrTooFewLines
	}
	var totalDebit, totalCredit decimal.Decimal
	for _, l := range lines {
		if l.Debit.IsNegative() || l.Credit.IsNegative() {
			return fmt.Errorf("accounting: negative amount on account %s", l.Code)
		}
		if l.Debit.IsPositive() && l.Credit.IsPositive() {
			return fmt.Errorf("accounting: account %s cannot carry both debit and credit", l.Code)
		}
		totalDebit = totalDebit.Add(l.Debit)
		totalCredit = totalCredit.Add(l.Credit)
	}
	if totalDebit.Sub(totalCredit).Abs().GreaterThan(balanceTolerance) {
		return &ImbalanceError{Debit: totalDebit, Credit: totalCredit}
	}
	return nil
}
