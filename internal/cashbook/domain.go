package cashbook

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// MovementKind separates ordinary movements from opening rows. Opening
// rows reset the running balance absolutely instead of accumulating; the
// distinct kind keeps that rule out of string comparisons.
type MovementKind string

const (
	KindRegular MovementKind = "regular"
	KindOpening MovementKind = "opening"
)

var (
	ErrBankNotFound     = errors.New("cashbook: bank not found")
	ErrMovementNotFound = errors.New("cashbook: movement not found")
	ErrInvalidAmount    = errors.New("cashbook: movement requires a positive debit or credit, not both")
	ErrOpeningReversal  = errors.New("cashbook: opening rows cannot be reversed or deleted")
	ErrSameBank         = errors.New("cashbook: transfer requires two distinct banks")
)

// Bank is a cash or bank account carrying a materialized balance.
type Bank struct {
	ID             int64           `json:"id"`
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	Balance        decimal.Decimal `json:"balance"`
	IsActive       bool            `json:"is_active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// CashMovement is one row of a bank's strictly ordered movement sequence.
// Balance is the materialized running balance after this row, ordered by
// (movement_date, id).
type CashMovement struct {
	ID           int64            `json:"id"`
	BankID       int64            `json:"bank_id"`
	Kind         MovementKind     `json:"kind"`
	Ref          shared.Reference `json:"ref"`
	MovementDate time.Time        `json:"movement_date"`
	Debit        decimal.Decimal  `json:"debit"`
	Credit       decimal.Decimal  `json:"credit"`
	Balance      decimal.Decimal  `json:"balance"`
	Memo         string           `json:"memo,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// MovementInput describes a movement to append.
type MovementInput struct {
	BankID int64
	Kind   MovementKind
	Ref    shared.Reference
	Date   time.Time
	Debit  decimal.Decimal
	Credit decimal.Decimal
	Memo   string
	Actor  shared.Actor
}

// TransferInput describes a paired movement between two banks.
type TransferInput struct {
	FromBankID int64
	ToBankID   int64
	Date       time.Time
	Amount     decimal.Decimal
	Memo       string
	Actor      shared.Actor
}

// RecalcResult summarizes one replay pass.
type RecalcResult struct {
	BankID  int64           `json:"bank_id"`
	From    time.Time       `json:"from"`
	Rows    int             `json:"rows"`
	Balance decimal.Decimal `json:"balance"`
}

// BalanceDrift reports a bank whose stored balances disagree with a full
// replay of its movements.
type BalanceDrift struct {
	BankID       int64           `json:"bank_id"`
	BankCode     string          `json:"bank_code"`
	BadRows      int             `json:"bad_rows"`
	StoredTail   decimal.Decimal `json:"stored_tail"`
	ComputedTail decimal.Decimal `json:"computed_tail"`
}

// nextBalance applies one movement to the running balance. Opening rows
// reset the baseline: the balance becomes the debit (or negative credit)
// outright, whatever came before.
func nextBalance(prev decimal.Decimal, m CashMovement) decimal.Decimal {
	if m.Kind == KindOpening {
		if m.Debit.IsPositive() {
			return m.Debit
		}
		return m.Credit.Neg()
	}
	return prev.Add(m.Debit).Sub(m.Credit)
}

func (in MovementInput) validate() error {
	if in.BankID <= 0 {
		return ErrBankNotFound
	}
	if in.Debit.IsNegative() || in.Credit.IsNegative() {
		return ErrInvalidAmount
	}
	if in.Debit.IsPositive() == in.Credit.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}
