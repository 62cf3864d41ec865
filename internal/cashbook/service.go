package cashbook

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// TxRepository exposes the transactional operations the recalculator
// needs. Every mutation assumes the caller holds the bank row lock; the
// service takes it before touching movements.
type TxRepository interface {
	GetBankForUpdate(ctx context.Context, id int64) (Bank, error)
	SetBankBalance(ctx context.Context, bankID int64, balance decimal.Decimal) error
	GetLastMovement(ctx context.Context, bankID int64) (CashMovement, bool, error)
	InsertMovement(ctx context.Context, m CashMovement) (CashMovement, error)
	GetMovementForUpdate(ctx context.Context, id int64) (CashMovement, error)
	DeleteMovement(ctx context.Context, id int64) error
	SetMovementRef(ctx context.Context, id int64, ref shared.Reference) error
	UpdateMovementBalance(ctx context.Context, id int64, balance decimal.Decimal) error
	// BalanceBefore finds the running balance of the last movement
	// dated strictly before the given date.
	BalanceBefore(ctx context.Context, bankID int64, before time.Time) (decimal.Decimal, bool, error)
	SelectMovementsFrom(ctx context.Context, bankID int64, from time.Time) ([]CashMovement, error)
	SelectAllMovements(ctx context.Context, bankID int64) ([]CashMovement, error)
}

// RepositoryPort abstracts transactional repository behaviour plus
// lock-free reads.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListBanks(ctx context.Context) ([]Bank, error)
	GetBank(ctx context.Context, id int64) (Bank, error)
	ListMovements(ctx context.Context, bankID int64, from, to time.Time) ([]CashMovement, error)
}

// AuditPort records cashbook mutations.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service maintains per-bank running balances.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	now   func() time.Time
}

// NewService constructs the cashbook service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// ListBanks returns all banks.
func (s *Service) ListBanks(ctx context.Context) ([]Bank, error) {
	return s.repo.ListBanks(ctx)
}

// GetBank returns one bank.
func (s *Service) GetBank(ctx context.Context, id int64) (Bank, error) {
	return s.repo.GetBank(ctx, id)
}

// ListMovements returns a bank's movements inside a date range.
func (s *Service) ListMovements(ctx context.Context, bankID int64, from, to time.Time) ([]CashMovement, error) {
	return s.repo.ListMovements(ctx, bankID, from, to)
}

// AppendMovement adds one movement under the bank row lock. An append at
// the tail computes the new balance from the previous row; a backdated
// insert falls back to a full replay from the movement's date so every
// later balance shifts.
func (s *Service) AppendMovement(ctx context.Context, input MovementInput) (CashMovement, error) {
	if err := input.validate(); err != nil {
		return CashMovement{}, err
	}
	var out CashMovement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bank, err := tx.GetBankForUpdate(ctx, input.BankID)
		if err != nil {
			return err
		}
		out, err = s.appendLocked(ctx, tx, bank, input)
		return err
	})
	if err != nil {
		return CashMovement{}, err
	}
	s.recordAudit(ctx, input.Actor, "cashbook.append", out.ID, map[string]any{
		"bank_id": out.BankID,
		"ref":     out.Ref.String(),
		"debit":   out.Debit,
		"credit":  out.Credit,
	})
	return out, nil
}

// appendLocked inserts a movement for a bank whose row lock is already
// held by this transaction.
func (s *Service) appendLocked(ctx context.Context, tx TxRepository, bank Bank, input MovementInput) (CashMovement, error) {
	movement := CashMovement{
		BankID:       bank.ID,
		Kind:         input.Kind,
		Ref:          input.Ref,
		MovementDate: input.Date,
		Debit:        input.Debit,
		Credit:       input.Credit,
		Memo:         input.Memo,
	}
	if movement.Kind == "" {
		movement.Kind = KindRegular
	}

	tail, hasTail, err := tx.GetLastMovement(ctx, bank.ID)
	if err != nil {
		return CashMovement{}, err
	}
	if hasTail && input.Date.Before(tail.MovementDate) {
		inserted, err := tx.InsertMovement(ctx, movement)
		if err != nil {
			return CashMovement{}, err
		}
		if _, err := s.replayLocked(ctx, tx, bank, input.Date); err != nil {
			return CashMovement{}, err
		}
		return tx.GetMovementForUpdate(ctx, inserted.ID)
	}

	prev := bank.InitialBalance
	if hasTail {
		prev = tail.Balance
	}
	movement.Balance = nextBalance(prev, movement)
	inserted, err := tx.InsertMovement(ctx, movement)
	if err != nil {
		return CashMovement{}, err
	}
	if err := tx.SetBankBalance(ctx, bank.ID, movement.Balance); err != nil {
		return CashMovement{}, err
	}
	inserted.Balance = movement.Balance
	return inserted, nil
}

// RecalculateFrom replays every movement of the bank from the given date
// forward, recomputing each stored balance. This is the correctness
// backstop after backdated entries, deletions, or manual corrections.
func (s *Service) RecalculateFrom(ctx context.Context, bankID int64, from time.Time) (RecalcResult, error) {
	var result RecalcResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bank, err := tx.GetBankForUpdate(ctx, bankID)
		if err != nil {
			return err
		}
		result, err = s.replayLocked(ctx, tx, bank, from)
		return err
	})
	return result, err
}

// replayLocked is the replay core: find the balance checkpoint just
// before from, then rewrite every later row's balance in (date, id)
// order and sync the bank's materialized balance to the final value.
func (s *Service) replayLocked(ctx context.Context, tx TxRepository, bank Bank, from time.Time) (RecalcResult, error) {
	balance, found, err := tx.BalanceBefore(ctx, bank.ID, from)
	if err != nil {
		return RecalcResult{}, err
	}
	if !found {
		balance = bank.InitialBalance
	}
	movements, err := tx.SelectMovementsFrom(ctx, bank.ID, from)
	if err != nil {
		return RecalcResult{}, err
	}
	for _, m := range movements {
		balance = nextBalance(balance, m)
		if !balance.Equal(m.Balance) {
			if err := tx.UpdateMovementBalance(ctx, m.ID, balance); err != nil {
				return RecalcResult{}, err
			}
		}
	}
	if err := tx.SetBankBalance(ctx, bank.ID, balance); err != nil {
		return RecalcResult{}, err
	}
	return RecalcResult{BankID: bank.ID, From: from, Rows: len(movements), Balance: balance}, nil
}

// DeleteMovement removes a movement and replays the bank from its date.
// Opening rows are immutable.
func (s *Service) DeleteMovement(ctx context.Context, movementID int64, actor shared.Actor) error {
	var deleted CashMovement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		m, err := tx.GetMovementForUpdate(ctx, movementID)
		if err != nil {
			return err
		}
		if m.Kind == KindOpening {
			return ErrOpeningReversal
		}
		bank, err := tx.GetBankForUpdate(ctx, m.BankID)
		if err != nil {
			return err
		}
		if err := tx.DeleteMovement(ctx, m.ID); err != nil {
			return err
		}
		deleted = m
		_, err = s.replayLocked(ctx, tx, bank, m.MovementDate)
		return err
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "cashbook.delete", deleted.ID, map[string]any{
		"bank_id": deleted.BankID,
		"ref":     deleted.Ref.String(),
		"debit":   deleted.Debit,
		"credit":  deleted.Credit,
	})
	return nil
}

// ReverseMovement inserts a debit/credit-swapped opposite row dated the
// same day and replays from there. The original row stays for history.
func (s *Service) ReverseMovement(ctx context.Context, movementID int64, actor shared.Actor) (CashMovement, error) {
	var out CashMovement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		m, err := tx.GetMovementForUpdate(ctx, movementID)
		if err != nil {
			return err
		}
		if m.Kind == KindOpening {
			return ErrOpeningReversal
		}
		bank, err := tx.GetBankForUpdate(ctx, m.BankID)
		if err != nil {
			return err
		}
		opposite := CashMovement{
			BankID:       m.BankID,
			Kind:         KindRegular,
			Ref:          m.Ref,
			MovementDate: m.MovementDate,
			Debit:        m.Credit,
			Credit:       m.Debit,
			Memo:         fmt.Sprintf("Reversal of movement %d", m.ID),
		}
		inserted, err := tx.InsertMovement(ctx, opposite)
		if err != nil {
			return err
		}
		if _, err := s.replayLocked(ctx, tx, bank, m.MovementDate); err != nil {
			return err
		}
		out, err = tx.GetMovementForUpdate(ctx, inserted.ID)
		return err
	})
	if err != nil {
		return CashMovement{}, err
	}
	s.recordAudit(ctx, actor, "cashbook.reverse", movementID, map[string]any{
		"reversal_id": out.ID,
		"bank_id":     out.BankID,
	})
	return out, nil
}

// Transfer moves an amount between two banks as a paired credit/debit in
// one transaction. Banks are locked in id order so two opposite transfers
// cannot deadlock.
func (s *Service) Transfer(ctx context.Context, input TransferInput) error {
	if input.FromBankID == input.ToBankID {
		return ErrSameBank
	}
	if !input.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	var outID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		banks := make(map[int64]Bank, 2)
		first, second := input.FromBankID, input.ToBankID
		if second < first {
			first, second = second, first
		}
		for _, id := range []int64{first, second} {
			bank, err := tx.GetBankForUpdate(ctx, id)
			if err != nil {
				return err
			}
			banks[id] = bank
		}

		outgoing, err := s.appendLocked(ctx, tx, banks[input.FromBankID], MovementInput{
			BankID: input.FromBankID,
			Kind:   KindRegular,
			Date:   input.Date,
			Credit: input.Amount,
			Memo:   input.Memo,
		})
		if err != nil {
			return err
		}
		ref := shared.Reference{Kind: shared.RefBankTransfer, ID: outgoing.ID}
		if err := tx.SetMovementRef(ctx, outgoing.ID, ref); err != nil {
			return err
		}
		_, err = s.appendLocked(ctx, tx, banks[input.ToBankID], MovementInput{
			BankID: input.ToBankID,
			Kind:   KindRegular,
			Ref:    ref,
			Date:   input.Date,
			Debit:  input.Amount,
			Memo:   input.Memo,
		})
		outID = outgoing.ID
		return err
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, input.Actor, "cashbook.transfer", outID, map[string]any{
		"from_bank": input.FromBankID,
		"to_bank":   input.ToBankID,
		"amount":    input.Amount,
	})
	return nil
}

// VerifyBalances replays every bank read-only and reports rows whose
// stored balance disagrees with the recurrence. Scheduled as a nightly
// integrity scan; it never mutates.
func (s *Service) VerifyBalances(ctx context.Context) ([]BalanceDrift, error) {
	banks, err := s.repo.ListBanks(ctx)
	if err != nil {
		return nil, err
	}
	var drifts []BalanceDrift
	for _, bank := range banks {
		drift, err := s.verifyBank(ctx, bank)
		if err != nil {
			return nil, err
		}
		if drift != nil {
			drifts = append(drifts, *drift)
		}
	}
	return drifts, nil
}

func (s *Service) verifyBank(ctx context.Context, bank Bank) (*BalanceDrift, error) {
	var drift *BalanceDrift
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		movements, err := tx.SelectAllMovements(ctx, bank.ID)
		if err != nil {
			return err
		}
		balance := bank.InitialBalance
		bad := 0
		for _, m := range movements {
			balance = nextBalance(balance, m)
			if !balance.Equal(m.Balance) {
				bad++
			}
		}
		if bad > 0 || !balance.Equal(bank.Balance) {
			drift = &BalanceDrift{
				BankID:       bank.ID,
				BankCode:     bank.Code,
				BadRows:      bad,
				StoredTail:   bank.Balance,
				ComputedTail: balance,
			}
		}
		return nil
	})
	return drift, err
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "cash_movement",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
		At:       s.now(),
	})
}
