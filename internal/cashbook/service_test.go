package cashbook

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memoryStore struct {
	banks     map[int64]*Bank
	movements map[int64]*CashMovement
	nextID    int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		banks:     make(map[int64]*Bank),
		movements: make(map[int64]*CashMovement),
		nextID:    1,
	}
}

func (s *memoryStore) seedBank(id int64, initial string) *Bank {
	b := &Bank{
		ID:             id,
		Code:           "BNK-" + decimal.NewFromInt(id).String(),
		Name:           "Bank",
		InitialBalance: dec(initial),
		Balance:        dec(initial),
		IsActive:       true,
	}
	s.banks[id] = b
	return b
}

// ordered returns a bank's movements in (date, id) replay order.
func (s *memoryStore) ordered(bankID int64) []*CashMovement {
	var out []*CashMovement
	for _, m := range s.movements {
		if m.BankID == bankID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].MovementDate.Equal(out[j].MovementDate) {
			return out[i].MovementDate.Before(out[j].MovementDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{store: s})
}

func (s *memoryStore) ListBanks(context.Context) ([]Bank, error) {
	var out []Bank
	for _, b := range s.banks {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) GetBank(_ context.Context, id int64) (Bank, error) {
	b, ok := s.banks[id]
	if !ok {
		return Bank{}, ErrBankNotFound
	}
	return *b, nil
}

func (s *memoryStore) ListMovements(_ context.Context, bankID int64, from, to time.Time) ([]CashMovement, error) {
	var out []CashMovement
	for _, m := range s.ordered(bankID) {
		if !m.MovementDate.Before(from) && !m.MovementDate.After(to) {
			out = append(out, *m)
		}
	}
	return out, nil
}

type memoryTx struct {
	store *memoryStore
}

func (t *memoryTx) GetBankForUpdate(_ context.Context, id int64) (Bank, error) {
	b, ok := t.store.banks[id]
	if !ok {
		return Bank{}, ErrBankNotFound
	}
	return *b, nil
}

func (t *memoryTx) SetBankBalance(_ context.Context, bankID int64, balance decimal.Decimal) error {
	b, ok := t.store.banks[bankID]
	if !ok {
		return ErrBankNotFound
	}
	b.Balance = balance
	return nil
}

func (t *memoryTx) GetLastMovement(_ context.Context, bankID int64) (CashMovement, bool, error) {
	ordered := t.store.ordered(bankID)
	if len(ordered) == 0 {
		return CashMovement{}, false, nil
	}
	return *ordered[len(ordered)-1], true, nil
}

func (t *memoryTx) InsertMovement(_ context.Context, m CashMovement) (CashMovement, error) {
	m.ID = t.store.nextID
	t.store.nextID++
	m.CreatedAt = time.Now()
	stored := m
	t.store.movements[m.ID] = &stored
	return m, nil
}

func (t *memoryTx) GetMovementForUpdate(_ context.Context, id int64) (CashMovement, error) {
	m, ok := t.store.movements[id]
	if !ok {
		return CashMovement{}, ErrMovementNotFound
	}
	return *m, nil
}

func (t *memoryTx) DeleteMovement(_ context.Context, id int64) error {
	if _, ok := t.store.movements[id]; !ok {
		return ErrMovementNotFound
	}
	delete(t.store.movements, id)
	return nil
}

func (t *memoryTx) SetMovementRef(_ context.Context, id int64, ref shared.Reference) error {
	m, ok := t.store.movements[id]
	if !ok {
		return ErrMovementNotFound
	}
	m.Ref = ref
	return nil
}

func (t *memoryTx) UpdateMovementBalance(_ context.Context, id int64, balance decimal.Decimal) error {
	m, ok := t.store.movements[id]
	if !ok {
		return ErrMovementNotFound
	}
	m.Balance = balance
	return nil
}

func (t *memoryTx) BalanceBefore(_ context.Context, bankID int64, before time.Time) (decimal.Decimal, bool, error) {
	var last *CashMovement
	for _, m := range t.store.ordered(bankID) {
		if m.MovementDate.Before(before) {
			last = m
		}
	}
	if last == nil {
		return decimal.Zero, false, nil
	}
	return last.Balance, true, nil
}

func (t *memoryTx) SelectMovementsFrom(_ context.Context, bankID int64, from time.Time) ([]CashMovement, error) {
	var out []CashMovement
	for _, m := range t.store.ordered(bankID) {
		if !m.MovementDate.Before(from) {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (t *memoryTx) SelectAllMovements(_ context.Context, bankID int64) ([]CashMovement, error) {
	var out []CashMovement
	for _, m := range t.store.ordered(bankID) {
		out = append(out, *m)
	}
	return out, nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(n int) time.Time {
	return time.Date(2026, time.April, n, 0, 0, 0, 0, time.UTC)
}

func debitInput(bankID int64, date time.Time, amount string) MovementInput {
	return MovementInput{
		BankID: bankID,
		Ref:    shared.Reference{Kind: shared.RefCashIn, ID: 1},
		Date:   date,
		Debit:  dec(amount),
	}
}

func creditInput(bankID int64, date time.Time, amount string) MovementInput {
	return MovementInput{
		BankID: bankID,
		Ref:    shared.Reference{Kind: shared.RefCashOut, ID: 1},
		Date:   date,
		Credit: dec(amount),
	}
}

// requireRecurrence asserts balance[i] = balance[i-1] + debit - credit for
// every row, with opening rows resetting the baseline.
func requireRecurrence(t *testing.T, store *memoryStore, bank *Bank) {
	t.Helper()
	balance := bank.InitialBalance
	for _, m := range store.ordered(bank.ID) {
		balance = nextBalance(balance, *m)
		require.True(t, balance.Equal(m.Balance),
			"movement %d: stored %s, recurrence gives %s", m.ID, m.Balance, balance)
	}
	require.True(t, balance.Equal(bank.Balance), "bank tail %s, computed %s", bank.Balance, balance)
}

func TestAppendMovementMaintainsRunningBalance(t *testing.T) {
	store := newMemoryStore()
	bank := store.seedBank(1, "100")
	svc := NewService(store, nil)

	m1, err := svc.AppendMovement(context.Background(), debitInput(1, day(1), "50"))
	require.NoError(t, err)
	require.True(t, m1.Balance.Equal(dec("150")))

	m2, err := svc.AppendMovement(context.Background(), creditInput(1, day(2), "30"))
	require.NoError(t, err)
	require.True(t, m2.Balance.Equal(dec("120")))
	require.True(t, bank.Balance.Equal(dec("120")))
	requireRecurrence(t, store, bank)
}

func TestAppendMovementRejectsBadAmounts(t *testing.T) {
	store := newMemoryStore()
	store.seedBank(1, "0")
	svc := NewService(store, nil)

	_, err := svc.AppendMovement(context.Background(), MovementInput{
		BankID: 1, Date: day(1), Debit: dec("5"), Credit: dec("5"),
		Ref: shared.Reference{Kind: shared.RefCashIn, ID: 1},
	})
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.AppendMovement(context.Background(), MovementInput{
		BankID: 1, Date: day(1),
		Ref: shared.Reference{Kind: shared.RefCashIn, ID: 1},
	})
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestOpeningMovementResetsBalanceAbsolutely(t *testing.T) {
	store := newMemoryStore()
	bank := store.seedBank(1, "0")
	svc := NewService(store, nil)

	_, err := svc.AppendMovement(context.Background(), debitInput(1, day(1), "500"))
	require.NoError(t, err)

	opening := MovementInput{
		BankID: 1,
		Kind:   KindOpening,
		Ref:    shared.Reference{Kind: shared.RefBankOpening, ID: 1},
		Date:   day(2),
		Debit:  dec("1000"),
	}
	m, err := svc.AppendMovement(context.Background(), opening)
	require.NoError(t, err)
	require.True(t, m.Balance.Equal(dec("1000")), "opening resets, not 1500: got %s", m.Balance)
	require.True(t, bank.Balance.Equal(dec("1000")))

	m2, err := svc.AppendMovement(context.Background(), creditInput(1, day(3), "200"))
	require.NoError(t, err)
	require.True(t, m2.Balance.Equal(dec("800")))
	requireRecurrence(t, store, bank)
}

func TestBackdatedInsertShiftsLaterBalances(t *testing.T) {
	store := newMemoryStore()
	bank := store.seedBank(1, "0")
	svc := NewService(store, nil)

	_, err := svc.AppendMovement(context.Background(), debitInput(1, day(1), "100"))
	require.NoError(t, err)
	m2, err := svc.AppendMovement(context.Background(), debitInput(1, day(5), "100"))
	require.NoError(t, err)
	require.True(t, m2.Balance.Equal(dec("200")))

	// Insert between the two existing rows.
	back, err := svc.AppendMovement(context.Background(), debitInput(1, day(3), "50"))
	require.NoError(t, err)
	require.True(t, back.Balance.Equal(dec("150")), "backdated row balance: %s", back.Balance)
	require.True(t, store.movements[m2.ID].Balance.Equal(dec("250")), "later row must shift")
	require.True(t, bank.Balance.Equal(dec("250")))
	requireRecurrence(t, store, bank)
}

func TestRecalculateFromArbitraryDate(t *testing.T) {
	store := newMemoryStore()
	bank := store.seedBank(1, "10")
	svc := NewService(store, nil)

	for d := 1; d <= 5; d++ {
		_, err := svc.AppendMovement(context.Background(), debitInput(1, day(d), "10"))
		require.NoError(t, err)
	}
	// Corrupt two stored balances the way a crashed migration would.
	for _, m := range store.ordered(1)[2:4] {
		m.Balance = dec("9999")
	}

	result, err := svc.RecalculateFrom(context.Background(), 1, day(3))
	require.NoError(t, err)
	require.Equal(t, 3, result.Rows)
	require.True(t, result.Balance.Equal(dec("60")))
	requireRecurrence(t, store, bank)
}

func TestDeleteMovementReplaysTail(t *testing.T) {
	store := newMemoryStore()
	bank := store.seedBank(1, "0")
	svc := NewService(store, nil)

	m1, err := svc.AppendMovement(context.Background(), debitInput(1, day(1), "100"))
	require.NoError(t, err)
	_, err = svc.AppendMovement(context.Background(), debitInput(1, day(2), "100"))
	require.NoError(t, err)

	require.NoError(t, svc.DeleteMovement(context.Background(), m1.ID, shared.System))
	require.True(t, bank.Balance.Equal(dec("100")))
	requireRecurrence(t, store, bank)
}

func TestReverseMovementInsertsOppositeRow(t *testing.T) {
	store := newMemoryStore()
	bank := store.seedBank(1, "0")
	svc := NewService(store, nil)

	m, err := svc.AppendMovement(context.Background(), debitInput(1, day(1), "100"))
	require.NoError(t, err)
	_, err = svc.AppendMovement(context.Background(), debitInput(1, day(2), "40"))
	require.NoError(t, err)

	reversal, err := svc.ReverseMovement(context.Background(), m.ID, shared.System)
	require.NoError(t, err)
	require.True(t, reversal.Credit.Equal(dec("100")))
	require.True(t, reversal.Debit.IsZero())
	require.True(t, bank.Balance.Equal(dec("40")))
	requireRecurrence(t, store, bank)
}

func TestOpeningRowsAreImmutable(t *testing.T) {
	store := newMemoryStore()
	store.seedBank(1, "0")
	svc := NewService(store, nil)

	opening, err := svc.AppendMovement(context.Background(), MovementInput{
		BankID: 1,
		Kind:   KindOpening,
		Ref:    shared.Reference{Kind: shared.RefBankOpening, ID: 1},
		Date:   day(1),
		Debit:  dec("1000"),
	})
	require.NoError(t, err)

	_, err = svc.ReverseMovement(context.Background(), opening.ID, shared.System)
	require.ErrorIs(t, err, ErrOpeningReversal)
	err = svc.DeleteMovement(context.Background(), opening.ID, shared.System)
	require.ErrorIs(t, err, ErrOpeningReversal)
}

func TestTransferMovesBothSides(t *testing.T) {
	store := newMemoryStore()
	from := store.seedBank(1, "500")
	to := store.seedBank(2, "100")
	svc := NewService(store, nil)

	err := svc.Transfer(context.Background(), TransferInput{
		FromBankID: 1,
		ToBankID:   2,
		Date:       day(1),
		Amount:     dec("200"),
		Memo:       "treasury sweep",
	})
	require.NoError(t, err)
	require.True(t, from.Balance.Equal(dec("300")))
	require.True(t, to.Balance.Equal(dec("300")))
	requireRecurrence(t, store, from)
	requireRecurrence(t, store, to)

	// Both rows share the transfer reference.
	var refs []shared.Reference
	for _, m := range store.movements {
		refs = append(refs, m.Ref)
	}
	require.Len(t, refs, 2)
	require.Equal(t, refs[0], refs[1])
	require.Equal(t, shared.RefBankTransfer, refs[0].Kind)
}

func TestTransferRejectsSameBank(t *testing.T) {
	store := newMemoryStore()
	store.seedBank(1, "500")
	svc := NewService(store, nil)

	err := svc.Transfer(context.Background(), TransferInput{
		FromBankID: 1, ToBankID: 1, Date: day(1), Amount: dec("10"),
	})
	require.ErrorIs(t, err, ErrSameBank)
}

func TestVerifyBalancesFlagsDrift(t *testing.T) {
	store := newMemoryStore()
	store.seedBank(1, "0")
	svc := NewService(store, nil)

	m, err := svc.AppendMovement(context.Background(), debitInput(1, day(1), "100"))
	require.NoError(t, err)
	_, err = svc.AppendMovement(context.Background(), debitInput(1, day(2), "50"))
	require.NoError(t, err)

	drifts, err := svc.VerifyBalances(context.Background())
	require.NoError(t, err)
	require.Empty(t, drifts)

	store.movements[m.ID].Balance = dec("42")
	drifts, err = svc.VerifyBalances(context.Background())
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	require.Equal(t, 1, drifts[0].BadRows)
}
