package inventory

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memoryRepo struct {
	movements map[int64]*StockMovement
	mappings  []FifoMapping
	stocks    map[int64]decimal.Decimal
	nextID    int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		movements: make(map[int64]*StockMovement),
		stocks:    make(map[int64]decimal.Decimal),
	}
}

type memoryTx struct {
	repo *memoryRepo
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetStockCard(ctx context.Context, filter StockCardFilter) ([]CardEntry, error) {
	return nil, nil
}

func (r *memoryRepo) GetItemStock(ctx context.Context, itemID int64) (decimal.Decimal, error) {
	return r.stocks[itemID], nil
}

func (r *memoryRepo) SumMovementQty(ctx context.Context, itemID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, m := range r.movements {
		if m.ItemID == itemID {
			sum = sum.Add(m.Qty)
		}
	}
	return sum, nil
}

func (r *memoryRepo) sortedLots(itemID int64, filter func(*StockMovement) bool) []StockMovement {
	var lots []StockMovement
	for _, m := range r.movements {
		if m.ItemID == itemID && filter(m) {
			lots = append(lots, *m)
		}
	}
	sort.Slice(lots, func(i, j int) bool {
		if !lots[i].MovementDate.Equal(lots[j].MovementDate) {
			return lots[i].MovementDate.Before(lots[j].MovementDate)
		}
		return lots[i].ID < lots[j].ID
	})
	return lots
}

func (tx *memoryTx) SelectLotsForUpdate(ctx context.Context, itemID int64, asOf time.Time) ([]StockMovement, error) {
	return tx.repo.sortedLots(itemID, func(m *StockMovement) bool {
		return m.Remaining.Sign() > 0 && !m.MovementDate.After(asOf)
	}), nil
}

func (tx *memoryTx) SelectOpenLotsForUpdate(ctx context.Context, itemID int64) ([]StockMovement, error) {
	return tx.repo.sortedLots(itemID, func(m *StockMovement) bool {
		return m.Remaining.Sign() > 0
	}), nil
}

func (tx *memoryTx) UpdateLotRemaining(ctx context.Context, lotID int64, remaining decimal.Decimal) error {
	m, ok := tx.repo.movements[lotID]
	if !ok {
		return ErrNoMovements
	}
	if remaining.Sign() < 0 || remaining.GreaterThan(m.Qty) {
		return ErrLotOverRestore
	}
	m.Remaining = remaining
	return nil
}

func (tx *memoryTx) IncrementLotRemaining(ctx context.Context, lotID int64, delta decimal.Decimal) error {
	m, ok := tx.repo.movements[lotID]
	if !ok {
		return ErrNoMovements
	}
	next := m.Remaining.Add(delta)
	if next.GreaterThan(m.Qty) {
		return ErrLotOverRestore
	}
	m.Remaining = next
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m StockMovement) (int64, error) {
	tx.repo.nextID++
	m.ID = tx.repo.nextID
	m.CreatedAt = time.Now()
	tx.repo.movements[m.ID] = &m
	return m.ID, nil
}

func (tx *memoryTx) SelectMovementsByRef(ctx context.Context, ref shared.Reference) ([]StockMovement, error) {
	var out []StockMovement
	for _, m := range tx.repo.movements {
		if m.Ref == ref {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memoryTx) GetLotForUpdate(ctx context.Context, ref shared.Reference, refDetailID int64) (StockMovement, error) {
	for _, m := range tx.repo.movements {
		if m.Ref == ref && m.RefDetailID == refDetailID && m.Qty.Sign() > 0 {
			return *m, nil
		}
	}
	return StockMovement{}, ErrNoMovements
}

func (tx *memoryTx) DeleteMovement(ctx context.Context, id int64) error {
	delete(tx.repo.movements, id)
	return nil
}

func (tx *memoryTx) DeleteMovementsByRef(ctx context.Context, ref shared.Reference) error {
	for id, m := range tx.repo.movements {
		if m.Ref == ref {
			delete(tx.repo.movements, id)
		}
	}
	return nil
}

func (tx *memoryTx) InsertFifoMappings(ctx context.Context, mappings []FifoMapping) error {
	tx.repo.mappings = append(tx.repo.mappings, mappings...)
	return nil
}

func (tx *memoryTx) SelectMappingsByRef(ctx context.Context, ref shared.Reference) ([]FifoMapping, error) {
	var out []FifoMapping
	for _, m := range tx.repo.mappings {
		if m.Ref == ref {
			out = append(out, m)
		}
	}
	return out, nil
}

func (tx *memoryTx) DeleteMappingsByRef(ctx context.Context, ref shared.Reference) error {
	kept := tx.repo.mappings[:0]
	for _, m := range tx.repo.mappings {
		if m.Ref != ref {
			kept = append(kept, m)
		}
	}
	tx.repo.mappings = kept
	return nil
}

func (tx *memoryTx) AddItemStock(ctx context.Context, itemID int64, delta decimal.Decimal) error {
	tx.repo.stocks[itemID] = tx.repo.stocks[itemID].Add(delta)
	return nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func day(n int) time.Time {
	return time.Date(2026, 1, n, 0, 0, 0, 0, time.UTC)
}

func seedLot(t *testing.T, repo *memoryRepo, itemID int64, qty, cost string, date time.Time) int64 {
	t.Helper()
	ledger := NewLedger()
	var id int64
	err := repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		var err error
		id, err = ledger.AddLot(ctx, tx, NewLot{
			ItemID:       itemID,
			Ref:          shared.Reference{Kind: shared.RefOpeningStock, ID: itemID},
			Qty:          dec(qty),
			UnitCost:     dec(cost),
			MovementDate: date,
		})
		return err
	})
	require.NoError(t, err)
	return id
}

func TestAllocateConsumesOldestFirst(t *testing.T) {
	repo := newMemoryRepo()
	ledger := NewLedger()
	ctx := context.Background()

	seedLot(t, repo, 1, "10", "5", day(1))
	lot2 := seedLot(t, repo, 1, "10", "8", day(2))

	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		alloc, err := ledger.Allocate(ctx, tx, 1, dec("15"), day(3))
		require.NoError(t, err)
		require.True(t, dec("90").Equal(alloc.TotalCost), "got %s", alloc.TotalCost)
		require.False(t, alloc.Estimated())
		require.Len(t, alloc.Consumed, 2)
		require.True(t, dec("10").Equal(alloc.Consumed[0].Qty))
		require.True(t, dec("5").Equal(alloc.Consumed[1].Qty))
		return nil
	})
	require.NoError(t, err)
	require.True(t, dec("5").Equal(repo.movements[lot2].Remaining))
}

func TestAllocateHonoursDateCutoff(t *testing.T) {
	repo := newMemoryRepo()
	ledger := NewLedger()
	ctx := context.Background()

	seedLot(t, repo, 1, "10", "5", day(1))
	seedLot(t, repo, 1, "10", "9", day(20))

	// Lots dated after the sale are invisible; the shortfall is estimated
	// at the weighted average of what is still open.
	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		alloc, err := ledger.Allocate(ctx, tx, 1, dec("12"), day(5))
		require.NoError(t, err)
		require.True(t, alloc.Estimated())
		require.True(t, dec("2").Equal(alloc.EstimatedQty))
		// 10 exact @5 = 50, plus 2 @ avg(9) = 18
		require.True(t, dec("68").Equal(alloc.TotalCost), "got %s", alloc.TotalCost)
		return nil
	})
	require.NoError(t, err)
}

func TestAllocateNeverDrivesRemainingNegative(t *testing.T) {
	repo := newMemoryRepo()
	ledger := NewLedger()
	ctx := context.Background()

	seedLot(t, repo, 1, "10", "5", day(1))

	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := ledger.Allocate(ctx, tx, 1, dec("25"), day(2))
		return err
	})
	require.NoError(t, err)
	for _, m := range repo.movements {
		require.GreaterOrEqual(t, m.Remaining.Sign(), 0)
	}
}

func TestRestoreIsExactInverse(t *testing.T) {
	repo := newMemoryRepo()
	ledger := NewLedger()
	ctx := context.Background()

	lot1 := seedLot(t, repo, 1, "10", "5", day(1))
	lot2 := seedLot(t, repo, 1, "10", "8", day(2))
	saleRef := shared.Reference{Kind: shared.RefSale, ID: 77}

	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		alloc, err := ledger.Allocate(ctx, tx, 1, dec("13"), day(3))
		require.NoError(t, err)
		mappings := make([]FifoMapping, 0, len(alloc.Consumed))
		for _, c := range alloc.Consumed {
			mappings = append(mappings, FifoMapping{
				Ref:             saleRef,
				StockMovementID: c.LotID,
				Qty:             c.Qty,
				UnitCost:        c.UnitCost,
				TotalCost:       c.TotalCost(),
			})
		}
		return tx.InsertFifoMappings(ctx, mappings)
	})
	require.NoError(t, err)
	require.True(t, repo.movements[lot1].Remaining.IsZero())
	require.True(t, dec("7").Equal(repo.movements[lot2].Remaining))

	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return ledger.Restore(ctx, tx, saleRef)
	})
	require.NoError(t, err)
	require.True(t, dec("10").Equal(repo.movements[lot1].Remaining))
	require.True(t, dec("10").Equal(repo.movements[lot2].Remaining))

	// Second restore finds no mappings and changes nothing.
	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return ledger.Restore(ctx, tx, saleRef)
	})
	require.NoError(t, err)
	require.True(t, dec("10").Equal(repo.movements[lot1].Remaining))
}

func TestRemoveLotRejectsConsumed(t *testing.T) {
	repo := newMemoryRepo()
	ledger := NewLedger()
	ctx := context.Background()

	ref := shared.Reference{Kind: shared.RefPurchase, ID: 5}
	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := ledger.AddLot(ctx, tx, NewLot{ItemID: 1, Ref: ref, RefDetailID: 9, Qty: dec("10"), UnitCost: dec("4"), MovementDate: day(1)})
		require.NoError(t, err)
		_, err = ledger.Allocate(ctx, tx, 1, dec("3"), day(2))
		require.NoError(t, err)
		_, err = ledger.RemoveLot(ctx, tx, ref, 9)
		return err
	})
	require.ErrorIs(t, err, ErrLotConsumed)
}

func TestPostAdjustmentCreatesAndConsumesLots(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, NewLedger(), nil)
	ctx := context.Background()
	repo.stocks[1] = decimal.Zero

	_, err := svc.PostAdjustment(ctx, AdjustmentInput{ItemID: 1, Qty: dec("20"), UnitCost: dec("3"), Date: day(1)})
	require.NoError(t, err)
	require.True(t, dec("20").Equal(repo.stocks[1]))

	out, err := svc.PostAdjustment(ctx, AdjustmentInput{ItemID: 1, Qty: dec("-5"), Date: day(2)})
	require.NoError(t, err)
	require.True(t, dec("15").Equal(repo.stocks[1]))
	require.True(t, dec("3").Equal(out.UnitCost))

	sum, err := repo.SumMovementQty(ctx, 1)
	require.NoError(t, err)
	require.True(t, sum.Equal(repo.stocks[1]), "stock must equal movement sum")
}

func TestPostAdjustmentRejectsShortfall(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, NewLedger(), nil)
	ctx := context.Background()
	repo.stocks[1] = decimal.Zero

	_, err := svc.PostAdjustment(ctx, AdjustmentInput{ItemID: 1, Qty: dec("-5"), Date: day(2)})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.True(t, dec("5").Equal(insufficient.Requested))
}
