package masterdata

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type fakeRepo struct {
	Repository
	items     map[int64]Item
	itemUnits map[[2]int64]ItemUnit
	nextID    int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{items: make(map[int64]Item), itemUnits: make(map[[2]int64]ItemUnit)}
}

func (f *fakeRepo) GetItem(ctx context.Context, id int64) (Item, error) {
	it, ok := f.items[id]
	if !ok {
		return Item{}, shared.ErrNotFound
	}
	return it, nil
}

func (f *fakeRepo) CreateItem(ctx context.Context, item Item) (Item, error) {
	f.nextID++
	item.ID = f.nextID
	f.items[item.ID] = item
	return item, nil
}

func (f *fakeRepo) GetItemUnit(ctx context.Context, itemID, unitID int64) (ItemUnit, error) {
	l, ok := f.itemUnits[[2]int64{itemID, unitID}]
	if !ok {
		return ItemUnit{}, shared.ErrNotFound
	}
	return l, nil
}

func (f *fakeRepo) UpsertItemUnit(ctx context.Context, link ItemUnit) error {
	f.itemUnits[[2]int64{link.ItemID, link.UnitID}] = link
	return nil
}

func TestConversionFactorBaseUnitIsOne(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	ctx := context.Background()

	item, err := svc.CreateItem(ctx, Item{SKU: "SKU-1", Name: "Widget", UnitID: 3})
	require.NoError(t, err)

	factor, err := svc.ConversionFactor(ctx, item.ID, 3)
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(1).Equal(factor))
}

func TestConversionFactorUsesLinkedUnit(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	ctx := context.Background()

	item, err := svc.CreateItem(ctx, Item{SKU: "SKU-1", Name: "Widget", UnitID: 3})
	require.NoError(t, err)
	require.NoError(t, svc.LinkItemUnit(ctx, ItemUnit{ItemID: item.ID, UnitID: 7, Factor: decimal.NewFromInt(12)}))

	factor, err := svc.ConversionFactor(ctx, item.ID, 7)
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(12).Equal(factor))

	_, err = svc.ConversionFactor(ctx, item.ID, 99)
	require.ErrorIs(t, err, ErrUnitNotLinked)
}

func TestLinkItemUnitRejectsNonPositiveFactor(t *testing.T) {
	svc := NewService(newFakeRepo())
	err := svc.LinkItemUnit(context.Background(), ItemUnit{ItemID: 1, UnitID: 2, Factor: decimal.Zero})
	require.ErrorIs(t, err, ErrInvalidFactor)
}

func TestCreateItemStartsInactiveStockAtZero(t *testing.T) {
	svc := NewService(newFakeRepo())
	item, err := svc.CreateItem(context.Background(), Item{SKU: " SKU-9 ", Name: "Gadget", UnitID: 1, Stock: decimal.NewFromInt(50)})
	require.NoError(t, err)
	require.Equal(t, "SKU-9", item.SKU)
	require.True(t, item.Stock.IsZero(), "stock is ledger-owned, create must not seed it")
	require.True(t, item.IsActive)
}
