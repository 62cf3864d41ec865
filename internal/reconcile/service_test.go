package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/accounting"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/procurement"
	"github.com/meridian-erp/meridian-erp/internal/sales"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// fakeStore holds every table the repair surface touches: the ledger,
// all four document kinds, and the journal. One store backs the sales,
// procurement and accounting transactional fakes so a replay sees its
// own writes the way a shared database transaction would.
type fakeStore struct {
	movements map[int64]*inventory.StockMovement
	mappings  []inventory.FifoMapping
	stocks    map[int64]decimal.Decimal
	factors   map[[2]int64]decimal.Decimal
	baseUnits map[int64]int64
	skus      map[int64]string

	sales             map[int64]*sales.Sale
	saleDetails       map[int64][]*sales.SaleDetail
	saleReturns       map[int64]*sales.SaleReturn
	saleReturnDetails map[int64][]*sales.SaleReturnDetail

	purchases             map[int64]*procurement.Purchase
	purchaseDetails       map[int64][]*procurement.PurchaseDetail
	purchaseReturns       map[int64]*procurement.PurchaseReturn
	purchaseReturnDetails map[int64][]*procurement.PurchaseReturnDetail

	accounts     map[accounting.AccountCode]accounting.Account
	entries      map[int64]*accounting.JournalEntry
	entryDetails map[int64][]accounting.JournalDetail

	nextID int64
}

func newFakeStore() *fakeStore {
	s := &fakeStore{
		movements:             make(map[int64]*inventory.StockMovement),
		stocks:                make(map[int64]decimal.Decimal),
		factors:               make(map[[2]int64]decimal.Decimal),
		baseUnits:             make(map[int64]int64),
		skus:                  make(map[int64]string),
		sales:                 make(map[int64]*sales.Sale),
		saleDetails:           make(map[int64][]*sales.SaleDetail),
		saleReturns:           make(map[int64]*sales.SaleReturn),
		saleReturnDetails:     make(map[int64][]*sales.SaleReturnDetail),
		purchases:             make(map[int64]*procurement.Purchase),
		purchaseDetails:       make(map[int64][]*procurement.PurchaseDetail),
		purchaseReturns:       make(map[int64]*procurement.PurchaseReturn),
		purchaseReturnDetails: make(map[int64][]*procurement.PurchaseReturnDetail),
		accounts:              make(map[accounting.AccountCode]accounting.Account),
		entries:               make(map[int64]*accounting.JournalEntry),
		entryDetails:          make(map[int64][]accounting.JournalDetail),
	}
	codes := map[accounting.AccountCode]accounting.AccountType{
		accounting.AccountCash:       accounting.AccountTypeAsset,
		accounting.AccountReceivable: accounting.AccountTypeAsset,
		accounting.AccountPayable:    accounting.AccountTypeLiability,
		accounting.AccountRevenue:    accounting.AccountTypeRevenue,
		accounting.AccountCogs:       accounting.AccountTypeExpense,
		accounting.AccountInventory:  accounting.AccountTypeAsset,
		accounting.AccountTax:        accounting.AccountTypeLiability,
	}
	for code, typ := range codes {
		s.nextID++
		s.accounts[code] = accounting.Account{ID: s.nextID, Code: code, Name: string(code), Type: typ, IsActive: true}
	}
	return s
}

func (s *fakeStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *fakeStore) clone() *fakeStore {
	c := newFakeStore()
	c.nextID = s.nextID
	c.accounts = s.accounts
	for id, m := range s.movements {
		cp := *m
		c.movements[id] = &cp
	}
	c.mappings = append([]inventory.FifoMapping(nil), s.mappings...)
	for k, v := range s.stocks {
		c.stocks[k] = v
	}
	for k, v := range s.factors {
		c.factors[k] = v
	}
	for k, v := range s.baseUnits {
		c.baseUnits[k] = v
	}
	for k, v := range s.skus {
		c.skus[k] = v
	}
	for id, v := range s.sales {
		cp := *v
		c.sales[id] = &cp
	}
	for id, ds := range s.saleDetails {
		for _, d := range ds {
			cp := *d
			c.saleDetails[id] = append(c.saleDetails[id], &cp)
		}
	}
	for id, v := range s.saleReturns {
		cp := *v
		c.saleReturns[id] = &cp
	}
	for id, ds := range s.saleReturnDetails {
		for _, d := range ds {
			cp := *d
			c.saleReturnDetails[id] = append(c.saleReturnDetails[id], &cp)
		}
	}
	for id, v := range s.purchases {
		cp := *v
		c.purchases[id] = &cp
	}
	for id, ds := range s.purchaseDetails {
		for _, d := range ds {
			cp := *d
			c.purchaseDetails[id] = append(c.purchaseDetails[id], &cp)
		}
	}
	for id, v := range s.purchaseReturns {
		cp := *v
		c.purchaseReturns[id] = &cp
	}
	for id, ds := range s.purchaseReturnDetails {
		for _, d := range ds {
			cp := *d
			c.purchaseReturnDetails[id] = append(c.purchaseReturnDetails[id], &cp)
		}
	}
	for id, e := range s.entries {
		cp := *e
		c.entries[id] = &cp
	}
	for id, ds := range s.entryDetails {
		c.entryDetails[id] = append([]accounting.JournalDetail(nil), ds...)
	}
	return c
}

// RepositoryPort

func (s *fakeStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &fakeTxRepo{s: s})
}

func (s *fakeStore) SumProfitFromSales(context.Context) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, sale := range s.sales {
		if sale.Status == sales.StatusConfirmed {
			sum = sum.Add(sale.TotalProfit)
		}
	}
	return sum, nil
}

func (s *fakeStore) SumProfitFromJournal(context.Context) (decimal.Decimal, error) {
	revenueID := s.accounts[accounting.AccountRevenue].ID
	cogsID := s.accounts[accounting.AccountCogs].ID
	sum := decimal.Zero
	for id, e := range s.entries {
		if e.Status != accounting.JournalStatusPosted {
			continue
		}
		for _, d := range s.entryDetails[id] {
			if d.AccountID == revenueID || d.AccountID == cogsID {
				sum = sum.Add(d.Credit.Sub(d.Debit))
			}
		}
	}
	return sum, nil
}

func (s *fakeStore) SumProfitFromMappings(context.Context) (decimal.Decimal, error) {
	sum := decimal.Zero
	for id, sale := range s.sales {
		if sale.Status != sales.StatusConfirmed {
			continue
		}
		for _, d := range s.saleDetails[id] {
			sum = sum.Add(d.Subtotal)
		}
	}
	for _, m := range s.mappings {
		if m.Ref.Kind == shared.RefSale {
			sum = sum.Sub(m.TotalCost)
		}
	}
	return sum, nil
}

func (s *fakeStore) SelectStockDrift(context.Context) ([]StockDrift, error) {
	var itemIDs []int64
	for id := range s.baseUnits {
		itemIDs = append(itemIDs, id)
	}
	sort.Slice(itemIDs, func(i, j int) bool { return itemIDs[i] < itemIDs[j] })
	var drifts []StockDrift
	for _, itemID := range itemIDs {
		movementSum, lotRemaining := decimal.Zero, decimal.Zero
		for _, m := range s.movements {
			if m.ItemID != itemID {
				continue
			}
			movementSum = movementSum.Add(m.Qty)
			if m.Qty.Sign() > 0 {
				lotRemaining = lotRemaining.Add(m.Remaining)
			}
		}
		stock := s.stocks[itemID]
		if stock.Equal(movementSum) && stock.Equal(lotRemaining) {
			continue
		}
		drifts = append(drifts, StockDrift{
			ItemID: itemID, SKU: s.skus[itemID],
			Stock: stock, MovementSum: movementSum, LotRemaining: lotRemaining,
		})
	}
	return drifts, nil
}

// reconcile.TxRepository

type fakeTxRepo struct {
	s *fakeStore
}

func (r *fakeTxRepo) Sales() sales.TxRepository {
	return &fakeSalesTx{fakeTx{s: r.s}}
}

func (r *fakeTxRepo) Procurement() procurement.TxRepository {
	return &fakeProcTx{fakeTx{s: r.s}}
}

func (r *fakeTxRepo) Accounting() accounting.TxRepository {
	return &fakeAcctTx{s: r.s}
}

func (r *fakeTxRepo) Savepoint(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snap := r.s.clone()
	if err := fn(ctx, r); err != nil {
		*r.s = *snap
		return err
	}
	return nil
}

func (r *fakeTxRepo) SelectConfirmedDocs(context.Context) ([]Doc, error) {
	var docs []Doc
	for id, p := range r.s.purchases {
		if p.Status == procurement.StatusConfirmed {
			docs = append(docs, Doc{Ref: shared.Reference{Kind: shared.RefPurchase, ID: id}, Date: p.PurchaseDate})
		}
	}
	for id, sl := range r.s.sales {
		if sl.Status == sales.StatusConfirmed {
			docs = append(docs, Doc{Ref: shared.Reference{Kind: shared.RefSale, ID: id}, Date: sl.SaleDate})
		}
	}
	for id, pr := range r.s.purchaseReturns {
		if pr.Status == procurement.StatusConfirmed {
			docs = append(docs, Doc{Ref: shared.Reference{Kind: shared.RefPurchaseReturn, ID: id}, Date: pr.ReturnDate})
		}
	}
	for id, sr := range r.s.saleReturns {
		if sr.Status == sales.StatusConfirmed {
			docs = append(docs, Doc{Ref: shared.Reference{Kind: shared.RefSaleReturn, ID: id}, Date: sr.ReturnDate})
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].Date.Equal(docs[j].Date) {
			return docs[i].Date.Before(docs[j].Date)
		}
		return docs[i].Ref.ID < docs[j].Ref.ID
	})
	return docs, nil
}

func isTransactional(kind shared.RefKind) bool {
	for _, k := range transactionalKinds {
		if k == string(kind) {
			return true
		}
	}
	return false
}

func (r *fakeTxRepo) DeleteTransactionalMovements(context.Context) error {
	kept := r.s.mappings[:0]
	for _, m := range r.s.mappings {
		if !isTransactional(m.Ref.Kind) {
			kept = append(kept, m)
		}
	}
	r.s.mappings = kept
	for id, m := range r.s.movements {
		if isTransactional(m.Ref.Kind) {
			delete(r.s.movements, id)
		}
	}
	return nil
}

func (r *fakeTxRepo) DeleteTransactionalJournals(context.Context) error {
	for id, e := range r.s.entries {
		if isTransactional(e.Ref.Kind) {
			delete(r.s.entries, id)
			delete(r.s.entryDetails, id)
		}
	}
	return nil
}

func (r *fakeTxRepo) ResetLotRemainders(context.Context) error {
	for _, m := range r.s.movements {
		if m.Qty.Sign() <= 0 {
			continue
		}
		consumed := decimal.Zero
		for _, fm := range r.s.mappings {
			if fm.StockMovementID == m.ID {
				consumed = consumed.Add(fm.Qty)
			}
		}
		m.Remaining = m.Qty.Sub(consumed)
	}
	return nil
}

func (r *fakeTxRepo) ResetItemStocks(context.Context) error {
	for itemID := range r.s.baseUnits {
		sum := decimal.Zero
		for _, m := range r.s.movements {
			if m.ItemID == itemID {
				sum = sum.Add(m.Qty)
			}
		}
		r.s.stocks[itemID] = sum
	}
	return nil
}

func (r *fakeTxRepo) ResetDocumentsPending(context.Context) error {
	for id, sl := range r.s.sales {
		if sl.Status != sales.StatusConfirmed {
			continue
		}
		sl.Status = sales.StatusPending
		sl.TotalCost, sl.TotalProfit = decimal.Zero, decimal.Zero
		for _, d := range r.s.saleDetails[id] {
			d.Cost, d.Profit, d.CostEstimated = decimal.Zero, decimal.Zero, false
		}
	}
	for _, p := range r.s.purchases {
		if p.Status == procurement.StatusConfirmed {
			p.Status = procurement.StatusPending
		}
	}
	for id, pr := range r.s.purchaseReturns {
		if pr.Status != procurement.StatusConfirmed {
			continue
		}
		pr.Status = procurement.StatusPending
		pr.TotalCost = decimal.Zero
		for _, d := range r.s.purchaseReturnDetails[id] {
			d.Cost, d.CostEstimated = decimal.Zero, false
		}
	}
	for _, sr := range r.s.saleReturns {
		if sr.Status == sales.StatusConfirmed {
			sr.Status = sales.StatusPending
		}
	}
	return nil
}

func (r *fakeTxRepo) SelectJournalCogsBySale(context.Context) (map[int64]decimal.Decimal, error) {
	cogsID := r.s.accounts[accounting.AccountCogs].ID
	out := make(map[int64]decimal.Decimal)
	for id, e := range r.s.entries {
		if e.Status != accounting.JournalStatusPosted {
			continue
		}
		if e.Ref.Kind != shared.RefSale && e.Ref.Kind != shared.RefCogsAdjustment {
			continue
		}
		for _, d := range r.s.entryDetails[id] {
			if d.AccountID == cogsID {
				out[e.Ref.ID] = out[e.Ref.ID].Add(d.Debit.Sub(d.Credit))
			}
		}
	}
	return out, nil
}

func (r *fakeTxRepo) UpdateSaleTotals(_ context.Context, saleID int64, totalCost, totalProfit decimal.Decimal) error {
	sl, ok := r.s.sales[saleID]
	if !ok {
		return sales.ErrNotFound
	}
	sl.TotalCost, sl.TotalProfit = totalCost, totalProfit
	return nil
}

// fakeTx carries the inventory surface shared by the sales and
// procurement transactional fakes.
type fakeTx struct {
	s *fakeStore
}

func (t *fakeTx) sortedLots(itemID int64, keep func(*inventory.StockMovement) bool) []inventory.StockMovement {
	var lots []inventory.StockMovement
	for _, m := range t.s.movements {
		if m.ItemID == itemID && keep(m) {
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

func (t *fakeTx) SelectLotsForUpdate(_ context.Context, itemID int64, asOf time.Time) ([]inventory.StockMovement, error) {
	return t.sortedLots(itemID, func(m *inventory.StockMovement) bool {
		return m.Remaining.Sign() > 0 && !m.MovementDate.After(asOf)
	}), nil
}

func (t *fakeTx) SelectOpenLotsForUpdate(_ context.Context, itemID int64) ([]inventory.StockMovement, error) {
	return t.sortedLots(itemID, func(m *inventory.StockMovement) bool {
		return m.Remaining.Sign() > 0
	}), nil
}

func (t *fakeTx) UpdateLotRemaining(_ context.Context, lotID int64, remaining decimal.Decimal) error {
	m := t.s.movements[lotID]
	if m == nil {
		return inventory.ErrNoMovements
	}
	if remaining.Sign() < 0 || remaining.GreaterThan(m.Qty) {
		return inventory.ErrLotOverRestore
	}
	m.Remaining = remaining
	return nil
}

func (t *fakeTx) IncrementLotRemaining(_ context.Context, lotID int64, delta decimal.Decimal) error {
	m := t.s.movements[lotID]
	if m == nil {
		return inventory.ErrNoMovements
	}
	next := m.Remaining.Add(delta)
	if next.GreaterThan(m.Qty) {
		return inventory.ErrLotOverRestore
	}
	m.Remaining = next
	return nil
}

func (t *fakeTx) InsertMovement(_ context.Context, m inventory.StockMovement) (int64, error) {
	m.ID = t.s.id()
	t.s.movements[m.ID] = &m
	return m.ID, nil
}

func (t *fakeTx) SelectMovementsByRef(_ context.Context, ref shared.Reference) ([]inventory.StockMovement, error) {
	var out []inventory.StockMovement
	for _, m := range t.s.movements {
		if m.Ref == ref {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *fakeTx) GetLotForUpdate(_ context.Context, ref shared.Reference, refDetailID int64) (inventory.StockMovement, error) {
	for _, m := range t.s.movements {
		if m.Ref == ref && m.RefDetailID == refDetailID && m.Qty.Sign() > 0 {
			return *m, nil
		}
	}
	return inventory.StockMovement{}, inventory.ErrNoMovements
}

func (t *fakeTx) DeleteMovement(_ context.Context, id int64) error {
	delete(t.s.movements, id)
	return nil
}

func (t *fakeTx) DeleteMovementsByRef(_ context.Context, ref shared.Reference) error {
	for id, m := range t.s.movements {
		if m.Ref == ref {
			delete(t.s.movements, id)
		}
	}
	return nil
}

func (t *fakeTx) InsertFifoMappings(_ context.Context, mappings []inventory.FifoMapping) error {
	t.s.mappings = append(t.s.mappings, mappings...)
	return nil
}

func (t *fakeTx) SelectMappingsByRef(_ context.Context, ref shared.Reference) ([]inventory.FifoMapping, error) {
	var out []inventory.FifoMapping
	for _, m := range t.s.mappings {
		if m.Ref == ref {
			out = append(out, m)
		}
	}
	return out, nil
}

func (t *fakeTx) DeleteMappingsByRef(_ context.Context, ref shared.Reference) error {
	kept := t.s.mappings[:0]
	for _, m := range t.s.mappings {
		if m.Ref != ref {
			kept = append(kept, m)
		}
	}
	t.s.mappings = kept
	return nil
}

func (t *fakeTx) AddItemStock(_ context.Context, itemID int64, delta decimal.Decimal) error {
	t.s.stocks[itemID] = t.s.stocks[itemID].Add(delta)
	return nil
}

func (t *fakeTx) GetItemStockForUpdate(_ context.Context, itemID int64) (decimal.Decimal, error) {
	return t.s.stocks[itemID], nil
}

func (t *fakeTx) ConversionFactor(_ context.Context, itemID, unitID int64) (decimal.Decimal, error) {
	if t.s.baseUnits[itemID] == unitID {
		return decimal.NewFromInt(1), nil
	}
	f, ok := t.s.factors[[2]int64{itemID, unitID}]
	if !ok {
		return decimal.Zero, inventory.ErrItemNotFound
	}
	return f, nil
}

type fakeSalesTx struct {
	fakeTx
}

func (t *fakeSalesTx) GetSaleForUpdate(_ context.Context, id int64) (sales.Sale, error) {
	sl, ok := t.s.sales[id]
	if !ok {
		return sales.Sale{}, sales.ErrNotFound
	}
	return *sl, nil
}

func (t *fakeSalesTx) ListDetails(_ context.Context, saleID int64) ([]sales.SaleDetail, error) {
	var out []sales.SaleDetail
	for _, d := range t.s.saleDetails[saleID] {
		out = append(out, *d)
	}
	return out, nil
}

func (t *fakeSalesTx) UpdateDetailCost(_ context.Context, detailID int64, cost, profit decimal.Decimal, estimated bool) error {
	for _, details := range t.s.saleDetails {
		for _, d := range details {
			if d.ID == detailID {
				d.Cost, d.Profit, d.CostEstimated = cost, profit, estimated
				return nil
			}
		}
	}
	return sales.ErrNotFound
}

func (t *fakeSalesTx) SetSaleConfirmation(_ context.Context, saleID int64, status sales.Status, totalCost, totalProfit decimal.Decimal) error {
	sl, ok := t.s.sales[saleID]
	if !ok {
		return sales.ErrNotFound
	}
	sl.Status, sl.TotalCost, sl.TotalProfit = status, totalCost, totalProfit
	return nil
}

func (t *fakeSalesTx) GetReturnForUpdate(_ context.Context, id int64) (sales.SaleReturn, error) {
	r, ok := t.s.saleReturns[id]
	if !ok {
		return sales.SaleReturn{}, sales.ErrNotFound
	}
	return *r, nil
}

func (t *fakeSalesTx) ListReturnDetails(_ context.Context, returnID int64) ([]sales.SaleReturnDetail, error) {
	var out []sales.SaleReturnDetail
	for _, d := range t.s.saleReturnDetails[returnID] {
		out = append(out, *d)
	}
	return out, nil
}

func (t *fakeSalesTx) SetReturnStatus(_ context.Context, returnID int64, status sales.Status) error {
	r, ok := t.s.saleReturns[returnID]
	if !ok {
		return sales.ErrNotFound
	}
	r.Status = status
	return nil
}

type fakeProcTx struct {
	fakeTx
}

func (t *fakeProcTx) GetPurchaseForUpdate(_ context.Context, id int64) (procurement.Purchase, error) {
	p, ok := t.s.purchases[id]
	if !ok {
		return procurement.Purchase{}, procurement.ErrNotFound
	}
	return *p, nil
}

func (t *fakeProcTx) ListDetails(_ context.Context, purchaseID int64) ([]procurement.PurchaseDetail, error) {
	var out []procurement.PurchaseDetail
	for _, d := range t.s.purchaseDetails[purchaseID] {
		out = append(out, *d)
	}
	return out, nil
}

func (t *fakeProcTx) SetPurchaseStatus(_ context.Context, purchaseID int64, status procurement.Status) error {
	p, ok := t.s.purchases[purchaseID]
	if !ok {
		return procurement.ErrNotFound
	}
	p.Status = status
	return nil
}

func (t *fakeProcTx) GetReturnForUpdate(_ context.Context, id int64) (procurement.PurchaseReturn, error) {
	r, ok := t.s.purchaseReturns[id]
	if !ok {
		return procurement.PurchaseReturn{}, procurement.ErrNotFound
	}
	return *r, nil
}

func (t *fakeProcTx) ListReturnDetails(_ context.Context, returnID int64) ([]procurement.PurchaseReturnDetail, error) {
	var out []procurement.PurchaseReturnDetail
	for _, d := range t.s.purchaseReturnDetails[returnID] {
		out = append(out, *d)
	}
	return out, nil
}

func (t *fakeProcTx) UpdateReturnDetailCost(_ context.Context, detailID int64, cost decimal.Decimal, estimated bool) error {
	for _, details := range t.s.purchaseReturnDetails {
		for _, d := range details {
			if d.ID == detailID {
				d.Cost, d.CostEstimated = cost, estimated
				return nil
			}
		}
	}
	return procurement.ErrNotFound
}

func (t *fakeProcTx) SetReturnConfirmation(_ context.Context, returnID int64, status procurement.Status, totalCost decimal.Decimal) error {
	r, ok := t.s.purchaseReturns[returnID]
	if !ok {
		return procurement.ErrNotFound
	}
	r.Status, r.TotalCost = status, totalCost
	return nil
}

type fakeAcctTx struct {
	s *fakeStore
}

func (t *fakeAcctTx) GetAccountsByCode(_ context.Context, codes []accounting.AccountCode) (map[accounting.AccountCode]accounting.Account, error) {
	out := make(map[accounting.AccountCode]accounting.Account)
	for _, code := range codes {
		if a, ok := t.s.accounts[code]; ok {
			out[code] = a
		}
	}
	return out, nil
}

func (t *fakeAcctTx) GetAccountByID(_ context.Context, id int64) (accounting.Account, error) {
	for _, a := range t.s.accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return accounting.Account{}, fmt.Errorf("account %d not found: %w", id, shared.ErrConfiguration)
}

func (t *fakeAcctTx) LockNumberTail(_ context.Context, prefix string) (string, error) {
	var max string
	for _, e := range t.s.entries {
		if strings.HasPrefix(e.Number, prefix+"-") && e.Number > max {
			max = e.Number
		}
	}
	return max, nil
}

func (t *fakeAcctTx) InsertEntry(_ context.Context, entry accounting.JournalEntry) (accounting.JournalEntry, error) {
	entry.ID = t.s.id()
	stored := entry
	t.s.entries[entry.ID] = &stored
	return entry, nil
}

func (t *fakeAcctTx) InsertDetails(_ context.Context, entryID int64, details []accounting.JournalDetail) error {
	for _, d := range details {
		d.ID = t.s.id()
		d.JournalEntryID = entryID
		t.s.entryDetails[entryID] = append(t.s.entryDetails[entryID], d)
	}
	return nil
}

func (t *fakeAcctTx) GetEntryForUpdate(_ context.Context, id int64) (accounting.JournalEntry, error) {
	e, ok := t.s.entries[id]
	if !ok {
		return accounting.JournalEntry{}, accounting.ErrEntryNotFound
	}
	return *e, nil
}

func (t *fakeAcctTx) ListDetails(_ context.Context, entryID int64) ([]accounting.JournalDetail, error) {
	return t.s.entryDetails[entryID], nil
}

func (t *fakeAcctTx) MarkReversed(_ context.Context, id, reversedBy int64) error {
	e, ok := t.s.entries[id]
	if !ok {
		return accounting.ErrEntryNotFound
	}
	e.Status = accounting.JournalStatusReversed
	e.ReversedBy = &reversedBy
	return nil
}

func (t *fakeAcctTx) ListEntriesByRef(_ context.Context, ref shared.Reference) ([]accounting.JournalEntry, error) {
	var out []accounting.JournalEntry
	for _, e := range t.s.entries {
		if e.Ref == ref {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (t *fakeAcctTx) DeleteEntriesByRef(_ context.Context, ref shared.Reference) error {
	for id, e := range t.s.entries {
		if e.Ref == ref {
			delete(t.s.entries, id)
			delete(t.s.entryDetails, id)
		}
	}
	return nil
}

func (t *fakeAcctTx) GetSaleAmounts(_ context.Context, id int64) (accounting.DocumentAmounts, error) {
	sl, ok := t.s.sales[id]
	if !ok {
		return accounting.DocumentAmounts{}, shared.ErrNotFound
	}
	return accounting.DocumentAmounts{
		Number: sl.Number, Date: sl.SaleDate, Confirmed: sl.Status == sales.StatusConfirmed,
		Net: sl.Subtotal.Sub(sl.Discount), Tax: sl.TaxAmount, Total: sl.TotalAmount, Cost: sl.TotalCost,
	}, nil
}

func (t *fakeAcctTx) GetPurchaseAmounts(_ context.Context, id int64) (accounting.DocumentAmounts, error) {
	p, ok := t.s.purchases[id]
	if !ok {
		return accounting.DocumentAmounts{}, shared.ErrNotFound
	}
	return accounting.DocumentAmounts{
		Number: p.Number, Date: p.PurchaseDate, Confirmed: p.Status == procurement.StatusConfirmed,
		Net: p.Subtotal.Sub(p.Discount), Tax: p.TaxAmount, Total: p.TotalAmount,
	}, nil
}

func (t *fakeAcctTx) GetSaleReturnAmounts(_ context.Context, id int64) (accounting.DocumentAmounts, error) {
	r, ok := t.s.saleReturns[id]
	if !ok {
		return accounting.DocumentAmounts{}, shared.ErrNotFound
	}
	return accounting.DocumentAmounts{
		Number: r.Number, Date: r.ReturnDate, Confirmed: r.Status == sales.StatusConfirmed,
		Net: r.TotalAmount, Total: r.TotalAmount,
	}, nil
}

func (t *fakeAcctTx) GetPurchaseReturnAmounts(_ context.Context, id int64) (accounting.DocumentAmounts, error) {
	r, ok := t.s.purchaseReturns[id]
	if !ok {
		return accounting.DocumentAmounts{}, shared.ErrNotFound
	}
	return accounting.DocumentAmounts{
		Number: r.Number, Date: r.ReturnDate, Confirmed: r.Status == procurement.StatusConfirmed,
		Net: r.TotalAmount, Total: r.TotalAmount, Cost: r.TotalCost,
	}, nil
}

func (t *fakeAcctTx) GetCashDocAmounts(_ context.Context, kind shared.RefKind, id int64) (accounting.DocumentAmounts, error) {
	return accounting.DocumentAmounts{}, shared.ErrNotFound
}

// helpers

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func day(n int) time.Time {
	return time.Date(2026, 5, n, 0, 0, 0, 0, time.UTC)
}

func (s *fakeStore) seedItem(itemID, baseUnitID int64, sku string) {
	s.baseUnits[itemID] = baseUnitID
	s.skus[itemID] = sku
	s.stocks[itemID] = decimal.Zero
}

func (s *fakeStore) seedPurchase(date time.Time, lines ...procurement.PurchaseDetail) int64 {
	id := s.id()
	subtotal := decimal.Zero
	for i := range lines {
		lines[i].ID = s.id()
		lines[i].PurchaseID = id
		subtotal = subtotal.Add(lines[i].Subtotal)
		s.purchaseDetails[id] = append(s.purchaseDetails[id], &lines[i])
	}
	s.purchases[id] = &procurement.Purchase{
		ID: id, Number: fmt.Sprintf("PO-%04d", id), PurchaseDate: date,
		Status: procurement.StatusPending, Subtotal: subtotal, TotalAmount: subtotal,
	}
	return id
}

func (s *fakeStore) seedSale(date time.Time, lines ...sales.SaleDetail) int64 {
	id := s.id()
	subtotal := decimal.Zero
	for i := range lines {
		lines[i].ID = s.id()
		lines[i].SaleID = id
		subtotal = subtotal.Add(lines[i].Subtotal)
		s.saleDetails[id] = append(s.saleDetails[id], &lines[i])
	}
	s.sales[id] = &sales.Sale{
		ID: id, Number: fmt.Sprintf("SL-%04d", id), SaleDate: date,
		Status: sales.StatusPending, Subtotal: subtotal, TotalAmount: subtotal,
	}
	return id
}

func (s *fakeStore) seedAdjustmentLot(itemID int64, qty, cost string, date time.Time) int64 {
	id := s.id()
	q := dec(qty)
	s.movements[id] = &inventory.StockMovement{
		ID: id, ItemID: itemID,
		Ref:          shared.Reference{Kind: shared.RefOpeningStock, ID: id},
		Qty:          q,
		UnitCost:     dec(cost),
		Remaining:    q,
		MovementDate: date,
	}
	s.stocks[itemID] = s.stocks[itemID].Add(q)
	return id
}

func (s *fakeStore) journalsByKind(kind shared.RefKind) []*accounting.JournalEntry {
	var out []*accounting.JournalEntry
	for _, e := range s.entries {
		if e.Ref.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (s *fakeStore) requireBalanced(t *testing.T, entryID int64) {
	t.Helper()
	debit, credit := decimal.Zero, decimal.Zero
	for _, d := range s.entryDetails[entryID] {
		debit = debit.Add(d.Debit)
		credit = credit.Add(d.Credit)
	}
	require.True(t, debit.Equal(credit), "entry %d debit %s credit %s", entryID, debit, credit)
}

func newTestService(store *fakeStore) *Service {
	salesSvc := sales.NewService(nil, inventory.NewLedger(), nil)
	procSvc := procurement.NewService(nil, inventory.NewLedger(), nil)
	acctSvc := accounting.NewService(nil, nil)
	svc := NewService(store, salesSvc, procSvc, acctSvc, nil)
	svc.WithNow(func() time.Time { return day(20) })
	return svc
}

// confirmAndPost drives a document through the same replay path the
// reprocess uses, giving the store a fully derived confirmed state.
func confirmAndPost(t *testing.T, store *fakeStore, svc *Service, ref shared.Reference, date time.Time) {
	t.Helper()
	err := store.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		return svc.replayDoc(ctx, tx, Doc{Ref: ref, Date: date}, shared.System)
	})
	require.NoError(t, err)
}

func TestReprocessRebuildsDerivedStateDeterministically(t *testing.T) {
	store := newFakeStore()
	store.seedItem(1, 10, "SKU-1")
	purchaseID := store.seedPurchase(day(1), procurement.PurchaseDetail{ItemID: 1, UnitID: 10, Qty: dec("100"), Price: dec("10"), Subtotal: dec("1000")})
	saleID := store.seedSale(day(5), sales.SaleDetail{ItemID: 1, UnitID: 10, Qty: dec("60"), Price: dec("20"), Subtotal: dec("1200")})
	svc := newTestService(store)
	ctx := context.Background()

	confirmAndPost(t, store, svc, shared.Reference{Kind: shared.RefPurchase, ID: purchaseID}, day(1))
	confirmAndPost(t, store, svc, shared.Reference{Kind: shared.RefSale, ID: saleID}, day(5))
	require.True(t, dec("600").Equal(store.sales[saleID].TotalCost))
	require.True(t, dec("600").Equal(store.sales[saleID].TotalProfit))

	// Corrupt every derived figure the rebuild owns.
	store.stocks[1] = dec("999")
	store.sales[saleID].TotalCost = dec("1")
	for _, m := range store.movements {
		if m.Qty.Sign() > 0 {
			m.Remaining = dec("7")
		}
	}

	report, err := svc.ReprocessAllTransactions(ctx, shared.System)
	require.NoError(t, err)
	require.Equal(t, 2, report.Documents)
	require.Equal(t, 2, report.Confirmed)
	require.Zero(t, report.Failed)

	sale := store.sales[saleID]
	require.Equal(t, sales.StatusConfirmed, sale.Status)
	require.True(t, dec("600").Equal(sale.TotalCost), "cost %s", sale.TotalCost)
	require.True(t, dec("600").Equal(sale.TotalProfit))
	require.Equal(t, procurement.StatusConfirmed, store.purchases[purchaseID].Status)
	require.True(t, dec("40").Equal(store.stocks[1]), "stock %s", store.stocks[1])

	for _, m := range store.movements {
		if m.Qty.Sign() > 0 {
			require.True(t, dec("40").Equal(m.Remaining))
		}
	}

	saleJournals := store.journalsByKind(shared.RefSale)
	require.Len(t, saleJournals, 1)
	store.requireBalanced(t, saleJournals[0].ID)
	purchaseJournals := store.journalsByKind(shared.RefPurchase)
	require.Len(t, purchaseJournals, 1)
	store.requireBalanced(t, purchaseJournals[0].ID)

	drifts, err := svc.CheckStockDrift(ctx)
	require.NoError(t, err)
	require.Empty(t, drifts)
}

func TestReprocessLeavesFailingDocumentPending(t *testing.T) {
	store := newFakeStore()
	store.seedItem(1, 10, "SKU-1")
	purchaseID := store.seedPurchase(day(1), procurement.PurchaseDetail{ItemID: 1, UnitID: 10, Qty: dec("10"), Price: dec("5"), Subtotal: dec("50")})
	saleID := store.seedSale(day(2), sales.SaleDetail{ItemID: 1, UnitID: 10, Qty: dec("8"), Price: dec("9"), Subtotal: dec("72")})
	svc := newTestService(store)
	ctx := context.Background()

	confirmAndPost(t, store, svc, shared.Reference{Kind: shared.RefPurchase, ID: purchaseID}, day(1))
	confirmAndPost(t, store, svc, shared.Reference{Kind: shared.RefSale, ID: saleID}, day(2))

	// Losing the purchase document strands the sale: its lots are wiped
	// with the transactional movements and nothing replays them.
	delete(store.purchases, purchaseID)
	delete(store.purchaseDetails, purchaseID)

	report, err := svc.ReprocessAllTransactions(ctx, shared.System)
	require.NoError(t, err)
	require.Equal(t, 1, report.Documents)
	require.Zero(t, report.Confirmed)
	require.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	require.Equal(t, shared.RefSale, report.Failures[0].Ref.Kind)

	sale := store.sales[saleID]
	require.Equal(t, sales.StatusPending, sale.Status)
	require.True(t, sale.TotalCost.IsZero())
	require.Empty(t, store.journalsByKind(shared.RefSale), "failed replay must leave no journal")
	require.Empty(t, store.mappings)
}

func TestReprocessKeepsNonTransactionalLots(t *testing.T) {
	store := newFakeStore()
	store.seedItem(1, 10, "SKU-1")
	lotID := store.seedAdjustmentLot(1, "50", "4", day(1))
	saleID := store.seedSale(day(3), sales.SaleDetail{ItemID: 1, UnitID: 10, Qty: dec("30"), Price: dec("10"), Subtotal: dec("300")})
	svc := newTestService(store)

	confirmAndPost(t, store, svc, shared.Reference{Kind: shared.RefSale, ID: saleID}, day(3))
	require.True(t, dec("120").Equal(store.sales[saleID].TotalCost))

	report, err := svc.ReprocessAllTransactions(context.Background(), shared.System)
	require.NoError(t, err)
	require.Equal(t, 1, report.Confirmed)

	require.NotNil(t, store.movements[lotID], "opening lot survives the wipe")
	require.True(t, dec("20").Equal(store.movements[lotID].Remaining))
	require.True(t, dec("120").Equal(store.sales[saleID].TotalCost))
	require.True(t, dec("20").Equal(store.stocks[1]))
}

func TestSyncProfitDryRunReportsWithoutWriting(t *testing.T) {
	store := newFakeStore()
	store.seedItem(1, 10, "SKU-1")
	purchaseID := store.seedPurchase(day(1), procurement.PurchaseDetail{ItemID: 1, UnitID: 10, Qty: dec("100"), Price: dec("10"), Subtotal: dec("1000")})
	saleID := store.seedSale(day(2), sales.SaleDetail{ItemID: 1, UnitID: 10, Qty: dec("60"), Price: dec("20"), Subtotal: dec("1200")})
	svc := newTestService(store)
	ctx := context.Background()

	confirmAndPost(t, store, svc, shared.Reference{Kind: shared.RefPurchase, ID: purchaseID}, day(1))
	confirmAndPost(t, store, svc, shared.Reference{Kind: shared.RefSale, ID: saleID}, day(2))

	// An adjustment entry alone drifts the journal away from the header.
	err := store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := svc.accounting.PostCogsAdjustmentTx(ctx, tx.Accounting(), saleID, dec("50"), "freight", shared.System)
		return err
	})
	require.NoError(t, err)

	report, err := svc.SyncProfitFromJournalAdjustments(ctx, true, shared.System)
	require.NoError(t, err)
	require.Equal(t, 1, report.Checked)
	require.Equal(t, 1, report.Drifted)
	require.Zero(t, report.Updated)
	require.True(t, report.DryRun)
	require.Len(t, report.Items, 1)
	require.True(t, dec("600").Equal(report.Items[0].StoredCost))
	require.True(t, dec("650").Equal(report.Items[0].JournalCogs))
	require.True(t, dec("600").Equal(store.sales[saleID].TotalCost), "dry run must not write")
}

func TestSyncProfitAppliesJournalCogs(t *testing.T) {
	store := newFakeStore()
	store.seedItem(1, 10, "SKU-1")
	purchaseID := store.seedPurchase(day(1), procurement.PurchaseDetail{ItemID: 1, UnitID: 10, Qty: dec("100"), Price: dec("10"), Subtotal: dec("1000")})
	saleID := store.seedSale(day(2), sales.SaleDetail{ItemID: 1, UnitID: 10, Qty: dec("60"), Price: dec("20"), Subtotal: dec("1200")})
	svc := newTestService(store)
	ctx := context.Background()

	confirmAndPost(t, store, svc, shared.Reference{Kind: shared.RefPurchase, ID: purchaseID}, day(1))
	confirmAndPost(t, store, svc, shared.Reference{Kind: shared.RefSale, ID: saleID}, day(2))
	err := store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := svc.accounting.PostCogsAdjustmentTx(ctx, tx.Accounting(), saleID, dec("50"), "freight", shared.System)
		return err
	})
	require.NoError(t, err)

	report, err := svc.SyncProfitFromJournalAdjustments(ctx, false, shared.System)
	require.NoError(t, err)
	require.Equal(t, 1, report.Updated)

	sale := store.sales[saleID]
	require.True(t, dec("650").Equal(sale.TotalCost))
	require.True(t, dec("550").Equal(sale.TotalProfit))

	// A second pass finds nothing left to fix.
	again, err := svc.SyncProfitFromJournalAdjustments(ctx, false, shared.System)
	require.NoError(t, err)
	require.Zero(t, again.Drifted)
}

func TestAdjustSaleCogsPostsDeltaAndUpdatesHeader(t *testing.T) {
	store := newFakeStore()
	store.seedItem(1, 10, "SKU-1")
	purchaseID := store.seedPurchase(day(1), procurement.PurchaseDetail{ItemID: 1, UnitID: 10, Qty: dec("100"), Price: dec("10"), Subtotal: dec("1000")})
	saleID := store.seedSale(day(2), sales.SaleDetail{ItemID: 1, UnitID: 10, Qty: dec("60"), Price: dec("20"), Subtotal: dec("1200")})
	svc := newTestService(store)
	ctx := context.Background()

	confirmAndPost(t, store, svc, shared.Reference{Kind: shared.RefPurchase, ID: purchaseID}, day(1))
	confirmAndPost(t, store, svc, shared.Reference{Kind: shared.RefSale, ID: saleID}, day(2))

	require.NoError(t, svc.AdjustSaleCogs(ctx, saleID, dec("25"), "damaged in transit", shared.System))

	sale := store.sales[saleID]
	require.True(t, dec("625").Equal(sale.TotalCost))
	require.True(t, dec("575").Equal(sale.TotalProfit))

	adjustments := store.journalsByKind(shared.RefCogsAdjustment)
	require.Len(t, adjustments, 1)
	require.Equal(t, saleID, adjustments[0].Ref.ID)
	store.requireBalanced(t, adjustments[0].ID)

	// Header and journal stay aligned, so a sync finds no drift.
	report, err := svc.SyncProfitFromJournalAdjustments(ctx, true, shared.System)
	require.NoError(t, err)
	require.Zero(t, report.Drifted)
}

func TestAdjustSaleCogsRejections(t *testing.T) {
	store := newFakeStore()
	store.seedItem(1, 10, "SKU-1")
	saleID := store.seedSale(day(2), sales.SaleDetail{ItemID: 1, UnitID: 10, Qty: dec("5"), Price: dec("10"), Subtotal: dec("50")})
	svc := newTestService(store)
	ctx := context.Background()

	require.ErrorIs(t, svc.AdjustSaleCogs(ctx, saleID, decimal.Zero, "noop", shared.System), ErrZeroDelta)
	require.ErrorIs(t, svc.AdjustSaleCogs(ctx, saleID, dec("10"), "pending", shared.System), ErrSaleNotConfirmed)
	require.ErrorIs(t, svc.AdjustSaleCogs(ctx, 9999, dec("10"), "missing", shared.System), sales.ErrNotFound)
}

func TestCompareProfitAcrossSources(t *testing.T) {
	store := newFakeStore()
	store.seedItem(1, 10, "SKU-1")
	purchaseID := store.seedPurchase(day(1), procurement.PurchaseDetail{ItemID: 1, UnitID: 10, Qty: dec("100"), Price: dec("10"), Subtotal: dec("1000")})
	saleID := store.seedSale(day(2), sales.SaleDetail{ItemID: 1, UnitID: 10, Qty: dec("60"), Price: dec("20"), Subtotal: dec("1200")})
	svc := newTestService(store)
	ctx := context.Background()

	confirmAndPost(t, store, svc, shared.Reference{Kind: shared.RefPurchase, ID: purchaseID}, day(1))
	confirmAndPost(t, store, svc, shared.Reference{Kind: shared.RefSale, ID: saleID}, day(2))

	report, err := svc.CompareProfitAcrossSources(ctx)
	require.NoError(t, err)
	require.True(t, report.Consistent)
	require.True(t, dec("600").Equal(report.FromSales))
	require.True(t, dec("600").Equal(report.FromJournal))
	require.True(t, dec("600").Equal(report.FromMappings))

	store.sales[saleID].TotalProfit = dec("700")
	report, err = svc.CompareProfitAcrossSources(ctx)
	require.NoError(t, err)
	require.False(t, report.Consistent)
	require.True(t, dec("700").Equal(report.FromSales))
}

func TestCheckStockDriftFlagsCorruptedStock(t *testing.T) {
	store := newFakeStore()
	store.seedItem(1, 10, "SKU-1")
	store.seedAdjustmentLot(1, "50", "4", day(1))
	svc := newTestService(store)
	ctx := context.Background()

	drifts, err := svc.CheckStockDrift(ctx)
	require.NoError(t, err)
	require.Empty(t, drifts)

	store.stocks[1] = dec("47")
	drifts, err = svc.CheckStockDrift(ctx)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	require.Equal(t, "SKU-1", drifts[0].SKU)
	require.True(t, dec("47").Equal(drifts[0].Stock))
	require.True(t, dec("50").Equal(drifts[0].MovementSum))
}
