package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// TxRepository exposes the lot operations available inside a transaction.
// Packages that confirm documents embed this interface in their own
// transactional repositories so a whole confirmation runs in one commit.
type TxRepository interface {
	// SelectLotsForUpdate returns open lots (remaining > 0) dated at or
	// before asOf, ordered by (movement_date, id) ascending, with row locks
	// held until commit.
	SelectLotsForUpdate(ctx context.Context, itemID int64, asOf time.Time) ([]StockMovement, error)
	// SelectOpenLotsForUpdate is the undated variant used for the
	// weighted-average fallback.
	SelectOpenLotsForUpdate(ctx context.Context, itemID int64) ([]StockMovement, error)
	UpdateLotRemaining(ctx context.Context, lotID int64, remaining decimal.Decimal) error
	// IncrementLotRemaining adds delta back to a lot. It must refuse to push
	// remaining above the lot quantity and report the violation.
	IncrementLotRemaining(ctx context.Context, lotID int64, delta decimal.Decimal) error

	InsertMovement(ctx context.Context, m StockMovement) (int64, error)
	SelectMovementsByRef(ctx context.Context, ref shared.Reference) ([]StockMovement, error)
	GetLotForUpdate(ctx context.Context, ref shared.Reference, refDetailID int64) (StockMovement, error)
	DeleteMovement(ctx context.Context, id int64) error
	DeleteMovementsByRef(ctx context.Context, ref shared.Reference) error

	InsertFifoMappings(ctx context.Context, mappings []FifoMapping) error
	SelectMappingsByRef(ctx context.Context, ref shared.Reference) ([]FifoMapping, error)
	DeleteMappingsByRef(ctx context.Context, ref shared.Reference) error

	// AddItemStock moves the denormalised items.stock column by delta.
	AddItemStock(ctx context.Context, itemID int64, delta decimal.Decimal) error
}

// Ledger is the FIFO allocation primitive. Every method operates on a
// caller-supplied TxRepository so document confirmation, lot mutation and
// stock updates commit or roll back together.
type Ledger struct{}

// NewLedger constructs the cost-lot ledger engine.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Allocate consumes qty from the oldest open lots dated at or before asOf.
// Lots are walked in (movement_date, id) order; each consumption decrements
// the lot remainder under the row lock taken by SelectLotsForUpdate. When
// the dated lots run out the unmet remainder is costed at the weighted
// average of all open lots and reported as estimated; the primitive itself
// never fails on a shortfall.
func (l *Ledger) Allocate(ctx context.Context, tx TxRepository, itemID int64, qty decimal.Decimal, asOf time.Time) (Allocation, error) {
	if qty.Sign() <= 0 {
		return Allocation{}, ErrInvalidQuantity
	}
	lots, err := tx.SelectLotsForUpdate(ctx, itemID, asOf)
	if err != nil {
		return Allocation{}, err
	}

	alloc := Allocation{TotalCost: decimal.Zero, EstimatedQty: decimal.Zero, EstimatedCost: decimal.Zero}
	need := qty
	for _, lot := range lots {
		if need.Sign() <= 0 {
			break
		}
		take := decimal.Min(need, lot.Remaining)
		if take.Sign() <= 0 {
			continue
		}
		if err := tx.UpdateLotRemaining(ctx, lot.ID, lot.Remaining.Sub(take)); err != nil {
			return Allocation{}, err
		}
		alloc.Consumed = append(alloc.Consumed, LotConsumption{LotID: lot.ID, Qty: take, UnitCost: lot.UnitCost})
		alloc.TotalCost = alloc.TotalCost.Add(take.Mul(lot.UnitCost))
		need = need.Sub(take)
	}

	if need.Sign() > 0 {
		avg, err := l.weightedAverage(ctx, tx, itemID)
		if err != nil {
			return Allocation{}, err
		}
		alloc.EstimatedQty = need
		alloc.EstimatedCost = need.Mul(avg)
		alloc.TotalCost = alloc.TotalCost.Add(alloc.EstimatedCost)
	}
	return alloc, nil
}

// weightedAverage prices the shortfall over every open lot, ignoring the
// date cutoff.
func (l *Ledger) weightedAverage(ctx context.Context, tx TxRepository, itemID int64) (decimal.Decimal, error) {
	lots, err := tx.SelectOpenLotsForUpdate(ctx, itemID)
	if err != nil {
		return decimal.Zero, err
	}
	totalQty := decimal.Zero
	totalValue := decimal.Zero
	for _, lot := range lots {
		totalQty = totalQty.Add(lot.Remaining)
		totalValue = totalValue.Add(lot.Remaining.Mul(lot.UnitCost))
	}
	if totalQty.Sign() <= 0 {
		return decimal.Zero, nil
	}
	return totalValue.Div(totalQty), nil
}

// Restore reverses every allocation made for ref: each mapping's quantity is
// credited back to its source lot, then the mappings are deleted in the same
// transaction so a second restore finds nothing to undo.
func (l *Ledger) Restore(ctx context.Context, tx TxRepository, ref shared.Reference) error {
	mappings, err := tx.SelectMappingsByRef(ctx, ref)
	if err != nil {
		return err
	}
	for _, m := range mappings {
		if err := tx.IncrementLotRemaining(ctx, m.StockMovementID, m.Qty); err != nil {
			return err
		}
	}
	return tx.DeleteMappingsByRef(ctx, ref)
}

// AddLot appends an inbound lot with its full quantity available.
func (l *Ledger) AddLot(ctx context.Context, tx TxRepository, lot NewLot) (int64, error) {
	if lot.Qty.Sign() <= 0 {
		return 0, ErrInvalidQuantity
	}
	if lot.UnitCost.Sign() < 0 {
		return 0, ErrInvalidUnitCost
	}
	return tx.InsertMovement(ctx, StockMovement{
		ItemID:       lot.ItemID,
		Ref:          lot.Ref,
		RefDetailID:  lot.RefDetailID,
		Qty:          lot.Qty,
		UnitCost:     lot.UnitCost,
		Remaining:    lot.Qty,
		MovementDate: lot.MovementDate,
	})
}

// RemoveLot deletes the inbound lot created for (ref, detail). Removal is
// only legal while the lot is untouched; a partially consumed lot returns
// ErrLotConsumed and the caller's unconfirm must abort.
func (l *Ledger) RemoveLot(ctx context.Context, tx TxRepository, ref shared.Reference, refDetailID int64) (StockMovement, error) {
	lot, err := tx.GetLotForUpdate(ctx, ref, refDetailID)
	if err != nil {
		return StockMovement{}, err
	}
	if !lot.Remaining.Equal(lot.Qty) {
		return StockMovement{}, ErrLotConsumed
	}
	if err := tx.DeleteMovement(ctx, lot.ID); err != nil {
		return StockMovement{}, err
	}
	return lot, nil
}

// AppendOutbound writes the negative audit movement for a consumption.
func (l *Ledger) AppendOutbound(ctx context.Context, tx TxRepository, out OutboundMovement) (int64, error) {
	if out.Qty.Sign() <= 0 {
		return 0, ErrInvalidQuantity
	}
	return tx.InsertMovement(ctx, StockMovement{
		ItemID:       out.ItemID,
		Ref:          out.Ref,
		RefDetailID:  out.RefDetailID,
		Qty:          out.Qty.Neg(),
		UnitCost:     out.UnitCost,
		Remaining:    decimal.Zero,
		MovementDate: out.MovementDate,
	})
}
