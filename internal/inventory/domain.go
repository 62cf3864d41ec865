package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// StockMovement is one row of the cost-lot ledger. Inbound rows (positive
// qty) are FIFO lots carrying their own unit cost and an unconsumed
// remainder; outbound rows (negative qty) are an audit trail with
// Remaining fixed at zero.
type StockMovement struct {
	ID           int64
	ItemID       int64
	Ref          shared.Reference
	RefDetailID  int64
	Qty          decimal.Decimal
	UnitCost     decimal.Decimal
	Remaining    decimal.Decimal
	MovementDate time.Time
	CreatedAt    time.Time
}

// Inbound reports whether the movement is a consumable lot.
func (m StockMovement) Inbound() bool {
	return m.Qty.Sign() > 0
}

// FifoMapping links a consuming detail line to the lot it drew from.
// Rows are immutable once created; cost corrections post adjusting journal
// entries instead of editing mappings.
type FifoMapping struct {
	ID              int64
	Ref             shared.Reference
	RefDetailID     int64
	StockMovementID int64
	Qty             decimal.Decimal
	UnitCost        decimal.Decimal
	TotalCost       decimal.Decimal
}

// LotConsumption records one lot drawn from during an allocation.
type LotConsumption struct {
	LotID    int64
	Qty      decimal.Decimal
	UnitCost decimal.Decimal
}

// TotalCost returns Qty * UnitCost.
func (c LotConsumption) TotalCost() decimal.Decimal {
	return c.Qty.Mul(c.UnitCost)
}

// Allocation is the result of consuming lots FIFO for a requested quantity.
// When lots run out before the request is met, the unmet remainder is costed
// at the weighted average of all open lots and reported in EstimatedQty so
// callers can persist or reject the degradation.
type Allocation struct {
	TotalCost     decimal.Decimal
	Consumed      []LotConsumption
	EstimatedQty  decimal.Decimal
	EstimatedCost decimal.Decimal
}

// Estimated reports whether any portion was costed by weighted average
// instead of exact FIFO.
func (a Allocation) Estimated() bool {
	return a.EstimatedQty.Sign() > 0
}

// NewLot describes an inbound lot to append to the ledger.
type NewLot struct {
	ItemID       int64
	Ref          shared.Reference
	RefDetailID  int64
	Qty          decimal.Decimal
	UnitCost     decimal.Decimal
	MovementDate time.Time
}

// OutboundMovement describes the audit row written for a FIFO consumption.
type OutboundMovement struct {
	ItemID       int64
	Ref          shared.Reference
	RefDetailID  int64
	Qty          decimal.Decimal // positive; stored negated
	UnitCost     decimal.Decimal
	MovementDate time.Time
}

// AdjustmentInput describes a manual stock correction.
type AdjustmentInput struct {
	ItemID   int64
	Qty      decimal.Decimal // signed
	UnitCost decimal.Decimal // required when Qty > 0
	Date     time.Time
	Note     string
	Actor    shared.Actor
}

// OpeningInput seeds initial stock for an item.
type OpeningInput struct {
	ItemID   int64
	Qty      decimal.Decimal
	UnitCost decimal.Decimal
	Date     time.Time
	Actor    shared.Actor
}

// CardEntry is one line of the stock card report.
type CardEntry struct {
	MovementID   int64
	Ref          shared.Reference
	MovementDate time.Time
	QtyIn        decimal.Decimal
	QtyOut       decimal.Decimal
	UnitCost     decimal.Decimal
	Balance      decimal.Decimal
}

// StockCardFilter filters card entries.
type StockCardFilter struct {
	ItemID int64
	From   time.Time
	To     time.Time
	Limit  int
}

var (
	// ErrInvalidQuantity indicates a non-positive allocation quantity.
	ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
	// ErrInvalidUnitCost indicates a negative unit cost.
	ErrInvalidUnitCost = errors.New("inventory: unit cost must be >= 0")
	// ErrItemNotFound indicates an unknown item id.
	ErrItemNotFound = errors.New("inventory: item not found")
	// ErrLotConsumed rejects removal of a lot something has drawn from.
	ErrLotConsumed = errors.New("inventory: lot already partially consumed")
	// ErrLotOverRestore rejects restoring more than was ever consumed.
	ErrLotOverRestore = errors.New("inventory: restore exceeds lot quantity")
	// ErrNoMovements indicates a restore with no mappings to undo.
	ErrNoMovements = errors.New("inventory: no movements for reference")
)

// InsufficientStockError is returned by strict callers that refuse the
// weighted-average fallback when FIFO lots are exhausted.
type InsufficientStockError struct {
	ItemID    int64
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for item %d: requested %s, available %s",
		e.ItemID, e.Requested.String(), e.Available.String())
}
