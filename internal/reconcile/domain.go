package reconcile

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

var (
	ErrSaleNotConfirmed = errors.New("reconcile: sale is not confirmed")
	ErrZeroDelta        = errors.New("reconcile: cost delta must be non-zero")
)

// driftTolerance is the rounding slack allowed before two derived profit
// figures count as drifted.
var driftTolerance = decimal.New(1, -2)

// Doc identifies one confirmable document in replay order.
type Doc struct {
	Ref  shared.Reference `json:"ref"`
	Date time.Time        `json:"date"`
}

// supplySide reports whether confirming the document creates lots.
// Supply documents replay before demand so FIFO allocations find their
// lots.
func (d Doc) supplySide() bool {
	return d.Ref.Kind == shared.RefPurchase || d.Ref.Kind == shared.RefSaleReturn
}

// Failure records a document left pending by a replay pass.
type Failure struct {
	Ref    shared.Reference `json:"ref"`
	Reason string           `json:"reason"`
}

// ReprocessReport summarizes one full ledger rebuild.
type ReprocessReport struct {
	Documents int       `json:"documents"`
	Confirmed int       `json:"confirmed"`
	Failed    int       `json:"failed"`
	Failures  []Failure `json:"failures,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Took      string    `json:"took"`
}

// ProfitDrift is one sale whose stored cost disagrees with the journal.
type ProfitDrift struct {
	SaleID      int64           `json:"sale_id"`
	StoredCost  decimal.Decimal `json:"stored_cost"`
	JournalCogs decimal.Decimal `json:"journal_cogs"`
}

// SyncReport summarizes a profit sync pass.
type SyncReport struct {
	Checked int           `json:"checked"`
	Drifted int           `json:"drifted"`
	Updated int           `json:"updated"`
	DryRun  bool          `json:"dry_run"`
	Items   []ProfitDrift `json:"items,omitempty"`
}

// CompareReport carries total profit from three independent derivations.
type CompareReport struct {
	FromSales    decimal.Decimal `json:"from_sales"`
	FromJournal  decimal.Decimal `json:"from_journal"`
	FromMappings decimal.Decimal `json:"from_mappings"`
	Consistent   bool            `json:"consistent"`
}

// StockDrift is one item whose materialized stock disagrees with its
// movement sum or lot remainders.
type StockDrift struct {
	ItemID       int64           `json:"item_id"`
	SKU          string          `json:"sku"`
	Stock        decimal.Decimal `json:"stock"`
	MovementSum  decimal.Decimal `json:"movement_sum"`
	LotRemaining decimal.Decimal `json:"lot_remaining"`
}
