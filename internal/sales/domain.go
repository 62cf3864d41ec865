package sales

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the document state machine: pending -> confirmed -> pending.
// Unconfirm is a first-class reversible operation, there is no separate
// void flow.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
)

var (
	ErrNotFound         = errors.New("sales: record not found")
	ErrAlreadyConfirmed = errors.New("sales: document already confirmed")
	ErrNotConfirmed     = errors.New("sales: document not confirmed")
	ErrNoDetails        = errors.New("sales: document has no detail lines")
)

// Sale is the sales document header. TotalCost and TotalProfit are derived
// at confirmation time from FIFO allocations and zeroed on unconfirm.
type Sale struct {
	ID          int64           `json:"id"`
	Number      string          `json:"number"`
	CustomerID  int64           `json:"customer_id"`
	BranchID    int64           `json:"branch_id"`
	SaleDate    time.Time       `json:"sale_date"`
	Status      Status          `json:"status"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Discount    decimal.Decimal `json:"discount"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	TotalProfit decimal.Decimal `json:"total_profit"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// SaleDetail is one line item. Qty is in the line's unit; conversion to base
// units happens at confirmation before the FIFO engine sees it. Cost and
// Profit are written by confirmation; CostEstimated marks lines whose cost
// includes a weighted-average portion instead of exact FIFO.
type SaleDetail struct {
	ID            int64           `json:"id"`
	SaleID        int64           `json:"sale_id"`
	ItemID        int64           `json:"item_id"`
	UnitID        int64           `json:"unit_id"`
	Qty           decimal.Decimal `json:"qty"`
	Price         decimal.Decimal `json:"price"`
	Discount      decimal.Decimal `json:"discount"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Cost          decimal.Decimal `json:"cost"`
	Profit        decimal.Decimal `json:"profit"`
	CostEstimated bool            `json:"cost_estimated"`
}

// SaleReturn is the return document header. Returns are supply-side:
// confirmation puts goods back as new lots priced at subtotal over base
// quantity.
type SaleReturn struct {
	ID          int64           `json:"id"`
	SaleID      int64           `json:"sale_id"`
	Number      string          `json:"number"`
	ReturnDate  time.Time       `json:"return_date"`
	Status      Status          `json:"status"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// SaleReturnDetail is one returned line.
type SaleReturnDetail struct {
	ID           int64           `json:"id"`
	SaleReturnID int64           `json:"sale_return_id"`
	SaleDetailID int64           `json:"sale_detail_id"`
	ItemID       int64           `json:"item_id"`
	UnitID       int64           `json:"unit_id"`
	Qty          decimal.Decimal `json:"qty"`
	Price        decimal.Decimal `json:"price"`
	Subtotal     decimal.Decimal `json:"subtotal"`
}
