package procurement

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status mirrors the sales state machine: pending -> confirmed -> pending.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
)

var (
	ErrNotFound         = errors.New("procurement: record not found")
	ErrAlreadyConfirmed = errors.New("procurement: document already confirmed")
	ErrNotConfirmed     = errors.New("procurement: document not confirmed")
	ErrNoDetails        = errors.New("procurement: document has no detail lines")
)

// Purchase is the purchase document header.
type Purchase struct {
	ID           int64           `json:"id"`
	Number       string          `json:"number"`
	SupplierID   int64           `json:"supplier_id"`
	BranchID     int64           `json:"branch_id"`
	PurchaseDate time.Time       `json:"purchase_date"`
	Status       Status          `json:"status"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Discount     decimal.Decimal `json:"discount"`
	TaxAmount    decimal.Decimal `json:"tax_amount"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// PurchaseDetail is one line item. Confirmation creates one FIFO lot per
// line priced at subtotal over base quantity.
type PurchaseDetail struct {
	ID         int64           `json:"id"`
	PurchaseID int64           `json:"purchase_id"`
	ItemID     int64           `json:"item_id"`
	UnitID     int64           `json:"unit_id"`
	Qty        decimal.Decimal `json:"qty"`
	Price      decimal.Decimal `json:"price"`
	Discount   decimal.Decimal `json:"discount"`
	Subtotal   decimal.Decimal `json:"subtotal"`
}

// PurchaseReturn is the return document header. Purchase returns are
// demand-side: confirmation consumes lots FIFO like a sale, so returned
// goods leave at their FIFO cost.
type PurchaseReturn struct {
	ID          int64           `json:"id"`
	PurchaseID  int64           `json:"purchase_id"`
	Number      string          `json:"number"`
	ReturnDate  time.Time       `json:"return_date"`
	Status      Status          `json:"status"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// PurchaseReturnDetail is one returned line. Cost is written at
// confirmation from the FIFO allocation.
type PurchaseReturnDetail struct {
	ID               int64           `json:"id"`
	PurchaseReturnID int64           `json:"purchase_return_id"`
	PurchaseDetailID int64           `json:"purchase_detail_id"`
	ItemID           int64           `json:"item_id"`
	UnitID           int64           `json:"unit_id"`
	Qty              decimal.Decimal `json:"qty"`
	Price            decimal.Decimal `json:"price"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	Cost             decimal.Decimal `json:"cost"`
	CostEstimated    bool            `json:"cost_estimated"`
}
