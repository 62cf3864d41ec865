package shared

import "fmt"

// RefKind enumerates the closed set of documents a ledger row can point at.
type RefKind string

const (
	RefPurchase        RefKind = "PURCHASE"
	RefSale            RefKind = "SALE"
	RefPurchaseReturn  RefKind = "PURCHASE_RETURN"
	RefSaleReturn      RefKind = "SALE_RETURN"
	RefStockAdjustment RefKind = "STOCK_ADJUSTMENT"
	RefOpeningStock    RefKind = "OPENING_STOCK"
	RefCashIn          RefKind = "CASH_IN"
	RefCashOut         RefKind = "CASH_OUT"
	RefBankTransfer    RefKind = "BANK_TRANSFER"
	RefBankOpening     RefKind = "BANK_OPENING"
	RefPayment         RefKind = "PAYMENT"
	RefCogsAdjustment  RefKind = "COGS_ADJUSTMENT"
	RefManual          RefKind = "MANUAL"
)

// Reference identifies the source document of a ledger row.
// The tagged kind replaces free-form reference_type strings so switches
// over documents stay exhaustive.
type Reference struct {
	Kind RefKind
	ID   int64
}

func (r Reference) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

// IsZero reports whether the reference is unset.
func (r Reference) IsZero() bool {
	return r.Kind == "" && r.ID == 0
}

// Transactional reports whether the reference points at a confirmable
// business document. Non-transactional movements (adjustments, opening
// balances) survive a ledger reprocess; transactional ones are rebuilt.
func (r Reference) Transactional() bool {
	switch r.Kind {
	case RefPurchase, RefSale, RefPurchaseReturn, RefSaleReturn:
		return true
	default:
		return false
	}
}

// Valid reports whether the kind belongs to the known set.
func (r Reference) Valid() bool {
	switch r.Kind {
	case RefPurchase, RefSale, RefPurchaseReturn, RefSaleReturn,
		RefStockAdjustment, RefOpeningStock, RefCashIn, RefCashOut,
		RefBankTransfer, RefBankOpening, RefPayment, RefCogsAdjustment, RefManual:
		return r.ID > 0
	default:
		return false
	}
}
