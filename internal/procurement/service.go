package procurement

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// TxRepository is the transactional surface for purchase confirmation,
// embedding the inventory transaction so lots, stock and document state
// commit together.
type TxRepository interface {
	inventory.TxRepository

	GetPurchaseForUpdate(ctx context.Context, id int64) (Purchase, error)
	ListDetails(ctx context.Context, purchaseID int64) ([]PurchaseDetail, error)
	SetPurchaseStatus(ctx context.Context, purchaseID int64, status Status) error

	GetReturnForUpdate(ctx context.Context, id int64) (PurchaseReturn, error)
	ListReturnDetails(ctx context.Context, returnID int64) ([]PurchaseReturnDetail, error)
	UpdateReturnDetailCost(ctx context.Context, detailID int64, cost decimal.Decimal, estimated bool) error
	SetReturnConfirmation(ctx context.Context, returnID int64, status Status, totalCost decimal.Decimal) error

	GetItemStockForUpdate(ctx context.Context, itemID int64) (decimal.Decimal, error)
	ConversionFactor(ctx context.Context, itemID, unitID int64) (decimal.Decimal, error)
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPurchase(ctx context.Context, id int64) (Purchase, error)
	ListPurchaseDetails(ctx context.Context, purchaseID int64) ([]PurchaseDetail, error)
	GetReturn(ctx context.Context, id int64) (PurchaseReturn, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates purchase and purchase-return confirmation against
// the cost-lot ledger.
type Service struct {
	repo   RepositoryPort
	ledger *inventory.Ledger
	audit  AuditPort
}

// NewService constructs a procurement service.
func NewService(repo RepositoryPort, ledger *inventory.Ledger, audit AuditPort) *Service {
	return &Service{repo: repo, ledger: ledger, audit: audit}
}

// ConfirmPurchase confirms a pending purchase: every line becomes a FIFO lot
// with its full base quantity available, priced at subtotal over base
// quantity, and item stock is incremented.
func (s *Service) ConfirmPurchase(ctx context.Context, purchaseID int64, actor shared.Actor) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return s.ConfirmPurchaseTx(ctx, tx, purchaseID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "purchase.confirm", purchaseID)
	return nil
}

// ConfirmPurchaseTx runs the confirmation inside a caller-owned transaction.
func (s *Service) ConfirmPurchaseTx(ctx context.Context, tx TxRepository, purchaseID int64) error {
	purchase, err := tx.GetPurchaseForUpdate(ctx, purchaseID)
	if err != nil {
		return err
	}
	if purchase.Status == StatusConfirmed {
		return ErrAlreadyConfirmed
	}
	details, err := tx.ListDetails(ctx, purchaseID)
	if err != nil {
		return err
	}
	if len(details) == 0 {
		return ErrNoDetails
	}

	ref := shared.Reference{Kind: shared.RefPurchase, ID: purchaseID}
	for _, d := range details {
		factor, err := tx.ConversionFactor(ctx, d.ItemID, d.UnitID)
		if err != nil {
			return fmt.Errorf("procurement: convert detail %d: %w", d.ID, err)
		}
		baseQty := d.Qty.Mul(factor)
		if baseQty.Sign() <= 0 {
			return inventory.ErrInvalidQuantity
		}
		if _, err := s.ledger.AddLot(ctx, tx, inventory.NewLot{
			ItemID:       d.ItemID,
			Ref:          ref,
			RefDetailID:  d.ID,
			Qty:          baseQty,
			UnitCost:     d.Subtotal.Div(baseQty),
			MovementDate: purchase.PurchaseDate,
		}); err != nil {
			return err
		}
		if err := tx.AddItemStock(ctx, d.ItemID, baseQty); err != nil {
			return err
		}
	}
	return tx.SetPurchaseStatus(ctx, purchaseID, StatusConfirmed)
}

// UnconfirmPurchase deletes the lots the purchase created. A lot something
// already drew from fails the whole unconfirm with inventory.ErrLotConsumed.
func (s *Service) UnconfirmPurchase(ctx context.Context, purchaseID int64, actor shared.Actor) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return s.UnconfirmPurchaseTx(ctx, tx, purchaseID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "purchase.unconfirm", purchaseID)
	return nil
}

// UnconfirmPurchaseTx runs the inverse inside a caller-owned transaction.
func (s *Service) UnconfirmPurchaseTx(ctx context.Context, tx TxRepository, purchaseID int64) error {
	purchase, err := tx.GetPurchaseForUpdate(ctx, purchaseID)
	if err != nil {
		return err
	}
	if purchase.Status != StatusConfirmed {
		return ErrNotConfirmed
	}
	details, err := tx.ListDetails(ctx, purchaseID)
	if err != nil {
		return err
	}

	ref := shared.Reference{Kind: shared.RefPurchase, ID: purchaseID}
	for _, d := range details {
		lot, err := s.ledger.RemoveLot(ctx, tx, ref, d.ID)
		if err != nil {
			return err
		}
		if err := tx.AddItemStock(ctx, lot.ItemID, lot.Qty.Neg()); err != nil {
			return err
		}
	}
	return tx.SetPurchaseStatus(ctx, purchaseID, StatusPending)
}

// ConfirmPurchaseReturn confirms a pending return: lines are costed FIFO as
// of the return date and leave stock at that cost, exactly like a sale.
func (s *Service) ConfirmPurchaseReturn(ctx context.Context, returnID int64, actor shared.Actor) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return s.ConfirmPurchaseReturnTx(ctx, tx, returnID, false)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "purchase_return.confirm", returnID)
	return nil
}

// ConfirmPurchaseReturnTx runs the confirmation inside a caller-owned
// transaction. Strict mode rejects estimated allocations.
func (s *Service) ConfirmPurchaseReturnTx(ctx context.Context, tx TxRepository, returnID int64, strict bool) error {
	ret, err := tx.GetReturnForUpdate(ctx, returnID)
	if err != nil {
		return err
	}
	if ret.Status == StatusConfirmed {
		return ErrAlreadyConfirmed
	}
	details, err := tx.ListReturnDetails(ctx, returnID)
	if err != nil {
		return err
	}
	if len(details) == 0 {
		return ErrNoDetails
	}

	ref := shared.Reference{Kind: shared.RefPurchaseReturn, ID: returnID}
	totalCost := decimal.Zero
	for _, d := range details {
		factor, err := tx.ConversionFactor(ctx, d.ItemID, d.UnitID)
		if err != nil {
			return fmt.Errorf("procurement: convert return detail %d: %w", d.ID, err)
		}
		baseQty := d.Qty.Mul(factor)
		if baseQty.Sign() <= 0 {
			return inventory.ErrInvalidQuantity
		}

		stock, err := tx.GetItemStockForUpdate(ctx, d.ItemID)
		if err != nil {
			return err
		}
		if stock.LessThan(baseQty) {
			return &inventory.InsufficientStockError{ItemID: d.ItemID, Requested: baseQty, Available: stock}
		}

		alloc, err := s.ledger.Allocate(ctx, tx, d.ItemID, baseQty, ret.ReturnDate)
		if err != nil {
			return err
		}
		if strict && alloc.Estimated() {
			return &inventory.InsufficientStockError{
				ItemID:    d.ItemID,
				Requested: baseQty,
				Available: baseQty.Sub(alloc.EstimatedQty),
			}
		}

		if _, err := s.ledger.AppendOutbound(ctx, tx, inventory.OutboundMovement{
			ItemID:       d.ItemID,
			Ref:          ref,
			RefDetailID:  d.ID,
			Qty:          baseQty,
			UnitCost:     alloc.TotalCost.Div(baseQty),
			MovementDate: ret.ReturnDate,
		}); err != nil {
			return err
		}

		mappings := make([]inventory.FifoMapping, 0, len(alloc.Consumed))
		for _, c := range alloc.Consumed {
			mappings = append(mappings, inventory.FifoMapping{
				Ref:             ref,
				RefDetailID:     d.ID,
				StockMovementID: c.LotID,
				Qty:             c.Qty,
				UnitCost:        c.UnitCost,
				TotalCost:       c.TotalCost(),
			})
		}
		if len(mappings) > 0 {
			if err := tx.InsertFifoMappings(ctx, mappings); err != nil {
				return err
			}
		}

		if err := tx.UpdateReturnDetailCost(ctx, d.ID, alloc.TotalCost, alloc.Estimated()); err != nil {
			return err
		}
		if err := tx.AddItemStock(ctx, d.ItemID, baseQty.Neg()); err != nil {
			return err
		}
		totalCost = totalCost.Add(alloc.TotalCost)
	}
	return tx.SetReturnConfirmation(ctx, returnID, StatusConfirmed, totalCost)
}

// UnconfirmPurchaseReturn restores the consumed lots and deletes the
// outbound audit rows, the exact inverse of confirmation.
func (s *Service) UnconfirmPurchaseReturn(ctx context.Context, returnID int64, actor shared.Actor) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return s.UnconfirmPurchaseReturnTx(ctx, tx, returnID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "purchase_return.unconfirm", returnID)
	return nil
}

// UnconfirmPurchaseReturnTx runs the inverse inside a caller-owned
// transaction.
func (s *Service) UnconfirmPurchaseReturnTx(ctx context.Context, tx TxRepository, returnID int64) error {
	ret, err := tx.GetReturnForUpdate(ctx, returnID)
	if err != nil {
		return err
	}
	if ret.Status != StatusConfirmed {
		return ErrNotConfirmed
	}

	ref := shared.Reference{Kind: shared.RefPurchaseReturn, ID: returnID}
	if err := s.ledger.Restore(ctx, tx, ref); err != nil {
		return err
	}
	movements, err := tx.SelectMovementsByRef(ctx, ref)
	if err != nil {
		return err
	}
	for _, m := range movements {
		if err := tx.AddItemStock(ctx, m.ItemID, m.Qty.Neg()); err != nil {
			return err
		}
	}
	if err := tx.DeleteMovementsByRef(ctx, ref); err != nil {
		return err
	}

	details, err := tx.ListReturnDetails(ctx, returnID)
	if err != nil {
		return err
	}
	for _, d := range details {
		if err := tx.UpdateReturnDetailCost(ctx, d.ID, decimal.Zero, false); err != nil {
			return err
		}
	}
	return tx.SetReturnConfirmation(ctx, returnID, StatusPending, decimal.Zero)
}

// GetPurchase returns the header for reads.
func (s *Service) GetPurchase(ctx context.Context, id int64) (Purchase, error) {
	return s.repo.GetPurchase(ctx, id)
}

// GetPurchaseDetails returns the line items for reads.
func (s *Service) GetPurchaseDetails(ctx context.Context, purchaseID int64) ([]PurchaseDetail, error) {
	return s.repo.ListPurchaseDetails(ctx, purchaseID)
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, entityID int64) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "procurement",
		EntityID: fmt.Sprintf("%d", entityID),
	})
}
