package sales

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// TxRepository is the transactional surface for sale confirmation. It embeds
// the inventory transaction so document state, lot mutations and item stock
// commit or roll back as one unit.
type TxRepository interface {
	inventory.TxRepository

	GetSaleForUpdate(ctx context.Context, id int64) (Sale, error)
	ListDetails(ctx context.Context, saleID int64) ([]SaleDetail, error)
	UpdateDetailCost(ctx context.Context, detailID int64, cost, profit decimal.Decimal, estimated bool) error
	SetSaleConfirmation(ctx context.Context, saleID int64, status Status, totalCost, totalProfit decimal.Decimal) error

	GetReturnForUpdate(ctx context.Context, id int64) (SaleReturn, error)
	ListReturnDetails(ctx context.Context, returnID int64) ([]SaleReturnDetail, error)
	SetReturnStatus(ctx context.Context, returnID int64, status Status) error

	// GetItemStockForUpdate locks the item row, serializing confirmations
	// per item the same way lot selection does.
	GetItemStockForUpdate(ctx context.Context, itemID int64) (decimal.Decimal, error)
	// ConversionFactor resolves a line unit into base units.
	ConversionFactor(ctx context.Context, itemID, unitID int64) (decimal.Decimal, error)
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSale(ctx context.Context, id int64) (Sale, error)
	ListSaleDetails(ctx context.Context, saleID int64) ([]SaleDetail, error)
	GetReturn(ctx context.Context, id int64) (SaleReturn, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates sale and sale-return confirmation against the
// cost-lot ledger.
type Service struct {
	repo   RepositoryPort
	ledger *inventory.Ledger
	audit  AuditPort
}

// NewService constructs a sales service.
func NewService(repo RepositoryPort, ledger *inventory.Ledger, audit AuditPort) *Service {
	return &Service{repo: repo, ledger: ledger, audit: audit}
}

// ConfirmSale confirms a pending sale: each line is converted to base units,
// costed FIFO as of the sale date, and written back with cost and profit.
// Lines whose dated lots fall short are costed at the weighted average of
// open lots and flagged estimated; a shortfall against total stock on hand
// rejects the confirmation instead.
func (s *Service) ConfirmSale(ctx context.Context, saleID int64, actor shared.Actor) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return s.ConfirmSaleTx(ctx, tx, saleID, false)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "sale.confirm", saleID, nil)
	return nil
}

// ConfirmSaleTx runs the confirmation inside a caller-owned transaction.
// Strict mode additionally rejects estimated allocations; the reprocess
// batch uses it so replayed documents either cost exactly or stay pending.
func (s *Service) ConfirmSaleTx(ctx context.Context, tx TxRepository, saleID int64, strict bool) error {
	sale, err := tx.GetSaleForUpdate(ctx, saleID)
	if err != nil {
		return err
	}
	if sale.Status == StatusConfirmed {
		return ErrAlreadyConfirmed
	}
	details, err := tx.ListDetails(ctx, saleID)
	if err != nil {
		return err
	}
	if len(details) == 0 {
		return ErrNoDetails
	}

	ref := shared.Reference{Kind: shared.RefSale, ID: saleID}
	totalCost := decimal.Zero
	totalProfit := decimal.Zero
	for _, d := range details {
		factor, err := tx.ConversionFactor(ctx, d.ItemID, d.UnitID)
		if err != nil {
			return fmt.Errorf("sales: convert detail %d: %w", d.ID, err)
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

		alloc, err := s.ledger.Allocate(ctx, tx, d.ItemID, baseQty, sale.SaleDate)
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
			MovementDate: sale.SaleDate,
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

		profit := d.Subtotal.Sub(alloc.TotalCost)
		if err := tx.UpdateDetailCost(ctx, d.ID, alloc.TotalCost, profit, alloc.Estimated()); err != nil {
			return err
		}
		if err := tx.AddItemStock(ctx, d.ItemID, baseQty.Neg()); err != nil {
			return err
		}
		totalCost = totalCost.Add(alloc.TotalCost)
		totalProfit = totalProfit.Add(profit)
	}

	return tx.SetSaleConfirmation(ctx, saleID, StatusConfirmed, totalCost, totalProfit)
}

// UnconfirmSale is the exact inverse of ConfirmSale: lot remainders are
// restored from the FIFO mappings, the outbound audit rows are deleted,
// item stock is credited back from those same rows, and line costs reset.
func (s *Service) UnconfirmSale(ctx context.Context, saleID int64, actor shared.Actor) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return s.UnconfirmSaleTx(ctx, tx, saleID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "sale.unconfirm", saleID, nil)
	return nil
}

// UnconfirmSaleTx runs the inverse inside a caller-owned transaction.
func (s *Service) UnconfirmSaleTx(ctx context.Context, tx TxRepository, saleID int64) error {
	sale, err := tx.GetSaleForUpdate(ctx, saleID)
	if err != nil {
		return err
	}
	if sale.Status != StatusConfirmed {
		return ErrNotConfirmed
	}

	ref := shared.Reference{Kind: shared.RefSale, ID: saleID}
	if err := s.ledger.Restore(ctx, tx, ref); err != nil {
		return err
	}

	// Stock is credited back from the stored outbound rows, not re-derived
	// from unit conversions, so a later factor edit cannot skew the undo.
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

	details, err := tx.ListDetails(ctx, saleID)
	if err != nil {
		return err
	}
	for _, d := range details {
		if err := tx.UpdateDetailCost(ctx, d.ID, decimal.Zero, decimal.Zero, false); err != nil {
			return err
		}
	}
	return tx.SetSaleConfirmation(ctx, saleID, StatusPending, decimal.Zero, decimal.Zero)
}

// ConfirmSaleReturn confirms a pending return: each line re-enters stock as
// a fresh lot priced at subtotal over base quantity.
func (s *Service) ConfirmSaleReturn(ctx context.Context, returnID int64, actor shared.Actor) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return s.ConfirmSaleReturnTx(ctx, tx, returnID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "sale_return.confirm", returnID, nil)
	return nil
}

// ConfirmSaleReturnTx runs the confirmation inside a caller-owned transaction.
func (s *Service) ConfirmSaleReturnTx(ctx context.Context, tx TxRepository, returnID int64) error {
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

	ref := shared.Reference{Kind: shared.RefSaleReturn, ID: returnID}
	for _, d := range details {
		factor, err := tx.ConversionFactor(ctx, d.ItemID, d.UnitID)
		if err != nil {
			return fmt.Errorf("sales: convert return detail %d: %w", d.ID, err)
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
			MovementDate: ret.ReturnDate,
		}); err != nil {
			return err
		}
		if err := tx.AddItemStock(ctx, d.ItemID, baseQty); err != nil {
			return err
		}
	}
	return tx.SetReturnStatus(ctx, returnID, StatusConfirmed)
}

// UnconfirmSaleReturn removes the lots a return created. It fails with
// inventory.ErrLotConsumed when a later sale already drew from one of them.
func (s *Service) UnconfirmSaleReturn(ctx context.Context, returnID int64, actor shared.Actor) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return s.UnconfirmSaleReturnTx(ctx, tx, returnID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "sale_return.unconfirm", returnID, nil)
	return nil
}

// UnconfirmSaleReturnTx runs the inverse inside a caller-owned transaction.
func (s *Service) UnconfirmSaleReturnTx(ctx context.Context, tx TxRepository, returnID int64) error {
	ret, err := tx.GetReturnForUpdate(ctx, returnID)
	if err != nil {
		return err
	}
	if ret.Status != StatusConfirmed {
		return ErrNotConfirmed
	}
	details, err := tx.ListReturnDetails(ctx, returnID)
	if err != nil {
		return err
	}

	ref := shared.Reference{Kind: shared.RefSaleReturn, ID: returnID}
	for _, d := range details {
		lot, err := s.ledger.RemoveLot(ctx, tx, ref, d.ID)
		if err != nil {
			return err
		}
		if err := tx.AddItemStock(ctx, lot.ItemID, lot.Qty.Neg()); err != nil {
			return err
		}
	}
	return tx.SetReturnStatus(ctx, returnID, StatusPending)
}

// GetSale returns the header for reads.
func (s *Service) GetSale(ctx context.Context, id int64) (Sale, error) {
	return s.repo.GetSale(ctx, id)
}

// GetSaleDetails returns the line items for reads.
func (s *Service) GetSaleDetails(ctx context.Context, saleID int64) ([]SaleDetail, error) {
	return s.repo.ListSaleDetails(ctx, saleID)
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "sales",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
}
