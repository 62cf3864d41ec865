package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetStockCard(ctx context.Context, filter StockCardFilter) ([]CardEntry, error)
	GetItemStock(ctx context.Context, itemID int64) (decimal.Decimal, error)
	SumMovementQty(ctx context.Context, itemID int64) (decimal.Decimal, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns the standalone ledger operations: manual adjustments,
// opening balances and stock card reads. Document confirmation goes through
// the sales and procurement services, which drive the same Ledger inside
// their own transactions.
type Service struct {
	repo   RepositoryPort
	ledger *Ledger
	audit  AuditPort
	now    func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, ledger *Ledger, audit AuditPort) *Service {
	return &Service{repo: repo, ledger: ledger, audit: audit, now: time.Now}
}

// Ledger exposes the FIFO engine for services sharing a transaction.
func (s *Service) Ledger() *Ledger {
	return s.ledger
}

// PostAdjustment applies a signed manual correction. Positive quantities
// create a new lot at the supplied unit cost; negative quantities consume
// lots FIFO exactly like a sale would, so adjustment outflows stay costed.
func (s *Service) PostAdjustment(ctx context.Context, input AdjustmentInput) (StockMovement, error) {
	if input.ItemID == 0 {
		return StockMovement{}, ErrItemNotFound
	}
	if input.Qty.IsZero() {
		return StockMovement{}, ErrInvalidQuantity
	}
	if input.Qty.Sign() > 0 && input.UnitCost.Sign() < 0 {
		return StockMovement{}, ErrInvalidUnitCost
	}
	date := input.Date
	if date.IsZero() {
		date = s.now().UTC()
	}

	var movement StockMovement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ref := shared.Reference{Kind: shared.RefStockAdjustment, ID: 0}
		if input.Qty.Sign() > 0 {
			id, err := s.ledger.AddLot(ctx, tx, NewLot{
				ItemID:       input.ItemID,
				Ref:          ref,
				Qty:          input.Qty,
				UnitCost:     input.UnitCost,
				MovementDate: date,
			})
			if err != nil {
				return err
			}
			movement = StockMovement{ID: id, ItemID: input.ItemID, Ref: ref, Qty: input.Qty, UnitCost: input.UnitCost, Remaining: input.Qty, MovementDate: date}
		} else {
			outQty := input.Qty.Neg()
			alloc, err := s.ledger.Allocate(ctx, tx, input.ItemID, outQty, date)
			if err != nil {
				return err
			}
			if alloc.Estimated() {
				avail := outQty.Sub(alloc.EstimatedQty)
				return &InsufficientStockError{ItemID: input.ItemID, Requested: outQty, Available: avail}
			}
			unitCost := alloc.TotalCost.Div(outQty)
			id, err := s.ledger.AppendOutbound(ctx, tx, OutboundMovement{
				ItemID:       input.ItemID,
				Ref:          ref,
				Qty:          outQty,
				UnitCost:     unitCost,
				MovementDate: date,
			})
			if err != nil {
				return err
			}
			mappings := make([]FifoMapping, 0, len(alloc.Consumed))
			for _, c := range alloc.Consumed {
				mappings = append(mappings, FifoMapping{
					Ref:             shared.Reference{Kind: shared.RefStockAdjustment, ID: id},
					StockMovementID: c.LotID,
					Qty:             c.Qty,
					UnitCost:        c.UnitCost,
					TotalCost:       c.TotalCost(),
				})
			}
			if err := tx.InsertFifoMappings(ctx, mappings); err != nil {
				return err
			}
			movement = StockMovement{ID: id, ItemID: input.ItemID, Ref: ref, Qty: input.Qty, UnitCost: unitCost, MovementDate: date}
		}
		return tx.AddItemStock(ctx, input.ItemID, input.Qty)
	})
	if err != nil {
		return StockMovement{}, err
	}
	s.recordAudit(ctx, input.Actor, "inventory.adjust", movement.ID, map[string]any{
		"item_id": input.ItemID,
		"qty":     input.Qty.String(),
		"note":    input.Note,
	})
	return movement, nil
}

// PostOpeningBalance seeds initial stock as a non-transactional lot.
func (s *Service) PostOpeningBalance(ctx context.Context, input OpeningInput) (StockMovement, error) {
	if input.ItemID == 0 {
		return StockMovement{}, ErrItemNotFound
	}
	if input.Qty.Sign() <= 0 {
		return StockMovement{}, ErrInvalidQuantity
	}
	if input.UnitCost.Sign() < 0 {
		return StockMovement{}, ErrInvalidUnitCost
	}
	date := input.Date
	if date.IsZero() {
		date = s.now().UTC()
	}
	var movement StockMovement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ref := shared.Reference{Kind: shared.RefOpeningStock, ID: input.ItemID}
		id, err := s.ledger.AddLot(ctx, tx, NewLot{
			ItemID:       input.ItemID,
			Ref:          ref,
			Qty:          input.Qty,
			UnitCost:     input.UnitCost,
			MovementDate: date,
		})
		if err != nil {
			return err
		}
		movement = StockMovement{ID: id, ItemID: input.ItemID, Ref: ref, Qty: input.Qty, UnitCost: input.UnitCost, Remaining: input.Qty, MovementDate: date}
		return tx.AddItemStock(ctx, input.ItemID, input.Qty)
	})
	if err != nil {
		return StockMovement{}, err
	}
	s.recordAudit(ctx, input.Actor, "inventory.opening", movement.ID, map[string]any{
		"item_id": input.ItemID,
		"qty":     input.Qty.String(),
	})
	return movement, nil
}

// GetStockCard lists movements for one item in chronological order.
func (s *Service) GetStockCard(ctx context.Context, filter StockCardFilter) ([]CardEntry, error) {
	if filter.ItemID == 0 {
		return nil, ErrItemNotFound
	}
	return s.repo.GetStockCard(ctx, filter)
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "stock_movement",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
		At:       s.now(),
	})
}
