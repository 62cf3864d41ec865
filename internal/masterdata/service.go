package masterdata

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Service wraps master data operations with validation rules.
type Service struct {
	repo Repository
}

// NewService creates a new master data service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Item operations

func (s *Service) ListItems(ctx context.Context, filters ListFilters) ([]Item, error) {
	return s.repo.ListItems(ctx, filters)
}

func (s *Service) GetItem(ctx context.Context, id int64) (Item, error) {
	if id <= 0 {
		return Item{}, shared.ErrNotFound
	}
	return s.repo.GetItem(ctx, id)
}

func (s *Service) CreateItem(ctx context.Context, item Item) (Item, error) {
	item.SKU = strings.TrimSpace(item.SKU)
	item.Name = strings.TrimSpace(item.Name)
	if item.Price.Sign() < 0 {
		item.Price = decimal.Zero
	}
	item.Stock = decimal.Zero
	item.IsActive = true
	created, err := s.repo.CreateItem(ctx, item)
	if db.IsUniqueViolation(err, "items_sku_key") {
		return Item{}, ErrCodeTaken
	}
	return created, err
}

func (s *Service) UpdateItem(ctx context.Context, id int64, item Item) error {
	item.SKU = strings.TrimSpace(item.SKU)
	item.Name = strings.TrimSpace(item.Name)
	err := s.repo.UpdateItem(ctx, id, item)
	if db.IsUniqueViolation(err, "items_sku_key") {
		return ErrCodeTaken
	}
	return err
}

// DeactivateItem soft-disables an item. Items with ledger history are never
// deleted so stock cards and journals stay replayable.
func (s *Service) DeactivateItem(ctx context.Context, id int64) error {
	return s.repo.DeactivateItem(ctx, id)
}

// Unit operations

func (s *Service) ListUnits(ctx context.Context) ([]Unit, error) {
	return s.repo.ListUnits(ctx)
}

func (s *Service) CreateUnit(ctx context.Context, unit Unit) (Unit, error) {
	unit.Code = strings.TrimSpace(unit.Code)
	created, err := s.repo.CreateUnit(ctx, unit)
	if db.IsUniqueViolation(err, "units_code_key") {
		return Unit{}, ErrCodeTaken
	}
	return created, err
}

func (s *Service) UpdateUnit(ctx context.Context, id int64, unit Unit) error {
	err := s.repo.UpdateUnit(ctx, id, unit)
	if db.IsUniqueViolation(err, "units_code_key") {
		return ErrCodeTaken
	}
	return err
}

// LinkItemUnit attaches an alternate unit to an item with its conversion
// factor to base units.
func (s *Service) LinkItemUnit(ctx context.Context, link ItemUnit) error {
	if link.Factor.Sign() <= 0 {
		return ErrInvalidFactor
	}
	return s.repo.UpsertItemUnit(ctx, link)
}

func (s *Service) UnlinkItemUnit(ctx context.Context, itemID, unitID int64) error {
	return s.repo.DeleteItemUnit(ctx, itemID, unitID)
}

func (s *Service) ListItemUnits(ctx context.Context, itemID int64) ([]ItemUnit, error) {
	return s.repo.ListItemUnits(ctx, itemID)
}

// ConversionFactor resolves how many base units one unitID of itemID holds.
// The item's own base unit is always factor 1 even without an explicit link.
func (s *Service) ConversionFactor(ctx context.Context, itemID, unitID int64) (decimal.Decimal, error) {
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return decimal.Zero, err
	}
	if item.UnitID == unitID {
		return decimal.NewFromInt(1), nil
	}
	link, err := s.repo.GetItemUnit(ctx, itemID, unitID)
	if err != nil {
		return decimal.Zero, ErrUnitNotLinked
	}
	return link.Factor, nil
}

// Tax operations

func (s *Service) ListTaxes(ctx context.Context) ([]Tax, error) {
	return s.repo.ListTaxes(ctx)
}

func (s *Service) GetTax(ctx context.Context, id int64) (Tax, error) {
	return s.repo.GetTax(ctx, id)
}

func (s *Service) CreateTax(ctx context.Context, tax Tax) (Tax, error) {
	if tax.Rate.Sign() < 0 {
		tax.Rate = decimal.Zero
	}
	created, err := s.repo.CreateTax(ctx, tax)
	if db.IsUniqueViolation(err, "taxes_code_key") {
		return Tax{}, ErrCodeTaken
	}
	return created, err
}

func (s *Service) UpdateTax(ctx context.Context, id int64, tax Tax) error {
	return s.repo.UpdateTax(ctx, id, tax)
}

// Customer operations

func (s *Service) ListCustomers(ctx context.Context, filters ListFilters) ([]Customer, error) {
	return s.repo.ListCustomers(ctx, filters)
}

func (s *Service) GetCustomer(ctx context.Context, id int64) (Customer, error) {
	return s.repo.GetCustomer(ctx, id)
}

func (s *Service) CreateCustomer(ctx context.Context, customer Customer) (Customer, error) {
	customer.Code = strings.TrimSpace(customer.Code)
	customer.IsActive = true
	created, err := s.repo.CreateCustomer(ctx, customer)
	if db.IsUniqueViolation(err, "customers_code_key") {
		return Customer{}, ErrCodeTaken
	}
	return created, err
}

func (s *Service) UpdateCustomer(ctx context.Context, id int64, customer Customer) error {
	return s.repo.UpdateCustomer(ctx, id, customer)
}

// Supplier operations

func (s *Service) ListSuppliers(ctx context.Context, filters ListFilters) ([]Supplier, error) {
	return s.repo.ListSuppliers(ctx, filters)
}

func (s *Service) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	return s.repo.GetSupplier(ctx, id)
}

func (s *Service) CreateSupplier(ctx context.Context, supplier Supplier) (Supplier, error) {
	supplier.Code = strings.TrimSpace(supplier.Code)
	supplier.IsActive = true
	created, err := s.repo.CreateSupplier(ctx, supplier)
	if db.IsUniqueViolation(err, "suppliers_code_key") {
		return Supplier{}, ErrCodeTaken
	}
	return created, err
}

func (s *Service) UpdateSupplier(ctx context.Context, id int64, supplier Supplier) error {
	return s.repo.UpdateSupplier(ctx, id, supplier)
}
