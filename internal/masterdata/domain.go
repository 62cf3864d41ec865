package masterdata

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrCodeTaken     = errors.New("masterdata: code already in use")
	ErrUnitNotLinked = errors.New("masterdata: unit not linked to item")
	ErrInvalidFactor = errors.New("masterdata: conversion factor must be positive")
)

// ListFilters represents standard list page filters.
type ListFilters struct {
	Search   string
	IsActive *bool
	Limit    int
	Offset   int
}

// Unit represents a unit of measure.
type Unit struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// ItemUnit links an alternate unit to an item. Factor converts one alternate
// unit into base units: a box of 12 pieces has Factor 12.
type ItemUnit struct {
	ItemID int64           `json:"item_id"`
	UnitID int64           `json:"unit_id"`
	Factor decimal.Decimal `json:"factor"`
}

// Tax represents a tax configuration. Rate is a fraction, 0.11 for 11%.
type Tax struct {
	ID   int64           `json:"id"`
	Code string          `json:"code"`
	Name string          `json:"name"`
	Rate decimal.Decimal `json:"rate"`
}

// Item represents a sellable or purchasable good. Stock is the denormalised
// on-hand quantity in base units; the stock ledger is the source of truth.
type Item struct {
	ID        int64           `json:"id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	UnitID    int64           `json:"unit_id"`
	TaxID     *int64          `json:"tax_id"`
	Price     decimal.Decimal `json:"price"`
	Stock     decimal.Decimal `json:"stock"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Customer represents a customer entity.
type Customer struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email"`
	Address   string    `json:"address"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Supplier represents a supplier entity.
type Supplier struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email"`
	Address   string    `json:"address"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository interface for master data operations.
type Repository interface {
	// Item operations
	ListItems(ctx context.Context, filters ListFilters) ([]Item, error)
	GetItem(ctx context.Context, id int64) (Item, error)
	CreateItem(ctx context.Context, item Item) (Item, error)
	UpdateItem(ctx context.Context, id int64, item Item) error
	DeactivateItem(ctx context.Context, id int64) error

	// Unit operations
	ListUnits(ctx context.Context) ([]Unit, error)
	GetUnit(ctx context.Context, id int64) (Unit, error)
	CreateUnit(ctx context.Context, unit Unit) (Unit, error)
	UpdateUnit(ctx context.Context, id int64, unit Unit) error

	// Item-unit conversions
	ListItemUnits(ctx context.Context, itemID int64) ([]ItemUnit, error)
	GetItemUnit(ctx context.Context, itemID, unitID int64) (ItemUnit, error)
	UpsertItemUnit(ctx context.Context, link ItemUnit) error
	DeleteItemUnit(ctx context.Context, itemID, unitID int64) error

	// Tax operations
	ListTaxes(ctx context.Context) ([]Tax, error)
	GetTax(ctx context.Context, id int64) (Tax, error)
	CreateTax(ctx context.Context, tax Tax) (Tax, error)
	UpdateTax(ctx context.Context, id int64, tax Tax) error

	// Customer operations
	ListCustomers(ctx context.Context, filters ListFilters) ([]Customer, error)
	GetCustomer(ctx context.Context, id int64) (Customer, error)
	CreateCustomer(ctx context.Context, customer Customer) (Customer, error)
	UpdateCustomer(ctx context.Context, id int64, customer Customer) error

	// Supplier operations
	ListSuppliers(ctx context.Context, filters ListFilters) ([]Supplier, error)
	GetSupplier(ctx context.Context, id int64) (Supplier, error)
	CreateSupplier(ctx context.Context, supplier Supplier) (Supplier, error)
	UpdateSupplier(ctx context.Context, id int64, supplier Supplier) error
}
