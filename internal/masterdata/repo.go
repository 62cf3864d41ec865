package masterdata

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// repo implements Repository backed by Postgres.
type repo struct {
	db *pgxpool.Pool
}

// NewRepository creates a new master data repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repo{db: db}
}

// Item operations

const itemColumns = `id, sku, name, unit_id, tax_id, price, stock, is_active, created_at, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.SKU, &it.Name, &it.UnitID, &it.TaxID, &it.Price, &it.Stock, &it.IsActive, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, shared.ErrNotFound
	}
	return it, err
}

func (r *repo) ListItems(ctx context.Context, filters ListFilters) ([]Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE 1=1`
	args := []any{}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		query += ` AND (sku ILIKE $1 OR name ILIKE $1)`
	}
	if filters.IsActive != nil {
		args = append(args, *filters.IsActive)
		query += ` AND is_active = $` + itoa(len(args))
	}
	query += ` ORDER BY name`
	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		query += ` LIMIT $` + itoa(len(args))
	}
	if filters.Offset > 0 {
		args = append(args, filters.Offset)
		query += ` OFFSET $` + itoa(len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *repo) GetItem(ctx context.Context, id int64) (Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1`
	return scanItem(r.db.QueryRow(ctx, query, id))
}

func (r *repo) CreateItem(ctx context.Context, item Item) (Item, error) {
	query := `INSERT INTO items (sku, name, unit_id, tax_id, price, stock, is_active, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8) RETURNING id`
	now := time.Now()
	err := r.db.QueryRow(ctx, query, item.SKU, item.Name, item.UnitID, item.TaxID, item.Price, item.Stock, item.IsActive, now).Scan(&item.ID)
	if err != nil {
		return Item{}, err
	}
	item.CreatedAt = now
	item.UpdatedAt = now
	return item, nil
}

func (r *repo) UpdateItem(ctx context.Context, id int64, item Item) error {
	query := `UPDATE items SET sku = $1, name = $2, unit_id = $3, tax_id = $4, price = $5, updated_at = $6 WHERE id = $7`
	tag, err := r.db.Exec(ctx, query, item.SKU, item.Name, item.UnitID, item.TaxID, item.Price, time.Now(), id)
	if err == nil && tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return err
}

func (r *repo) DeactivateItem(ctx context.Context, id int64) error {
	query := `UPDATE items SET is_active = FALSE, updated_at = $1 WHERE id = $2`
	tag, err := r.db.Exec(ctx, query, time.Now(), id)
	if err == nil && tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return err
}

// Unit operations

func (r *repo) ListUnits(ctx context.Context) ([]Unit, error) {
	rows, err := r.db.Query(ctx, `SELECT id, code, name FROM units ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []Unit
	for rows.Next() {
		var u Unit
		if err := rows.Scan(&u.ID, &u.Code, &u.Name); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func (r *repo) GetUnit(ctx context.Context, id int64) (Unit, error) {
	var u Unit
	err := r.db.QueryRow(ctx, `SELECT id, code, name FROM units WHERE id = $1`, id).Scan(&u.ID, &u.Code, &u.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Unit{}, shared.ErrNotFound
	}
	return u, err
}

func (r *repo) CreateUnit(ctx context.Context, unit Unit) (Unit, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO units (code, name) VALUES ($1, $2) RETURNING id`, unit.Code, unit.Name).Scan(&unit.ID)
	return unit, err
}

func (r *repo) UpdateUnit(ctx context.Context, id int64, unit Unit) error {
	_, err := r.db.Exec(ctx, `UPDATE units SET code = $1, name = $2 WHERE id = $3`, unit.Code, unit.Name, id)
	return err
}

// Item-unit conversions

func (r *repo) ListItemUnits(ctx context.Context, itemID int64) ([]ItemUnit, error) {
	rows, err := r.db.Query(ctx, `SELECT item_id, unit_id, factor FROM item_units WHERE item_id = $1 ORDER BY unit_id`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []ItemUnit
	for rows.Next() {
		var l ItemUnit
		if err := rows.Scan(&l.ItemID, &l.UnitID, &l.Factor); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (r *repo) GetItemUnit(ctx context.Context, itemID, unitID int64) (ItemUnit, error) {
	var l ItemUnit
	err := r.db.QueryRow(ctx, `SELECT item_id, unit_id, factor FROM item_units WHERE item_id = $1 AND unit_id = $2`, itemID, unitID).
		Scan(&l.ItemID, &l.UnitID, &l.Factor)
	if errors.Is(err, pgx.ErrNoRows) {
		return ItemUnit{}, shared.ErrNotFound
	}
	return l, err
}

func (r *repo) UpsertItemUnit(ctx context.Context, link ItemUnit) error {
	query := `INSERT INTO item_units (item_id, unit_id, factor) VALUES ($1, $2, $3)
	          ON CONFLICT (item_id, unit_id) DO UPDATE SET factor = EXCLUDED.factor`
	_, err := r.db.Exec(ctx, query, link.ItemID, link.UnitID, link.Factor)
	return err
}

func (r *repo) DeleteItemUnit(ctx context.Context, itemID, unitID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM item_units WHERE item_id = $1 AND unit_id = $2`, itemID, unitID)
	return err
}

// Tax operations

func (r *repo) ListTaxes(ctx context.Context) ([]Tax, error) {
	rows, err := r.db.Query(ctx, `SELECT id, code, name, rate FROM taxes ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var taxes []Tax
	for rows.Next() {
		var t Tax
		if err := rows.Scan(&t.ID, &t.Code, &t.Name, &t.Rate); err != nil {
			return nil, err
		}
		taxes = append(taxes, t)
	}
	return taxes, rows.Err()
}

func (r *repo) GetTax(ctx context.Context, id int64) (Tax, error) {
	var t Tax
	err := r.db.QueryRow(ctx, `SELECT id, code, name, rate FROM taxes WHERE id = $1`, id).Scan(&t.ID, &t.Code, &t.Name, &t.Rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return Tax{}, shared.ErrNotFound
	}
	return t, err
}

func (r *repo) CreateTax(ctx context.Context, tax Tax) (Tax, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO taxes (code, name, rate) VALUES ($1, $2, $3) RETURNING id`, tax.Code, tax.Name, tax.Rate).Scan(&tax.ID)
	return tax, err
}

func (r *repo) UpdateTax(ctx context.Context, id int64, tax Tax) error {
	_, err := r.db.Exec(ctx, `UPDATE taxes SET code = $1, name = $2, rate = $3 WHERE id = $4`, tax.Code, tax.Name, tax.Rate, id)
	return err
}

// Customer operations

const partyColumns = `id, code, name, phone, email, address, is_active, created_at, updated_at`

func (r *repo) ListCustomers(ctx context.Context, filters ListFilters) ([]Customer, error) {
	query := `SELECT ` + partyColumns + ` FROM customers WHERE 1=1`
	args := []any{}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		query += ` AND (code ILIKE $1 OR name ILIKE $1)`
	}
	if filters.IsActive != nil {
		args = append(args, *filters.IsActive)
		query += ` AND is_active = $` + itoa(len(args))
	}
	query += ` ORDER BY name`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []Customer
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.Phone, &c.Email, &c.Address, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func (r *repo) GetCustomer(ctx context.Context, id int64) (Customer, error) {
	var c Customer
	err := r.db.QueryRow(ctx, `SELECT `+partyColumns+` FROM customers WHERE id = $1`, id).
		Scan(&c.ID, &c.Code, &c.Name, &c.Phone, &c.Email, &c.Address, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, shared.ErrNotFound
	}
	return c, err
}

func (r *repo) CreateCustomer(ctx context.Context, customer Customer) (Customer, error) {
	query := `INSERT INTO customers (code, name, phone, email, address, is_active, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $7) RETURNING id`
	now := time.Now()
	err := r.db.QueryRow(ctx, query, customer.Code, customer.Name, customer.Phone, customer.Email, customer.Address, customer.IsActive, now).Scan(&customer.ID)
	if err != nil {
		return Customer{}, err
	}
	customer.CreatedAt = now
	customer.UpdatedAt = now
	return customer, nil
}

func (r *repo) UpdateCustomer(ctx context.Context, id int64, customer Customer) error {
	query := `UPDATE customers SET code = $1, name = $2, phone = $3, email = $4, address = $5, is_active = $6, updated_at = $7 WHERE id = $8`
	_, err := r.db.Exec(ctx, query, customer.Code, customer.Name, customer.Phone, customer.Email, customer.Address, customer.IsActive, time.Now(), id)
	return err
}

// Supplier operations

func (r *repo) ListSuppliers(ctx context.Context, filters ListFilters) ([]Supplier, error) {
	query := `SELECT ` + partyColumns + ` FROM suppliers WHERE 1=1`
	args := []any{}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		query += ` AND (code ILIKE $1 OR name ILIKE $1)`
	}
	if filters.IsActive != nil {
		args = append(args, *filters.IsActive)
		query += ` AND is_active = $` + itoa(len(args))
	}
	query += ` ORDER BY name`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var suppliers []Supplier
	for rows.Next() {
		var s Supplier
		if err := rows.Scan(&s.ID, &s.Code, &s.Name, &s.Phone, &s.Email, &s.Address, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		suppliers = append(suppliers, s)
	}
	return suppliers, rows.Err()
}

func (r *repo) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	var s Supplier
	err := r.db.QueryRow(ctx, `SELECT `+partyColumns+` FROM suppliers WHERE id = $1`, id).
		Scan(&s.ID, &s.Code, &s.Name, &s.Phone, &s.Email, &s.Address, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Supplier{}, shared.ErrNotFound
	}
	return s, err
}

func (r *repo) CreateSupplier(ctx context.Context, supplier Supplier) (Supplier, error) {
	query := `INSERT INTO suppliers (code, name, phone, email, address, is_active, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $7) RETURNING id`
	now := time.Now()
	err := r.db.QueryRow(ctx, query, supplier.Code, supplier.Name, supplier.Phone, supplier.Email, supplier.Address, supplier.IsActive, now).Scan(&supplier.ID)
	if err != nil {
		return Supplier{}, err
	}
	supplier.CreatedAt = now
	supplier.UpdatedAt = now
	return supplier, nil
}

func (r *repo) UpdateSupplier(ctx context.Context, id int64, supplier Supplier) error {
	query := `UPDATE suppliers SET code = $1, name = $2, phone = $3, email = $4, address = $5, is_active = $6, updated_at = $7 WHERE id = $8`
	_, err := r.db.Exec(ctx, query, supplier.Code, supplier.Name, supplier.Phone, supplier.Email, supplier.Address, supplier.IsActive, time.Now(), id)
	return err
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
