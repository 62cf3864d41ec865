package masterdata

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// Handler manages master data endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers master data routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/items", h.listItems)
	r.Get("/items/{id}", h.showItem)
	r.Post("/items", h.createItem)
	r.Put("/items/{id}", h.updateItem)
	r.Delete("/items/{id}", h.deactivateItem)
	r.Get("/items/{id}/units", h.listItemUnits)
	r.Post("/items/{id}/units", h.linkItemUnit)
	r.Delete("/items/{id}/units/{unitID}", h.unlinkItemUnit)

	r.Get("/units", h.listUnits)
	r.Post("/units", h.createUnit)
	r.Put("/units/{id}", h.updateUnit)

	r.Get("/taxes", h.listTaxes)
	r.Post("/taxes", h.createTax)
	r.Put("/taxes/{id}", h.updateTax)

	r.Get("/customers", h.listCustomers)
	r.Get("/customers/{id}", h.showCustomer)
	r.Post("/customers", h.createCustomer)
	r.Put("/customers/{id}", h.updateCustomer)

	r.Get("/suppliers", h.listSuppliers)
	r.Get("/suppliers/{id}", h.showSupplier)
	r.Post("/suppliers", h.createSupplier)
	r.Put("/suppliers/{id}", h.updateSupplier)
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) respondErr(w http.ResponseWriter, action string, err error) {
	if errors.Is(err, ErrCodeTaken) {
		httpx.Problem(w, http.StatusConflict, "Duplicate Code", err.Error())
		return
	}
	h.logger.Error(action, slog.Any("error", err))
	httpx.RespondError(w, err)
}

type itemRequest struct {
	SKU    string `json:"sku" validate:"required"`
	Name   string `json:"name" validate:"required"`
	UnitID int64  `json:"unit_id" validate:"required,gt=0"`
	TaxID  *int64 `json:"tax_id"`
	Price  string `json:"price"`
}

func (req itemRequest) toItem() (Item, error) {
	item := Item{SKU: req.SKU, Name: req.Name, UnitID: req.UnitID, TaxID: req.TaxID, Price: decimal.Zero}
	if req.Price != "" {
		price, err := decimal.NewFromString(req.Price)
		if err != nil {
			return Item{}, errors.New("price must be a decimal string")
		}
		item.Price = price
	}
	return item, nil
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	filters := ListFilters{Search: r.URL.Query().Get("q")}
	if active := r.URL.Query().Get("active"); active != "" {
		b := active == "true"
		filters.IsActive = &b
	}
	items, err := h.service.ListItems(r.Context(), filters)
	if err != nil {
		h.respondErr(w, "list items", err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) showItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		h.respondErr(w, "get item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	item, err := req.toItem()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	created, err := h.service.CreateItem(r.Context(), item)
	if err != nil {
		h.respondErr(w, "create item", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	var req itemRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	item, err := req.toItem()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.UpdateItem(r.Context(), id, item); err != nil {
		h.respondErr(w, "update item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"id": id})
}

func (h *Handler) deactivateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	if err := h.service.DeactivateItem(r.Context(), id); err != nil {
		h.respondErr(w, "deactivate item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type itemUnitRequest struct {
	UnitID int64  `json:"unit_id" validate:"required,gt=0"`
	Factor string `json:"factor" validate:"required"`
}

func (h *Handler) listItemUnits(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	links, err := h.service.ListItemUnits(r.Context(), id)
	if err != nil {
		h.respondErr(w, "list item units", err)
		return
	}
	httpx.JSON(w, http.StatusOK, links)
}

func (h *Handler) linkItemUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	var req itemUnitRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	factor, err := decimal.NewFromString(req.Factor)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "factor must be a decimal string")
		return
	}
	link := ItemUnit{ItemID: id, UnitID: req.UnitID, Factor: factor}
	if err := h.service.LinkItemUnit(r.Context(), link); err != nil {
		if errors.Is(err, ErrInvalidFactor) {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		h.respondErr(w, "link item unit", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, link)
}

func (h *Handler) unlinkItemUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	unitID, ok2 := pathID(r, "unitID")
	if !ok || !ok2 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	if err := h.service.UnlinkItemUnit(r.Context(), id, unitID); err != nil {
		h.respondErr(w, "unlink item unit", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type unitRequest struct {
	Code string `json:"code" validate:"required"`
	Name string `json:"name" validate:"required"`
}

func (h *Handler) listUnits(w http.ResponseWriter, r *http.Request) {
	units, err := h.service.ListUnits(r.Context())
	if err != nil {
		h.respondErr(w, "list units", err)
		return
	}
	httpx.JSON(w, http.StatusOK, units)
}

func (h *Handler) createUnit(w http.ResponseWriter, r *http.Request) {
	var req unitRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	created, err := h.service.CreateUnit(r.Context(), Unit{Code: req.Code, Name: req.Name})
	if err != nil {
		h.respondErr(w, "create unit", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) updateUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	var req unitRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.UpdateUnit(r.Context(), id, Unit{Code: req.Code, Name: req.Name}); err != nil {
		h.respondErr(w, "update unit", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"id": id})
}

type taxRequest struct {
	Code string `json:"code" validate:"required"`
	Name string `json:"name" validate:"required"`
	Rate string `json:"rate" validate:"required"`
}

func (h *Handler) listTaxes(w http.ResponseWriter, r *http.Request) {
	taxes, err := h.service.ListTaxes(r.Context())
	if err != nil {
		h.respondErr(w, "list taxes", err)
		return
	}
	httpx.JSON(w, http.StatusOK, taxes)
}

func (h *Handler) createTax(w http.ResponseWriter, r *http.Request) {
	var req taxRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rate, err := decimal.NewFromString(req.Rate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "rate must be a decimal string")
		return
	}
	created, err := h.service.CreateTax(r.Context(), Tax{Code: req.Code, Name: req.Name, Rate: rate})
	if err != nil {
		h.respondErr(w, "create tax", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) updateTax(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	var req taxRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rate, err := decimal.NewFromString(req.Rate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "rate must be a decimal string")
		return
	}
	if err := h.service.UpdateTax(r.Context(), id, Tax{Code: req.Code, Name: req.Name, Rate: rate}); err != nil {
		h.respondErr(w, "update tax", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"id": id})
}

type partyRequest struct {
	Code    string `json:"code" validate:"required"`
	Name    string `json:"name" validate:"required"`
	Phone   string `json:"phone"`
	Email   string `json:"email" validate:"omitempty,email"`
	Address string `json:"address"`
	Active  *bool  `json:"is_active"`
}

func (h *Handler) listCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.service.ListCustomers(r.Context(), ListFilters{Search: r.URL.Query().Get("q")})
	if err != nil {
		h.respondErr(w, "list customers", err)
		return
	}
	httpx.JSON(w, http.StatusOK, customers)
}

func (h *Handler) showCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	customer, err := h.service.GetCustomer(r.Context(), id)
	if err != nil {
		h.respondErr(w, "get customer", err)
		return
	}
	httpx.JSON(w, http.StatusOK, customer)
}

func (h *Handler) createCustomer(w http.ResponseWriter, r *http.Request) {
	var req partyRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	created, err := h.service.CreateCustomer(r.Context(), Customer{
		Code: req.Code, Name: req.Name, Phone: req.Phone, Email: req.Email, Address: req.Address,
	})
	if err != nil {
		h.respondErr(w, "create customer", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) updateCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	var req partyRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	customer := Customer{Code: req.Code, Name: req.Name, Phone: req.Phone, Email: req.Email, Address: req.Address, IsActive: true}
	if req.Active != nil {
		customer.IsActive = *req.Active
	}
	if err := h.service.UpdateCustomer(r.Context(), id, customer); err != nil {
		h.respondErr(w, "update customer", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"id": id})
}

func (h *Handler) listSuppliers(w http.ResponseWriter, r *http.Request) {
	suppliers, err := h.service.ListSuppliers(r.Context(), ListFilters{Search: r.URL.Query().Get("q")})
	if err != nil {
		h.respondErr(w, "list suppliers", err)
		return
	}
	httpx.JSON(w, http.StatusOK, suppliers)
}

func (h *Handler) showSupplier(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	supplier, err := h.service.GetSupplier(r.Context(), id)
	if err != nil {
		h.respondErr(w, "get supplier", err)
		return
	}
	httpx.JSON(w, http.StatusOK, supplier)
}

func (h *Handler) createSupplier(w http.ResponseWriter, r *http.Request) {
	var req partyRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	created, err := h.service.CreateSupplier(r.Context(), Supplier{
		Code: req.Code, Name: req.Name, Phone: req.Phone, Email: req.Email, Address: req.Address,
	})
	if err != nil {
		h.respondErr(w, "create supplier", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) updateSupplier(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	var req partyRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	supplier := Supplier{Code: req.Code, Name: req.Name, Phone: req.Phone, Email: req.Email, Address: req.Address, IsActive: true}
	if req.Active != nil {
		supplier.IsActive = *req.Active
	}
	if err := h.service.UpdateSupplier(r.Context(), id, supplier); err != nil {
		h.respondErr(w, "update supplier", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"id": id})
}
