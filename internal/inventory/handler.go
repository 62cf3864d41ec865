package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires HTTP endpoints for the cost-lot ledger.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stock-card", h.handleStockCard)
	r.Post("/adjustments", h.handleAdjustment)
	r.Post("/opening-balances", h.handleOpening)
}

type adjustmentRequest struct {
	ItemID   int64  `json:"item_id" validate:"required,gt=0"`
	Qty      string `json:"qty" validate:"required"`
	UnitCost string `json:"unit_cost"`
	Date     string `json:"date"`
	Note     string `json:"note"`
}

func (h *Handler) handleStockCard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	itemID, err := strconv.ParseInt(q.Get("item_id"), 10, 64)
	if err != nil || itemID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "item_id is required")
		return
	}
	filter := StockCardFilter{ItemID: itemID}
	if from := q.Get("from"); from != "" {
		if filter.From, err = time.Parse("2006-01-02", from); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be YYYY-MM-DD")
			return
		}
	}
	if to := q.Get("to"); to != "" {
		if filter.To, err = time.Parse("2006-01-02", to); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be YYYY-MM-DD")
			return
		}
	}
	entries, err := h.service.GetStockCard(r.Context(), filter)
	if err != nil {
		h.logger.Error("stock card", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input, err := req.toInput(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	movement, err := h.service.PostAdjustment(r.Context(), input)
	if err != nil {
		var insufficient *InsufficientStockError
		if errors.As(err, &insufficient) {
			httpx.Problem(w, http.StatusConflict, "Insufficient Stock", insufficient.Error())
			return
		}
		h.logger.Error("post adjustment", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}

func (h *Handler) handleOpening(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input, err := req.toInput(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	movement, err := h.service.PostOpeningBalance(r.Context(), OpeningInput{
		ItemID:   input.ItemID,
		Qty:      input.Qty,
		UnitCost: input.UnitCost,
		Date:     input.Date,
		Actor:    input.Actor,
	})
	if err != nil {
		h.logger.Error("post opening balance", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}

func (req adjustmentRequest) toInput(r *http.Request) (AdjustmentInput, error) {
	qty, err := decimal.NewFromString(req.Qty)
	if err != nil {
		return AdjustmentInput{}, errors.New("qty must be a decimal string")
	}
	input := AdjustmentInput{ItemID: req.ItemID, Qty: qty, Note: req.Note}
	if req.UnitCost != "" {
		if input.UnitCost, err = decimal.NewFromString(req.UnitCost); err != nil {
			return AdjustmentInput{}, errors.New("unit_cost must be a decimal string")
		}
	}
	if req.Date != "" {
		if input.Date, err = time.Parse("2006-01-02", req.Date); err != nil {
			return AdjustmentInput{}, errors.New("date must be YYYY-MM-DD")
		}
	}
	if actor, ok := shared.ActorFromContext(r.Context()); ok {
		input.Actor = actor
	}
	return input, nil
}
