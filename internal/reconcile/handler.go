package reconcile

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/sales"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires reconciliation reports and repairs. Repairs rewrite
// derived data, so the routes are meant to sit behind operator auth at
// the router level.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers reconcile routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/reconcile/profit", h.compareProfit)
	r.Get("/reconcile/stock-drift", h.stockDrift)
	r.Post("/reconcile/profit-sync", h.profitSync)
	r.Post("/reconcile/reprocess", h.reprocess)
	r.Post("/reconcile/sales/{id}/cogs", h.adjustCogs)
}

func (h *Handler) respondErr(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, ErrZeroDelta):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, ErrSaleNotConfirmed):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, sales.ErrNotFound), errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error(action, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func (h *Handler) compareProfit(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.CompareProfitAcrossSources(r.Context())
	if err != nil {
		h.respondErr(w, "compare profit", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) stockDrift(w http.ResponseWriter, r *http.Request) {
	drifts, err := h.service.CheckStockDrift(r.Context())
	if err != nil {
		h.respondErr(w, "stock drift", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"drifts": drifts, "clean": len(drifts) == 0})
}

func (h *Handler) profitSync(w http.ResponseWriter, r *http.Request) {
	dryRun := r.URL.Query().Get("dry_run") != "false"
	actor, _ := shared.ActorFromContext(r.Context())
	report, err := h.service.SyncProfitFromJournalAdjustments(r.Context(), dryRun, actor)
	if err != nil {
		h.respondErr(w, "profit sync", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) reprocess(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	report, err := h.service.ReprocessAllTransactions(r.Context(), actor)
	if err != nil {
		h.respondErr(w, "reprocess", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

type cogsPayload struct {
	Delta  string `json:"delta" validate:"required"`
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) adjustCogs(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	var payload cogsPayload
	if err := httpx.DecodeValid(r, &payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	delta, err := decimal.NewFromString(payload.Delta)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	if err := h.service.AdjustSaleCogs(r.Context(), id, delta, payload.Reason, actor); err != nil {
		h.respondErr(w, "adjust cogs", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sale_id": id, "delta": delta})
}
