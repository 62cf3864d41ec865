package sales

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// IdempotencyPort guards confirmation endpoints against duplicate submission.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
}

// Handler manages sales endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	idem    IdempotencyPort
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, idem IdempotencyPort) *Handler {
	return &Handler{logger: logger, service: service, idem: idem}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/sales/{id}", h.showSale)
	r.Get("/sales/{id}/details", h.showSaleDetails)
	r.Post("/sales/{id}/confirm", h.confirmSale)
	r.Post("/sales/{id}/unconfirm", h.unconfirmSale)
	r.Post("/sale-returns/{id}/confirm", h.confirmReturn)
	r.Post("/sale-returns/{id}/unconfirm", h.unconfirmReturn)
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// guardIdempotency rejects replays carrying the same Idempotency-Key header.
func (h *Handler) guardIdempotency(w http.ResponseWriter, r *http.Request) bool {
	key := r.Header.Get("Idempotency-Key")
	if key == "" || h.idem == nil {
		return true
	}
	if err := h.idem.CheckAndInsert(r.Context(), key, "sales"); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			httpx.Problem(w, http.StatusConflict, "Duplicate Request", "this request was already processed")
			return false
		}
		h.logger.Error("idempotency check", slog.Any("error", err))
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func (h *Handler) respondConfirmErr(w http.ResponseWriter, action string, err error) {
	var insufficient *inventory.InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", insufficient.Error())
	case errors.Is(err, ErrAlreadyConfirmed), errors.Is(err, ErrNotConfirmed), errors.Is(err, inventory.ErrLotConsumed):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoDetails):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error(action, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func (h *Handler) showSale(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	sale, err := h.service.GetSale(r.Context(), id)
	if err != nil {
		h.respondConfirmErr(w, "get sale", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) showSaleDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	details, err := h.service.GetSaleDetails(r.Context(), id)
	if err != nil {
		h.respondConfirmErr(w, "get sale details", err)
		return
	}
	httpx.JSON(w, http.StatusOK, details)
}

func (h *Handler) confirmSale(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	if !h.guardIdempotency(w, r) {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	if err := h.service.ConfirmSale(r.Context(), id, actor); err != nil {
		h.respondConfirmErr(w, "confirm sale", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "status": StatusConfirmed})
}

func (h *Handler) unconfirmSale(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	if err := h.service.UnconfirmSale(r.Context(), id, actor); err != nil {
		h.respondConfirmErr(w, "unconfirm sale", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "status": StatusPending})
}

func (h *Handler) confirmReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	if !h.guardIdempotency(w, r) {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	if err := h.service.ConfirmSaleReturn(r.Context(), id, actor); err != nil {
		h.respondConfirmErr(w, "confirm sale return", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "status": StatusConfirmed})
}

func (h *Handler) unconfirmReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	if err := h.service.UnconfirmSaleReturn(r.Context(), id, actor); err != nil {
		h.respondConfirmErr(w, "unconfirm sale return", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "status": StatusPending})
}
