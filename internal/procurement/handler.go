package procurement

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

// Handler manages procurement endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	idem    IdempotencyPort
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, idem IdempotencyPort) *Handler {
	return &Handler{logger: logger, service: service, idem: idem}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/purchases/{id}", h.showPurchase)
	r.Get("/purchases/{id}/details", h.showPurchaseDetails)
	r.Post("/purchases/{id}/confirm", h.confirmPurchase)
	r.Post("/purchases/{id}/unconfirm", h.unconfirmPurchase)
	r.Post("/purchase-returns/{id}/confirm", h.confirmReturn)
	r.Post("/purchase-returns/{id}/unconfirm", h.unconfirmReturn)
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) guardIdempotency(w http.ResponseWriter, r *http.Request) bool {
	key := r.Header.Get("Idempotency-Key")
	if key == "" || h.idem == nil {
		return true
	}
	if err := h.idem.CheckAndInsert(r.Context(), key, "procurement"); err != nil {
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

func (h *Handler) showPurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	purchase, err := h.service.GetPurchase(r.Context(), id)
	if err != nil {
		h.respondConfirmErr(w, "get purchase", err)
		return
	}
	httpx.JSON(w, http.StatusOK, purchase)
}

func (h *Handler) showPurchaseDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	details, err := h.service.GetPurchaseDetails(r.Context(), id)
	if err != nil {
		h.respondConfirmErr(w, "get purchase details", err)
		return
	}
	httpx.JSON(w, http.StatusOK, details)
}

func (h *Handler) confirmPurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	if !h.guardIdempotency(w, r) {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	if err := h.service.ConfirmPurchase(r.Context(), id, actor); err != nil {
		h.respondConfirmErr(w, "confirm purchase", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "status": StatusConfirmed})
}

func (h *Handler) unconfirmPurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	if err := h.service.UnconfirmPurchase(r.Context(), id, actor); err != nil {
		h.respondConfirmErr(w, "unconfirm purchase", err)
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
	if err := h.service.ConfirmPurchaseReturn(r.Context(), id, actor); err != nil {
		h.respondConfirmErr(w, "confirm purchase return", err)
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
	if err := h.service.UnconfirmPurchaseReturn(r.Context(), id, actor); err != nil {
		h.respondConfirmErr(w, "unconfirm purchase return", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "status": StatusPending})
}
