package cashbook

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

// Handler wires cashbook endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers cashbook routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/banks", h.listBanks)
	r.Get("/banks/{id}", h.showBank)
	r.Get("/banks/{id}/movements", h.listMovements)
	r.Post("/banks/{id}/movements", h.appendMovement)
	r.Post("/banks/{id}/recalculate", h.recalculate)
	r.Post("/cash-movements/{id}/reverse", h.reverseMovement)
	r.Delete("/cash-movements/{id}", h.deleteMovement)
	r.Post("/bank-transfers", h.transfer)
	r.Get("/cashbook/integrity", h.integrity)
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) respondErr(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrSameBank):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, ErrOpeningReversal):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ErrBankNotFound), errors.Is(err, ErrMovementNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error(action, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func (h *Handler) listBanks(w http.ResponseWriter, r *http.Request) {
	banks, err := h.service.ListBanks(r.Context())
	if err != nil {
		h.respondErr(w, "list banks", err)
		return
	}
	httpx.JSON(w, http.StatusOK, banks)
}

func (h *Handler) showBank(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	bank, err := h.service.GetBank(r.Context(), id)
	if err != nil {
		h.respondErr(w, "show bank", err)
		return
	}
	httpx.JSON(w, http.StatusOK, bank)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	from, err := queryDate(r, "from", time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC))
	if err == nil {
		var to time.Time
		to, err = queryDate(r, "to", time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC))
		if err == nil {
			var movements []CashMovement
			movements, err = h.service.ListMovements(r.Context(), id, from, to)
			if err == nil {
				httpx.JSON(w, http.StatusOK, movements)
				return
			}
			h.respondErr(w, "list movements", err)
			return
		}
	}
	httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
}

func queryDate(r *http.Request, name string, fallback time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	return time.Parse("2006-01-02", raw)
}

type movementPayload struct {
	Kind    string `json:"kind"`
	RefKind string `json:"ref_kind" validate:"required"`
	RefID   int64  `json:"ref_id" validate:"required,gt=0"`
	Date    string `json:"date" validate:"required,datetime=2006-01-02"`
	Debit   string `json:"debit"`
	Credit  string `json:"credit"`
	Memo    string `json:"memo"`
}

func (h *Handler) appendMovement(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	var payload movementPayload
	if err := httpx.DecodeValid(r, &payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input, err := payload.toInput(id)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input.Actor, _ = shared.ActorFromContext(r.Context())
	movement, err := h.service.AppendMovement(r.Context(), input)
	if err != nil {
		h.respondErr(w, "append movement", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}

func (p movementPayload) toInput(bankID int64) (MovementInput, error) {
	date, err := time.Parse("2006-01-02", p.Date)
	if err != nil {
		return MovementInput{}, err
	}
	debit, err := parseAmount(p.Debit)
	if err != nil {
		return MovementInput{}, err
	}
	credit, err := parseAmount(p.Credit)
	if err != nil {
		return MovementInput{}, err
	}
	kind := MovementKind(p.Kind)
	if kind == "" {
		kind = KindRegular
	}
	ref := shared.Reference{Kind: shared.RefKind(p.RefKind), ID: p.RefID}
	if !ref.Valid() {
		return MovementInput{}, errors.New("cashbook: unknown reference kind")
	}
	return MovementInput{
		BankID: bankID,
		Kind:   kind,
		Ref:    ref,
		Date:   date,
		Debit:  debit,
		Credit: credit,
		Memo:   p.Memo,
	}, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

func (h *Handler) recalculate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	from, err := queryDate(r, "from", time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.RecalculateFrom(r.Context(), id, from)
	if err != nil {
		h.respondErr(w, "recalculate", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) reverseMovement(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	movement, err := h.service.ReverseMovement(r.Context(), id, actor)
	if err != nil {
		h.respondErr(w, "reverse movement", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}

func (h *Handler) deleteMovement(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	if err := h.service.DeleteMovement(r.Context(), id, actor); err != nil {
		h.respondErr(w, "delete movement", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

type transferPayload struct {
	FromBankID int64  `json:"from_bank_id" validate:"required,gt=0"`
	ToBankID   int64  `json:"to_bank_id" validate:"required,gt=0"`
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
	Amount     string `json:"amount" validate:"required"`
	Memo       string `json:"memo"`
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	var payload transferPayload
	if err := httpx.DecodeValid(r, &payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, err := time.Parse("2006-01-02", payload.Date)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	amount, err := decimal.NewFromString(payload.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	input := TransferInput{
		FromBankID: payload.FromBankID,
		ToBankID:   payload.ToBankID,
		Date:       date,
		Amount:     amount,
		Memo:       payload.Memo,
		Actor:      actor,
	}
	if err := h.service.Transfer(r.Context(), input); err != nil {
		h.respondErr(w, "transfer", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"transferred": true})
}

func (h *Handler) integrity(w http.ResponseWriter, r *http.Request) {
	drifts, err := h.service.VerifyBalances(r.Context())
	if err != nil {
		h.respondErr(w, "verify balances", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"drifts": drifts, "clean": len(drifts) == 0})
}
