package accounting

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

// Handler wires journal endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers journal routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/accounts", h.listAccounts)
	r.Get("/journals/{id}", h.showJournal)
	r.Post("/journals", h.postManual)
	r.Post("/journals/{id}/reverse", h.reverse)
	r.Post("/journals/sales/{id}", h.postFor(shared.RefSale))
	r.Post("/journals/purchases/{id}", h.postFor(shared.RefPurchase))
	r.Post("/journals/sale-returns/{id}", h.postFor(shared.RefSaleReturn))
	r.Post("/journals/purchase-returns/{id}", h.postFor(shared.RefPurchaseReturn))
	r.Post("/journals/cash-ins/{id}", h.postFor(shared.RefCashIn))
	r.Post("/journals/cash-outs/{id}", h.postFor(shared.RefCashOut))
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) respondErr(w http.ResponseWriter, action string, err error) {
	var imbalance *ImbalanceError
	switch {
	case errors.As(err, &imbalance):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Out Of Balance", imbalance.Error())
	case errors.Is(err, ErrTooFewLines):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, ErrAlreadyReversed), errors.Is(err, ErrNotPosted), errors.Is(err, ErrSourcePending):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, shared.ErrConfiguration):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Configuration Error", err.Error())
	case errors.Is(err, ErrEntryNotFound), errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error(action, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.ListAccounts(r.Context())
	if err != nil {
		h.respondErr(w, "list accounts", err)
		return
	}
	httpx.JSON(w, http.StatusOK, accounts)
}

func (h *Handler) showJournal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	entry, err := h.service.GetJournal(r.Context(), id)
	if err != nil {
		h.respondErr(w, "show journal", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

type manualLinePayload struct {
	AccountID int64  `json:"account_id" validate:"required,gt=0"`
	Debit     string `json:"debit"`
	Credit    string `json:"credit"`
	Memo      string `json:"memo"`
}

type manualJournalPayload struct {
	EntryDate string              `json:"entry_date" validate:"required,datetime=2006-01-02"`
	Memo      string              `json:"memo" validate:"required"`
	Lines     []manualLinePayload `json:"lines" validate:"required,min=2,dive"`
}

func (h *Handler) postManual(w http.ResponseWriter, r *http.Request) {
	var payload manualJournalPayload
	if err := httpx.DecodeValid(r, &payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input, err := payload.toInput()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input.Actor, _ = shared.ActorFromContext(r.Context())
	entry, err := h.service.PostManualJournal(r.Context(), input)
	if err != nil {
		h.respondErr(w, "post manual journal", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (p manualJournalPayload) toInput() (ManualJournalInput, error) {
	date, err := parseDate(p.EntryDate)
	if err != nil {
		return ManualJournalInput{}, err
	}
	input := ManualJournalInput{EntryDate: date, Memo: p.Memo}
	for _, l := range p.Lines {
		debit, err := parseAmount(l.Debit)
		if err != nil {
			return ManualJournalInput{}, err
		}
		credit, err := parseAmount(l.Credit)
		if err != nil {
			return ManualJournalInput{}, err
		}
		input.Lines = append(input.Lines, ManualLineInput{
			AccountID: l.AccountID,
			Debit:     debit,
			Credit:    credit,
			Memo:      l.Memo,
		})
	}
	return input, nil
}

func parseDate(raw string) (time.Time, error) {
	return time.Parse("2006-01-02", raw)
}

func parseAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	entry, err := h.service.ReverseJournal(r.Context(), id, actor)
	if err != nil {
		h.respondErr(w, "reverse journal", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) postFor(kind shared.RefKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r)
		if !ok {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
			return
		}
		actor, _ := shared.ActorFromContext(r.Context())
		var entry JournalEntry
		var err error
		switch kind {
		case shared.RefSale:
			entry, err = h.service.PostSaleJournal(r.Context(), id, actor)
		case shared.RefPurchase:
			entry, err = h.service.PostPurchaseJournal(r.Context(), id, actor)
		case shared.RefSaleReturn:
			entry, err = h.service.PostSaleReturnJournal(r.Context(), id, actor)
		case shared.RefPurchaseReturn:
			entry, err = h.service.PostPurchaseReturnJournal(r.Context(), id, actor)
		case shared.RefCashIn:
			entry, err = h.service.PostCashIn(r.Context(), id, actor)
		case shared.RefCashOut:
			entry, err = h.service.PostCashOut(r.Context(), id, actor)
		default:
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unsupported document kind")
			return
		}
		if err != nil {
			h.respondErr(w, "post journal", err)
			return
		}
		httpx.JSON(w, http.StatusCreated, entry)
	}
}
