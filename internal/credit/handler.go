package credit

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/lumbung-erp/lumbung-erp/internal/platform/httpx"
	"github.com/lumbung-erp/lumbung-erp/internal/shared"
)

// Handler wires account administration and read endpoints. Balance
// mutations live on the ledger façade routes.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the credit handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers credit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/accounts", h.handleOpenAccount)
	r.Get("/accounts/{id}", h.handleGetAccount)
	r.Post("/accounts/{id}/status", h.handleSetStatus)
	r.Get("/accounts/{id}/statement", h.handleStatement)
}

type accountResponse struct {
	ID           int64  `json:"id"`
	RetailerID   int64  `json:"retailer_id"`
	WholesalerID int64  `json:"wholesaler_id"`
	Limit        string `json:"limit"`
	Balance      string `json:"balance"`
	Available    string `json:"available"`
	Status       string `json:"status"`
}

func toAccountResponse(a Account) accountResponse {
	return accountResponse{
		ID:           a.ID,
		RetailerID:   a.RetailerID,
		WholesalerID: a.WholesalerID,
		Limit:        a.Limit.String(),
		Balance:      a.Balance.String(),
		Available:    a.Available().String(),
		Status:       string(a.Status),
	}
}

type openAccountRequest struct {
	RetailerID   int64  `json:"retailer_id" validate:"required"`
	WholesalerID int64  `json:"wholesaler_id" validate:"required"`
	Limit        string `json:"limit" validate:"required"`
}

func accountID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (h *Handler) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	limit, err := decimal.NewFromString(req.Limit)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid limit")
		return
	}
	actor := shared.ActorFromContext(r.Context())
	account, err := h.service.OpenAccount(r.Context(), OpenAccountInput{
		RetailerID:   req.RetailerID,
		WholesalerID: req.WholesalerID,
		Limit:        limit,
		ActorID:      actor.ID,
	})
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toAccountResponse(account))
}

func (h *Handler) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid account id")
		return
	}
	account, err := h.service.GetAccount(r.Context(), id)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAccountResponse(account))
}

type setStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active suspended closed"`
}

func (h *Handler) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid account id")
		return
	}
	var req setStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor := shared.ActorFromContext(r.Context())
	if err := h.service.SetStatus(r.Context(), id, AccountStatus(req.Status), actor.ID); err != nil {
		h.respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleStatement(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid account id")
		return
	}
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	transactions, paging, err := h.service.Statement(r.Context(), StatementFilter{
		AccountID: id,
		Type:      TxType(q.Get("type")),
		Page:      page,
		PerPage:   perPage,
	})
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transactions": transactions, "paging": paging})
}

func (h *Handler) respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidStatusChange), errors.Is(err, ErrAccountNotActive), errors.Is(err, ErrAccountClosed), errors.Is(err, ErrInvalidAmount):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Account Operation", err.Error())
	default:
		h.logger.Error("credit handler", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
