package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lumbung-erp/lumbung-erp/internal/credit"
	"github.com/lumbung-erp/lumbung-erp/internal/orders"
	"github.com/lumbung-erp/lumbung-erp/internal/platform/httpx"
	"github.com/lumbung-erp/lumbung-erp/internal/shared"
	"github.com/lumbung-erp/lumbung-erp/internal/stock"
)

// Handler exposes the mutation endpoints. Reads live on the domain
// handlers; everything that writes a ledger goes through here.
type Handler struct {
	logger   *slog.Logger
	facade   *Facade
	validate *validator.Validate
}

// NewHandler constructs the mutation handler.
func NewHandler(logger *slog.Logger, facade *Facade) *Handler {
	return &Handler{logger: logger, facade: facade, validate: validator.New()}
}

// MountRoutes registers the mutation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/sales", h.handleSale)
	r.Post("/adjustments", h.handleAdjustment)
	r.Post("/receipts", h.handleReceipt)
	r.Post("/returns", h.handleReturn)
	r.Post("/orders", h.handleCreateOrder)
	r.Post("/orders/{id}/transition", h.handleTransition)
	r.Post("/credit-transactions", h.handleCreditTransaction)
}

func idempotencyKey(r *http.Request) string {
	return r.Header.Get("Idempotency-Key")
}

// reference falls back to a generated id so every ledger row stays
// traceable even when the client sends none.
func reference(given, prefix string) string {
	if given != "" {
		return given
	}
	return prefix + "-" + uuid.NewString()
}

type saleItemRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int64 `json:"quantity" validate:"required,gt=0"`
}

type saleRequest struct {
	Items     []saleItemRequest `json:"items" validate:"required,min=1,dive"`
	Reference string            `json:"reference"`
}

func (h *Handler) handleSale(w http.ResponseWriter, r *http.Request) {
	var req saleRequest
	if !h.decode(w, r, &req) {
		return
	}
	items := make([]SaleItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, SaleItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	actor := shared.ActorFromContext(r.Context())
	result, err := h.facade.ProcessSale(r.Context(), SaleInput{
		Items:          items,
		Reference:      reference(req.Reference, "sale"),
		ActorID:        actor.ID,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"movements": result.Movements,
		"low_stock": result.LowStock,
	})
}

type adjustmentRequest struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	Delta     int64  `json:"delta" validate:"required"`
	Reason    string `json:"reason" validate:"required"`
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor := shared.ActorFromContext(r.Context())
	result, err := h.facade.RecordAdjustment(r.Context(), AdjustmentInput{
		ProductID:      req.ProductID,
		Delta:          req.Delta,
		Reason:         req.Reason,
		ActorID:        actor.ID,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

type receiptRequest struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
	Reference string `json:"reference"`
}

func (h *Handler) handleReceipt(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor := shared.ActorFromContext(r.Context())
	result, err := h.facade.ReceivePurchase(r.Context(), ReceiptInput{
		ProductID:      req.ProductID,
		Quantity:       req.Quantity,
		Reference:      reference(req.Reference, "receipt"),
		ActorID:        actor.ID,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor := shared.ActorFromContext(r.Context())
	result, err := h.facade.RecordReturn(r.Context(), ReturnInput{
		ProductID:      req.ProductID,
		Quantity:       req.Quantity,
		Reference:      reference(req.Reference, "return"),
		ActorID:        actor.ID,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

type orderLineRequest struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
	UnitPrice string `json:"unit_price"`
}

type createOrderRequest struct {
	RetailerID      int64              `json:"retailer_id" validate:"required,gt=0"`
	CreditAccountID int64              `json:"credit_account_id"`
	PaymentMethod   string             `json:"payment_method" validate:"required,oneof=cash transfer credit"`
	Lines           []orderLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	lines := make([]OrderLineInput, 0, len(req.Lines))
	for _, l := range req.Lines {
		price := decimal.Zero
		if l.UnitPrice != "" {
			var err error
			price, err = decimal.NewFromString(l.UnitPrice)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid unit_price")
				return
			}
		}
		lines = append(lines, OrderLineInput{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: price})
	}
	actor := shared.ActorFromContext(r.Context())
	order, err := h.facade.CreateOrder(r.Context(), OrderInput{
		RetailerID:      req.RetailerID,
		CreditAccountID: req.CreditAccountID,
		PaymentMethod:   orders.PaymentMethod(req.PaymentMethod),
		Lines:           lines,
		ActorID:         actor.ID,
		IdempotencyKey:  idempotencyKey(r),
	})
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

type transitionRequest struct {
	Target string `json:"target" validate:"required"`
	Notes  string `json:"notes"`
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	var req transitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor := shared.ActorFromContext(r.Context())
	result, err := h.facade.TransitionOrder(r.Context(), TransitionInput{
		OrderID:        orderID,
		Target:         orders.Status(req.Target),
		Notes:          req.Notes,
		ActorID:        actor.ID,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type creditTransactionRequest struct {
	AccountID int64  `json:"account_id" validate:"required,gt=0"`
	Type      string `json:"type" validate:"required,oneof=credit payment debit"`
	Amount    string `json:"amount" validate:"required"`
	Reference string `json:"reference"`
}

func (h *Handler) handleCreditTransaction(w http.ResponseWriter, r *http.Request) {
	var req creditTransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid amount")
		return
	}
	actor := shared.ActorFromContext(r.Context())
	result, err := h.facade.RecordCreditTransaction(r.Context(), CreditInput{
		AccountID:      req.AccountID,
		Type:           credit.TxType(req.Type),
		Amount:         amount,
		Reference:      reference(req.Reference, req.Type),
		ActorID:        actor.ID,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) respondDomainError(w http.ResponseWriter, err error) {
	var insufficient *stock.InsufficientStockError
	var invalidTransition *orders.InvalidTransitionError
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", insufficient.Error())
	case errors.As(err, &invalidTransition):
		httpx.Problem(w, http.StatusConflict, "Invalid Transition", invalidTransition.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.Is(err, shared.ErrContention):
		httpx.Problem(w, http.StatusServiceUnavailable, "Busy", "the resource is contended, retry shortly")
	case errors.Is(err, stock.ErrInvalidDelta), errors.Is(err, stock.ErrInvalidQuantity),
		errors.Is(err, stock.ErrEmptyBatch), errors.Is(err, stock.ErrInvalidSource),
		errors.Is(err, stock.ErrProductRetired),
		errors.Is(err, credit.ErrInvalidAmount), errors.Is(err, credit.ErrInvalidType),
		errors.Is(err, credit.ErrAccountNotActive), errors.Is(err, credit.ErrAccountClosed),
		errors.Is(err, orders.ErrNoLines), errors.Is(err, orders.ErrInvalidLine),
		errors.Is(err, orders.ErrCreditAccountRequired):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Request", err.Error())
	default:
		h.logger.Error("ledger handler", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
