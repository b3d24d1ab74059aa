package stock

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

// Handler wires catalog and read endpoints. Quantity mutations live on the
// ledger façade routes, not here.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	reader   *Reader
	validate *validator.Validate
}

// NewHandler constructs the stock handler.
func NewHandler(logger *slog.Logger, service *Service, reader *Reader) *Handler {
	return &Handler{logger: logger, service: service, reader: reader, validate: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/products", h.handleListProducts)
	r.Post("/products", h.handleCreateProduct)
	r.Get("/products/{id}", h.handleGetProduct)
	r.Post("/products/{id}/retire", h.handleRetireProduct)
	r.Get("/products/{id}/quantity", h.handleQuantity)
	r.Get("/products/{id}/movements", h.handleMovements)
	r.Get("/low-stock", h.handleLowStock)
}

type productResponse struct {
	ID           int64  `json:"id"`
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	Quantity     int64  `json:"quantity"`
	MinThreshold int64  `json:"min_threshold"`
	MaxThreshold int64  `json:"max_threshold"`
	UnitCost     string `json:"unit_cost"`
	UnitPrice    string `json:"unit_price"`
	Status       string `json:"status"`
	Retired      bool   `json:"retired"`
}

func toProductResponse(p Product) productResponse {
	return productResponse{
		ID:           p.ID,
		SKU:          p.SKU,
		Name:         p.Name,
		Quantity:     p.Quantity,
		MinThreshold: p.MinThreshold,
		MaxThreshold: p.MaxThreshold,
		UnitCost:     p.UnitCost.String(),
		UnitPrice:    p.UnitPrice.String(),
		Status:       string(p.Status()),
		Retired:      p.Retired,
	}
}

type createProductRequest struct {
	SKU          string `json:"sku" validate:"required"`
	Name         string `json:"name" validate:"required"`
	Quantity     int64  `json:"quantity" validate:"gte=0"`
	MinThreshold int64  `json:"min_threshold" validate:"gte=0"`
	MaxThreshold int64  `json:"max_threshold" validate:"gte=0"`
	UnitCost     string `json:"unit_cost"`
	UnitPrice    string `json:"unit_price"`
}

func idParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func parseAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

func (h *Handler) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	unitCost, err := parseAmount(req.UnitCost)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid unit_cost")
		return
	}
	unitPrice, err := parseAmount(req.UnitPrice)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid unit_price")
		return
	}

	actor := shared.ActorFromContext(r.Context())
	product, err := h.service.CreateProduct(r.Context(), CreateProductInput{
		SKU:          req.SKU,
		Name:         req.Name,
		Quantity:     req.Quantity,
		MinThreshold: req.MinThreshold,
		MaxThreshold: req.MaxThreshold,
		UnitCost:     unitCost,
		UnitPrice:    unitPrice,
		ActorID:      actor.ID,
	})
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toProductResponse(product))
}

func (h *Handler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	product, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toProductResponse(product))
}

func (h *Handler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	includeRetired := r.URL.Query().Get("include_retired") == "true"
	products, err := h.service.ListProducts(r.Context(), includeRetired)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, toProductResponse(p))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": out})
}

func (h *Handler) handleRetireProduct(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	actor := shared.ActorFromContext(r.Context())
	if err := h.service.RetireProduct(r.Context(), id, actor.ID); err != nil {
		h.respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleQuantity(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	qty, err := h.reader.Quantity(r.Context(), id)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"product_id": id, "quantity": qty})
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	movements, paging, err := h.service.Movements(r.Context(), MovementFilter{
		ProductID: id,
		Source:    Source(q.Get("source")),
		Page:      page,
		PerPage:   perPage,
	})
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements, "paging": paging})
}

func (h *Handler) handleLowStock(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.LowStock(r.Context())
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, toProductResponse(p))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": out})
}

func (h *Handler) respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrProductRetired), errors.Is(err, ErrInvalidProduct), errors.Is(err, ErrInvalidThreshold), errors.Is(err, ErrInvalidDelta):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Product", err.Error())
	default:
		h.logger.Error("stock handler", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
