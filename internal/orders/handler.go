package orders

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lumbung-erp/lumbung-erp/internal/platform/httpx"
	"github.com/lumbung-erp/lumbung-erp/internal/shared"
)

// Reader is the read-side port for order queries.
type Reader interface {
	Get(ctx context.Context, orderID int64) (Order, error)
	List(ctx context.Context, filter ListFilter) ([]Order, int, error)
}

// Handler wires read endpoints. Creation and transitions go through the
// ledger façade routes.
type Handler struct {
	logger *slog.Logger
	repo   Reader
}

// NewHandler constructs the orders handler.
func NewHandler(logger *slog.Logger, repo Reader) *Handler {
	return &Handler{logger: logger, repo: repo}
}

// MountRoutes registers order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	order, err := h.repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("orders get", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	retailerID, _ := strconv.ParseInt(q.Get("retailer_id"), 10, 64)
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	filter := ListFilter{
		RetailerID: retailerID,
		Status:     Status(q.Get("status")),
		Page:       page,
		PerPage:    perPage,
	}
	result, total, err := h.repo.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("orders list", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"orders": result,
		"paging": shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}
