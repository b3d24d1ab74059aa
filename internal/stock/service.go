package stock

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lumbung-erp/lumbung-erp/internal/audit"
	"github.com/lumbung-erp/lumbung-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProduct(ctx context.Context, productID int64) (Product, error)
	ListProducts(ctx context.Context, includeRetired bool) ([]Product, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, int, error)
	LowStock(ctx context.Context) ([]Product, error)
	Discrepancies(ctx context.Context) ([]Discrepancy, error)
}

// Service covers the catalog side of stock: product admin and read queries.
// Quantity mutations go through the mutation façade, never through here.
type Service struct {
	repo   RepositoryPort
	ledger *Ledger
	logger *slog.Logger
}

// NewService builds the stock service.
func NewService(repo RepositoryPort, ledger *Ledger, logger *slog.Logger) *Service {
	return &Service{repo: repo, ledger: ledger, logger: logger}
}

// CreateProductInput describes a new catalog entry.
type CreateProductInput struct {
	SKU          string
	Name         string
	Quantity     int64
	MinThreshold int64
	MaxThreshold int64
	UnitCost     decimal.Decimal
	UnitPrice    decimal.Decimal
	ActorID      int64
}

var (
	// ErrInvalidProduct indicates a rejected catalog entry.
	ErrInvalidProduct = errors.New("stock: sku and name required")
	// ErrInvalidThreshold indicates inconsistent stock thresholds.
	ErrInvalidThreshold = errors.New("stock: thresholds must satisfy 0 <= min <= max")
)

// CreateProduct inserts a catalog entry. Opening stock is posted as a
// movement so the sum-of-deltas invariant holds from the first row.
func (s *Service) CreateProduct(ctx context.Context, input CreateProductInput) (Product, error) {
	if input.SKU == "" || input.Name == "" {
		return Product{}, ErrInvalidProduct
	}
	if input.Quantity < 0 {
		return Product{}, ErrInvalidDelta
	}
	if input.MinThreshold < 0 || (input.MaxThreshold > 0 && input.MaxThreshold < input.MinThreshold) {
		return Product{}, ErrInvalidThreshold
	}
	if input.UnitCost.IsNegative() || input.UnitPrice.IsNegative() {
		return Product{}, errors.New("stock: unit cost and price must be >= 0")
	}

	product := Product{
		SKU:          input.SKU,
		Name:         input.Name,
		MinThreshold: input.MinThreshold,
		MaxThreshold: input.MaxThreshold,
		UnitCost:     input.UnitCost,
		UnitPrice:    input.UnitPrice,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertProduct(ctx, product)
		if err != nil {
			return err
		}
		product.ID = id
		if input.Quantity > 0 {
			result, err := s.ledger.Apply(ctx, tx, MovementInput{
				ProductID: id,
				Delta:     input.Quantity,
				Source:    SourceAdjustmentAdd,
				Reason:    "opening stock",
				ActorID:   input.ActorID,
			})
			if err != nil {
				return err
			}
			product.Quantity = result.NewQuantity
			return nil
		}
		_, err = tx.RecordAudit(ctx, audit.Entry{
			ActorID:      input.ActorID,
			Action:       "product:create",
			ResourceType: "product",
			ResourceID:   auditResource(id),
			After: map[string]any{
				"sku":      product.SKU,
				"name":     product.Name,
				"quantity": int64(0),
			},
			Category: audit.CategoryAdmin,
			At:       time.Now().UTC(),
		})
		return err
	})
	if err != nil {
		return Product{}, err
	}
	return product, nil
}

// RetireProduct soft-retires a product; history stays queryable forever.
func (s *Service) RetireProduct(ctx context.Context, productID, actorID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		product, err := tx.GetProductForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		if product.Retired {
			return ErrProductRetired
		}
		if err := tx.SetProductRetired(ctx, productID, true); err != nil {
			return err
		}
		_, err = tx.RecordAudit(ctx, audit.Entry{
			ActorID:      actorID,
			Action:       "product:retire",
			ResourceType: "product",
			ResourceID:   auditResource(productID),
			Before:       map[string]any{"retired": false},
			After:        map[string]any{"retired": true},
			Category:     audit.CategoryAdmin,
			At:           time.Now().UTC(),
		})
		return err
	})
}

// GetProduct fetches a product.
func (s *Service) GetProduct(ctx context.Context, productID int64) (Product, error) {
	return s.repo.GetProduct(ctx, productID)
}

// ListProducts lists the catalog.
func (s *Service) ListProducts(ctx context.Context, includeRetired bool) ([]Product, error) {
	return s.repo.ListProducts(ctx, includeRetired)
}

// Movements returns a page of movement history plus paging metadata.
func (s *Service) Movements(ctx context.Context, filter MovementFilter) ([]Movement, shared.Pagination, error) {
	if filter.ProductID == 0 {
		return nil, shared.Pagination{}, errors.New("stock: product required")
	}
	movements, total, err := s.repo.ListMovements(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return movements, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// LowStock lists products at or below their minimum threshold.
func (s *Service) LowStock(ctx context.Context) ([]Product, error) {
	return s.repo.LowStock(ctx)
}

// Reconcile reports products whose quantity disagrees with movement history.
func (s *Service) Reconcile(ctx context.Context) ([]Discrepancy, error) {
	discrepancies, err := s.repo.Discrepancies(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range discrepancies {
		s.logger.Error("stock invariant violation",
			slog.Int64("product_id", d.ProductID),
			slog.Int64("quantity", d.Quantity),
			slog.Int64("sum_deltas", d.SumDeltas))
	}
	return discrepancies, nil
}
