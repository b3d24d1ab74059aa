package stock

import (
	"context"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lumbung-erp/lumbung-erp/internal/audit"
)

func (r *memoryRepo) GetProduct(ctx context.Context, productID int64) (Product, error) {
	return r.GetProductForUpdate(ctx, productID)
}

func (r *memoryRepo) ListProducts(ctx context.Context, includeRetired bool) ([]Product, error) {
	var out []Product
	for _, p := range r.products {
		if p.Retired && !includeRetired {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, int, error) {
	var out []Movement
	for _, m := range r.movements {
		if m.ProductID == filter.ProductID {
			out = append(out, m)
		}
	}
	return out, len(out), nil
}

func (r *memoryRepo) LowStock(ctx context.Context) ([]Product, error) {
	var out []Product
	for _, p := range r.products {
		if !p.Retired && p.Quantity <= p.MinThreshold {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memoryRepo) Discrepancies(ctx context.Context) ([]Discrepancy, error) {
	var out []Discrepancy
	for id, p := range r.products {
		if sum := r.sumDeltas(id); sum != p.Quantity {
			out = append(out, Discrepancy{ProductID: id, Quantity: p.Quantity, SumDeltas: sum})
		}
	}
	return out, nil
}

func newTestService(repo *memoryRepo) *Service {
	return NewService(repo, NewLedger(), slog.Default())
}

func TestCreateProductPostsOpeningStock(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	product, err := svc.CreateProduct(context.Background(), CreateProductInput{
		SKU:          "RICE-5KG",
		Name:         "Rice 5kg",
		Quantity:     30,
		MinThreshold: 10,
		MaxThreshold: 100,
		UnitCost:     decimal.NewFromInt(52000),
		UnitPrice:    decimal.NewFromInt(60000),
		ActorID:      4,
	})
	require.NoError(t, err)
	require.NotZero(t, product.ID)
	require.EqualValues(t, 30, product.Quantity)

	// Opening stock went through the ledger: one movement, invariant holds.
	require.Len(t, repo.movements, 1)
	require.Equal(t, SourceAdjustmentAdd, repo.movements[0].Source)
	require.EqualValues(t, 30, repo.sumDeltas(product.ID))

	discrepancies, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	require.Empty(t, discrepancies)
}

func TestCreateProductValidation(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.CreateProduct(ctx, CreateProductInput{Name: "missing sku"})
	require.ErrorIs(t, err, ErrInvalidProduct)

	_, err = svc.CreateProduct(ctx, CreateProductInput{SKU: "X", Name: "bad thresholds", MinThreshold: 10, MaxThreshold: 5})
	require.ErrorIs(t, err, ErrInvalidThreshold)
}

func TestRetireProduct(t *testing.T) {
	repo := newMemoryRepo(Product{ID: 1, Quantity: 3})
	svc := newTestService(repo)
	ctx := context.Background()

	require.NoError(t, svc.RetireProduct(ctx, 1, 4))
	require.True(t, repo.products[1].Retired)
	require.Len(t, repo.auditEntries, 1)
	require.Equal(t, audit.CategoryAdmin, repo.auditEntries[0].Category)

	// Retiring twice is rejected, and so are movements afterwards.
	require.ErrorIs(t, svc.RetireProduct(ctx, 1, 4), ErrProductRetired)
	_, err := applyOne(t, NewLedger(), repo, MovementInput{ProductID: 1, Delta: 1, Source: SourceReturn, ActorID: 4})
	require.ErrorIs(t, err, ErrProductRetired)
}

func TestReconcileFlagsDrift(t *testing.T) {
	repo := newMemoryRepo(Product{ID: 1, Quantity: 10})
	svc := newTestService(repo)

	// Quantity was never backed by movements: drift of 10.
	discrepancies, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, discrepancies, 1)
	require.EqualValues(t, 10, discrepancies[0].Quantity)
	require.EqualValues(t, 0, discrepancies[0].SumDeltas)
}
