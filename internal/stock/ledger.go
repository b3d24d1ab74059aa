package stock

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lumbung-erp/lumbung-erp/internal/audit"
)

// TxRepository exposes the transactional operations the ledger needs. The
// façade opens one transaction per mutation and hands the tx-scoped
// repository in, so quantity read, movement insert, quantity write and audit
// row all commit or roll back together.
type TxRepository interface {
	GetProductForUpdate(ctx context.Context, productID int64) (Product, error)
	UpdateProductQuantity(ctx context.Context, productID, quantity int64) error
	InsertMovement(ctx context.Context, m Movement) (int64, error)
	InsertProduct(ctx context.Context, p Product) (int64, error)
	SetProductRetired(ctx context.Context, productID int64, retired bool) error
	RecordAudit(ctx context.Context, e audit.Entry) (int64, error)
}

// Ledger applies stock movements. It owns no transaction of its own; callers
// supply the tx-scoped repository.
type Ledger struct{}

// NewLedger constructs the stock ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Apply validates and applies a single movement on the caller's transaction.
func (l *Ledger) Apply(ctx context.Context, tx TxRepository, input MovementInput) (MovementResult, error) {
	if input.Delta == 0 {
		return MovementResult{}, ErrInvalidDelta
	}
	if !input.Source.Valid() {
		return MovementResult{}, ErrInvalidSource
	}

	product, err := tx.GetProductForUpdate(ctx, input.ProductID)
	if err != nil {
		return MovementResult{}, err
	}
	if product.Retired {
		return MovementResult{}, ErrProductRetired
	}

	newQty := product.Quantity + input.Delta
	if newQty < 0 {
		return MovementResult{}, &InsufficientStockError{
			ProductID: input.ProductID,
			Requested: -input.Delta,
			Available: product.Quantity,
		}
	}

	now := time.Now().UTC()
	movementID, err := tx.InsertMovement(ctx, Movement{
		ProductID:    input.ProductID,
		Delta:        input.Delta,
		Source:       input.Source,
		Reason:       input.Reason,
		ActorID:      input.ActorID,
		ResultingQty: newQty,
		At:           now,
	})
	if err != nil {
		return MovementResult{}, fmt.Errorf("stock: insert movement: %w", err)
	}
	if err := tx.UpdateProductQuantity(ctx, input.ProductID, newQty); err != nil {
		return MovementResult{}, fmt.Errorf("stock: update quantity: %w", err)
	}

	entryID, err := tx.RecordAudit(ctx, audit.Entry{
		ActorID:      input.ActorID,
		Action:       "stock:" + string(input.Source),
		ResourceType: "product",
		ResourceID:   strconv.FormatInt(input.ProductID, 10),
		Before: map[string]any{
			"quantity": product.Quantity,
			"status":   string(product.Status()),
		},
		After: map[string]any{
			"quantity":    newQty,
			"status":      string(StatusFor(newQty, product.MinThreshold)),
			"movement_id": movementID,
			"delta":       input.Delta,
		},
		Details:  input.Reason,
		Category: audit.CategoryInventory,
		At:       now,
	})
	if err != nil {
		return MovementResult{}, fmt.Errorf("stock: audit movement: %w", err)
	}

	status := StatusFor(newQty, product.MinThreshold)
	return MovementResult{
		MovementID:   movementID,
		ProductID:    input.ProductID,
		NewQuantity:  newQty,
		Status:       status,
		LowStock:     status != StatusInStock,
		AuditEntryID: entryID,
	}, nil
}

// ApplyBatch applies all movements or none. Inputs are sorted by product ID
// so concurrent batches over overlapping products take row locks in the same
// order and cannot deadlock each other.
func (l *Ledger) ApplyBatch(ctx context.Context, tx TxRepository, inputs []MovementInput) ([]MovementResult, error) {
	if len(inputs) == 0 {
		return nil, ErrEmptyBatch
	}
	ordered := make([]MovementInput, len(inputs))
	copy(ordered, inputs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ProductID < ordered[j].ProductID
	})

	results := make([]MovementResult, 0, len(ordered))
	for _, input := range ordered {
		result, err := l.Apply(ctx, tx, input)
		if err != nil {
			return nil, fmt.Errorf("product %d: %w", input.ProductID, err)
		}
		results = append(results, result)
	}
	return results, nil
}

// LowStockProducts extracts the products a batch left at or below threshold.
func LowStockProducts(results []MovementResult) []int64 {
	var ids []int64
	for _, r := range results {
		if r.LowStock {
			ids = append(ids, r.ProductID)
		}
	}
	return ids
}

// DescribeBatch summarises a batch for audit details, e.g. "3 movements: 101, 104, 207".
func DescribeBatch(results []MovementResult) string {
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, strconv.FormatInt(r.ProductID, 10))
	}
	return fmt.Sprintf("%d movements: %s", len(results), strings.Join(ids, ", "))
}
