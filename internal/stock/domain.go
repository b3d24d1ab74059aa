package stock

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Source names the business event behind a stock movement.
type Source string

const (
	// SourceSale is a POS sale line.
	SourceSale Source = "sale"
	// SourceAdjustmentAdd is a manual stock increase.
	SourceAdjustmentAdd Source = "adjustment_add"
	// SourceAdjustmentRemove is a manual stock decrease.
	SourceAdjustmentRemove Source = "adjustment_remove"
	// SourcePurchaseReceipt is a received purchase order line.
	SourcePurchaseReceipt Source = "purchase_receipt"
	// SourceReturn is returned goods re-entering stock.
	SourceReturn Source = "return"
	// SourceOrderReserve removes stock on order confirmation.
	SourceOrderReserve Source = "order_reserve"
	// SourceOrderRelease returns reserved stock on cancellation.
	SourceOrderRelease Source = "order_release"
)

var validSources = map[Source]struct{}{
	SourceSale:             {},
	SourceAdjustmentAdd:    {},
	SourceAdjustmentRemove: {},
	SourcePurchaseReceipt:  {},
	SourceReturn:           {},
	SourceOrderReserve:     {},
	SourceOrderRelease:     {},
}

// Valid reports whether the source is a known movement source.
func (s Source) Valid() bool {
	_, ok := validSources[s]
	return ok
}

// Status is derived from quantity and threshold, never stored. Keeping it
// computed removes any chance of the stored status diverging from quantity.
type Status string

const (
	StatusInStock    Status = "in_stock"
	StatusLowStock   Status = "low_stock"
	StatusOutOfStock Status = "out_of_stock"
)

// StatusFor derives the stock status from quantity and minimum threshold.
func StatusFor(quantity, minThreshold int64) Status {
	switch {
	case quantity == 0:
		return StatusOutOfStock
	case quantity <= minThreshold:
		return StatusLowStock
	default:
		return StatusInStock
	}
}

// Product is a catalog item whose quantity only changes via movements.
type Product struct {
	ID           int64
	SKU          string
	Name         string
	Quantity     int64
	MinThreshold int64
	MaxThreshold int64
	UnitCost     decimal.Decimal
	UnitPrice    decimal.Decimal
	Retired      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Status derives the product's stock status.
func (p Product) Status() Status {
	return StatusFor(p.Quantity, p.MinThreshold)
}

// Movement is an immutable record of one signed quantity change.
type Movement struct {
	ID           int64
	ProductID    int64
	Delta        int64
	Source       Source
	Reason       string
	ActorID      int64
	ResultingQty int64
	At           time.Time
}

// MovementInput describes a requested quantity change.
type MovementInput struct {
	ProductID int64
	Delta     int64
	Source    Source
	Reason    string
	ActorID   int64
}

// MovementResult reports the applied movement plus derived signals.
type MovementResult struct {
	MovementID   int64
	ProductID    int64
	NewQuantity  int64
	Status       Status
	LowStock     bool
	AuditEntryID int64
}

// MovementFilter narrows movement history queries.
type MovementFilter struct {
	ProductID int64
	Source    Source
	Page      int
	PerPage   int
}

// Discrepancy reports a product whose quantity disagrees with its movement
// history. Finding one means a bug, not a business condition.
type Discrepancy struct {
	ProductID int64
	Quantity  int64
	SumDeltas int64
}

var (
	// ErrInvalidDelta indicates a zero movement delta.
	ErrInvalidDelta = errors.New("stock: movement delta must be non-zero")
	// ErrInvalidQuantity indicates a zero or negative item quantity.
	ErrInvalidQuantity = errors.New("stock: quantity must be positive")
	// ErrEmptyBatch indicates a movement batch with no lines.
	ErrEmptyBatch = errors.New("stock: empty movement batch")
	// ErrInvalidSource indicates an unknown movement source.
	ErrInvalidSource = errors.New("stock: unknown movement source")
	// ErrProductRetired indicates movements against a retired product.
	ErrProductRetired = errors.New("stock: product is retired")
	// ErrInsufficientStock indicates the movement would drive quantity negative.
	ErrInsufficientStock = errors.New("stock: insufficient stock")
)

// InsufficientStockError carries the deficit detail for the caller.
type InsufficientStockError struct {
	ProductID int64
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("stock: insufficient stock for product %d: requested %d, available %d (short %d)",
		e.ProductID, e.Requested, e.Available, e.Deficit())
}

// Deficit is how many units are missing.
func (e *InsufficientStockError) Deficit() int64 {
	return e.Requested - e.Available
}

// Is allows errors.Is(err, ErrInsufficientStock).
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}
