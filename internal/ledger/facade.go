package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/lumbung-erp/lumbung-erp/internal/credit"
	"github.com/lumbung-erp/lumbung-erp/internal/orders"
	"github.com/lumbung-erp/lumbung-erp/internal/platform/db"
	"github.com/lumbung-erp/lumbung-erp/internal/stock"
)

// IdempotencyPort guards mutations against duplicate submission.
type IdempotencyPort interface {
	Claim(ctx context.Context, key, scope string) error
	Release(ctx context.Context, key string) error
}

// CachePort drops cached quantities after a committed stock write.
type CachePort interface {
	Invalidate(ctx context.Context, productIDs ...int64)
}

// AlertPort pushes post-commit notifications to the job queue.
type AlertPort interface {
	LowStock(ctx context.Context, productIDs []int64, source string) error
}

// Facade is the single entry point for ledger mutations. Every operation
// runs its reads, writes and audit inserts inside one RepeatableRead
// transaction, and retries with bounded backoff when the transaction
// loses to a concurrent writer.
type Facade struct {
	repos        TxRunner
	stockLedger  *stock.Ledger
	creditLedger *credit.Ledger
	machine      *orders.Machine
	idempotency  IdempotencyPort
	cache        CachePort
	alerts       AlertPort
	retry        db.RetryConfig
	logger       *slog.Logger
}

// Config collects the façade's dependencies. Cache, Alerts and
// Idempotency are optional.
type Config struct {
	Repos        TxRunner
	StockLedger  *stock.Ledger
	CreditLedger *credit.Ledger
	Machine      *orders.Machine
	Idempotency  IdempotencyPort
	Cache        CachePort
	Alerts       AlertPort
	Retry        db.RetryConfig
	Logger       *slog.Logger
}

// NewFacade constructs the mutation façade.
func NewFacade(cfg Config) *Facade {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retry := cfg.Retry
	if retry.Attempts <= 0 {
		retry = db.DefaultRetry
	}
	return &Facade{
		repos:        cfg.Repos,
		stockLedger:  cfg.StockLedger,
		creditLedger: cfg.CreditLedger,
		machine:      cfg.Machine,
		idempotency:  cfg.Idempotency,
		cache:        cfg.Cache,
		alerts:       cfg.Alerts,
		retry:        retry,
		logger:       logger,
	}
}

// SaleItem is one line of a point-of-sale transaction.
type SaleItem struct {
	ProductID int64
	Quantity  int64
}

// SaleInput describes a completed sale whose stock must be deducted.
type SaleInput struct {
	Items          []SaleItem
	Reference      string
	ActorID        int64
	IdempotencyKey string
}

// SaleResult reports the movements a sale produced.
type SaleResult struct {
	Movements []stock.MovementResult
	LowStock  []int64
}

// ProcessSale deducts stock for every sale line atomically. One short
// line rejects the whole sale and no quantity changes.
func (f *Facade) ProcessSale(ctx context.Context, input SaleInput) (SaleResult, error) {
	if len(input.Items) == 0 {
		return SaleResult{}, fmt.Errorf("ledger: %w", stock.ErrEmptyBatch)
	}
	movements := make([]stock.MovementInput, 0, len(input.Items))
	for _, item := range input.Items {
		if item.Quantity <= 0 {
			return SaleResult{}, fmt.Errorf("ledger: product %d: %w", item.ProductID, stock.ErrInvalidQuantity)
		}
		movements = append(movements, stock.MovementInput{
			ProductID: item.ProductID,
			Delta:     -item.Quantity,
			Source:    stock.SourceSale,
			Reason:    input.Reference,
			ActorID:   input.ActorID,
		})
	}

	var results []stock.MovementResult
	err := f.run(ctx, input.IdempotencyKey, "sale", func(ctx context.Context, repos TxRepos) error {
		var applyErr error
		results, applyErr = f.stockLedger.ApplyBatch(ctx, repos.Stock, movements)
		return applyErr
	})
	if err != nil {
		return SaleResult{}, err
	}

	lowStock := stock.LowStockProducts(results)
	f.afterStockCommit(ctx, results, lowStock, string(stock.SourceSale))
	return SaleResult{Movements: results, LowStock: lowStock}, nil
}

// AdjustmentInput describes a manual stock correction.
type AdjustmentInput struct {
	ProductID      int64
	Delta          int64
	Reason         string
	ActorID        int64
	IdempotencyKey string
}

// RecordAdjustment applies a manual stock correction in either direction.
func (f *Facade) RecordAdjustment(ctx context.Context, input AdjustmentInput) (stock.MovementResult, error) {
	source := stock.SourceAdjustmentAdd
	if input.Delta < 0 {
		source = stock.SourceAdjustmentRemove
	}
	return f.applyStock(ctx, stock.MovementInput{
		ProductID: input.ProductID,
		Delta:     input.Delta,
		Source:    source,
		Reason:    input.Reason,
		ActorID:   input.ActorID,
	}, input.IdempotencyKey, "adjustment")
}

// ReceiptInput describes goods received against a purchase order.
type ReceiptInput struct {
	ProductID      int64
	Quantity       int64
	Reference      string
	ActorID        int64
	IdempotencyKey string
}

// ReceivePurchase adds received goods to stock.
func (f *Facade) ReceivePurchase(ctx context.Context, input ReceiptInput) (stock.MovementResult, error) {
	if input.Quantity <= 0 {
		return stock.MovementResult{}, fmt.Errorf("ledger: product %d: %w", input.ProductID, stock.ErrInvalidQuantity)
	}
	return f.applyStock(ctx, stock.MovementInput{
		ProductID: input.ProductID,
		Delta:     input.Quantity,
		Source:    stock.SourcePurchaseReceipt,
		Reason:    input.Reference,
		ActorID:   input.ActorID,
	}, input.IdempotencyKey, "purchase_receipt")
}

// ReturnInput describes returned goods re-entering stock.
type ReturnInput struct {
	ProductID      int64
	Quantity       int64
	Reference      string
	ActorID        int64
	IdempotencyKey string
}

// RecordReturn puts returned goods back into stock.
func (f *Facade) RecordReturn(ctx context.Context, input ReturnInput) (stock.MovementResult, error) {
	if input.Quantity <= 0 {
		return stock.MovementResult{}, fmt.Errorf("ledger: product %d: %w", input.ProductID, stock.ErrInvalidQuantity)
	}
	return f.applyStock(ctx, stock.MovementInput{
		ProductID: input.ProductID,
		Delta:     input.Quantity,
		Source:    stock.SourceReturn,
		Reason:    input.Reference,
		ActorID:   input.ActorID,
	}, input.IdempotencyKey, "return")
}

func (f *Facade) applyStock(ctx context.Context, movement stock.MovementInput, key, scope string) (stock.MovementResult, error) {
	var result stock.MovementResult
	err := f.run(ctx, key, scope, func(ctx context.Context, repos TxRepos) error {
		var applyErr error
		result, applyErr = f.stockLedger.Apply(ctx, repos.Stock, movement)
		return applyErr
	})
	if err != nil {
		return stock.MovementResult{}, err
	}

	var lowStock []int64
	if result.LowStock {
		lowStock = []int64{result.ProductID}
	}
	f.afterStockCommit(ctx, []stock.MovementResult{result}, lowStock, scope)
	return result, nil
}

// OrderLineInput is one requested line of a new order. UnitPrice is
// optional; when zero the current catalog price is snapshotted.
type OrderLineInput struct {
	ProductID int64
	Quantity  int64
	UnitPrice decimal.Decimal
}

// OrderInput describes a new order.
type OrderInput struct {
	RetailerID      int64
	CreditAccountID int64
	PaymentMethod   orders.PaymentMethod
	Lines           []OrderLineInput
	ActorID         int64
	IdempotencyKey  string
}

// CreateOrder creates a pending order, snapshotting catalog prices for
// lines that do not carry an agreed price. No stock moves until the
// order is confirmed.
func (f *Facade) CreateOrder(ctx context.Context, input OrderInput) (orders.Order, error) {
	var order orders.Order
	err := f.run(ctx, input.IdempotencyKey, "order_create", func(ctx context.Context, repos TxRepos) error {
		lines := make([]orders.Line, 0, len(input.Lines))
		for _, l := range input.Lines {
			price := l.UnitPrice
			if price.IsZero() {
				product, err := repos.Stock.GetProductForUpdate(ctx, l.ProductID)
				if err != nil {
					return fmt.Errorf("ledger: snapshot price for product %d: %w", l.ProductID, err)
				}
				if product.Retired {
					return fmt.Errorf("ledger: product %d: %w", l.ProductID, stock.ErrProductRetired)
				}
				price = product.UnitPrice
			}
			lines = append(lines, orders.Line{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: price})
		}

		var createErr error
		order, createErr = f.machine.Create(ctx, repos.Orders, orders.CreateInput{
			RetailerID:      input.RetailerID,
			CreditAccountID: input.CreditAccountID,
			PaymentMethod:   input.PaymentMethod,
			Lines:           lines,
			ActorID:         input.ActorID,
		})
		return createErr
	})
	if err != nil {
		return orders.Order{}, err
	}
	return order, nil
}

// TransitionInput moves an order to a new status.
type TransitionInput struct {
	OrderID        int64
	Target         orders.Status
	Notes          string
	ActorID        int64
	IdempotencyKey string
}

// TransitionOrder executes a status transition with its ledger side
// effects: confirmation reserves stock, cancellation releases it, and
// delivery of a credit order posts the charge.
func (f *Facade) TransitionOrder(ctx context.Context, input TransitionInput) (orders.TransitionResult, error) {
	var result orders.TransitionResult
	err := f.run(ctx, input.IdempotencyKey, "order_transition", func(ctx context.Context, repos TxRepos) error {
		var trErr error
		result, trErr = f.machine.Transition(ctx, repos.Orders, repos.Stock, repos.Credit, orders.TransitionInput{
			OrderID: input.OrderID,
			Target:  input.Target,
			Notes:   input.Notes,
			ActorID: input.ActorID,
		})
		return trErr
	})
	if err != nil {
		return orders.TransitionResult{}, err
	}

	touched := append(append([]int64{}, result.ReservedProducts...), result.ReleasedProducts...)
	if f.cache != nil && len(touched) > 0 {
		f.cache.Invalidate(ctx, touched...)
	}
	f.notifyLowStock(ctx, result.LowStockProducts, "order_"+string(input.Target))
	if result.CreditLimitExceeded {
		f.logger.Warn("credit limit exceeded on delivery",
			slog.Int64("order_id", result.OrderID),
			slog.Int64("credit_transaction_id", result.CreditTransactionID))
	}
	return result, nil
}

// CreditInput describes a manual credit ledger posting.
type CreditInput struct {
	AccountID      int64
	Type           credit.TxType
	Amount         decimal.Decimal
	Reference      string
	ActorID        int64
	IdempotencyKey string
}

// RecordCreditTransaction posts a credit, payment or debit directly to
// an account. Limit and overpayment conditions surface as flags on the
// result, never as errors.
func (f *Facade) RecordCreditTransaction(ctx context.Context, input CreditInput) (credit.TransactionResult, error) {
	var result credit.TransactionResult
	err := f.run(ctx, input.IdempotencyKey, "credit_"+string(input.Type), func(ctx context.Context, repos TxRepos) error {
		var applyErr error
		result, applyErr = f.creditLedger.Apply(ctx, repos.Credit, credit.TransactionInput{
			AccountID: input.AccountID,
			Type:      input.Type,
			Amount:    input.Amount,
			Reference: input.Reference,
			ActorID:   input.ActorID,
		})
		return applyErr
	})
	if err != nil {
		return credit.TransactionResult{}, err
	}

	if result.LimitExceeded {
		f.logger.Warn("credit limit exceeded",
			slog.Int64("account_id", result.AccountID),
			slog.String("available", result.Available.String()))
	}
	if result.Overpayment {
		f.logger.Info("overpayment recorded",
			slog.Int64("account_id", result.AccountID),
			slog.String("excess", result.OverpaymentExcess.String()))
	}
	return result, nil
}

// run claims the idempotency key, executes fn transactionally with
// retry, and releases the key when the mutation ultimately fails.
func (f *Facade) run(ctx context.Context, key, scope string, fn func(context.Context, TxRepos) error) error {
	if key != "" && f.idempotency != nil {
		if err := f.idempotency.Claim(ctx, key, scope); err != nil {
			return err
		}
	}

	err := db.WithRetry(ctx, f.retry, func(ctx context.Context) error {
		return f.repos.WithTx(ctx, fn)
	})
	if err != nil {
		if key != "" && f.idempotency != nil {
			if relErr := f.idempotency.Release(ctx, key); relErr != nil {
				f.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", relErr))
			}
		}
		return err
	}
	return nil
}

func (f *Facade) afterStockCommit(ctx context.Context, results []stock.MovementResult, lowStock []int64, source string) {
	if f.cache != nil && len(results) > 0 {
		ids := make([]int64, 0, len(results))
		for _, r := range results {
			ids = append(ids, r.ProductID)
		}
		f.cache.Invalidate(ctx, ids...)
	}
	f.notifyLowStock(ctx, lowStock, source)
}

// notifyLowStock is best-effort: a queue outage never fails a committed
// mutation.
func (f *Facade) notifyLowStock(ctx context.Context, productIDs []int64, source string) {
	if f.alerts == nil || len(productIDs) == 0 {
		return
	}
	if err := f.alerts.LowStock(ctx, productIDs, source); err != nil {
		f.logger.Warn("enqueue low stock alert", slog.Any("error", err))
	}
}
