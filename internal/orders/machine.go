package orders

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/lumbung-erp/lumbung-erp/internal/audit"
	"github.com/lumbung-erp/lumbung-erp/internal/credit"
	"github.com/lumbung-erp/lumbung-erp/internal/stock"
)

// TxRepository exposes the transactional order operations the machine needs.
type TxRepository interface {
	GetOrderForUpdate(ctx context.Context, orderID int64) (Order, error)
	InsertOrder(ctx context.Context, o Order) (int64, error)
	InsertLines(ctx context.Context, orderID int64, lines []Line) error
	UpdateOrderStatus(ctx context.Context, orderID int64, status Status, paymentStatus PaymentStatus) error
	RecordAudit(ctx context.Context, e audit.Entry) (int64, error)
}

// Machine validates and executes order status transitions, driving the
// stock and credit ledgers for the transitions that have side effects.
type Machine struct {
	stock  *stock.Ledger
	credit *credit.Ledger
}

// NewMachine constructs the order status machine.
func NewMachine(stockLedger *stock.Ledger, creditLedger *credit.Ledger) *Machine {
	return &Machine{stock: stockLedger, credit: creditLedger}
}

// Transition executes one status change on the caller's transaction. All
// side effects (reservation, release, credit posting, audit) commit with
// the status change or not at all.
func (m *Machine) Transition(ctx context.Context, tx TxRepository, stockTx stock.TxRepository, creditTx credit.TxRepository, input TransitionInput) (TransitionResult, error) {
	order, err := tx.GetOrderForUpdate(ctx, input.OrderID)
	if err != nil {
		return TransitionResult{}, err
	}
	if !CanTransition(order.Status, input.Target) {
		return TransitionResult{}, &InvalidTransitionError{From: order.Status, To: input.Target}
	}

	result := TransitionResult{OrderID: order.ID, From: order.Status, To: input.Target}
	paymentStatus := order.PaymentStatus

	switch {
	case input.Target == StatusConfirmed:
		// Reserve stock for every line as one all-or-nothing batch. A single
		// short line fails the whole confirmation and the order stays pending.
		results, err := m.stock.ApplyBatch(ctx, stockTx, movementInputs(order, stock.SourceOrderReserve, input.ActorID))
		if err != nil {
			return TransitionResult{}, err
		}
		for _, r := range results {
			result.ReservedProducts = append(result.ReservedProducts, r.ProductID)
		}
		result.LowStockProducts = stock.LowStockProducts(results)

	case input.Target == StatusCancelled && StockReserved(order.Status):
		results, err := m.stock.ApplyBatch(ctx, stockTx, movementInputs(order, stock.SourceOrderRelease, input.ActorID))
		if err != nil {
			return TransitionResult{}, err
		}
		for _, r := range results {
			result.ReleasedProducts = append(result.ReleasedProducts, r.ProductID)
		}

	case input.Target == StatusDelivered && order.PaymentMethod == PaymentCredit:
		if order.CreditAccountID == 0 {
			return TransitionResult{}, ErrCreditAccountRequired
		}
		// Goods are already with the retailer; exceeding the limit is a
		// collections signal, not a reason to refuse delivery.
		creditResult, err := m.credit.Apply(ctx, creditTx, credit.TransactionInput{
			AccountID: order.CreditAccountID,
			Type:      credit.TxCredit,
			Amount:    order.Total,
			Reference: fmt.Sprintf("order %d delivery", order.ID),
			ActorID:   input.ActorID,
		})
		if err != nil {
			return TransitionResult{}, err
		}
		result.CreditTransactionID = creditResult.TransactionID
		result.CreditLimitExceeded = creditResult.LimitExceeded
		paymentStatus = PaymentStatusOnCredit
	}

	if err := tx.UpdateOrderStatus(ctx, order.ID, input.Target, paymentStatus); err != nil {
		return TransitionResult{}, fmt.Errorf("orders: update status: %w", err)
	}

	entryID, err := tx.RecordAudit(ctx, audit.Entry{
		ActorID:      input.ActorID,
		Action:       "order:" + string(input.Target),
		ResourceType: "order",
		ResourceID:   strconv.FormatInt(order.ID, 10),
		Before:       map[string]any{"status": string(order.Status)},
		After: map[string]any{
			"status":                string(input.Target),
			"credit_limit_exceeded": result.CreditLimitExceeded,
		},
		Details:  input.Notes,
		Category: audit.CategoryOrder,
		At:       time.Now().UTC(),
	})
	if err != nil {
		return TransitionResult{}, fmt.Errorf("orders: audit transition: %w", err)
	}
	result.AuditEntryID = entryID
	return result, nil
}

// CreateInput describes a new order. Unit prices are snapshotted by the
// caller before the order row is written.
type CreateInput struct {
	RetailerID      int64
	CreditAccountID int64
	PaymentMethod   PaymentMethod
	Lines           []Line
	ActorID         int64
}

// Create inserts a pending order with its lines and computed total.
func (m *Machine) Create(ctx context.Context, tx TxRepository, input CreateInput) (Order, error) {
	if len(input.Lines) == 0 {
		return Order{}, ErrNoLines
	}
	if !input.PaymentMethod.Valid() {
		return Order{}, fmt.Errorf("orders: unknown payment method %q", input.PaymentMethod)
	}
	if input.PaymentMethod == PaymentCredit && input.CreditAccountID == 0 {
		return Order{}, ErrCreditAccountRequired
	}

	order := Order{
		RetailerID:      input.RetailerID,
		CreditAccountID: input.CreditAccountID,
		Status:          StatusPending,
		PaymentMethod:   input.PaymentMethod,
		PaymentStatus:   PaymentStatusUnpaid,
		Lines:           input.Lines,
	}
	for _, line := range input.Lines {
		if line.Quantity <= 0 {
			return Order{}, ErrInvalidLine
		}
		order.Total = order.Total.Add(line.Total())
	}

	id, err := tx.InsertOrder(ctx, order)
	if err != nil {
		return Order{}, fmt.Errorf("orders: insert order: %w", err)
	}
	order.ID = id
	if err := tx.InsertLines(ctx, id, input.Lines); err != nil {
		return Order{}, fmt.Errorf("orders: insert lines: %w", err)
	}

	if _, err := tx.RecordAudit(ctx, audit.Entry{
		ActorID:      input.ActorID,
		Action:       "order:create",
		ResourceType: "order",
		ResourceID:   strconv.FormatInt(id, 10),
		After: map[string]any{
			"status":         string(StatusPending),
			"payment_method": string(input.PaymentMethod),
			"total":          order.Total.String(),
			"lines":          len(input.Lines),
		},
		Category: audit.CategoryOrder,
		At:       time.Now().UTC(),
	}); err != nil {
		return Order{}, fmt.Errorf("orders: audit create: %w", err)
	}
	return order, nil
}

func movementInputs(order Order, source stock.Source, actorID int64) []stock.MovementInput {
	inputs := make([]stock.MovementInput, 0, len(order.Lines))
	for _, line := range order.Lines {
		delta := -line.Quantity
		if source == stock.SourceOrderRelease {
			delta = line.Quantity
		}
		inputs = append(inputs, stock.MovementInput{
			ProductID: line.ProductID,
			Delta:     delta,
			Source:    source,
			Reason:    fmt.Sprintf("order %d %s", order.ID, source),
			ActorID:   actorID,
		})
	}
	return inputs
}
