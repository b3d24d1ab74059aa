package orders

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusPacked         Status = "packed"
	StatusShipped        Status = "shipped"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
)

// successor maps each status to its single legal next step. Cancellation is
// handled separately: it is reachable from any non-terminal status.
var successor = map[Status]Status{
	StatusPending:        StatusConfirmed,
	StatusConfirmed:      StatusPacked,
	StatusPacked:         StatusShipped,
	StatusShipped:        StatusOutForDelivery,
	StatusOutForDelivery: StatusDelivered,
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Valid reports whether the status is known.
func (s Status) Valid() bool {
	if s == StatusCancelled {
		return true
	}
	_, ok := successor[s]
	return ok || s == StatusDelivered
}

// CanTransition reports whether from -> to is a legal step: either the next
// status in the chain or an explicit cancellation of a non-terminal order.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	return successor[from] == to
}

// StockReserved reports whether stock has been reserved and not yet
// released for an order in the given status.
func StockReserved(s Status) bool {
	switch s {
	case StatusConfirmed, StatusPacked, StatusShipped, StatusOutForDelivery:
		return true
	default:
		return false
	}
}

// PaymentMethod is how the retailer pays.
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentTransfer PaymentMethod = "transfer"
	PaymentCredit   PaymentMethod = "credit"
)

// Valid reports whether the payment method is known.
func (m PaymentMethod) Valid() bool {
	return m == PaymentCash || m == PaymentTransfer || m == PaymentCredit
}

// PaymentStatus tracks settlement, separate from the order lifecycle.
type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "unpaid"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusOnCredit PaymentStatus = "on_credit"
)

// Line is one order line with the unit price frozen at order time.
type Line struct {
	ID        int64
	OrderID   int64
	ProductID int64
	Quantity  int64
	UnitPrice decimal.Decimal
}

// Total returns quantity times unit price.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity))
}

// Order is a retailer order against the wholesaler.
type Order struct {
	ID              int64
	RetailerID      int64
	CreditAccountID int64
	Status          Status
	PaymentMethod   PaymentMethod
	PaymentStatus   PaymentStatus
	Total           decimal.Decimal
	Lines           []Line
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TransitionInput describes a requested status change.
type TransitionInput struct {
	OrderID int64
	Target  Status
	ActorID int64
	Notes   string
}

// TransitionResult reports the executed transition and its side effects.
type TransitionResult struct {
	OrderID             int64
	From                Status
	To                  Status
	ReservedProducts    []int64
	ReleasedProducts    []int64
	LowStockProducts    []int64
	CreditTransactionID int64
	CreditLimitExceeded bool
	AuditEntryID        int64
}

// ListFilter narrows order listings.
type ListFilter struct {
	RetailerID int64
	Status     Status
	Page       int
	PerPage    int
}

var (
	// ErrInvalidTransition indicates a status change outside the machine.
	ErrInvalidTransition = errors.New("orders: invalid transition")
	// ErrNoLines indicates an order without line items.
	ErrNoLines = errors.New("orders: at least one line required")
	// ErrInvalidLine indicates a line with a non-positive quantity.
	ErrInvalidLine = errors.New("orders: line quantity must be positive")
	// ErrCreditAccountRequired indicates a credit-paid order without an account.
	ErrCreditAccountRequired = errors.New("orders: credit account required for credit payment")
)

// InvalidTransitionError carries the rejected pair for the caller.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("orders: invalid transition %s -> %s", e.From, e.To)
}

// Is allows errors.Is(err, ErrInvalidTransition).
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
