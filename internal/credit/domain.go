package credit

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// TxType names the direction of a credit transaction.
type TxType string

const (
	// TxCredit raises the balance: goods taken on credit.
	TxCredit TxType = "credit"
	// TxPayment lowers the balance: retailer pays down debt.
	TxPayment TxType = "payment"
	// TxDebit raises the balance for fees and charges.
	TxDebit TxType = "debit"
)

// Valid reports whether the transaction type is known.
func (t TxType) Valid() bool {
	return t == TxCredit || t == TxPayment || t == TxDebit
}

// AccountStatus is the lifecycle state of a credit account.
type AccountStatus string

const (
	StatusActive    AccountStatus = "active"
	StatusSuspended AccountStatus = "suspended"
	StatusClosed    AccountStatus = "closed"
)

// Account is a wholesaler-issued credit line for one retailer. Balance is
// the amount owed and only ever changes via transactions.
type Account struct {
	ID           int64
	RetailerID   int64
	WholesalerID int64
	Limit        decimal.Decimal
	Balance      decimal.Decimal
	Status       AccountStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Available returns limit minus balance. Negative means the account is
// over limit, which the ledger flags but never hides.
func (a Account) Available() decimal.Decimal {
	return a.Limit.Sub(a.Balance)
}

// Transaction is an immutable record of one balance change. Amount is the
// requested amount; Applied is the portion that actually moved the balance
// (they differ only for overpayments, which clamp the balance at zero).
type Transaction struct {
	ID               int64
	AccountID        int64
	Type             TxType
	Amount           decimal.Decimal
	Applied          decimal.Decimal
	Reference        string
	ActorID          int64
	ResultingBalance decimal.Decimal
	At               time.Time
}

// SignedApplied returns the applied amount with its sign: positive for
// credit/debit, negative for payment.
func (t Transaction) SignedApplied() decimal.Decimal {
	if t.Type == TxPayment {
		return t.Applied.Neg()
	}
	return t.Applied
}

// TransactionInput describes a requested balance change.
type TransactionInput struct {
	AccountID int64
	Type      TxType
	Amount    decimal.Decimal
	Reference string
	ActorID   int64
}

// TransactionResult reports the applied transaction and its business
// signals. Signals are decisions for downstream policy, not failures.
type TransactionResult struct {
	TransactionID     int64
	AccountID         int64
	NewBalance        decimal.Decimal
	Available         decimal.Decimal
	LimitExceeded     bool
	Overpayment       bool
	OverpaymentExcess decimal.Decimal
	AuditEntryID      int64
}

// StatementFilter narrows transaction history queries.
type StatementFilter struct {
	AccountID int64
	Type      TxType
	Page      int
	PerPage   int
}

// Discrepancy reports an account whose balance disagrees with its
// transaction history.
type Discrepancy struct {
	AccountID  int64
	Balance    decimal.Decimal
	SumApplied decimal.Decimal
}

var (
	// ErrInvalidAmount indicates a zero or negative transaction amount.
	ErrInvalidAmount = errors.New("credit: amount must be positive")
	// ErrInvalidType indicates an unknown transaction type.
	ErrInvalidType = errors.New("credit: unknown transaction type")
	// ErrAccountNotActive indicates a credit transaction against a suspended or closed account.
	ErrAccountNotActive = errors.New("credit: account not active")
	// ErrAccountClosed indicates a debit against a closed account.
	ErrAccountClosed = errors.New("credit: account closed")
	// ErrInvalidStatusChange indicates an unsupported account status transition.
	ErrInvalidStatusChange = errors.New("credit: invalid account status change")
)
