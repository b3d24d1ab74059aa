package credit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lumbung-erp/lumbung-erp/internal/audit"
)

// TxRepository exposes the transactional operations the ledger needs. The
// façade supplies a tx-scoped instance so balance read, transaction insert,
// balance write and audit row commit as one unit.
type TxRepository interface {
	GetAccountForUpdate(ctx context.Context, accountID int64) (Account, error)
	UpdateAccountBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error
	InsertTransaction(ctx context.Context, t Transaction) (int64, error)
	InsertAccount(ctx context.Context, a Account) (int64, error)
	SetAccountStatus(ctx context.Context, accountID int64, status AccountStatus) error
	RecordAudit(ctx context.Context, e audit.Entry) (int64, error)
}

// Ledger applies credit transactions on a caller-supplied transaction.
type Ledger struct{}

// NewLedger constructs the credit ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Apply validates and applies a transaction. Exceeding the limit and
// overpaying are reported as flags on the result, never silently clamped
// away and never turned into errors; the status check on credit is the one
// hard precondition.
func (l *Ledger) Apply(ctx context.Context, tx TxRepository, input TransactionInput) (TransactionResult, error) {
	if !input.Type.Valid() {
		return TransactionResult{}, ErrInvalidType
	}
	if !input.Amount.IsPositive() {
		return TransactionResult{}, ErrInvalidAmount
	}

	account, err := tx.GetAccountForUpdate(ctx, input.AccountID)
	if err != nil {
		return TransactionResult{}, err
	}
	switch input.Type {
	case TxCredit:
		if account.Status != StatusActive {
			return TransactionResult{}, ErrAccountNotActive
		}
	case TxDebit:
		// Fees may still accrue on suspended accounts.
		if account.Status == StatusClosed {
			return TransactionResult{}, ErrAccountClosed
		}
	case TxPayment:
		// A suspended or closed account can always be paid down.
	}

	result := TransactionResult{AccountID: input.AccountID}
	applied := input.Amount
	newBalance := account.Balance

	switch input.Type {
	case TxCredit, TxDebit:
		newBalance = account.Balance.Add(input.Amount)
		if newBalance.GreaterThan(account.Limit) {
			result.LimitExceeded = true
		}
	case TxPayment:
		newBalance = account.Balance.Sub(input.Amount)
		if newBalance.IsNegative() {
			result.Overpayment = true
			result.OverpaymentExcess = newBalance.Neg()
			applied = account.Balance
			newBalance = decimal.Zero
		}
	}

	now := time.Now().UTC()
	txID, err := tx.InsertTransaction(ctx, Transaction{
		AccountID:        input.AccountID,
		Type:             input.Type,
		Amount:           input.Amount,
		Applied:          applied,
		Reference:        input.Reference,
		ActorID:          input.ActorID,
		ResultingBalance: newBalance,
		At:               now,
	})
	if err != nil {
		return TransactionResult{}, fmt.Errorf("credit: insert transaction: %w", err)
	}
	if err := tx.UpdateAccountBalance(ctx, input.AccountID, newBalance); err != nil {
		return TransactionResult{}, fmt.Errorf("credit: update balance: %w", err)
	}

	entryID, err := tx.RecordAudit(ctx, audit.Entry{
		ActorID:      input.ActorID,
		Action:       "credit:" + string(input.Type),
		ResourceType: "credit_account",
		ResourceID:   strconv.FormatInt(input.AccountID, 10),
		Before: map[string]any{
			"balance":   account.Balance.String(),
			"available": account.Available().String(),
		},
		After: map[string]any{
			"balance":        newBalance.String(),
			"available":      account.Limit.Sub(newBalance).String(),
			"transaction_id": txID,
			"limit_exceeded": result.LimitExceeded,
			"overpayment":    result.Overpayment,
		},
		Details:  input.Reference,
		Category: audit.CategoryCredit,
		At:       now,
	})
	if err != nil {
		return TransactionResult{}, fmt.Errorf("credit: audit transaction: %w", err)
	}

	result.TransactionID = txID
	result.NewBalance = newBalance
	result.Available = account.Limit.Sub(newBalance)
	result.AuditEntryID = entryID
	return result, nil
}
