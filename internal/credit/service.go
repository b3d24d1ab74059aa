package credit

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
	GetAccount(ctx context.Context, accountID int64) (Account, error)
	GetAccountByRetailer(ctx context.Context, retailerID int64) (Account, error)
	Statement(ctx context.Context, filter StatementFilter) ([]Transaction, int, error)
	Discrepancies(ctx context.Context) ([]Discrepancy, error)
}

// Service covers account administration and read queries. Balance mutations
// go through the mutation façade, never through here.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewService builds the credit service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// OpenAccountInput describes an approved credit request.
type OpenAccountInput struct {
	RetailerID   int64
	WholesalerID int64
	Limit        decimal.Decimal
	ActorID      int64
}

// OpenAccount creates an active account with zero balance.
func (s *Service) OpenAccount(ctx context.Context, input OpenAccountInput) (Account, error) {
	if input.RetailerID == 0 || input.WholesalerID == 0 {
		return Account{}, errors.New("credit: retailer and wholesaler required")
	}
	if input.Limit.IsNegative() {
		return Account{}, errors.New("credit: limit must be >= 0")
	}

	account := Account{
		RetailerID:   input.RetailerID,
		WholesalerID: input.WholesalerID,
		Limit:        input.Limit,
		Balance:      decimal.Zero,
		Status:       StatusActive,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertAccount(ctx, account)
		if err != nil {
			return err
		}
		account.ID = id
		_, err = tx.RecordAudit(ctx, audit.Entry{
			ActorID:      input.ActorID,
			Action:       "credit_account:open",
			ResourceType: "credit_account",
			ResourceID:   auditResource(id),
			After: map[string]any{
				"retailer_id": input.RetailerID,
				"limit":       input.Limit.String(),
				"status":      string(StatusActive),
			},
			Category: audit.CategoryAdmin,
			At:       time.Now().UTC(),
		})
		return err
	})
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

// allowed account status transitions
var statusChanges = map[AccountStatus][]AccountStatus{
	StatusActive:    {StatusSuspended, StatusClosed},
	StatusSuspended: {StatusActive, StatusClosed},
	StatusClosed:    {},
}

// SetStatus moves an account between active, suspended and closed. Closed is
// terminal.
func (s *Service) SetStatus(ctx context.Context, accountID int64, target AccountStatus, actorID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		account, err := tx.GetAccountForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		legal := false
		for _, next := range statusChanges[account.Status] {
			if next == target {
				legal = true
				break
			}
		}
		if !legal {
			return ErrInvalidStatusChange
		}
		if err := tx.SetAccountStatus(ctx, accountID, target); err != nil {
			return err
		}
		_, err = tx.RecordAudit(ctx, audit.Entry{
			ActorID:      actorID,
			Action:       "credit_account:status",
			ResourceType: "credit_account",
			ResourceID:   auditResource(accountID),
			Before:       map[string]any{"status": string(account.Status)},
			After:        map[string]any{"status": string(target)},
			Category:     audit.CategoryAdmin,
			At:           time.Now().UTC(),
		})
		return err
	})
}

// GetAccount fetches an account.
func (s *Service) GetAccount(ctx context.Context, accountID int64) (Account, error) {
	return s.repo.GetAccount(ctx, accountID)
}

// AccountForRetailer fetches the account tied to a retailer.
func (s *Service) AccountForRetailer(ctx context.Context, retailerID int64) (Account, error) {
	return s.repo.GetAccountByRetailer(ctx, retailerID)
}

// Statement returns a page of transaction history plus paging metadata.
func (s *Service) Statement(ctx context.Context, filter StatementFilter) ([]Transaction, shared.Pagination, error) {
	if filter.AccountID == 0 {
		return nil, shared.Pagination{}, errors.New("credit: account required")
	}
	transactions, total, err := s.repo.Statement(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return transactions, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// Reconcile reports accounts whose balance disagrees with transaction
// history.
func (s *Service) Reconcile(ctx context.Context) ([]Discrepancy, error) {
	discrepancies, err := s.repo.Discrepancies(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range discrepancies {
		s.logger.Error("credit invariant violation",
			slog.Int64("account_id", d.AccountID),
			slog.String("balance", d.Balance.String()),
			slog.String("sum_applied", d.SumApplied.String()))
	}
	return discrepancies, nil
}
