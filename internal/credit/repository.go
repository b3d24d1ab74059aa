package credit

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lumbung-erp/lumbung-erp/internal/audit"
	"github.com/lumbung-erp/lumbung-erp/internal/platform/db"
	"github.com/lumbung-erp/lumbung-erp/internal/shared"
)

// Repository persists credit accounts and transactions in PostgreSQL.
type Repository struct {
	pool     *pgxpool.Pool
	recorder *audit.Recorder
}

// NewRepository constructs the credit repository.
func NewRepository(pool *pgxpool.Pool, recorder *audit.Recorder) *Repository {
	return &Repository{pool: pool, recorder: recorder}
}

// WithTx runs fn against a tx-scoped repository inside one transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, recorder: r.recorder})
	})
}

// Bind scopes the repository to a transaction owned by the caller.
func (r *Repository) Bind(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx, recorder: r.recorder}
}

type txRepo struct {
	tx       pgx.Tx
	recorder *audit.Recorder
}

const accountColumns = `id, retailer_id, wholesaler_id, credit_limit, balance, status, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	var status string
	err := row.Scan(&a.ID, &a.RetailerID, &a.WholesalerID, &a.Limit, &a.Balance, &status, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, shared.ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("credit: scan account: %w", err)
	}
	a.Status = AccountStatus(status)
	return a, nil
}

func (t *txRepo) GetAccountForUpdate(ctx context.Context, accountID int64) (Account, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM credit_accounts WHERE id = $1 FOR UPDATE`, accountID)
	return scanAccount(row)
}

func (t *txRepo) UpdateAccountBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `UPDATE credit_accounts SET balance = $2, updated_at = NOW() WHERE id = $1`, accountID, balance)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) InsertTransaction(ctx context.Context, tr Transaction) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO credit_transactions (account_id, tx_type, amount, applied, reference, actor_id, resulting_balance, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		tr.AccountID, string(tr.Type), tr.Amount, tr.Applied, tr.Reference, tr.ActorID, tr.ResultingBalance, tr.At,
	).Scan(&id)
	return id, err
}

func (t *txRepo) InsertAccount(ctx context.Context, a Account) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO credit_accounts (retailer_id, wholesaler_id, credit_limit, balance, status, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, NOW(), NOW())
		RETURNING id`,
		a.RetailerID, a.WholesalerID, a.Limit, string(StatusActive),
	).Scan(&id)
	return id, err
}

func (t *txRepo) SetAccountStatus(ctx context.Context, accountID int64, status AccountStatus) error {
	tag, err := t.tx.Exec(ctx, `UPDATE credit_accounts SET status = $2, updated_at = NOW() WHERE id = $1`, accountID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) RecordAudit(ctx context.Context, e audit.Entry) (int64, error) {
	return t.recorder.Record(ctx, t.tx, e)
}

// GetAccount fetches an account without locking.
func (r *Repository) GetAccount(ctx context.Context, accountID int64) (Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM credit_accounts WHERE id = $1`, accountID)
	return scanAccount(row)
}

// GetAccountByRetailer fetches the account tied to a retailer.
func (r *Repository) GetAccountByRetailer(ctx context.Context, retailerID int64) (Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM credit_accounts WHERE retailer_id = $1`, retailerID)
	return scanAccount(row)
}

// Statement returns one page of an account's transaction history, newest
// first, with the total row count.
func (r *Repository) Statement(ctx context.Context, filter StatementFilter) ([]Transaction, int, error) {
	args := []any{filter.AccountID}
	where := `WHERE account_id = $1`
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		where += fmt.Sprintf(` AND tx_type = $%d`, len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM credit_transactions `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("credit: count transactions: %w", err)
	}

	p := shared.NewPagination(filter.Page, filter.PerPage, total)
	args = append(args, p.PerPage, p.Offset())
	query := fmt.Sprintf(`
		SELECT id, account_id, tx_type, amount, applied, reference, actor_id, resulting_balance, occurred_at
		FROM credit_transactions %s
		ORDER BY occurred_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("credit: list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []Transaction
	for rows.Next() {
		var tr Transaction
		var txType string
		if err := rows.Scan(&tr.ID, &tr.AccountID, &txType, &tr.Amount, &tr.Applied, &tr.Reference, &tr.ActorID, &tr.ResultingBalance, &tr.At); err != nil {
			return nil, 0, fmt.Errorf("credit: scan transaction: %w", err)
		}
		tr.Type = TxType(txType)
		transactions = append(transactions, tr)
	}
	return transactions, total, rows.Err()
}

// Discrepancies compares each account's balance against the signed sum of
// its applied transaction amounts. Any row returned is an invariant
// violation.
func (r *Repository) Discrepancies(ctx context.Context) ([]Discrepancy, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.balance,
			COALESCE(SUM(CASE WHEN t.tx_type = 'payment' THEN -t.applied ELSE t.applied END), 0) AS sum_applied
		FROM credit_accounts a
		LEFT JOIN credit_transactions t ON t.account_id = a.id
		GROUP BY a.id, a.balance
		HAVING a.balance <> COALESCE(SUM(CASE WHEN t.tx_type = 'payment' THEN -t.applied ELSE t.applied END), 0)
		ORDER BY a.id`)
	if err != nil {
		return nil, fmt.Errorf("credit: reconcile: %w", err)
	}
	defer rows.Close()

	var out []Discrepancy
	for rows.Next() {
		var d Discrepancy
		if err := rows.Scan(&d.AccountID, &d.Balance, &d.SumApplied); err != nil {
			return nil, fmt.Errorf("credit: scan discrepancy: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func auditResource(accountID int64) string {
	return strconv.FormatInt(accountID, 10)
}
