package ledger

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumbung-erp/lumbung-erp/internal/credit"
	"github.com/lumbung-erp/lumbung-erp/internal/orders"
	"github.com/lumbung-erp/lumbung-erp/internal/platform/db"
	"github.com/lumbung-erp/lumbung-erp/internal/stock"
)

// TxRepos bundles the tx-scoped repositories of every ledger. All three
// are bound to the same database transaction, so a mutation that spans
// stock, credit and orders commits or rolls back as one unit.
type TxRepos struct {
	Stock  stock.TxRepository
	Credit credit.TxRepository
	Orders orders.TxRepository
}

// TxRunner opens one transaction and hands fn the bound repositories.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepos) error) error
}

// Repositories is the PostgreSQL TxRunner.
type Repositories struct {
	pool   *pgxpool.Pool
	stock  *stock.Repository
	credit *credit.Repository
	orders *orders.Repository
}

// NewRepositories constructs the shared transaction runner.
func NewRepositories(pool *pgxpool.Pool, stockRepo *stock.Repository, creditRepo *credit.Repository, orderRepo *orders.Repository) *Repositories {
	return &Repositories{pool: pool, stock: stockRepo, credit: creditRepo, orders: orderRepo}
}

// WithTx runs fn in a RepeatableRead transaction shared by all ledgers.
func (r *Repositories) WithTx(ctx context.Context, fn func(context.Context, TxRepos) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, TxRepos{
			Stock:  r.stock.Bind(tx),
			Credit: r.credit.Bind(tx),
			Orders: r.orders.Bind(tx),
		})
	})
}
