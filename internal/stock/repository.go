package stock

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumbung-erp/lumbung-erp/internal/audit"
	"github.com/lumbung-erp/lumbung-erp/internal/platform/db"
	"github.com/lumbung-erp/lumbung-erp/internal/shared"
)

// Repository persists products and movements in PostgreSQL.
type Repository struct {
	pool     *pgxpool.Pool
	recorder *audit.Recorder
}

// NewRepository constructs the stock repository.
func NewRepository(pool *pgxpool.Pool, recorder *audit.Recorder) *Repository {
	return &Repository{pool: pool, recorder: recorder}
}

// WithTx runs fn against a tx-scoped repository inside one transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, recorder: r.recorder})
	})
}

// Bind scopes the repository to a transaction owned by the caller, so
// stock writes can share a transaction with other ledgers.
func (r *Repository) Bind(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx, recorder: r.recorder}
}

type txRepo struct {
	tx       pgx.Tx
	recorder *audit.Recorder
}

const productColumns = `id, sku, name, quantity, min_threshold, max_threshold, unit_cost, unit_price, retired, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Quantity, &p.MinThreshold, &p.MaxThreshold, &p.UnitCost, &p.UnitPrice, &p.Retired, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, shared.ErrNotFound
	}
	if err != nil {
		return Product{}, fmt.Errorf("stock: scan product: %w", err)
	}
	return p, nil
}

func (t *txRepo) GetProductForUpdate(ctx context.Context, productID int64) (Product, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, productID)
	return scanProduct(row)
}

func (t *txRepo) UpdateProductQuantity(ctx context.Context, productID, quantity int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE products SET quantity = $2, updated_at = NOW() WHERE id = $1`, productID, quantity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO stock_movements (product_id, delta, source, reason, actor_id, resulting_qty, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		m.ProductID, m.Delta, string(m.Source), m.Reason, m.ActorID, m.ResultingQty, m.At,
	).Scan(&id)
	return id, err
}

func (t *txRepo) InsertProduct(ctx context.Context, p Product) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO products (sku, name, quantity, min_threshold, max_threshold, unit_cost, unit_price, retired, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false, NOW(), NOW())
		RETURNING id`,
		p.SKU, p.Name, p.Quantity, p.MinThreshold, p.MaxThreshold, p.UnitCost, p.UnitPrice,
	).Scan(&id)
	return id, err
}

func (t *txRepo) SetProductRetired(ctx context.Context, productID int64, retired bool) error {
	tag, err := t.tx.Exec(ctx, `UPDATE products SET retired = $2, updated_at = NOW() WHERE id = $1`, productID, retired)
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

// GetProduct fetches a product without locking.
func (r *Repository) GetProduct(ctx context.Context, productID int64) (Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, productID)
	return scanProduct(row)
}

// ListProducts lists catalog products, optionally including retired ones.
func (r *Repository) ListProducts(ctx context.Context, includeRetired bool) ([]Product, error) {
	query := `SELECT ` + productColumns + ` FROM products`
	if !includeRetired {
		query += ` WHERE NOT retired`
	}
	query += ` ORDER BY id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("stock: list products: %w", err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// ListMovements returns one page of a product's movement history, newest
// first, with the total row count for paging.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, int, error) {
	args := []any{filter.ProductID}
	where := `WHERE product_id = $1`
	if filter.Source != "" {
		args = append(args, string(filter.Source))
		where += fmt.Sprintf(` AND source = $%d`, len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM stock_movements `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("stock: count movements: %w", err)
	}

	p := shared.NewPagination(filter.Page, filter.PerPage, total)
	args = append(args, p.PerPage, p.Offset())
	query := fmt.Sprintf(`
		SELECT id, product_id, delta, source, reason, actor_id, resulting_qty, occurred_at
		FROM stock_movements %s
		ORDER BY occurred_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("stock: list movements: %w", err)
	}
	defer rows.Close()

	var movements []Movement
	for rows.Next() {
		var m Movement
		var source string
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Delta, &source, &m.Reason, &m.ActorID, &m.ResultingQty, &m.At); err != nil {
			return nil, 0, fmt.Errorf("stock: scan movement: %w", err)
		}
		m.Source = Source(source)
		movements = append(movements, m)
	}
	return movements, total, rows.Err()
}

// LowStock lists live products at or below their minimum threshold.
func (r *Repository) LowStock(ctx context.Context) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE NOT retired AND quantity <= min_threshold ORDER BY quantity, id`)
	if err != nil {
		return nil, fmt.Errorf("stock: list low stock: %w", err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// Discrepancies compares each product's quantity against the sum of its
// movement deltas. Any row returned is an invariant violation.
func (r *Repository) Discrepancies(ctx context.Context) ([]Discrepancy, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.quantity, COALESCE(SUM(m.delta), 0) AS sum_deltas
		FROM products p
		LEFT JOIN stock_movements m ON m.product_id = p.id
		GROUP BY p.id, p.quantity
		HAVING p.quantity <> COALESCE(SUM(m.delta), 0)
		ORDER BY p.id`)
	if err != nil {
		return nil, fmt.Errorf("stock: reconcile: %w", err)
	}
	defer rows.Close()

	var out []Discrepancy
	for rows.Next() {
		var d Discrepancy
		if err := rows.Scan(&d.ProductID, &d.Quantity, &d.SumDeltas); err != nil {
			return nil, fmt.Errorf("stock: scan discrepancy: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// auditResource formats a product id for audit entries.
func auditResource(productID int64) string {
	return strconv.FormatInt(productID, 10)
}
