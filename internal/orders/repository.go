package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumbung-erp/lumbung-erp/internal/audit"
	"github.com/lumbung-erp/lumbung-erp/internal/platform/db"
	"github.com/lumbung-erp/lumbung-erp/internal/shared"
)

// Repository persists orders in PostgreSQL.
type Repository struct {
	pool     *pgxpool.Pool
	recorder *audit.Recorder
}

// NewRepository constructs the orders repository.
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

type rowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const orderColumns = `id, retailer_id, credit_account_id, status, payment_method, payment_status, total, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	var status, method, payStatus string
	err := row.Scan(&o.ID, &o.RetailerID, &o.CreditAccountID, &status, &method, &payStatus, &o.Total, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, shared.ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("orders: scan order: %w", err)
	}
	o.Status = Status(status)
	o.PaymentMethod = PaymentMethod(method)
	o.PaymentStatus = PaymentStatus(payStatus)
	return o, nil
}

func loadLines(ctx context.Context, q rowQuerier, orderID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, order_id, product_id, quantity, unit_price FROM order_lines WHERE order_id = $1 ORDER BY product_id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("orders: load lines: %w", err)
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.Quantity, &l.UnitPrice); err != nil {
			return nil, fmt.Errorf("orders: scan line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (t *txRepo) GetOrderForUpdate(ctx context.Context, orderID int64) (Order, error) {
	order, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
	if err != nil {
		return Order{}, err
	}
	order.Lines, err = loadLines(ctx, t.tx, orderID)
	return order, err
}

func (t *txRepo) InsertOrder(ctx context.Context, o Order) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO orders (retailer_id, credit_account_id, status, payment_method, payment_status, total, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING id`,
		o.RetailerID, o.CreditAccountID, string(o.Status), string(o.PaymentMethod), string(o.PaymentStatus), o.Total,
	).Scan(&id)
	return id, err
}

func (t *txRepo) InsertLines(ctx context.Context, orderID int64, lines []Line) error {
	for _, line := range lines {
		_, err := t.tx.Exec(ctx, `
			INSERT INTO order_lines (order_id, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4)`,
			orderID, line.ProductID, line.Quantity, line.UnitPrice)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) UpdateOrderStatus(ctx context.Context, orderID int64, status Status, paymentStatus PaymentStatus) error {
	tag, err := t.tx.Exec(ctx, `UPDATE orders SET status = $2, payment_status = $3, updated_at = NOW() WHERE id = $1`,
		orderID, string(status), string(paymentStatus))
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

// Get fetches an order with its lines, without locking.
func (r *Repository) Get(ctx context.Context, orderID int64) (Order, error) {
	order, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if err != nil {
		return Order{}, err
	}
	order.Lines, err = loadLines(ctx, r.pool, orderID)
	return order, err
}

// List returns one page of orders plus the total row count.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Order, int, error) {
	var conditions []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	where := ""
	if filter.RetailerID != 0 {
		conditions = append(conditions, "retailer_id = "+arg(filter.RetailerID))
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = "+arg(string(filter.Status)))
	}
	for i, c := range conditions {
		if i == 0 {
			where = " WHERE " + c
		} else {
			where += " AND " + c
		}
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("orders: count: %w", err)
	}

	p := shared.NewPagination(filter.Page, filter.PerPage, total)
	query := `SELECT ` + orderColumns + ` FROM orders` + where +
		` ORDER BY created_at DESC, id DESC LIMIT ` + arg(p.PerPage) + ` OFFSET ` + arg(p.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("orders: list: %w", err)
	}
	defer rows.Close()

	var result []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, o)
	}
	return result, total, rows.Err()
}
