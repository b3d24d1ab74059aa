package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads audit entries from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type TimelineQuery struct {
	ResourceType string
	Category     string
	ActorID      int64
	From         time.Time
	To           time.Time
	Offset       int
	Limit        int
}

// Timeline returns entries ordered by timestamp descending.
func (r *Repository) Timeline(ctx context.Context, q TimelineQuery) ([]Entry, error) {
	var conditions []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q.ResourceType != "" {
		conditions = append(conditions, "resource_type = "+arg(q.ResourceType))
	}
	if q.Category != "" {
		conditions = append(conditions, "category = "+arg(q.Category))
	}
	if q.ActorID != 0 {
		conditions = append(conditions, "actor_id = "+arg(q.ActorID))
	}
	if !q.From.IsZero() {
		conditions = append(conditions, "occurred_at >= "+arg(q.From))
	}
	if !q.To.IsZero() {
		conditions = append(conditions, "occurred_at <= "+arg(q.To))
	}

	query := `SELECT id, actor_id, action, resource_type, resource_id, before_state, after_state, details, category, checksum, occurred_at FROM audit_logs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY occurred_at DESC, id DESC"
	if q.Limit > 0 {
		query += " LIMIT " + arg(q.Limit)
	}
	if q.Offset > 0 {
		query += " OFFSET " + arg(q.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query timeline: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var beforeJSON, afterJSON []byte
		var category string
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.ResourceType, &e.ResourceID, &beforeJSON, &afterJSON, &e.Details, &category, &e.Checksum, &e.At); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		e.Category = Category(category)
		if len(beforeJSON) > 0 {
			_ = json.Unmarshal(beforeJSON, &e.Before)
		}
		if len(afterJSON) > 0 {
			_ = json.Unmarshal(afterJSON, &e.After)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
