package audit

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/blake2b"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx. Ledger mutations pass
// their open transaction so the audit row commits with the mutation itself.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Recorder appends entries to the audit log.
type Recorder struct{}

// NewRecorder constructs a Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record persists the entry on the caller's transaction and returns its id.
func (r *Recorder) Record(ctx context.Context, db DBTX, entry Entry) (int64, error) {
	if r == nil {
		return 0, errors.New("audit: recorder not initialised")
	}
	if entry.Action == "" || entry.ResourceType == "" || entry.ResourceID == "" {
		return 0, ErrIncomplete
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	beforeJSON, err := json.Marshal(entry.Before)
	if err != nil {
		return 0, fmt.Errorf("audit: marshal before state: %w", err)
	}
	afterJSON, err := json.Marshal(entry.After)
	if err != nil {
		return 0, fmt.Errorf("audit: marshal after state: %w", err)
	}

	prev, err := lastChecksum(ctx, db, entry.ResourceType, entry.ResourceID)
	if err != nil {
		return 0, err
	}
	entry.Checksum = chain(prev, entry, beforeJSON, afterJSON)

	var id int64
	err = db.QueryRow(ctx, `
		INSERT INTO audit_logs
			(actor_id, action, resource_type, resource_id, before_state, after_state, details, category, checksum, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		entry.ActorID, entry.Action, entry.ResourceType, entry.ResourceID,
		beforeJSON, afterJSON, entry.Details, string(entry.Category), entry.Checksum, entry.At,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("audit: insert entry: %w", err)
	}
	return id, nil
}

// lastChecksum reads the tail of the per-resource chain. The mutation tx
// already holds the resource row lock, so two writers of the same resource
// cannot read the same tail.
func lastChecksum(ctx context.Context, db DBTX, resourceType, resourceID string) (string, error) {
	var checksum string
	err := db.QueryRow(ctx, `
		SELECT checksum FROM audit_logs
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY id DESC LIMIT 1`, resourceType, resourceID).Scan(&checksum)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("audit: read chain tail: %w", err)
	}
	return checksum, nil
}

func chain(prev string, entry Entry, beforeJSON, afterJSON []byte) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(prev))
	fmt.Fprintf(h, "%d|%s|%s|%s|%s|%d", entry.ActorID, entry.Action, entry.ResourceType, entry.ResourceID, entry.Category, entry.At.UnixNano())
	h.Write(beforeJSON)
	h.Write(afterJSON)
	return hex.EncodeToString(h.Sum(nil))
}
