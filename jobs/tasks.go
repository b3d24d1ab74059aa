package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault carries ad-hoc tasks enqueued by the API.
	QueueDefault = "default"
	// QueueMaintenance carries scheduled integrity and cleanup work.
	QueueMaintenance = "maintenance"

	// TaskLowStockAlert notifies operations that products crossed their
	// minimum threshold during a mutation.
	TaskLowStockAlert = "stock:low_stock_alert"
	// TaskLedgerReconcile recomputes ledger balances from movement and
	// transaction history and reports drift.
	TaskLedgerReconcile = "ledger:reconcile"
	// TaskIdempotencyCleanup expires old idempotency claims.
	TaskIdempotencyCleanup = "ledger:idempotency_cleanup"
)

// LowStockPayload names the products that crossed their threshold.
type LowStockPayload struct {
	ProductIDs []int64 `json:"product_ids"`
	Source     string  `json:"source"`
}

// NewLowStockTask constructs the alert task for the default queue.
func NewLowStockTask(payload LowStockPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("jobs: marshal low stock payload: %w", err)
	}
	return asynq.NewTask(TaskLowStockAlert, data, asynq.Queue(QueueDefault)), nil
}

// NewLedgerReconcileTask constructs the scheduled reconciliation task.
func NewLedgerReconcileTask() *asynq.Task {
	return asynq.NewTask(TaskLedgerReconcile, nil, asynq.Queue(QueueMaintenance))
}

// NewIdempotencyCleanupTask constructs the scheduled cleanup task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil, asynq.Queue(QueueMaintenance))
}
