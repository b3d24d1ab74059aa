package ledger

import (
	"context"

	"github.com/lumbung-erp/lumbung-erp/jobs"
)

// JobAlerts enqueues alert tasks on the background queue.
type JobAlerts struct {
	client *jobs.Client
}

// NewJobAlerts wraps the asynq client for the façade.
func NewJobAlerts(client *jobs.Client) *JobAlerts {
	return &JobAlerts{client: client}
}

// LowStock enqueues a low-stock notification task.
func (a *JobAlerts) LowStock(ctx context.Context, productIDs []int64, source string) error {
	_, err := a.client.EnqueueLowStockAlert(ctx, jobs.LowStockPayload{
		ProductIDs: productIDs,
		Source:     source,
	})
	return err
}
