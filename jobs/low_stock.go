package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	jobmetrics "github.com/lumbung-erp/lumbung-erp/internal/jobs"
	"github.com/lumbung-erp/lumbung-erp/internal/stock"
)

// LowStockJob turns low-stock signals into an operator-facing report.
type LowStockJob struct {
	stock   *stock.Service
	logger  *slog.Logger
	printer *message.Printer
	metrics *jobmetrics.Metrics
}

// NewLowStockJob constructs the low-stock alert handler.
func NewLowStockJob(stockService *stock.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockJob {
	return &LowStockJob{
		stock:   stockService,
		logger:  logger,
		printer: message.NewPrinter(language.English),
		metrics: metrics,
	}
}

// Handle fulfils the asynq.HandlerFunc contract. It re-reads current
// quantities rather than trusting the payload: stock may have been
// replenished between enqueue and processing.
func (j *LowStockJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track("low_stock_alert")

	var payload LowStockPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		j.logger.Error("low stock payload", slog.Any("error", err))
		return tracker.End(asynq.SkipRetry)
	}

	products, err := j.stock.LowStock(ctx)
	if err != nil {
		return tracker.End(err)
	}
	if len(products) == 0 {
		j.logger.Info("low stock alert resolved before processing",
			slog.String("source", payload.Source),
			slog.Int("signalled", len(payload.ProductIDs)))
		return tracker.End(nil)
	}

	var report strings.Builder
	for _, p := range products {
		report.WriteString(j.printer.Sprintf("%s (%s): %d on hand, minimum %d\n",
			p.Name, p.SKU, p.Quantity, p.MinThreshold))
	}
	j.logger.Warn("low stock report",
		slog.String("source", payload.Source),
		slog.Int("products", len(products)),
		slog.String("report", report.String()))
	return tracker.End(nil)
}
