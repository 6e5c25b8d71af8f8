package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/sitestock/sitestock/internal/jobs"
	"github.com/sitestock/sitestock/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeLowStock is the task type for low-stock alert delivery.
	TaskTypeLowStock = "stock:low_alert"
	// TaskTypeIdempotencyCleanup prunes expired idempotency keys.
	TaskTypeIdempotencyCleanup = "ledger:idempotency_cleanup"
)

// idempotencyRetention is how long processed keys are kept before cleanup.
const idempotencyRetention = 48 * time.Hour

// LowStockPayload describes a partition whose on-hand balance fell
// below the material's reorder level.
type LowStockPayload struct {
	ScopeID      int64  `json:"scope_id"`
	ScopeName    string `json:"scope_name"`
	MaterialID   int64  `json:"material_id"`
	MaterialName string `json:"material_name"`
	OnHand       string `json:"on_hand"`
	ReorderLevel string `json:"reorder_level"`
}

// NewLowStockTask constructs an Asynq task.
func NewLowStockTask(payload LowStockPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeLowStock, data), nil
}

// NewIdempotencyCleanupTask constructs the periodic cleanup task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskTypeIdempotencyCleanup, nil)
}

// NewLowStockHandler returns the handler processing TaskTypeLowStock
// tasks. Delivery is a structured log line plus an alert counter; the
// original system surfaced these on an operator console.
func NewLowStockHandler(logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track(TaskTypeLowStock)
		var payload LowStockPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			_ = tracker.End(err)
			return asynq.SkipRetry
		}
		logger.Warn("low stock alert",
			slog.Int64("scope_id", payload.ScopeID),
			slog.String("scope", payload.ScopeName),
			slog.Int64("material_id", payload.MaterialID),
			slog.String("material", payload.MaterialName),
			slog.String("on_hand", payload.OnHand),
			slog.String("reorder_level", payload.ReorderLevel))
		metrics.AddAlert("low_stock")
		return tracker.End(nil)
	}
}

// NewIdempotencyCleanupHandler returns the handler pruning expired
// idempotency keys.
func NewIdempotencyCleanupHandler(store *shared.IdempotencyStore, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track(TaskTypeIdempotencyCleanup)
		return tracker.End(store.Cleanup(ctx, idempotencyRetention))
	}
}
