package jobs

import (
	"context"
	"fmt"

	"github.com/sitestock/sitestock/internal/ledger"
)

// LedgerAlertSink adapts the asynq client to the ledger's alert port,
// turning low-stock alerts into queued tasks.
type LedgerAlertSink struct {
	client    *Client
	directory ledger.Directory
}

// NewLedgerAlertSink constructs the sink. Directory may be nil, in
// which case numeric fallback names are used.
func NewLedgerAlertSink(client *Client, directory ledger.Directory) *LedgerAlertSink {
	return &LedgerAlertSink{client: client, directory: directory}
}

// Notify enqueues a low-stock alert task.
func (s *LedgerAlertSink) Notify(ctx context.Context, alert ledger.StockAlert) error {
	payload := LowStockPayload{
		ScopeID:      alert.Scope.ReportID(),
		ScopeName:    alert.Scope.String(),
		MaterialID:   alert.MaterialID,
		MaterialName: fmt.Sprintf("Material %d", alert.MaterialID),
		OnHand:       alert.OnHand.String(),
		ReorderLevel: alert.ReorderLevel.String(),
	}
	if s.directory != nil {
		if names, err := s.directory.MaterialNames(ctx); err == nil {
			if name, ok := names[alert.MaterialID]; ok {
				payload.MaterialName = name
			}
		}
		if !alert.Scope.IsGeneral() {
			if names, err := s.directory.ProjectNames(ctx); err == nil {
				if name, ok := names[alert.Scope.ProjectID]; ok {
					payload.ScopeName = name
				}
			}
		}
	}
	_, err := s.client.EnqueueLowStock(ctx, payload)
	return err
}

var _ ledger.AlertSink = (*LedgerAlertSink)(nil)
