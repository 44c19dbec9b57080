package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/larder-app/larder/internal/stock"
)

// expiryScanActor is recorded on alerts opened or resolved by the scan.
const expiryScanActor = "scheduler"

// NewExpiryScanHandler builds the Asynq handler for TaskStockExpiryScan.
// The scan walks every active record inside (or past) the expiry window and
// re-runs classification so time-driven status flips happen without waiting
// for the next stock movement. Individual record failures are logged and do
// not fail the task: the next scheduled run picks them up again.
func NewExpiryScanHandler(svc *stock.Service, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ExpiryScanPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}

		records, err := svc.ListExpiring(ctx, payload.WindowDays)
		if err != nil {
			return err
		}

		refreshed := 0
		for _, rec := range records {
			if _, err := svc.RefreshStatus(ctx, rec.ID, expiryScanActor); err != nil {
				logger.Warn("expiry scan refresh",
					slog.String("record_id", rec.ID),
					slog.Any("error", err))
				continue
			}
			refreshed++
		}

		logger.Info("expiry scan complete",
			slog.Int("candidates", len(records)),
			slog.Int("refreshed", refreshed))
		return nil
	}
}
