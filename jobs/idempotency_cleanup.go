package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/larder-app/larder/internal/shared"
)

// TaskIdempotencyCleanup prunes processed idempotency keys past retention.
const TaskIdempotencyCleanup = "stock:idempotency_cleanup"

// IdempotencyCleanupPayload sets the retention window for one cleanup run.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// NewIdempotencyCleanupHandler builds the Asynq handler for the cleanup task.
func NewIdempotencyCleanupHandler(store *shared.IdempotencyStore, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload IdempotencyCleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		retention := payload.Retention
		if retention <= 0 {
			retention = 30 * 24 * time.Hour
		}
		if err := store.Cleanup(ctx, retention); err != nil {
			return err
		}
		logger.Info("idempotency cleanup complete", slog.Duration("retention", retention))
		return nil
	}
}
