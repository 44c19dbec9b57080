package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStockExpiryScan re-classifies records whose expiry window moved.
	TaskStockExpiryScan = "stock:expiry_scan"
)

// ExpiryScanPayload carries scheduling metadata for the expiry scan.
type ExpiryScanPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
	WindowDays   int       `json:"window_days"`
}

// NewExpiryScanTask constructs an Asynq task for the periodic expiry scan.
func NewExpiryScanTask(at time.Time, windowDays int) (*asynq.Task, error) {
	payload := ExpiryScanPayload{ScheduledFor: at, WindowDays: windowDays}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockExpiryScan, body, asynq.Queue(QueueDefault)), nil
}
