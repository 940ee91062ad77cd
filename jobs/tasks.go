package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStockIntegrityScan reconciles product aggregates with lot rows.
	TaskStockIntegrityScan = "stock:integrity_scan"
	// TaskActivityCleanup prunes old activity log entries.
	TaskActivityCleanup = "activity:cleanup"
)

// StockIntegrityPayload carries scheduling metadata for an integrity scan.
type StockIntegrityPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
	DocumentID   int64     `json:"document_id,omitempty"`
	DocumentType string    `json:"document_type,omitempty"`
}

// NewStockIntegrityTask constructs an Asynq task for a stock integrity scan.
func NewStockIntegrityTask(payload StockIntegrityPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockIntegrityScan, body, asynq.Queue(QueueDefault)), nil
}

// ActivityCleanupPayload configures the activity log retention job.
type ActivityCleanupPayload struct {
	RetentionDays int `json:"retention_days"`
}

// NewActivityCleanupTask constructs an Asynq task for activity log cleanup.
func NewActivityCleanupTask(retentionDays int) (*asynq.Task, error) {
	body, err := json.Marshal(ActivityCleanupPayload{RetentionDays: retentionDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskActivityCleanup, body, asynq.Queue(QueueDefault)), nil
}
