package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/stocklot/stocklot/internal/jobs"
	"github.com/stocklot/stocklot/internal/shared"
)

// ActivityCleanupJob prunes activity log entries past the retention window.
type ActivityCleanupJob struct {
	Activity *shared.ActivityLogger
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewActivityCleanupJob initialises the cleanup handler.
func NewActivityCleanupJob(activity *shared.ActivityLogger, logger *slog.Logger, metrics *jobmetrics.Metrics) *ActivityCleanupJob {
	return &ActivityCleanupJob{
		Activity: activity,
		Logger:   logger,
		Metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the cleanup.
func (j *ActivityCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Activity == nil {
		return errors.New("activity cleanup: handler not configured")
	}
	var payload ActivityCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RetentionDays <= 0 {
		payload.RetentionDays = 90
	}

	tracker := j.metrics().Track(TaskActivityCleanup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	cutoff := j.now().AddDate(0, 0, -payload.RetentionDays)
	removed, err := j.Activity.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		resultErr = err
		j.logger().Error("activity cleanup failed", slog.Any("error", err))
		return resultErr
	}
	j.logger().Info("activity cleanup finished",
		slog.Int("retention_days", payload.RetentionDays),
		slog.Int64("removed", removed),
	)
	return nil
}

func (j *ActivityCleanupJob) metrics() *jobmetrics.Metrics {
	return j.Metrics
}

func (j *ActivityCleanupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *ActivityCleanupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
