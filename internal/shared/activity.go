package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ActivityLog represents a record stored in activity_logs.
type ActivityLog struct {
	UserID      int64
	Description string
	At          time.Time
}

// ActivityLogger writes records into activity_logs.
type ActivityLogger struct {
	pool *pgxpool.Pool
}

// NewActivityLogger returns a new ActivityLogger.
func NewActivityLogger(pool *pgxpool.Pool) *ActivityLogger {
	return &ActivityLogger{pool: pool}
}

// Record persists the log entry.
func (l *ActivityLogger) Record(ctx context.Context, log ActivityLog) error {
	if l == nil {
		return errors.New("activity logger not initialised")
	}
	if log.Description == "" {
		return errors.New("activity log requires a description")
	}
	_, err := l.pool.Exec(ctx, `INSERT INTO activity_logs (user_id, description, occurred_at) VALUES ($1, $2, COALESCE(NULLIF($3, '0001-01-01 00:00:00'::timestamptz), NOW()))`, log.UserID, log.Description, log.At)
	return err
}

// DeleteOlderThan removes activity records older than the cutoff and
// returns the number of rows removed.
func (l *ActivityLogger) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if l == nil {
		return 0, errors.New("activity logger not initialised")
	}
	tag, err := l.pool.Exec(ctx, `DELETE FROM activity_logs WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
