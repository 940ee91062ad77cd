package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/stocklot/stocklot/internal/jobs"
)

// StockIntegrityJob compares product aggregates against the lot ledger.
type StockIntegrityJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewStockIntegrityJob initialises the integrity scan handler.
func NewStockIntegrityJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *StockIntegrityJob {
	return &StockIntegrityJob{
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

type stockDiscrepancy struct {
	ProductID int64
	SKU       string
	Aggregate int64
	LotSum    int64
}

// Handle executes the integrity scan.
func (j *StockIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("stock integrity: handler not configured")
	}
	var payload StockIntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := j.now()
	tracker := j.metrics().Track(TaskStockIntegrityScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	if payload.DocumentID > 0 {
		logger = logger.With(
			slog.String("document_type", payload.DocumentType),
			slog.Int64("document_id", payload.DocumentID),
		)
	}
	logger.Info("starting stock integrity scan")

	discrepancies, err := j.scan(ctx)
	if err != nil {
		resultErr = err
		logger.Error("scan failed", slog.Any("error", err))
		return resultErr
	}

	for _, d := range discrepancies {
		j.metrics().AddDiscrepancies(d.ProductID, 1)
		logger.Warn("stock discrepancy detected",
			slog.Int64("product_id", d.ProductID),
			slog.String("sku", d.SKU),
			slog.Int64("aggregate", d.Aggregate),
			slog.Int64("lot_sum", d.LotSum),
		)
	}
	logger.Info("stock integrity scan finished",
		slog.Int("discrepancies", len(discrepancies)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (j *StockIntegrityJob) scan(ctx context.Context) ([]stockDiscrepancy, error) {
	const query = `
		SELECT p.id, p.sku, p.total_qty, COALESCE(SUM(sl.qty), 0) AS lot_sum
		FROM products p
		LEFT JOIN stock_lots sl ON sl.product_id = p.id
		GROUP BY p.id, p.sku, p.total_qty
		HAVING p.total_qty <> COALESCE(SUM(sl.qty), 0)
		ORDER BY p.id`
	rows, err := j.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []stockDiscrepancy
	for rows.Next() {
		var d stockDiscrepancy
		if err := rows.Scan(&d.ProductID, &d.SKU, &d.Aggregate, &d.LotSum); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (j *StockIntegrityJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return nil
}

func (j *StockIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *StockIntegrityJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
