package docflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocklot/stocklot/internal/ledger"
	"github.com/stocklot/stocklot/internal/masterdata"
	"github.com/stocklot/stocklot/internal/platform/db"
	"github.com/stocklot/stocklot/internal/shared"
)

// Repository provides PostgreSQL backed persistence. Each document type
// has its own header and lines tables sharing one column layout, so the
// SQL differs only in the table names.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type docTables struct {
	header string
	lines  string
}

var tablesByType = map[DocType]docTables{
	DocTypeReceipt:  {header: "receipts", lines: "receipt_lines"},
	DocTypeIssue:    {header: "issues", lines: "issue_lines"},
	DocTypeTransfer: {header: "transfers", lines: "transfer_lines"},
}

func tablesFor(docType DocType) (docTables, error) {
	t, ok := tablesByType[docType]
	if !ok {
		return docTables{}, fmt.Errorf("docflow: unknown document type %q: %w", docType, shared.ErrValidation)
	}
	return t, nil
}

// WithTx wraps the callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{
			tx:      tx,
			lots:    ledger.NewTxStore(tx),
			catalog: masterdata.NewTxDirectory(tx),
		})
	})
}

// GetDocument returns a document and its lines.
func (r *Repository) GetDocument(ctx context.Context, docType DocType, id int64) (Document, []Line, error) {
	t, err := tablesFor(docType)
	if err != nil {
		return Document{}, nil, err
	}
	doc, err := scanDocument(docType, r.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, warehouse_id, COALESCE(dest_warehouse_id, 0), COALESCE(counterparty_id, 0),
		       created_by, COALESCE(approved_by, 0), created_at, note, status, total_value
		FROM %s WHERE id = $1`, t.header), id))
	if err != nil {
		return Document{}, nil, err
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, document_id, product_id, qty, unit_price, line_total, lot_code, expiry_date
		FROM %s WHERE document_id = $1 ORDER BY id`, t.lines), id)
	if err != nil {
		return Document{}, nil, err
	}
	defer rows.Close()
	lines, err := scanLines(rows)
	if err != nil {
		return Document{}, nil, err
	}
	return doc, lines, nil
}

// ListDocuments returns headers of one type, newest first.
func (r *Repository) ListDocuments(ctx context.Context, docType DocType, filter ListFilter) ([]Document, error) {
	t, err := tablesFor(docType)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT id, warehouse_id, COALESCE(dest_warehouse_id, 0), COALESCE(counterparty_id, 0),
		       created_by, COALESCE(approved_by, 0), created_at, note, status, total_value
		FROM %s`, t.header)
	args := []any{}
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY id DESC`
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query += fmt.Sprintf(` LIMIT %d OFFSET %d`, limit, max(filter.Offset, 0))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(docType, rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func scanDocument(docType DocType, row pgx.Row) (Document, error) {
	var doc Document
	var status string
	err := row.Scan(&doc.ID, &doc.WarehouseID, &doc.DestWarehouseID, &doc.CounterpartyID,
		&doc.CreatedBy, &doc.ApprovedBy, &doc.CreatedAt, &doc.Note, &status, &doc.TotalValue)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, fmt.Errorf("docflow: document: %w", shared.ErrNotFound)
		}
		return Document{}, err
	}
	doc.Type = docType
	doc.Status = Status(status)
	return doc, nil
}

func scanLines(rows pgx.Rows) ([]Line, error) {
	var lines []Line
	for rows.Next() {
		var line Line
		var lotCode *string
		var expiry *time.Time
		if err := rows.Scan(&line.ID, &line.DocumentID, &line.ProductID, &line.Qty, &line.UnitPrice, &line.LineTotal, &lotCode, &expiry); err != nil {
			return nil, err
		}
		if lotCode != nil {
			line.Resolution = ResolvedTo(*lotCode, expiry)
		} else {
			line.Resolution = Unresolved()
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

type txRepo struct {
	tx      pgx.Tx
	lots    *ledger.TxStore
	catalog *masterdata.TxDirectory
}

func (r *txRepo) InsertDocument(ctx context.Context, doc Document) (int64, error) {
	t, err := tablesFor(doc.Type)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.tx.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s (warehouse_id, dest_warehouse_id, counterparty_id, created_by, created_at, note, status, total_value)
		VALUES ($1, NULLIF($2, 0::bigint), NULLIF($3, 0::bigint), $4, $5, $6, $7, $8)
		RETURNING id`, t.header),
		doc.WarehouseID, doc.DestWarehouseID, doc.CounterpartyID, doc.CreatedBy, doc.CreatedAt, doc.Note, string(doc.Status), doc.TotalValue).Scan(&id)
	return id, err
}

// GetDocumentForUpdate locks the header row so concurrent transitions on
// the same document serialize.
func (r *txRepo) GetDocumentForUpdate(ctx context.Context, docType DocType, id int64) (Document, []Line, error) {
	t, err := tablesFor(docType)
	if err != nil {
		return Document{}, nil, err
	}
	doc, err := scanDocument(docType, r.tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, warehouse_id, COALESCE(dest_warehouse_id, 0), COALESCE(counterparty_id, 0),
		       created_by, COALESCE(approved_by, 0), created_at, note, status, total_value
		FROM %s WHERE id = $1 FOR UPDATE`, t.header), id))
	if err != nil {
		return Document{}, nil, err
	}
	rows, err := r.tx.Query(ctx, fmt.Sprintf(`
		SELECT id, document_id, product_id, qty, unit_price, line_total, lot_code, expiry_date
		FROM %s WHERE document_id = $1 ORDER BY id`, t.lines), id)
	if err != nil {
		return Document{}, nil, err
	}
	defer rows.Close()
	lines, err := scanLines(rows)
	if err != nil {
		return Document{}, nil, err
	}
	return doc, lines, nil
}

func (r *txRepo) UpdateDocumentHeader(ctx context.Context, doc Document) error {
	t, err := tablesFor(doc.Type)
	if err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET warehouse_id = $2, dest_warehouse_id = NULLIF($3, 0::bigint), counterparty_id = NULLIF($4, 0::bigint), note = $5, total_value = $6
		WHERE id = $1`, t.header),
		doc.ID, doc.WarehouseID, doc.DestWarehouseID, doc.CounterpartyID, doc.Note, doc.TotalValue)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("docflow: document %d: %w", doc.ID, shared.ErrNotFound)
	}
	return nil
}

// SetDocumentStatus moves a document to status. approved_by records the
// approver only; a later cancel keeps it.
func (r *txRepo) SetDocumentStatus(ctx context.Context, docType DocType, id int64, status Status, actorID int64) error {
	t, err := tablesFor(docType)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET status = $2 WHERE id = $1`, t.header)
	args := []any{id, string(status)}
	if status == StatusApproved {
		query = fmt.Sprintf(`UPDATE %s SET status = $2, approved_by = $3 WHERE id = $1`, t.header)
		args = append(args, actorID)
	}
	tag, err := r.tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("docflow: document %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (r *txRepo) DeleteDocument(ctx context.Context, docType DocType, id int64) error {
	t, err := tablesFor(docType)
	if err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, t.header), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("docflow: document %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (r *txRepo) InsertLine(ctx context.Context, docType DocType, line Line) (int64, error) {
	t, err := tablesFor(docType)
	if err != nil {
		return 0, err
	}
	var lotCode *string
	var expiry *time.Time
	if line.Resolution.Resolved() {
		code := line.Resolution.LotCode()
		lotCode = &code
		expiry = line.Resolution.Expiry()
	}
	var id int64
	err = r.tx.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s (document_id, product_id, qty, unit_price, line_total, lot_code, expiry_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`, t.lines),
		line.DocumentID, line.ProductID, line.Qty, line.UnitPrice, line.LineTotal, lotCode, expiry).Scan(&id)
	return id, err
}

func (r *txRepo) DeleteLine(ctx context.Context, docType DocType, lineID int64) error {
	t, err := tablesFor(docType)
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, t.lines), lineID)
	return err
}

func (r *txRepo) DeleteLines(ctx context.Context, docType DocType, documentID int64) error {
	t, err := tablesFor(docType)
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE document_id = $1`, t.lines), documentID)
	return err
}

// Lot ledger delegation

func (r *txRepo) GetLot(ctx context.Context, key ledger.LotKey) (ledger.Lot, error) {
	return r.lots.GetLot(ctx, key)
}

func (r *txRepo) GetLotForUpdate(ctx context.Context, key ledger.LotKey) (ledger.Lot, error) {
	return r.lots.GetLotForUpdate(ctx, key)
}

func (r *txRepo) LotExists(ctx context.Context, key ledger.LotKey) (bool, error) {
	return r.lots.LotExists(ctx, key)
}

func (r *txRepo) InsertLot(ctx context.Context, lot ledger.Lot) error {
	return r.lots.InsertLot(ctx, lot)
}

func (r *txRepo) AddToLot(ctx context.Context, key ledger.LotKey, delta int64) (int64, error) {
	return r.lots.AddToLot(ctx, key, delta)
}

func (r *txRepo) UpsertLot(ctx context.Context, lot ledger.Lot) error {
	return r.lots.UpsertLot(ctx, lot)
}

func (r *txRepo) ListAvailableForUpdate(ctx context.Context, warehouseID, productID int64) ([]ledger.LotQuantity, error) {
	return r.lots.ListAvailableForUpdate(ctx, warehouseID, productID)
}

// Master data delegation

func (r *txRepo) ProductExists(ctx context.Context, id int64) (bool, error) {
	return r.catalog.ProductExists(ctx, id)
}

func (r *txRepo) WarehouseExists(ctx context.Context, id int64) (bool, error) {
	return r.catalog.WarehouseExists(ctx, id)
}

func (r *txRepo) SupplierExists(ctx context.Context, id int64) (bool, error) {
	return r.catalog.SupplierExists(ctx, id)
}

func (r *txRepo) CustomerExists(ctx context.Context, id int64) (bool, error) {
	return r.catalog.CustomerExists(ctx, id)
}

func (r *txRepo) SupplierAuthorized(ctx context.Context, supplierID, productID int64) (bool, error) {
	return r.catalog.SupplierAuthorized(ctx, supplierID, productID)
}

func (r *txRepo) AdjustProductStock(ctx context.Context, productID, delta int64) error {
	return r.catalog.AdjustProductStock(ctx, productID, delta)
}

var _ RepositoryPort = (*Repository)(nil)
var _ TxRepository = (*txRepo)(nil)
