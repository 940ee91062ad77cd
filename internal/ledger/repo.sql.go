package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocklot/stocklot/internal/shared"
)

// Store provides read-only ledger queries outside a posting transaction.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ListByWarehouse returns every non-empty lot held at a warehouse.
func (s *Store) ListByWarehouse(ctx context.Context, warehouseID int64) ([]Lot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT warehouse_id, product_id, lot_code, qty, expiry_date
		FROM stock_lots
		WHERE warehouse_id = $1 AND qty > 0
		ORDER BY product_id, expiry_date ASC NULLS LAST, lot_code`, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLots(rows)
}

// ListByProduct returns every non-empty lot of a product across warehouses.
func (s *Store) ListByProduct(ctx context.Context, productID int64) ([]Lot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT warehouse_id, product_id, lot_code, qty, expiry_date
		FROM stock_lots
		WHERE product_id = $1 AND qty > 0
		ORDER BY warehouse_id, expiry_date ASC NULLS LAST, lot_code`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLots(rows)
}

func scanLots(rows pgx.Rows) ([]Lot, error) {
	var lots []Lot
	for rows.Next() {
		var lot Lot
		if err := rows.Scan(&lot.WarehouseID, &lot.ProductID, &lot.LotCode, &lot.Qty, &lot.Expiry); err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

// TxStore exposes ledger mutations bound to an open transaction. Posting
// a document must lock every touched row before checking quantities, so
// the locked read and the delta live on the same pgx.Tx.
type TxStore struct {
	tx pgx.Tx
}

// NewTxStore wraps an open transaction.
func NewTxStore(tx pgx.Tx) *TxStore {
	return &TxStore{tx: tx}
}

// GetLot reads a ledger row without locking it.
func (s *TxStore) GetLot(ctx context.Context, key LotKey) (Lot, error) {
	return s.getLot(ctx, key, false)
}

// GetLotForUpdate reads a ledger row and locks it for the transaction.
func (s *TxStore) GetLotForUpdate(ctx context.Context, key LotKey) (Lot, error) {
	return s.getLot(ctx, key, true)
}

func (s *TxStore) getLot(ctx context.Context, key LotKey, lock bool) (Lot, error) {
	query := `SELECT warehouse_id, product_id, lot_code, qty, expiry_date FROM stock_lots WHERE warehouse_id = $1 AND product_id = $2 AND lot_code = $3`
	if lock {
		query += ` FOR UPDATE`
	}
	var lot Lot
	err := s.tx.QueryRow(ctx, query, key.WarehouseID, key.ProductID, key.LotCode).
		Scan(&lot.WarehouseID, &lot.ProductID, &lot.LotCode, &lot.Qty, &lot.Expiry)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lot{}, fmt.Errorf("ledger: lot %s at warehouse %d: %w", key.LotCode, key.WarehouseID, shared.ErrNotFound)
		}
		return Lot{}, err
	}
	return lot, nil
}

// LotExists reports whether a ledger row exists for the key, regardless
// of quantity.
func (s *TxStore) LotExists(ctx context.Context, key LotKey) (bool, error) {
	var one int
	err := s.tx.QueryRow(ctx, `SELECT 1 FROM stock_lots WHERE warehouse_id = $1 AND product_id = $2 AND lot_code = $3`, key.WarehouseID, key.ProductID, key.LotCode).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// InsertLot creates a fresh ledger row. A duplicate key surfaces as a
// Conflict so a racing receipt of the same lot cannot merge silently.
func (s *TxStore) InsertLot(ctx context.Context, lot Lot) error {
	_, err := s.tx.Exec(ctx, `
		INSERT INTO stock_lots (warehouse_id, product_id, lot_code, qty, expiry_date, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`,
		lot.WarehouseID, lot.ProductID, lot.LotCode, lot.Qty, lot.Expiry)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("ledger: lot %s already exists at warehouse %d: %w", lot.LotCode, lot.WarehouseID, shared.ErrConflict)
		}
		return err
	}
	return nil
}

// AddToLot applies a signed delta to an existing row. The guard keeps a
// racing delta from driving the quantity negative even when the caller's
// check passed.
func (s *TxStore) AddToLot(ctx context.Context, key LotKey, delta int64) (int64, error) {
	var newQty int64
	err := s.tx.QueryRow(ctx, `
		UPDATE stock_lots
		SET qty = qty + $4, updated_at = NOW()
		WHERE warehouse_id = $1 AND product_id = $2 AND lot_code = $3 AND qty + $4 >= 0
		RETURNING qty`,
		key.WarehouseID, key.ProductID, key.LotCode, delta).Scan(&newQty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("ledger: delta %+d on lot %s at warehouse %d rejected: %w", delta, key.LotCode, key.WarehouseID, shared.ErrConflict)
		}
		return 0, err
	}
	return newQty, nil
}

// UpsertLot applies a delta if the row exists, otherwise creates it with
// the given quantity. The incoming expiry wins on an existing row, so
// editing an approved receipt to correct an expiry date reaches the
// ledger instead of stopping at the line.
func (s *TxStore) UpsertLot(ctx context.Context, lot Lot) error {
	_, err := s.tx.Exec(ctx, `
		INSERT INTO stock_lots (warehouse_id, product_id, lot_code, qty, expiry_date, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (warehouse_id, product_id, lot_code)
		DO UPDATE SET qty = stock_lots.qty + EXCLUDED.qty, expiry_date = EXCLUDED.expiry_date, updated_at = NOW()`,
		lot.WarehouseID, lot.ProductID, lot.LotCode, lot.Qty, lot.Expiry)
	return err
}

// ListAvailableForUpdate returns and locks every non-empty lot of a
// product at a warehouse, ordered the way the FEFO allocator consumes
// them.
func (s *TxStore) ListAvailableForUpdate(ctx context.Context, warehouseID, productID int64) ([]LotQuantity, error) {
	rows, err := s.tx.Query(ctx, `
		SELECT lot_code, qty, expiry_date
		FROM stock_lots
		WHERE warehouse_id = $1 AND product_id = $2 AND qty > 0
		ORDER BY expiry_date ASC NULLS LAST, lot_code ASC
		FOR UPDATE`, warehouseID, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lots []LotQuantity
	for rows.Next() {
		var lot LotQuantity
		if err := rows.Scan(&lot.LotCode, &lot.Qty, &lot.Expiry); err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}
