package masterdata

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stocklot/stocklot/internal/shared"
)

// TxDirectory exposes master-data checks bound to an open transaction so
// that document posting can validate references under the same snapshot
// it mutates.
type TxDirectory struct {
	tx pgx.Tx
}

// NewTxDirectory wraps an open transaction.
func NewTxDirectory(tx pgx.Tx) *TxDirectory {
	return &TxDirectory{tx: tx}
}

func (d *TxDirectory) exists(ctx context.Context, query string, id int64) (bool, error) {
	var one int
	err := d.tx.QueryRow(ctx, query, id).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ProductExists reports whether the product is present in the catalog.
func (d *TxDirectory) ProductExists(ctx context.Context, id int64) (bool, error) {
	return d.exists(ctx, `SELECT 1 FROM products WHERE id = $1`, id)
}

// WarehouseExists reports whether the warehouse is present.
func (d *TxDirectory) WarehouseExists(ctx context.Context, id int64) (bool, error) {
	return d.exists(ctx, `SELECT 1 FROM warehouses WHERE id = $1`, id)
}

// SupplierExists reports whether the supplier is present.
func (d *TxDirectory) SupplierExists(ctx context.Context, id int64) (bool, error) {
	return d.exists(ctx, `SELECT 1 FROM suppliers WHERE id = $1`, id)
}

// CustomerExists reports whether the customer is present.
func (d *TxDirectory) CustomerExists(ctx context.Context, id int64) (bool, error) {
	return d.exists(ctx, `SELECT 1 FROM customers WHERE id = $1`, id)
}

// SupplierAuthorized reports whether the supplier is linked to the product.
func (d *TxDirectory) SupplierAuthorized(ctx context.Context, supplierID, productID int64) (bool, error) {
	var one int
	err := d.tx.QueryRow(ctx, `SELECT 1 FROM supplier_products WHERE supplier_id = $1 AND product_id = $2`, supplierID, productID).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// AdjustProductStock moves the aggregate stock of a product by delta. The
// row is locked first so concurrent postings serialize, and the aggregate
// is never allowed below zero.
func (d *TxDirectory) AdjustProductStock(ctx context.Context, productID, delta int64) error {
	var current int64
	err := d.tx.QueryRow(ctx, `SELECT total_qty FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("masterdata: product %d: %w", productID, shared.ErrNotFound)
		}
		return err
	}
	if current+delta < 0 {
		return &shared.InsufficientStockError{ProductID: productID, Needed: -delta, Available: current}
	}
	_, err = d.tx.Exec(ctx, `UPDATE products SET total_qty = total_qty + $2, updated_at = NOW() WHERE id = $1`, productID, delta)
	return err
}
