package docflow

import (
	"context"
	"fmt"
	"time"

	"github.com/stocklot/stocklot/internal/ledger"
	"github.com/stocklot/stocklot/internal/rbac"
	"github.com/stocklot/stocklot/internal/shared"
)

// receiptRules posts inbound goods. Every receipt line names its lot up
// front; a lot already present in the ledger is a hard error rather than
// a merge, so two receipts can never share a lot code at one warehouse.
type receiptRules struct{}

func (receiptRules) docType() DocType               { return DocTypeReceipt }
func (receiptRules) editApprovedPermission() string { return rbac.PermReceiptEditApproved }
func (receiptRules) cancellableFromApproved() bool  { return false }

func (receiptRules) validateCreate(ctx context.Context, tx TxRepository, doc Document, lines []LineInput) error {
	if err := requireWarehouse(ctx, tx, doc.WarehouseID); err != nil {
		return err
	}
	ok, err := tx.SupplierExists(ctx, doc.CounterpartyID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("docflow: supplier %d: %w", doc.CounterpartyID, shared.ErrNotFound)
	}
	if err := requireProductsExist(ctx, tx, lines); err != nil {
		return err
	}
	for _, line := range lines {
		if line.LotCode == "" {
			return fmt.Errorf("docflow: receipt line for product %d requires a lot code: %w", line.ProductID, shared.ErrValidation)
		}
		authorized, err := tx.SupplierAuthorized(ctx, doc.CounterpartyID, line.ProductID)
		if err != nil {
			return err
		}
		if !authorized {
			return fmt.Errorf("docflow: supplier %d not authorized for product %d: %w", doc.CounterpartyID, line.ProductID, shared.ErrValidation)
		}
	}
	return nil
}

func (receiptRules) applyLine(ctx context.Context, tx TxRepository, doc Document, line Line, _ time.Time) ([]Line, error) {
	key := ledger.LotKey{WarehouseID: doc.WarehouseID, ProductID: line.ProductID, LotCode: line.Resolution.LotCode()}
	exists, err := tx.LotExists(ctx, key)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("docflow: lot %s already exists at warehouse %d: %w", key.LotCode, key.WarehouseID, shared.ErrConflict)
	}
	if err := tx.InsertLot(ctx, ledger.Lot{LotKey: key, Qty: line.Qty, Expiry: line.Resolution.Expiry()}); err != nil {
		return nil, err
	}
	if err := tx.AdjustProductStock(ctx, line.ProductID, line.Qty); err != nil {
		return nil, err
	}
	return nil, nil
}

// reapplyLine merges back into the lot row the preceding rollback drained
// instead of demanding a fresh row, so editing an approved receipt keeps
// its own lot code.
func (receiptRules) reapplyLine(ctx context.Context, tx TxRepository, doc Document, line Line, _ time.Time) error {
	lot := ledger.Lot{
		LotKey: ledger.LotKey{WarehouseID: doc.WarehouseID, ProductID: line.ProductID, LotCode: line.Resolution.LotCode()},
		Qty:    line.Qty,
		Expiry: line.Resolution.Expiry(),
	}
	if err := tx.UpsertLot(ctx, lot); err != nil {
		return err
	}
	return tx.AdjustProductStock(ctx, line.ProductID, line.Qty)
}

func (receiptRules) reverseLine(ctx context.Context, tx TxRepository, doc Document, line Line) error {
	key := ledger.LotKey{WarehouseID: doc.WarehouseID, ProductID: line.ProductID, LotCode: line.Resolution.LotCode()}
	if _, err := deductFromLot(ctx, tx, key, line.Qty, false, time.Time{}); err != nil {
		return err
	}
	return tx.AdjustProductStock(ctx, line.ProductID, -line.Qty)
}
