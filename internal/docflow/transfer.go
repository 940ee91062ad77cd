package docflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stocklot/stocklot/internal/ledger"
	"github.com/stocklot/stocklot/internal/rbac"
	"github.com/stocklot/stocklot/internal/shared"
)

// transferRules moves stock between warehouses. The move is zero-sum on
// the product aggregate, FEFO allocation does not filter expired lots,
// and an approved transfer may still be cancelled by reversing every
// resolved line.
type transferRules struct{}

func (transferRules) docType() DocType               { return DocTypeTransfer }
func (transferRules) editApprovedPermission() string { return rbac.PermTransferEditApproved }
func (transferRules) cancellableFromApproved() bool  { return true }

func (transferRules) validateCreate(ctx context.Context, tx TxRepository, doc Document, lines []LineInput) error {
	if doc.WarehouseID == doc.DestWarehouseID {
		return fmt.Errorf("docflow: source and destination warehouse are the same: %w", shared.ErrValidation)
	}
	if err := requireWarehouse(ctx, tx, doc.WarehouseID); err != nil {
		return err
	}
	if err := requireWarehouse(ctx, tx, doc.DestWarehouseID); err != nil {
		return err
	}
	if err := requireProductsExist(ctx, tx, lines); err != nil {
		return err
	}
	return precheckExplicitLots(ctx, tx, doc.WarehouseID, lines)
}

func (transferRules) applyLine(ctx context.Context, tx TxRepository, doc Document, line Line, today time.Time) ([]Line, error) {
	if line.Resolution.Resolved() {
		key := ledger.LotKey{WarehouseID: doc.WarehouseID, ProductID: line.ProductID, LotCode: line.Resolution.LotCode()}
		src, err := deductFromLot(ctx, tx, key, line.Qty, false, today)
		if err != nil {
			return nil, err
		}
		dest := ledger.Lot{
			LotKey: ledger.LotKey{WarehouseID: doc.DestWarehouseID, ProductID: line.ProductID, LotCode: key.LotCode},
			Qty:    line.Qty,
			Expiry: src.Expiry,
		}
		if err := tx.UpsertLot(ctx, dest); err != nil {
			return nil, err
		}
		// Re-store the line with the expiry the source row actually
		// carries, which wins over whatever the request claimed.
		resolved := line
		resolved.Resolution = ResolvedTo(key.LotCode, src.Expiry)
		return []Line{resolved}, nil
	}

	candidates, err := tx.ListAvailableForUpdate(ctx, doc.WarehouseID, line.ProductID)
	if err != nil {
		return nil, err
	}
	plan, err := ledger.Allocate(line.ProductID, line.Qty, candidates)
	if err != nil {
		return nil, err
	}
	for _, entry := range plan {
		key := ledger.LotKey{WarehouseID: doc.WarehouseID, ProductID: line.ProductID, LotCode: entry.LotCode}
		if _, err := tx.AddToLot(ctx, key, -entry.Qty); err != nil {
			return nil, err
		}
		dest := ledger.Lot{
			LotKey: ledger.LotKey{WarehouseID: doc.DestWarehouseID, ProductID: line.ProductID, LotCode: entry.LotCode},
			Qty:    entry.Qty,
			Expiry: entry.Expiry,
		}
		if err := tx.UpsertLot(ctx, dest); err != nil {
			return nil, err
		}
	}
	return resolvedLines(doc, line, plan), nil
}

func (r transferRules) reapplyLine(ctx context.Context, tx TxRepository, doc Document, line Line, today time.Time) error {
	if !line.Resolution.Resolved() {
		return errors.New("docflow: transfer reapply requires a resolved line")
	}
	replacement, err := r.applyLine(ctx, tx, doc, line, today)
	if err != nil {
		return err
	}
	if len(replacement) != 1 {
		return errors.New("docflow: transfer reapply expected a single resolved line")
	}
	// The apply path re-read the source row's expiry; re-store the line
	// so it carries that value rather than what the request claimed.
	if err := tx.DeleteLine(ctx, doc.Type, line.ID); err != nil {
		return err
	}
	if _, err := tx.InsertLine(ctx, doc.Type, replacement[0]); err != nil {
		return err
	}
	return nil
}

// reverseLine pulls the moved quantity back from the destination. It
// fails when the destination no longer holds enough of the lot, and it
// re-reads the destination row under lock so the restored source expiry
// matches what is actually stored.
func (transferRules) reverseLine(ctx context.Context, tx TxRepository, doc Document, line Line) error {
	destKey := ledger.LotKey{WarehouseID: doc.DestWarehouseID, ProductID: line.ProductID, LotCode: line.Resolution.LotCode()}
	dest, err := deductFromLot(ctx, tx, destKey, line.Qty, false, time.Time{})
	if err != nil {
		return err
	}
	src := ledger.Lot{
		LotKey: ledger.LotKey{WarehouseID: doc.WarehouseID, ProductID: line.ProductID, LotCode: destKey.LotCode},
		Qty:    line.Qty,
		Expiry: dest.Expiry,
	}
	return tx.UpsertLot(ctx, src)
}
