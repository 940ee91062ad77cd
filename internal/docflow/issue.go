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

// issueRules posts outbound goods. Lines without an explicit lot are
// allocated FEFO at approval, skipping expired lots; explicitly named
// lots must not be expired either.
type issueRules struct{}

func (issueRules) docType() DocType               { return DocTypeIssue }
func (issueRules) editApprovedPermission() string { return rbac.PermIssueEditApproved }
func (issueRules) cancellableFromApproved() bool  { return false }

func (issueRules) validateCreate(ctx context.Context, tx TxRepository, doc Document, lines []LineInput) error {
	if err := requireWarehouse(ctx, tx, doc.WarehouseID); err != nil {
		return err
	}
	ok, err := tx.CustomerExists(ctx, doc.CounterpartyID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("docflow: customer %d: %w", doc.CounterpartyID, shared.ErrNotFound)
	}
	if err := requireProductsExist(ctx, tx, lines); err != nil {
		return err
	}
	return precheckExplicitLots(ctx, tx, doc.WarehouseID, lines)
}

func (issueRules) applyLine(ctx context.Context, tx TxRepository, doc Document, line Line, today time.Time) ([]Line, error) {
	if line.Resolution.Resolved() {
		key := ledger.LotKey{WarehouseID: doc.WarehouseID, ProductID: line.ProductID, LotCode: line.Resolution.LotCode()}
		if _, err := deductFromLot(ctx, tx, key, line.Qty, true, today); err != nil {
			return nil, err
		}
		if err := tx.AdjustProductStock(ctx, line.ProductID, -line.Qty); err != nil {
			return nil, err
		}
		return nil, nil
	}

	candidates, err := tx.ListAvailableForUpdate(ctx, doc.WarehouseID, line.ProductID)
	if err != nil {
		return nil, err
	}
	plan, err := ledger.Allocate(line.ProductID, line.Qty, ledger.FilterUnexpired(candidates, today))
	if err != nil {
		return nil, err
	}
	for _, entry := range plan {
		key := ledger.LotKey{WarehouseID: doc.WarehouseID, ProductID: line.ProductID, LotCode: entry.LotCode}
		if _, err := tx.AddToLot(ctx, key, -entry.Qty); err != nil {
			return nil, err
		}
	}
	if err := tx.AdjustProductStock(ctx, line.ProductID, -line.Qty); err != nil {
		return nil, err
	}
	return resolvedLines(doc, line, plan), nil
}

func (r issueRules) reapplyLine(ctx context.Context, tx TxRepository, doc Document, line Line, today time.Time) error {
	replacement, err := r.applyLine(ctx, tx, doc, line, today)
	if err != nil {
		return err
	}
	if replacement != nil {
		return errors.New("docflow: issue reapply produced unexpected allocation")
	}
	return nil
}

func (issueRules) reverseLine(ctx context.Context, tx TxRepository, doc Document, line Line) error {
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
