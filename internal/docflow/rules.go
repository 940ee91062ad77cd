package docflow

import (
	"context"
	"fmt"
	"time"

	"github.com/stocklot/stocklot/internal/ledger"
	"github.com/stocklot/stocklot/internal/shared"
)

// typeRules supplies the per-type behavior the generic engine is
// parameterized by: reference validation, the forward ledger effect, its
// inverse, and the cancel policy.
type typeRules interface {
	docType() DocType

	// editApprovedPermission gates same-status edits after approval.
	editApprovedPermission() string

	// cancellableFromApproved reports whether an Approved document may be
	// cancelled, compensating its ledger effect.
	cancellableFromApproved() bool

	// validateCreate checks referenced entities and pre-checks explicit
	// lot availability. Runs for create and update alike.
	validateCreate(ctx context.Context, tx TxRepository, doc Document, lines []LineInput) error

	// applyLine posts one stored line's forward ledger effect during
	// approval. For an unresolved line it returns the resolved lines that
	// replace it; nil means the stored line stands.
	applyLine(ctx context.Context, tx TxRepository, doc Document, line Line, today time.Time) ([]Line, error)

	// reapplyLine posts a resolved line's forward effect when an Approved
	// document is edited. Unlike approval it may merge into a lot row the
	// rollback just drained.
	reapplyLine(ctx context.Context, tx TxRepository, doc Document, line Line, today time.Time) error

	// reverseLine undoes a resolved line's ledger effect.
	reverseLine(ctx context.Context, tx TxRepository, doc Document, line Line) error
}

func requireProductsExist(ctx context.Context, tx TxRepository, lines []LineInput) error {
	seen := make(map[int64]struct{}, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ok, err := tx.ProductExists(ctx, line.ProductID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("docflow: product %d: %w", line.ProductID, shared.ErrNotFound)
		}
	}
	return nil
}

func requireWarehouse(ctx context.Context, tx TxRepository, id int64) error {
	ok, err := tx.WarehouseExists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("docflow: warehouse %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

// precheckExplicitLots verifies that every explicitly named lot currently
// covers its requested quantity at the source warehouse. The rows are not
// locked; approval redoes the check under FOR UPDATE.
func precheckExplicitLots(ctx context.Context, tx TxRepository, warehouseID int64, lines []LineInput) error {
	for _, line := range lines {
		if line.LotCode == "" {
			continue
		}
		lot, err := tx.GetLot(ctx, ledger.LotKey{WarehouseID: warehouseID, ProductID: line.ProductID, LotCode: line.LotCode})
		if err != nil {
			return err
		}
		if lot.Qty < line.Qty {
			return &shared.InsufficientStockError{ProductID: line.ProductID, LotCode: line.LotCode, Needed: line.Qty, Available: lot.Qty}
		}
	}
	return nil
}

// resolvedLines materializes an allocation plan as document lines
// replacing an unresolved marker line.
func resolvedLines(doc Document, marker Line, plan []ledger.Allocation) []Line {
	lines := make([]Line, 0, len(plan))
	for _, entry := range plan {
		lines = append(lines, Line{
			DocumentID: doc.ID,
			ProductID:  marker.ProductID,
			Qty:        entry.Qty,
			UnitPrice:  marker.UnitPrice,
			LineTotal:  marker.UnitPrice * float64(entry.Qty),
			Resolution: ResolvedTo(entry.LotCode, entry.Expiry),
		})
	}
	return lines
}

// deductFromLot locks the lot row, verifies quantity and optionally
// expiry, then applies the negative delta.
func deductFromLot(ctx context.Context, tx TxRepository, key ledger.LotKey, qty int64, checkExpiry bool, today time.Time) (ledger.Lot, error) {
	lot, err := tx.GetLotForUpdate(ctx, key)
	if err != nil {
		return ledger.Lot{}, err
	}
	if lot.Qty < qty {
		return ledger.Lot{}, &shared.InsufficientStockError{ProductID: key.ProductID, LotCode: key.LotCode, Needed: qty, Available: lot.Qty}
	}
	if checkExpiry && (ledger.LotQuantity{Expiry: lot.Expiry}).Expired(today) {
		return ledger.Lot{}, fmt.Errorf("docflow: lot %s expired %s: %w", key.LotCode, lot.Expiry.Format("2006-01-02"), shared.ErrExpired)
	}
	if _, err := tx.AddToLot(ctx, key, -qty); err != nil {
		return ledger.Lot{}, err
	}
	return lot, nil
}
