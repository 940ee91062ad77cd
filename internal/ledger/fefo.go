package ledger

import (
	"sort"

	"github.com/stocklot/stocklot/internal/shared"
)

// Allocate builds a first-expired-first-out consumption plan taking need
// units from the candidate lots. Candidates are ordered by expiry
// ascending with null-expiry lots last; equal expiries break on lot code.
// If the candidates cannot cover the need the allocator fails up front
// with InsufficientStock and produces no plan at all.
func Allocate(productID, need int64, candidates []LotQuantity) ([]Allocation, error) {
	var available int64
	for _, c := range candidates {
		available += c.Qty
	}
	if available < need {
		return nil, &shared.InsufficientStockError{ProductID: productID, Needed: need, Available: available}
	}

	ordered := make([]LotQuantity, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		switch {
		case a.Expiry == nil && b.Expiry == nil:
			return a.LotCode < b.LotCode
		case a.Expiry == nil:
			return false
		case b.Expiry == nil:
			return true
		case a.Expiry.Equal(*b.Expiry):
			return a.LotCode < b.LotCode
		default:
			return a.Expiry.Before(*b.Expiry)
		}
	})

	remaining := need
	plan := make([]Allocation, 0, len(ordered))
	for _, lot := range ordered {
		if remaining == 0 {
			break
		}
		take := min(remaining, lot.Qty)
		if take <= 0 {
			continue
		}
		plan = append(plan, Allocation{LotCode: lot.LotCode, Qty: take, Expiry: lot.Expiry})
		remaining -= take
	}
	return plan, nil
}
