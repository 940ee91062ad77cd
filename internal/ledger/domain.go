// Package ledger is the source of truth for on-hand stock. Every quantity
// lives in one row per (warehouse, product, lot) triple, with an optional
// expiry date used by the FEFO allocator.
package ledger

import "time"

// LotKey identifies a single ledger row.
type LotKey struct {
	WarehouseID int64
	ProductID   int64
	LotCode     string
}

// Lot is a ledger row: quantity on hand plus optional expiry.
type Lot struct {
	LotKey
	Qty    int64
	Expiry *time.Time
}

// LotQuantity is a FEFO candidate: one lot's available quantity.
type LotQuantity struct {
	LotCode string
	Qty     int64
	Expiry  *time.Time
}

// Allocation is one entry of a FEFO consumption plan.
type Allocation struct {
	LotCode string
	Qty     int64
	Expiry  *time.Time
}

// Expired reports whether the lot's expiry lies strictly before the given day.
// Lots without an expiry date never expire.
func (l LotQuantity) Expired(today time.Time) bool {
	if l.Expiry == nil {
		return false
	}
	y, m, d := today.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	ey, em, ed := l.Expiry.Date()
	expiry := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
	return expiry.Before(day)
}

// FilterUnexpired drops candidates whose expiry lies before today.
func FilterUnexpired(candidates []LotQuantity, today time.Time) []LotQuantity {
	eligible := make([]LotQuantity, 0, len(candidates))
	for _, c := range candidates {
		if !c.Expired(today) {
			eligible = append(eligible, c)
		}
	}
	return eligible
}
