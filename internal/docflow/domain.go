// Package docflow runs the approval workflow for the three stock-affecting
// document types: goods receipts, goods issues and inter-warehouse
// transfers. One generic engine drives the shared state machine; the
// type-specific ledger effects are supplied per document type.
package docflow

import (
	"time"
)

// DocType discriminates the three document families.
type DocType string

const (
	DocTypeReceipt  DocType = "RECEIPT"
	DocTypeIssue    DocType = "ISSUE"
	DocTypeTransfer DocType = "TRANSFER"
)

// Status is the document lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusCancelled Status = "CANCELLED"
)

// LineResolution says whether a line is bound to a concrete lot. An
// unresolved line is allocated by FEFO at approval time and replaced by
// the resolved lines the allocator produced.
type LineResolution struct {
	lotCode  string
	expiry   *time.Time
	resolved bool
}

// ResolvedTo binds a line to a concrete lot.
func ResolvedTo(lotCode string, expiry *time.Time) LineResolution {
	return LineResolution{lotCode: lotCode, expiry: expiry, resolved: true}
}

// Unresolved marks a line for FEFO allocation at approval.
func Unresolved() LineResolution {
	return LineResolution{}
}

// Resolved reports whether the line is bound to a lot.
func (r LineResolution) Resolved() bool { return r.resolved }

// LotCode returns the bound lot, or "" when unresolved.
func (r LineResolution) LotCode() string { return r.lotCode }

// Expiry returns the bound lot's expiry date, nil when absent.
func (r LineResolution) Expiry() *time.Time { return r.expiry }

// Document is the shared header of all three document types.
type Document struct {
	ID              int64
	Type            DocType
	WarehouseID     int64
	DestWarehouseID int64 // transfers only
	CounterpartyID  int64 // supplier for receipts, customer for issues
	CreatedBy       int64
	ApprovedBy      int64
	CreatedAt       time.Time
	Note            string
	Status          Status
	TotalValue      float64
}

// Line is one document position. Quantity is a whole number of units.
type Line struct {
	ID         int64
	DocumentID int64
	ProductID  int64
	Qty        int64
	UnitPrice  float64
	LineTotal  float64
	Resolution LineResolution
}

// LineInput carries one requested line. An empty LotCode defers lot
// binding to FEFO allocation at approval.
type LineInput struct {
	ProductID int64
	Qty       int64
	UnitPrice float64
	LotCode   string
	Expiry    *time.Time
}

// Resolution converts the input's lot fields into a LineResolution.
func (in LineInput) Resolution() LineResolution {
	if in.LotCode == "" {
		return Unresolved()
	}
	return ResolvedTo(in.LotCode, in.Expiry)
}

// CreateInput carries a document creation request.
type CreateInput struct {
	Type            DocType
	WarehouseID     int64
	DestWarehouseID int64
	CounterpartyID  int64
	Note            string
	Lines           []LineInput
}

// UpdateInput carries a document edit request. The line set replaces the
// existing one wholesale.
type UpdateInput struct {
	WarehouseID     int64
	DestWarehouseID int64
	CounterpartyID  int64
	Note            string
	Lines           []LineInput
}

// editWindow is how long after creation a document stays editable.
const editWindow = 30 * 24 * time.Hour
