package docflow

import (
	"context"

	"github.com/stocklot/stocklot/internal/ledger"
)

// TxRepository exposes every persistence operation a workflow transition
// needs: the document tables, the lot ledger, and the master-data checks,
// all bound to one transaction so a failed transition leaves no trace.
type TxRepository interface {
	// Documents
	InsertDocument(ctx context.Context, doc Document) (int64, error)
	GetDocumentForUpdate(ctx context.Context, docType DocType, id int64) (Document, []Line, error)
	UpdateDocumentHeader(ctx context.Context, doc Document) error
	SetDocumentStatus(ctx context.Context, docType DocType, id int64, status Status, actorID int64) error
	DeleteDocument(ctx context.Context, docType DocType, id int64) error
	InsertLine(ctx context.Context, docType DocType, line Line) (int64, error)
	DeleteLine(ctx context.Context, docType DocType, lineID int64) error
	DeleteLines(ctx context.Context, docType DocType, documentID int64) error

	// Lot ledger
	GetLot(ctx context.Context, key ledger.LotKey) (ledger.Lot, error)
	GetLotForUpdate(ctx context.Context, key ledger.LotKey) (ledger.Lot, error)
	LotExists(ctx context.Context, key ledger.LotKey) (bool, error)
	InsertLot(ctx context.Context, lot ledger.Lot) error
	AddToLot(ctx context.Context, key ledger.LotKey, delta int64) (int64, error)
	UpsertLot(ctx context.Context, lot ledger.Lot) error
	ListAvailableForUpdate(ctx context.Context, warehouseID, productID int64) ([]ledger.LotQuantity, error)

	// Master data
	ProductExists(ctx context.Context, id int64) (bool, error)
	WarehouseExists(ctx context.Context, id int64) (bool, error)
	SupplierExists(ctx context.Context, id int64) (bool, error)
	CustomerExists(ctx context.Context, id int64) (bool, error)
	SupplierAuthorized(ctx context.Context, supplierID, productID int64) (bool, error)
	AdjustProductStock(ctx context.Context, productID, delta int64) error
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetDocument(ctx context.Context, docType DocType, id int64) (Document, []Line, error)
	ListDocuments(ctx context.Context, docType DocType, filter ListFilter) ([]Document, error)
}

// ListFilter narrows document listings.
type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}
