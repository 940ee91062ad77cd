package docflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/stocklot/stocklot/internal/ledger"
	"github.com/stocklot/stocklot/internal/shared"
)

// memoryRepo is an in-memory TxRepository with snapshot rollback, so a
// failed transition observably leaves no partial mutation behind.
type memoryRepo struct {
	lots       map[ledger.LotKey]*ledger.Lot
	products   map[int64]*memProduct
	warehouses map[int64]struct{}
	suppliers  map[int64]struct{}
	customers  map[int64]struct{}
	authorized map[[2]int64]struct{}
	docs       map[DocType]map[int64]*Document
	lines      map[DocType]map[int64]*Line
	nextDocID  int64
	nextLineID int64
}

type memProduct struct {
	totalQty int64
}

func newMemoryRepo() *memoryRepo {
	r := &memoryRepo{
		lots:       make(map[ledger.LotKey]*ledger.Lot),
		products:   make(map[int64]*memProduct),
		warehouses: make(map[int64]struct{}),
		suppliers:  make(map[int64]struct{}),
		customers:  make(map[int64]struct{}),
		authorized: make(map[[2]int64]struct{}),
		docs:       make(map[DocType]map[int64]*Document),
		lines:      make(map[DocType]map[int64]*Line),
	}
	for _, docType := range []DocType{DocTypeReceipt, DocTypeIssue, DocTypeTransfer} {
		r.docs[docType] = make(map[int64]*Document)
		r.lines[docType] = make(map[int64]*Line)
	}
	return r
}

func (r *memoryRepo) snapshot() *memoryRepo {
	clone := newMemoryRepo()
	for k, v := range r.lots {
		lot := *v
		clone.lots[k] = &lot
	}
	for k, v := range r.products {
		p := *v
		clone.products[k] = &p
	}
	for k := range r.warehouses {
		clone.warehouses[k] = struct{}{}
	}
	for k := range r.suppliers {
		clone.suppliers[k] = struct{}{}
	}
	for k := range r.customers {
		clone.customers[k] = struct{}{}
	}
	for k := range r.authorized {
		clone.authorized[k] = struct{}{}
	}
	for docType, docs := range r.docs {
		for id, doc := range docs {
			d := *doc
			clone.docs[docType][id] = &d
		}
	}
	for docType, lines := range r.lines {
		for id, line := range lines {
			l := *line
			clone.lines[docType][id] = &l
		}
	}
	clone.nextDocID = r.nextDocID
	clone.nextLineID = r.nextLineID
	return clone
}

func (r *memoryRepo) restore(from *memoryRepo) {
	r.lots = from.lots
	r.products = from.products
	r.warehouses = from.warehouses
	r.suppliers = from.suppliers
	r.customers = from.customers
	r.authorized = from.authorized
	r.docs = from.docs
	r.lines = from.lines
	r.nextDocID = from.nextDocID
	r.nextLineID = from.nextLineID
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	saved := r.snapshot()
	if err := fn(ctx, (*memoryTx)(r)); err != nil {
		r.restore(saved)
		return err
	}
	return nil
}

func (r *memoryRepo) GetDocument(ctx context.Context, docType DocType, id int64) (Document, []Line, error) {
	return (*memoryTx)(r).GetDocumentForUpdate(ctx, docType, id)
}

func (r *memoryRepo) ListDocuments(ctx context.Context, docType DocType, filter ListFilter) ([]Document, error) {
	var docs []Document
	for _, doc := range r.docs[docType] {
		if filter.Status != "" && doc.Status != filter.Status {
			continue
		}
		docs = append(docs, *doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID > docs[j].ID })
	return docs, nil
}

// Seed helpers

func (r *memoryRepo) addProduct(id int64) { r.products[id] = &memProduct{} }

func (r *memoryRepo) addWarehouse(id int64) { r.warehouses[id] = struct{}{} }

func (r *memoryRepo) addSupplier(id int64, productIDs ...int64) {
	r.suppliers[id] = struct{}{}
	for _, pid := range productIDs {
		r.authorized[[2]int64{id, pid}] = struct{}{}
	}
}

func (r *memoryRepo) addCustomer(id int64) { r.customers[id] = struct{}{} }

func (r *memoryRepo) seedLot(warehouseID, productID int64, lotCode string, qty int64, expiry *time.Time) {
	key := ledger.LotKey{WarehouseID: warehouseID, ProductID: productID, LotCode: lotCode}
	r.lots[key] = &ledger.Lot{LotKey: key, Qty: qty, Expiry: expiry}
	r.products[productID].totalQty += qty
}

func (r *memoryRepo) lotQty(warehouseID, productID int64, lotCode string) int64 {
	lot, ok := r.lots[ledger.LotKey{WarehouseID: warehouseID, ProductID: productID, LotCode: lotCode}]
	if !ok {
		return -1
	}
	return lot.Qty
}

func (r *memoryRepo) lotExpiry(warehouseID, productID int64, lotCode string) *time.Time {
	lot, ok := r.lots[ledger.LotKey{WarehouseID: warehouseID, ProductID: productID, LotCode: lotCode}]
	if !ok {
		return nil
	}
	return lot.Expiry
}

func (r *memoryRepo) aggregate(productID int64) int64 {
	return r.products[productID].totalQty
}

// sumLots recomputes the aggregate from the ledger for invariant checks.
func (r *memoryRepo) sumLots(productID int64) int64 {
	var sum int64
	for key, lot := range r.lots {
		if key.ProductID == productID {
			sum += lot.Qty
		}
	}
	return sum
}

// memoryTx implements TxRepository on top of memoryRepo state.
type memoryTx memoryRepo

func (tx *memoryTx) InsertDocument(ctx context.Context, doc Document) (int64, error) {
	tx.nextDocID++
	doc.ID = tx.nextDocID
	tx.docs[doc.Type][doc.ID] = &doc
	return doc.ID, nil
}

func (tx *memoryTx) GetDocumentForUpdate(ctx context.Context, docType DocType, id int64) (Document, []Line, error) {
	doc, ok := tx.docs[docType][id]
	if !ok {
		return Document{}, nil, fmt.Errorf("docflow: document %d: %w", id, shared.ErrNotFound)
	}
	var lines []Line
	for _, line := range tx.lines[docType] {
		if line.DocumentID == id {
			lines = append(lines, *line)
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })
	return *doc, lines, nil
}

func (tx *memoryTx) UpdateDocumentHeader(ctx context.Context, doc Document) error {
	stored, ok := tx.docs[doc.Type][doc.ID]
	if !ok {
		return shared.ErrNotFound
	}
	stored.WarehouseID = doc.WarehouseID
	stored.DestWarehouseID = doc.DestWarehouseID
	stored.CounterpartyID = doc.CounterpartyID
	stored.Note = doc.Note
	stored.TotalValue = doc.TotalValue
	return nil
}

func (tx *memoryTx) SetDocumentStatus(ctx context.Context, docType DocType, id int64, status Status, actorID int64) error {
	doc, ok := tx.docs[docType][id]
	if !ok {
		return shared.ErrNotFound
	}
	doc.Status = status
	if status == StatusApproved {
		doc.ApprovedBy = actorID
	}
	return nil
}

func (tx *memoryTx) DeleteDocument(ctx context.Context, docType DocType, id int64) error {
	if _, ok := tx.docs[docType][id]; !ok {
		return shared.ErrNotFound
	}
	delete(tx.docs[docType], id)
	return nil
}

func (tx *memoryTx) InsertLine(ctx context.Context, docType DocType, line Line) (int64, error) {
	tx.nextLineID++
	line.ID = tx.nextLineID
	tx.lines[docType][line.ID] = &line
	return line.ID, nil
}

func (tx *memoryTx) DeleteLine(ctx context.Context, docType DocType, lineID int64) error {
	delete(tx.lines[docType], lineID)
	return nil
}

func (tx *memoryTx) DeleteLines(ctx context.Context, docType DocType, documentID int64) error {
	for id, line := range tx.lines[docType] {
		if line.DocumentID == documentID {
			delete(tx.lines[docType], id)
		}
	}
	return nil
}

func (tx *memoryTx) GetLot(ctx context.Context, key ledger.LotKey) (ledger.Lot, error) {
	lot, ok := tx.lots[key]
	if !ok {
		return ledger.Lot{}, fmt.Errorf("ledger: lot %s at warehouse %d: %w", key.LotCode, key.WarehouseID, shared.ErrNotFound)
	}
	return *lot, nil
}

func (tx *memoryTx) GetLotForUpdate(ctx context.Context, key ledger.LotKey) (ledger.Lot, error) {
	return tx.GetLot(ctx, key)
}

func (tx *memoryTx) LotExists(ctx context.Context, key ledger.LotKey) (bool, error) {
	_, ok := tx.lots[key]
	return ok, nil
}

func (tx *memoryTx) InsertLot(ctx context.Context, lot ledger.Lot) error {
	if _, ok := tx.lots[lot.LotKey]; ok {
		return fmt.Errorf("ledger: lot %s already exists at warehouse %d: %w", lot.LotCode, lot.WarehouseID, shared.ErrConflict)
	}
	stored := lot
	tx.lots[lot.LotKey] = &stored
	return nil
}

func (tx *memoryTx) AddToLot(ctx context.Context, key ledger.LotKey, delta int64) (int64, error) {
	lot, ok := tx.lots[key]
	if !ok || lot.Qty+delta < 0 {
		return 0, fmt.Errorf("ledger: delta %+d on lot %s at warehouse %d rejected: %w", delta, key.LotCode, key.WarehouseID, shared.ErrConflict)
	}
	lot.Qty += delta
	return lot.Qty, nil
}

func (tx *memoryTx) UpsertLot(ctx context.Context, lot ledger.Lot) error {
	if stored, ok := tx.lots[lot.LotKey]; ok {
		stored.Qty += lot.Qty
		stored.Expiry = lot.Expiry
		return nil
	}
	stored := lot
	tx.lots[lot.LotKey] = &stored
	return nil
}

func (tx *memoryTx) ListAvailableForUpdate(ctx context.Context, warehouseID, productID int64) ([]ledger.LotQuantity, error) {
	var lots []ledger.LotQuantity
	for key, lot := range tx.lots {
		if key.WarehouseID == warehouseID && key.ProductID == productID && lot.Qty > 0 {
			lots = append(lots, ledger.LotQuantity{LotCode: key.LotCode, Qty: lot.Qty, Expiry: lot.Expiry})
		}
	}
	sort.Slice(lots, func(i, j int) bool {
		a, b := lots[i], lots[j]
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
	return lots, nil
}

func (tx *memoryTx) ProductExists(ctx context.Context, id int64) (bool, error) {
	_, ok := tx.products[id]
	return ok, nil
}

func (tx *memoryTx) WarehouseExists(ctx context.Context, id int64) (bool, error) {
	_, ok := tx.warehouses[id]
	return ok, nil
}

func (tx *memoryTx) SupplierExists(ctx context.Context, id int64) (bool, error) {
	_, ok := tx.suppliers[id]
	return ok, nil
}

func (tx *memoryTx) CustomerExists(ctx context.Context, id int64) (bool, error) {
	_, ok := tx.customers[id]
	return ok, nil
}

func (tx *memoryTx) SupplierAuthorized(ctx context.Context, supplierID, productID int64) (bool, error) {
	_, ok := tx.authorized[[2]int64{supplierID, productID}]
	return ok, nil
}

func (tx *memoryTx) AdjustProductStock(ctx context.Context, productID, delta int64) error {
	product, ok := tx.products[productID]
	if !ok {
		return fmt.Errorf("masterdata: product %d: %w", productID, shared.ErrNotFound)
	}
	if product.totalQty+delta < 0 {
		return &shared.InsufficientStockError{ProductID: productID, Needed: -delta, Available: product.totalQty}
	}
	product.totalQty += delta
	return nil
}

var _ RepositoryPort = (*memoryRepo)(nil)
var _ TxRepository = (*memoryTx)(nil)
