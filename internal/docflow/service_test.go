package docflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stocklot/stocklot/internal/auth"
	"github.com/stocklot/stocklot/internal/shared"
	_ "github.com/stocklot/stocklot/testing"
)

type stubAuthz struct {
	granted map[string]bool
}

func (s *stubAuthz) HasPermission(ctx context.Context, userID int64, perm string) (bool, error) {
	return s.granted[perm], nil
}

type recordedActivity struct {
	entries []shared.ActivityLog
}

func (r *recordedActivity) Record(ctx context.Context, log shared.ActivityLog) error {
	r.entries = append(r.entries, log)
	return nil
}

var testActor = auth.Actor{ID: 9, Name: "Tester"}

func newTestService(repo *memoryRepo, authz *stubAuthz) *Service {
	if authz == nil {
		authz = &stubAuthz{granted: map[string]bool{}}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, authz, &recordedActivity{}, logger, nil)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func date(y int, m time.Month, d int) *time.Time {
	v := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &v
}

func seedBasics(repo *memoryRepo) {
	repo.addWarehouse(1)
	repo.addWarehouse(2)
	repo.addProduct(100)
	repo.addSupplier(50, 100)
	repo.addCustomer(60)
}

func requireAggregateConsistent(t *testing.T, repo *memoryRepo, productID int64) {
	t.Helper()
	require.Equal(t, repo.sumLots(productID), repo.aggregate(productID), "aggregate stock must equal the sum of lot quantities")
}

func TestReceiptApproveCreatesLotAndAggregate(t *testing.T) {
	repo := newMemoryRepo()
	seedBasics(repo)
	svc := newTestService(repo, nil)

	doc, _, err := svc.Create(context.Background(), testActor, CreateInput{
		Type:           DocTypeReceipt,
		WarehouseID:    1,
		CounterpartyID: 50,
		Lines:          []LineInput{{ProductID: 100, Qty: 20, UnitPrice: 2.5, LotCode: "B1", Expiry: date(2030, time.January, 1)}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, doc.Status)
	require.InDelta(t, 50.0, doc.TotalValue, 1e-9)

	approved, lines, err := svc.Approve(context.Background(), testActor, DocTypeReceipt, doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)
	require.EqualValues(t, testActor.ID, approved.ApprovedBy)
	require.Len(t, lines, 1)
	require.EqualValues(t, 20, repo.lotQty(1, 100, "B1"))
	require.EqualValues(t, 20, repo.aggregate(100))
	requireAggregateConsistent(t, repo, 100)
}

func TestReceiptRejectsUnauthorizedSupplier(t *testing.T) {
	repo := newMemoryRepo()
	seedBasics(repo)
	repo.addProduct(101) // supplier 50 is not linked to it
	svc := newTestService(repo, nil)

	_, _, err := svc.Create(context.Background(), testActor, CreateInput{
		Type:           DocTypeReceipt,
		WarehouseID:    1,
		CounterpartyID: 50,
		Lines:          []LineInput{{ProductID: 101, Qty: 5, LotCode: "B9"}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReceiptApproveDuplicateLotConflictMutatesNothing(t *testing.T) {
	repo := newMemoryRepo()
	seedBasics(repo)
	repo.seedLot(1, 100, "B1", 7, nil)
	svc := newTestService(repo, nil)

	doc, _, err := svc.Create(context.Background(), testActor, CreateInput{
		Type:           DocTypeReceipt,
		WarehouseID:    1,
		CounterpartyID: 50,
		Lines:          []LineInput{{ProductID: 100, Qty: 20, LotCode: "B1"}},
	})
	require.NoError(t, err)

	_, _, err = svc.Approve(context.Background(), testActor, DocTypeReceipt, doc.ID)
	require.ErrorIs(t, err, shared.ErrConflict)

	require.EqualValues(t, 7, repo.lotQty(1, 100, "B1"))
	require.EqualValues(t, 7, repo.aggregate(100))
	stored, _, err := repo.GetDocument(context.Background(), DocTypeReceipt, doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, stored.Status)
}

func TestIssueApproveExplicitLot(t *testing.T) {
	repo := newMemoryRepo()
	seedBasics(repo)
	repo.seedLot(1, 100, "B1", 30, date(2030, time.June, 1))
	svc := newTestService(repo, nil)

	doc, _, err := svc.Create(context.Background(), testActor, CreateInput{
		Type:           DocTypeIssue,
		WarehouseID:    1,
		CounterpartyID: 60,
		Lines:          []LineInput{{ProductID: 100, Qty: 12, UnitPrice: 3, LotCode: "B1"}},
	})
	require.NoError(t, err)

	_, _, err = svc.Approve(context.Background(), testActor, DocTypeIssue, doc.ID)
	require.NoError(t, err)
	require.EqualValues(t, 18, repo.lotQty(1, 100, "B1"))
	require.EqualValues(t, 18, repo.aggregate(100))
	requireAggregateConsistent(t, repo, 100)
}

func TestIssueCreateRejectsInsufficientExplicitLot(t *testing.T) {
	repo := newMemoryRepo()
	seedBasics(repo)
	repo.seedLot(1, 100, "B1", 3, nil)
	svc := newTestService(repo, nil)

	_, _, err := svc.Create(context.Background(), testActor, CreateInput{
		Type:           DocTypeIssue,
		WarehouseID:    1,
		CounterpartyID: 60,
		Lines:          []LineInput{{ProductID: 100, Qty: 10, LotCode: "B1"}},
	})
	var stock *shared.InsufficientStockError
	require.True(t, errors.As(err, &stock))
	require.EqualValues(t, 10, stock.Needed)
	require.EqualValues(t, 3, stock.Available)
}

func TestIssueApproveFEFOAllocatesAndReplacesMarker(t *testing.T) {
	repo := newMemoryRepo()
	seedBasics(repo)
	repo.seedLot(1, 100, "L1", 5, date(2024, time.January, 10))
	repo.seedLot(1, 100, "L2", 5, date(2024, time.February, 1))
	repo.seedLot(1, 100, "L3", 5, nil)
	svc := newTestService(repo, nil)
	svc.now = fixedClock(time.Date(2023, time.December, 1, 10, 0, 0, 0, time.UTC))

	doc, _, err := svc.Create(context.Background(), testActor, CreateInput{
		Type:           DocTypeIssue,
		WarehouseID:    1,
		CounterpartyID: 60,
		Lines:          []LineInput{{ProductID: 100, Qty: 8, UnitPrice: 1}},
	})
	require.NoError(t, err)

	_, lines, err := svc.Approve(context.Background(), testActor, DocTypeIssue, doc.ID)
	require.NoError(t, err)

	// The unresolved marker is replaced by the allocation, in FEFO order.
	require.Len(t, lines, 2)
	require.Equal(t, "L1", lines[0].Resolution.LotCode())
	require.EqualValues(t, 5, lines[0].Qty)
	require.Equal(t, "L2", lines[1].Resolution.LotCode())
	require.EqualValues(t, 3, lines[1].Qty)
	for _, line := range lines {
		require.True(t, line.Resolution.Resolved())
	}

	require.EqualValues(t, 0, repo.lotQty(1, 100, "L1"))
	require.EqualValues(t, 2, repo.lotQty(1, 100, "L2"))
	require.EqualValues(t, 5, repo.lotQty(1, 100, "L3"))
	require.EqualValues(t, 7, repo.aggregate(100))
	requireAggregateConsistent(t, repo, 100)
}

func TestIssueFEFOSkipsExpiredLots(t *testing.T) {
	repo := newMemoryRepo()
	seedBasics(repo)
	repo.seedLot(1, 100, "OLD", 50, date(2024, time.January, 1))
	repo.seedLot(1, 100, "OK", 6, date(2030, time.January, 1))
	svc := newTestService(repo, nil)
	svc.now = fixedClock(time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC))

	doc, _, err := svc.Create(context.Background(), testActor, CreateInput{
		Type:           DocTypeIssue,
		WarehouseID:    1,
		CounterpartyID: 60,
		Lines:          []LineInput{{ProductID: 100, Qty: 10}},
	})
	require.NoError(t, err)

	_, _, err = svc.Approve(context.Background(), testActor, DocTypeIssue, doc.ID)
	var stock *shared.InsufficientStockError
	require.True(t, errors.As(err, &stock), "expired stock must not satisfy an issue")
	require.EqualValues(t, 6, stock.Available)
	require.EqualValues(t, 50, repo.lotQty(1, 100, "OLD"))
	require.EqualValues(t, 6, repo.lotQty(1, 100, "OK"))
}

func TestIssueApproveExpiredExplicitLotBlocked(t *testing.T) {
	repo := newMemoryRepo()
	seedBasics(repo)
	repo.seedLot(1, 100, "B1", 100, date(2025, time.February, 28))
	svc := newTestService(repo, nil)
	svc.now = fixedClock(time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC))

	doc, _, err := svc.Create(context.Background(), testActor, CreateInput{
		Type:           DocTypeIssue,
		WarehouseID:    1,
		CounterpartyID: 60,
		Lines:          []LineInput{{ProductID: 100, Qty: 1, LotCode: "B1"}},
	})
	require.NoError(t, err)

	_, _, err = svc.Approve(context.Background(), testActor, DocTypeIssue, doc.ID)
	require.ErrorIs(t, err, shared.ErrExpired)
	require.EqualValues(t, 100, repo.lotQty(1, 100, "B1"))
}

func TestTransferApproveMovesStockZeroSum(t *testing.T) {
	repo := newMemoryRepo()
	seedBasics(repo)
	repo.seedLot(1, 100, "B1", 25, date(2030, time.May, 1))
	svc := newTestService(repo, nil)

	doc, _, err := svc.Create(context.Background(), testActor, CreateInput{
		Type:            DocTypeTransfer,
		WarehouseID:     1,
		DestWarehouseID: 2,
		Lines:           []LineInput{{ProductID: 100, Qty: 10, LotCode: "B1"}},
	})
	require.NoError(t, err)

	aggBefore := repo.aggregate(100)
	_, _, err = svc.Approve(context.Background(), testActor, DocTypeTransfer, doc.ID)
	require.NoError(t, err)

	require.EqualValues(t, 15, repo.lotQty(1, 100, "B1"))
	require.EqualValues(t, 10, repo.lotQty(2, 100, "B1"))
	require.Equal(t, aggBefore, repo.aggregate(100), "transfer must not move the product aggregate")
	requireAggregateConsistent(t, repo, 100)
}

func TestTransferRejectsSameSourceAndDestination(t *testing.T) {
	repo := newMemoryRepo()
	seedBasics(repo)
	svc := newTestService(repo, nil)

	_, _, err := svc.Create(context.Background(), testActor, CreateInput{
		Type:            DocTypeTransfer,
		WarehouseID:     1,
		DestWarehouseID: 1,
		Lines:           []LineInput{{ProductID: 100, Qty: 1, LotCode: "B1"}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestTransferCancelRoundTrip(t *testing.T) {
	repo := newMemoryRepo()
	seedBasics(repo)
	repo.seedLot(1, 100, "B1", 25, date(2030, time.May, 1))
	svc := newTestService(repo, nil)

	doc, _, err := svc.Create(context.Background(), testActor, CreateInput{
		Type:            DocTypeTransfer,
		WarehouseID:     1,
		DestWarehouseID: 2,
		Lines:           []LineInput{{ProductID: 100, Qty: 10, LotCode: "B1"}},
	})
	require.NoError(t, err)
	_, _, err = svc.Approve(context.Background(), testActor, DocTypeTransfer, doc.ID)
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(context.Background(), testActor, DocTypeTransfer, doc.ID))

	require.EqualValues(t, 25, repo.lotQty(1, 100, "B1"))
	require.EqualValues(t, 0, repo.lotQty(2, 100, "B1"))
	requireAggregateConsistent(t, repo, 100)

	stored, _, err := repo.GetDocument(context.Background(), DocTypeTransfer, doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, stored.Status)
}

func TestTransferCancelFailsWhenDestinationDrained(t *testing.T) {
	repo := newMemoryRepo()
	seedBasics(repo)
	repo.seedLot(1, 100, "B1", 25, nil)
	svc := newTestService(repo, nil)

	doc, _, err := svc.Create(context.Background(), testActor, CreateInput{
		Type:            DocTypeTransfer,
		WarehouseID:     1,
		DestWarehouseID: 2,
		Lines:           []LineInput{{ProductID: 100, Qty: 10, LotCode: "B1"}},
	})
	require.NoError(t, err)
	_, _, err = svc.Approve(context.Background(), testActor, DocTypeTransfer, doc.ID)
	require.NoError(t, err)

	// Issue the moved stock out of the destination before cancelling.
	issue, _, err := svc.Create(context.Background(), testActor, CreateInput{
		Type:           DocTypeIssue,
		WarehouseID:    2,
		CounterpartyID: 60,
		Lines:          []LineInput{{ProductID: 100, Qty: 8, LotCode: "B1"}},
	})
	require.NoError(t, err)
	_, _, err = svc.Approve(context.Background(), testActor, DocTypeIssue, issue.ID)
	require.NoError(t, err)

	err = svc.Cancel(context.Background(), testActor, DocTypeTransfer, doc.ID)
	var stock *shared.InsufficientStockError
	require.True(t, errors.As(err, &stock))
	// Nothing moved back.
	require.EqualValues(t, 15, repo.lotQty(1, 100, "B1"))
	require.EqualValues(t, 2, repo.lotQty(2, 100, "B1"))
}

func TestCancelApprovedReceiptConflicts(t *testing.T) {
	repo := newMemoryRepo()
	seedBasics(repo)
	svc := newTestService(repo, nil)

	doc, _, err := svc.Create(context.Background(), testActor, CreateInput{
		Type:           DocTypeReceipt,
		WarehouseID:    1,
		CounterpartyID: 50,
		Lines:          []LineInput{{ProductID: 100, Qty: 5, LotCode: "B1"}},
	})
	require.NoError(t, err)
	_, _, err = svc.Approve(context.Background(), testActor, DocTypeReceipt, doc.ID)
	require.NoError(t, err)

	err = svc.Cancel(context.Background(), testActor, DocTypeReceipt, doc.ID)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestCancelPendingReceiptHasNoLedgerEffect(t *testing.T) {
	repo := newMemoryRepo()
	seedBasics(repo)
	svc := newTestService(repo, nil)

	doc, _, err := svc.Create(context.Background(), testActor, CreateInput{
		Type:           DocTypeReceipt,
		WarehouseID:    1,
		CounterpartyID: 50,
		Lines:          []LineInput{{ProductID: 100, Qty: 5, LotCode: "B1"}},
	})
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(context.Background(), testActor, DocTypeReceipt, doc.ID))

	require.EqualValues(t, -1, repo.lotQty(1, 100, "B1"))
	require.EqualValues(t, 0, repo.aggregate(100))
}

func TestApproveTwiceConflicts(t *testing.T) {
	repo := newMemoryRepo()
	seedBasics(repo)
	svc := newTestService(repo, nil)

	doc, _, err := svc.Create(context.Background(), testActor, CreateInput{
		Type:           DocTypeReceipt,
		WarehouseID:    1,
		CounterpartyID: 50,
		Lines:          []LineInput{{ProductID: 100, Qty: 5, LotCode: "B1"}},
	})
	require.NoError(t, err)
	_, _, err = svc.Approve(context.Background(), testActor, DocTypeReceipt, doc.ID)
	require.NoError(t, err)

	_, _, err = svc.Approve(context.Background(), testActor, DocTypeReceipt, doc.ID)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.EqualValues(t, 5, repo.lotQty(1, 100, "B1"))
	require.EqualValues(t, 5, repo.aggregate(100))
}

func TestUpdateApprovedReceiptReentrant(t *testing.T) {
	repo := newMemoryRepo()
	seedBasics(repo)
	svc := newTestService(repo, &stubAuthz{granted: map[string]bool{"docs.receipt.edit_approved": true}})

	doc, _, err := svc.Create(context.Background(), testActor, CreateInput{
		Type:           DocTypeReceipt,
		WarehouseID:    1,
		CounterpartyID: 50,
		Lines:          []LineInput{{ProductID: 100, Qty: 20, UnitPrice: 2, LotCode: "B1"}},
	})
	require.NoError(t, err)
	_, _, err = svc.Approve(context.Background(), testActor, DocTypeReceipt, doc.ID)
	require.NoError(t, err)

	err = svc.Update(context.Background(), testActor, DocTypeReceipt, doc.ID, UpdateInput{
		WarehouseID:    1,
		CounterpartyID: 50,
		Lines:          []LineInput{{ProductID: 100, Qty: 13, UnitPrice: 2, LotCode: "B1"}},
	})
	require.NoError(t, err)

	// The ledger reflects exactly the new quantity, no double counting.
	require.EqualValues(t, 13, repo.lotQty(1, 100, "B1"))
	require.EqualValues(t, 13, repo.aggregate(100))
	requireAggregateConsistent(t, repo, 100)

	stored, lines, err := repo.GetDocument(context.Background(), DocTypeReceipt, doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, stored.Status)
	require.InDelta(t, 26.0, stored.TotalValue, 1e-9)
	require.Len(t, lines, 1)
	require.EqualValues(t, 13, lines[0].Qty)
}

func TestUpdateApprovedReceiptCorrectsLotExpiry(t *testing.T) {
	repo := newMemoryRepo()
	seedBasics(repo)
	svc := newTestService(repo, &stubAuthz{granted: map[string]bool{"docs.receipt.edit_approved": true}})

	doc, _, err := svc.Create(context.Background(), testActor, CreateInput{
		Type:           DocTypeReceipt,
		WarehouseID:    1,
		CounterpartyID: 50,
		Lines:          []LineInput{{ProductID: 100, Qty: 20, LotCode: "B1", Expiry: date(2030, time.January, 1)}},
	})
	require.NoError(t, err)
	_, _, err = svc.Approve(context.Background(), testActor, DocTypeReceipt, doc.ID)
	require.NoError(t, err)

	err = svc.Update(context.Background(), testActor, DocTypeReceipt, doc.ID, UpdateInput{
		WarehouseID:    1,
		CounterpartyID: 50,
		Lines:          []LineInput{{ProductID: 100, Qty: 20, LotCode: "B1", Expiry: date(2030, time.June, 1)}},
	})
	require.NoError(t, err)

	// The corrected expiry reaches the ledger row, not just the line.
	expiry := repo.lotExpiry(1, 100, "B1")
	require.NotNil(t, expiry)
	require.True(t, expiry.Equal(*date(2030, time.June, 1)))
	require.EqualValues(t, 20, repo.lotQty(1, 100, "B1"))
	requireAggregateConsistent(t, repo, 100)
}

func TestUpdateApprovedTransferRestoresSourceExpiry(t *testing.T) {
	repo := newMemoryRepo()
	seedBasics(repo)
	repo.seedLot(1, 100, "B1", 10, date(2030, time.March, 1))
	svc := newTestService(repo, &stubAuthz{granted: map[string]bool{"docs.transfer.edit_approved": true}})

	doc, _, err := svc.Create(context.Background(), testActor, CreateInput{
		Type:            DocTypeTransfer,
		WarehouseID:     1,
		DestWarehouseID: 2,
		Lines:           []LineInput{{ProductID: 100, Qty: 4, LotCode: "B1"}},
	})
	require.NoError(t, err)
	_, _, err = svc.Approve(context.Background(), testActor, DocTypeTransfer, doc.ID)
	require.NoError(t, err)

	// The edit claims a wrong expiry; the ledger row's value must win.
	err = svc.Update(context.Background(), testActor, DocTypeTransfer, doc.ID, UpdateInput{
		WarehouseID:     1,
		DestWarehouseID: 2,
		Lines:           []LineInput{{ProductID: 100, Qty: 6, LotCode: "B1", Expiry: date(2031, time.January, 1)}},
	})
	require.NoError(t, err)

	_, lines, err := repo.GetDocument(context.Background(), DocTypeTransfer, doc.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.NotNil(t, lines[0].Resolution.Expiry())
	require.True(t, lines[0].Resolution.Expiry().Equal(*date(2030, time.March, 1)))
	require.EqualValues(t, 4, repo.lotQty(1, 100, "B1"))
	require.EqualValues(t, 6, repo.lotQty(2, 100, "B1"))
	requireAggregateConsistent(t, repo, 100)
}

func TestCancelApprovedTransferKeepsApprover(t *testing.T) {
	repo := newMemoryRepo()
	seedBasics(repo)
	repo.seedLot(1, 100, "B1", 10, nil)
	svc := newTestService(repo, nil)

	doc, _, err := svc.Create(context.Background(), testActor, CreateInput{
		Type:            DocTypeTransfer,
		WarehouseID:     1,
		DestWarehouseID: 2,
		Lines:           []LineInput{{ProductID: 100, Qty: 5, LotCode: "B1"}},
	})
	require.NoError(t, err)
	_, _, err = svc.Approve(context.Background(), testActor, DocTypeTransfer, doc.ID)
	require.NoError(t, err)

	canceller := auth.Actor{ID: 4, Name: "Canceller"}
	require.NoError(t, svc.Cancel(context.Background(), canceller, DocTypeTransfer, doc.ID))

	stored, _, err := repo.GetDocument(context.Background(), DocTypeTransfer, doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, stored.Status)
	require.EqualValues(t, testActor.ID, stored.ApprovedBy, "cancelling must not erase who approved")
}

func TestUpdateApprovedRequiresElevatedPermission(t *testing.T) {
	repo := newMemoryRepo()
	seedBasics(repo)
	svc := newTestService(repo, &stubAuthz{granted: map[string]bool{}})

	doc, _, err := svc.Create(context.Background(), testActor, CreateInput{
		Type:           DocTypeReceipt,
		WarehouseID:    1,
		CounterpartyID: 50,
		Lines:          []LineInput{{ProductID: 100, Qty: 20, LotCode: "B1"}},
	})
	require.NoError(t, err)
	_, _, err = svc.Approve(context.Background(), testActor, DocTypeReceipt, doc.ID)
	require.NoError(t, err)

	err = svc.Update(context.Background(), testActor, DocTypeReceipt, doc.ID, UpdateInput{
		WarehouseID:    1,
		CounterpartyID: 50,
		Lines:          []LineInput{{ProductID: 100, Qty: 5, LotCode: "B1"}},
	})
	require.ErrorIs(t, err, shared.ErrForbidden)
	require.EqualValues(t, 20, repo.lotQty(1, 100, "B1"))
}

func TestUpdateApprovedRejectsUnresolvedLines(t *testing.T) {
	repo := newMemoryRepo()
	seedBasics(repo)
	svc := newTestService(repo, &stubAuthz{granted: map[string]bool{"docs.issue.edit_approved": true}})
	repo.seedLot(1, 100, "B1", 30, nil)

	doc, _, err := svc.Create(context.Background(), testActor, CreateInput{
		Type:           DocTypeIssue,
		WarehouseID:    1,
		CounterpartyID: 60,
		Lines:          []LineInput{{ProductID: 100, Qty: 10, LotCode: "B1"}},
	})
	require.NoError(t, err)
	_, _, err = svc.Approve(context.Background(), testActor, DocTypeIssue, doc.ID)
	require.NoError(t, err)

	err = svc.Update(context.Background(), testActor, DocTypeIssue, doc.ID, UpdateInput{
		WarehouseID:    1,
		CounterpartyID: 60,
		Lines:          []LineInput{{ProductID: 100, Qty: 5}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.EqualValues(t, 20, repo.lotQty(1, 100, "B1"))
}

func TestUpdatePastEditWindowForbidden(t *testing.T) {
	repo := newMemoryRepo()
	seedBasics(repo)
	svc := newTestService(repo, nil)

	created := time.Date(2025, time.January, 1, 9, 0, 0, 0, time.UTC)
	svc.now = fixedClock(created)
	doc, _, err := svc.Create(context.Background(), testActor, CreateInput{
		Type:           DocTypeReceipt,
		WarehouseID:    1,
		CounterpartyID: 50,
		Lines:          []LineInput{{ProductID: 100, Qty: 5, LotCode: "B1"}},
	})
	require.NoError(t, err)

	svc.now = fixedClock(created.Add(31 * 24 * time.Hour))
	err = svc.Update(context.Background(), testActor, DocTypeReceipt, doc.ID, UpdateInput{
		WarehouseID:    1,
		CounterpartyID: 50,
		Lines:          []LineInput{{ProductID: 100, Qty: 6, LotCode: "B1"}},
	})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestUpdatePendingReplacesLines(t *testing.T) {
	repo := newMemoryRepo()
	seedBasics(repo)
	svc := newTestService(repo, nil)

	doc, _, err := svc.Create(context.Background(), testActor, CreateInput{
		Type:           DocTypeReceipt,
		WarehouseID:    1,
		CounterpartyID: 50,
		Lines:          []LineInput{{ProductID: 100, Qty: 5, UnitPrice: 1, LotCode: "B1"}},
	})
	require.NoError(t, err)

	err = svc.Update(context.Background(), testActor, DocTypeReceipt, doc.ID, UpdateInput{
		WarehouseID:    1,
		CounterpartyID: 50,
		Note:           "revised",
		Lines:          []LineInput{{ProductID: 100, Qty: 9, UnitPrice: 2, LotCode: "B2"}},
	})
	require.NoError(t, err)

	stored, lines, err := repo.GetDocument(context.Background(), DocTypeReceipt, doc.ID)
	require.NoError(t, err)
	require.Equal(t, "revised", stored.Note)
	require.InDelta(t, 18.0, stored.TotalValue, 1e-9)
	require.Len(t, lines, 1)
	require.Equal(t, "B2", lines[0].Resolution.LotCode())
	// Pending documents have no ledger footprint.
	require.EqualValues(t, -1, repo.lotQty(1, 100, "B2"))
}

func TestDeleteApprovedReceiptReversesLedger(t *testing.T) {
	repo := newMemoryRepo()
	seedBasics(repo)
	svc := newTestService(repo, nil)

	doc, _, err := svc.Create(context.Background(), testActor, CreateInput{
		Type:           DocTypeReceipt,
		WarehouseID:    1,
		CounterpartyID: 50,
		Lines:          []LineInput{{ProductID: 100, Qty: 20, LotCode: "B1"}},
	})
	require.NoError(t, err)
	_, _, err = svc.Approve(context.Background(), testActor, DocTypeReceipt, doc.ID)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), testActor, DocTypeReceipt, doc.ID))

	// Zero-quantity rows are retained, never pruned.
	require.EqualValues(t, 0, repo.lotQty(1, 100, "B1"))
	require.EqualValues(t, 0, repo.aggregate(100))
	_, _, err = repo.GetDocument(context.Background(), DocTypeReceipt, doc.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDeleteApprovedReceiptFailsWhenStockConsumed(t *testing.T) {
	repo := newMemoryRepo()
	seedBasics(repo)
	svc := newTestService(repo, nil)

	doc, _, err := svc.Create(context.Background(), testActor, CreateInput{
		Type:           DocTypeReceipt,
		WarehouseID:    1,
		CounterpartyID: 50,
		Lines:          []LineInput{{ProductID: 100, Qty: 20, LotCode: "B1"}},
	})
	require.NoError(t, err)
	_, _, err = svc.Approve(context.Background(), testActor, DocTypeReceipt, doc.ID)
	require.NoError(t, err)

	issue, _, err := svc.Create(context.Background(), testActor, CreateInput{
		Type:           DocTypeIssue,
		WarehouseID:    1,
		CounterpartyID: 60,
		Lines:          []LineInput{{ProductID: 100, Qty: 15, LotCode: "B1"}},
	})
	require.NoError(t, err)
	_, _, err = svc.Approve(context.Background(), testActor, DocTypeIssue, issue.ID)
	require.NoError(t, err)

	err = svc.Delete(context.Background(), testActor, DocTypeReceipt, doc.ID)
	var stock *shared.InsufficientStockError
	require.True(t, errors.As(err, &stock), "deleting a receipt whose stock was issued must not drive the lot negative")
	require.EqualValues(t, 5, repo.lotQty(1, 100, "B1"))
	requireAggregateConsistent(t, repo, 100)
}

func TestAggregateConsistencyAcrossMixedSequence(t *testing.T) {
	repo := newMemoryRepo()
	seedBasics(repo)
	svc := newTestService(repo, &stubAuthz{granted: map[string]bool{"docs.receipt.edit_approved": true}})

	receipt, _, err := svc.Create(context.Background(), testActor, CreateInput{
		Type:           DocTypeReceipt,
		WarehouseID:    1,
		CounterpartyID: 50,
		Lines: []LineInput{
			{ProductID: 100, Qty: 40, LotCode: "B1", Expiry: date(2030, time.January, 1)},
			{ProductID: 100, Qty: 10, LotCode: "B2"},
		},
	})
	require.NoError(t, err)
	_, _, err = svc.Approve(context.Background(), testActor, DocTypeReceipt, receipt.ID)
	require.NoError(t, err)
	requireAggregateConsistent(t, repo, 100)

	transfer, _, err := svc.Create(context.Background(), testActor, CreateInput{
		Type:            DocTypeTransfer,
		WarehouseID:     1,
		DestWarehouseID: 2,
		Lines:           []LineInput{{ProductID: 100, Qty: 25}},
	})
	require.NoError(t, err)
	_, _, err = svc.Approve(context.Background(), testActor, DocTypeTransfer, transfer.ID)
	require.NoError(t, err)
	requireAggregateConsistent(t, repo, 100)
	require.EqualValues(t, 50, repo.aggregate(100))

	issue, _, err := svc.Create(context.Background(), testActor, CreateInput{
		Type:           DocTypeIssue,
		WarehouseID:    1,
		CounterpartyID: 60,
		Lines:          []LineInput{{ProductID: 100, Qty: 20}},
	})
	require.NoError(t, err)
	_, _, err = svc.Approve(context.Background(), testActor, DocTypeIssue, issue.ID)
	require.NoError(t, err)
	requireAggregateConsistent(t, repo, 100)
	require.EqualValues(t, 30, repo.aggregate(100))

	require.NoError(t, svc.Cancel(context.Background(), testActor, DocTypeTransfer, transfer.ID))
	requireAggregateConsistent(t, repo, 100)
	require.EqualValues(t, 30, repo.aggregate(100))
}
