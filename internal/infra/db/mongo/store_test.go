package mongo

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"rentme-deposits/internal/domain/deposit"
	"rentme-deposits/internal/domain/inspection"
	"rentme-deposits/internal/domain/shared/money"
)

// testDB connects to MONGO_URI and hands out a throwaway database that is
// dropped when the test ends.
func testDB(t *testing.T) *mongo.Database {
	t.Helper()
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}
	ctx := context.Background()
	name := "rentme_deposits_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	client, err := New(ctx, uri, name)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = client.DB.Drop(context.Background())
		_ = client.Close(context.Background())
	})
	return client.DB
}

func heldEntry(n string) *deposit.Entry {
	return &deposit.Entry{
		ID:              deposit.PaymentID("pay-" + n),
		BookingID:       "bk-" + n,
		RenterID:        "renter-" + n,
		OwnerID:         "owner-" + n,
		Total:           money.Must(1200, "USD"),
		Deposit:         money.Must(200, "USD"),
		Status:          deposit.StatusHeld,
		ChargeReference: "ch_" + n,
	}
}

func TestAutoAcceptFilterMatchesMissingOwnerFlag(t *testing.T) {
	filter := autoAcceptFilter("bk-1")
	if filter["booking_id"] != "bk-1" || filter["inspection_type"] != string(inspection.TypeReturn) {
		t.Fatalf("filter = %v", filter)
	}
	cond, ok := filter["verified_by_owner"].(bson.M)
	if !ok || cond["$ne"] != true {
		t.Fatalf("verified_by_owner condition = %#v, want {$ne: true}", filter["verified_by_owner"])
	}
}

func TestLedgerStoreTryLockHasOneWinner(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	store := NewLedgerStore(db)
	if err := EnsureIndexes(ctx, store); err != nil {
		t.Fatal(err)
	}
	if err := store.Upsert(ctx, heldEntry("1")); err != nil {
		t.Fatal(err)
	}

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		rejected int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.TryLock(ctx, "pay-1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, deposit.ErrTransitionRejected):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 || rejected != workers-1 {
		t.Fatalf("wins=%d rejected=%d", wins, rejected)
	}

	released := time.Date(2025, 6, 4, 9, 0, 0, 0, time.UTC)
	if err := store.Finalize(ctx, "pay-1", released); err != nil {
		t.Fatal(err)
	}
	if err := store.Rollback(ctx, "pay-1"); !errors.Is(err, deposit.ErrTransitionRejected) {
		t.Fatalf("rollback after finalize = %v", err)
	}
	if err := store.Finalize(ctx, "pay-1", released); !errors.Is(err, deposit.ErrTransitionRejected) {
		t.Fatalf("second finalize = %v", err)
	}
	if _, err := store.TryLock(ctx, "pay-missing"); !errors.Is(err, deposit.ErrEntryNotFound) {
		t.Fatalf("missing row = %v", err)
	}
	got, err := store.ByID(ctx, "pay-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != deposit.StatusReleased || got.ReleasedAt == nil || !got.ReleasedAt.Equal(released) {
		t.Fatalf("row = %+v", got)
	}
}

func TestLedgerStoreRollbackReturnsToHeld(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	store := NewLedgerStore(db)
	if err := store.Upsert(ctx, heldEntry("1")); err != nil {
		t.Fatal(err)
	}
	if err := store.Rollback(ctx, "pay-1"); !errors.Is(err, deposit.ErrTransitionRejected) {
		t.Fatalf("rollback from held = %v", err)
	}
	if _, err := store.TryLock(ctx, "pay-1"); err != nil {
		t.Fatal(err)
	}
	if err := store.Rollback(ctx, "pay-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.TryLock(ctx, "pay-1"); err != nil {
		t.Fatalf("relock after rollback = %v", err)
	}
}

func TestLedgerStoreMarkScannedRotatesListing(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	store := NewLedgerStore(db)
	for _, n := range []string{"1", "2", "3"} {
		if err := store.Upsert(ctx, heldEntry(n)); err != nil {
			t.Fatal(err)
		}
	}
	blank := heldEntry("4")
	blank.ChargeReference = "   "
	if err := store.Upsert(ctx, blank); err != nil {
		t.Fatal(err)
	}

	if err := store.MarkScanned(ctx, []deposit.PaymentID{"pay-1", "pay-2"}, time.Now()); err != nil {
		t.Fatal(err)
	}
	got, err := store.ListReleasable(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "pay-3" {
		t.Fatalf("first listed = %v, want pay-3", got)
	}
	all, err := store.ListReleasable(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("listed %d rows, want 3 (blank charge excluded)", len(all))
	}
}

func TestEvidenceStoreAutoAcceptsDocumentsWithoutOwnerFlag(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	store := NewEvidenceStore(db)
	_, err := store.col.InsertOne(ctx, bson.M{
		"booking_id":         "bk-legacy",
		"inspection_type":    string(inspection.TypeReturn),
		"verified_by_renter": true,
		"submitted_at":       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}
	at := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)
	changed, err := store.MarkAutoAccepted(ctx, "bk-legacy", at)
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("document without verified_by_owner was not auto-accepted")
	}
	ev, err := store.ReturnEvidence(ctx, "bk-legacy")
	if err != nil {
		t.Fatal(err)
	}
	if !ev.VerifiedByOwner || ev.OwnerVerification != inspection.VerificationAutoAccepted {
		t.Fatalf("evidence = %+v", ev)
	}
	again, err := store.MarkAutoAccepted(ctx, "bk-legacy", at.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if again {
		t.Fatal("second auto-accept overwrote the first")
	}
}
