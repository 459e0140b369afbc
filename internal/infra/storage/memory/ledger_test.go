package memory

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"rentme-deposits/internal/domain/deposit"
	"rentme-deposits/internal/domain/shared/money"
)

func seedEntries(n int) []*deposit.Entry {
	out := make([]*deposit.Entry, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, &deposit.Entry{
			ID:              deposit.PaymentID(fmt.Sprintf("pay-%d", i)),
			BookingID:       fmt.Sprintf("bk-%d", i),
			Deposit:         money.Must(200, "USD"),
			Status:          deposit.StatusHeld,
			ChargeReference: fmt.Sprintf("ch-%d", i),
		})
	}
	return out
}

func TestLedgerTryLockIsExclusive(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(seedEntries(1)...)
	const workers = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.TryLock(ctx, "pay-0")
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
				return
			}
			if !errors.Is(err, deposit.ErrTransitionRejected) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("winners = %d, want 1", winners)
	}
}

// Random concurrent lock/finalize/rollback calls must only ever produce
// held->releasing->released or releasing->held chains.
func TestLedgerTransitionsStayMonotonicUnderRandomInterleavings(t *testing.T) {
	ctx := context.Background()
	const (
		payments = 8
		workers  = 16
		ops      = 400
	)
	ledger := NewLedger(seedEntries(payments)...)
	var (
		mu      sync.Mutex
		history = make(map[deposit.PaymentID][][2]deposit.Status)
	)
	ledger.OnTransition(func(id deposit.PaymentID, from, to deposit.Status) {
		mu.Lock()
		history[id] = append(history[id], [2]deposit.Status{from, to})
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < ops; i++ {
				id := deposit.PaymentID(fmt.Sprintf("pay-%d", rng.Intn(payments)))
				var err error
				switch rng.Intn(3) {
				case 0:
					_, err = ledger.TryLock(ctx, id)
				case 1:
					err = ledger.Finalize(ctx, id, time.Now())
				default:
					err = ledger.Rollback(ctx, id)
				}
				if err != nil && !errors.Is(err, deposit.ErrTransitionRejected) {
					t.Errorf("unexpected error: %v", err)
				}
			}
		}(int64(w) + 1)
	}
	wg.Wait()

	for id, steps := range history {
		state := deposit.StatusHeld
		for i, step := range steps {
			if step[0] != state {
				t.Fatalf("%s step %d starts from %s, ledger was %s", id, i, step[0], state)
			}
			if !step[0].CanTransitionTo(step[1]) {
				t.Fatalf("%s step %d: illegal %s -> %s", id, i, step[0], step[1])
			}
			if step[0] == deposit.StatusReleased {
				t.Fatalf("%s left released", id)
			}
			state = step[1]
		}
		e, err := ledger.ByID(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if e.Status != state {
			t.Fatalf("%s status %s, history ends at %s", id, e.Status, state)
		}
		if (e.Status == deposit.StatusReleased) != (e.ReleasedAt != nil) {
			t.Fatalf("%s: ReleasedAt=%v with status %s", id, e.ReleasedAt, e.Status)
		}
	}
}

func TestLedgerListReleasable(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := seedEntries(4)
	for i, e := range entries {
		e.UpdatedAt = base.Add(time.Duration(4-i) * time.Hour)
	}
	entries[1].ChargeReference = ""
	entries[2].Status = deposit.StatusReleased
	noDeposit := &deposit.Entry{ID: "pay-x", BookingID: "bk-x", Deposit: money.Must(0, "USD"), Status: deposit.StatusHeld, ChargeReference: "ch"}
	ledger := NewLedger(append(entries, noDeposit)...)

	got, err := ledger.ListReleasable(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "pay-3" || got[1].ID != "pay-0" {
		ids := make([]deposit.PaymentID, 0, len(got))
		for _, e := range got {
			ids = append(ids, e.ID)
		}
		t.Fatalf("got %v, want [pay-3 pay-0]", ids)
	}
	limited, _ := ledger.ListReleasable(ctx, 1)
	if len(limited) != 1 {
		t.Fatalf("limit ignored: %d", len(limited))
	}
}

func TestLedgerFinalizeRequiresReleasing(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(seedEntries(1)...)
	if err := ledger.Finalize(ctx, "pay-0", time.Now()); !errors.Is(err, deposit.ErrTransitionRejected) {
		t.Fatalf("finalize from held: %v", err)
	}
	if err := ledger.Rollback(ctx, "pay-0"); !errors.Is(err, deposit.ErrTransitionRejected) {
		t.Fatalf("rollback from held: %v", err)
	}
	if _, err := ledger.TryLock(ctx, "missing"); !errors.Is(err, deposit.ErrEntryNotFound) {
		t.Fatalf("missing: %v", err)
	}
}

func TestLedgerMarkScannedRotatesListing(t *testing.T) {
	ctx := context.Background()
	entries := seedEntries(3)
	entries[2].Status = deposit.StatusReleasing
	ledger := NewLedger(entries...)
	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	if err := ledger.MarkScanned(ctx, []deposit.PaymentID{"pay-0", "pay-2", "pay-missing"}, at); err != nil {
		t.Fatal(err)
	}
	got, err := ledger.ListReleasable(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "pay-1" || got[1].ID != "pay-0" {
		t.Fatalf("order after stamp = %v", got)
	}
	if !got[1].LastScannedAt.Equal(at) {
		t.Fatalf("pay-0 stamp = %v", got[1].LastScannedAt)
	}
	releasing, _ := ledger.ByID(ctx, "pay-2")
	if !releasing.LastScannedAt.IsZero() {
		t.Fatalf("non-held row stamped: %v", releasing.LastScannedAt)
	}
}
