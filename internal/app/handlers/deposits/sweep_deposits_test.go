package deposits

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"rentme-deposits/internal/app/policies"
	"rentme-deposits/internal/domain/claims"
	"rentme-deposits/internal/domain/deposit"
	"rentme-deposits/internal/domain/inspection"
)

func TestSweepReleasesVerifiedDepositOnce(t *testing.T) {
	f := newFixture(t)
	f.addBooking(1, true, time.Hour)

	res := f.runSweep(t, false)
	if res.Scanned != 1 || res.Eligible != 1 || res.Released != 1 || len(res.Errors) != 0 {
		t.Fatalf("result = %+v", res)
	}
	calls := f.gateway.Calls()
	if len(calls) != 1 || calls[0] != "deposit_release_pay-1" {
		t.Fatalf("gateway calls = %v", calls)
	}
	e := f.status(t, "pay-1")
	if e.Status != deposit.StatusReleased || e.ReleasedAt == nil || !e.ReleasedAt.Equal(testNow) {
		t.Fatalf("ledger = %+v", e)
	}
	if got := len(f.outbox.Named("deposit.released")); got != 1 {
		t.Fatalf("deposit.released events = %d", got)
	}
}

func TestSweepLeavesDepositWithPendingClaimHeld(t *testing.T) {
	f := newFixture(t)
	f.addBooking(1, true, time.Hour)
	f.fileClaim("bk-1", claims.StatusPending)

	res := f.runSweep(t, false)
	if res.Scanned != 1 || res.Eligible != 0 || res.Released != 0 {
		t.Fatalf("result = %+v", res)
	}
	if n := len(f.gateway.Calls()); n != 0 {
		t.Fatalf("gateway called %d times", n)
	}
	if e := f.status(t, "pay-1"); e.Status != deposit.StatusHeld {
		t.Fatalf("status = %s", e.Status)
	}
}

func TestSweepTimeoutRollsBackThenLaterSweepReleasesOnce(t *testing.T) {
	f := newFixture(t)
	f.addBooking(1, true, time.Hour)
	f.gateway.HangNext()

	first := f.runSweep(t, false)
	if first.Released != 0 || len(first.Errors) != 1 || first.Errors[0].Kind != string(OutcomeGatewayTransient) {
		t.Fatalf("first = %+v", first)
	}
	if first.Errors[0].BookingID != "bk-1" || first.Errors[0].PaymentID != "pay-1" {
		t.Fatalf("error item = %+v", first.Errors[0])
	}
	e := f.status(t, "pay-1")
	if e.Status != deposit.StatusHeld || e.Deposit.Amount != 200 || e.ReleasedAt != nil {
		t.Fatalf("after timeout = %+v", e)
	}
	if got := len(f.outbox.Named("deposit.release_failed")); got != 1 {
		t.Fatalf("release_failed events = %d", got)
	}

	second := f.runSweep(t, false)
	if second.Released != 1 || len(second.Errors) != 0 {
		t.Fatalf("second = %+v", second)
	}
	if f.status(t, "pay-1").Status != deposit.StatusReleased {
		t.Fatal("not released after retry")
	}
	for _, key := range f.gateway.Calls() {
		if key != "deposit_release_pay-1" {
			t.Fatalf("unexpected key %q", key)
		}
	}
	if f.gateway.Movements("ch_1") != 1 {
		t.Fatalf("movements = %d", f.gateway.Movements("ch_1"))
	}
}

func TestSweepLostResponseRetryDoesNotRefundTwice(t *testing.T) {
	f := newFixture(t)
	f.addBooking(1, true, time.Hour)
	f.gateway.LoseResponseNext()

	if res := f.runSweep(t, false); res.Released != 0 || len(res.Errors) != 1 {
		t.Fatalf("first = %+v", res)
	}
	if f.status(t, "pay-1").Status != deposit.StatusHeld {
		t.Fatal("transient failure must roll back")
	}
	if res := f.runSweep(t, false); res.Released != 1 {
		t.Fatalf("second = %+v", res)
	}
	if f.gateway.Movements("ch_1") != 1 {
		t.Fatalf("money moved %d times", f.gateway.Movements("ch_1"))
	}
}

func TestSweepTwiceReleasesEachDepositExactlyOnce(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 5; i++ {
		f.addBooking(i, true, time.Hour)
	}
	first := f.runSweep(t, false)
	second := f.runSweep(t, false)
	if first.Released != 5 {
		t.Fatalf("first released %d", first.Released)
	}
	if second.Released != 0 || second.Scanned != 0 {
		t.Fatalf("second = %+v", second)
	}
	if f.gateway.TotalMovements() != 5 || len(f.gateway.Calls()) != 5 {
		t.Fatalf("movements = %d calls = %d", f.gateway.TotalMovements(), len(f.gateway.Calls()))
	}
}

func TestSweepDryRunDoesNotMutate(t *testing.T) {
	f := newFixture(t)
	f.addBooking(1, true, time.Hour)
	f.addBooking(2, false, 72*time.Hour)
	f.addBooking(3, false, time.Hour)

	res := f.runSweep(t, true)
	if !res.DryRun || res.Scanned != 3 || res.Eligible != 2 || res.Released != 0 {
		t.Fatalf("result = %+v", res)
	}
	if len(f.gateway.Calls()) != 0 {
		t.Fatal("dry run called the gateway")
	}
	for _, id := range []deposit.PaymentID{"pay-1", "pay-2", "pay-3"} {
		if f.status(t, id).Status != deposit.StatusHeld {
			t.Fatalf("%s changed during dry run", id)
		}
	}
	ev, _ := f.evidence.ReturnEvidence(context.Background(), "bk-2")
	if ev.VerifiedByOwner {
		t.Fatal("dry run auto-accepted evidence")
	}
}

func TestSweepClaimFiledAfterScanRollsBack(t *testing.T) {
	f := newFixture(t)
	f.addBooking(1, true, time.Hour)
	f.releaser.Claims = lateClaims{
		Reader: f.claims,
		late:   map[string][]*claims.Claim{"bk-1": {{ID: "late", BookingID: "bk-1", Status: claims.StatusPending}}},
	}

	res := f.runSweep(t, false)
	if res.Eligible != 1 || res.Released != 0 || res.Skipped != 1 || len(res.Errors) != 0 {
		t.Fatalf("result = %+v", res)
	}
	if len(f.gateway.Calls()) != 0 {
		t.Fatal("gateway called despite late claim")
	}
	if f.status(t, "pay-1").Status != deposit.StatusHeld {
		t.Fatal("stale claim must roll back to held")
	}
}

func TestSweepAutoAcceptsAfterClaimWindow(t *testing.T) {
	f := newFixture(t)
	f.addBooking(1, false, 48*time.Hour+time.Second)
	f.addBooking(2, false, 48*time.Hour-time.Second)

	res := f.runSweep(t, false)
	if res.Scanned != 2 || res.Eligible != 1 || res.Released != 1 {
		t.Fatalf("result = %+v", res)
	}
	ev, err := f.evidence.ReturnEvidence(context.Background(), "bk-1")
	if err != nil {
		t.Fatal(err)
	}
	if !ev.VerifiedByOwner || ev.OwnerVerification != inspection.VerificationAutoAccepted || ev.AutoAcceptedAt == nil {
		t.Fatalf("evidence = %+v", ev)
	}
	open, _ := f.evidence.ReturnEvidence(context.Background(), "bk-2")
	if open.VerifiedByOwner {
		t.Fatal("open window must not auto-accept")
	}
	if got := len(f.outbox.Named("inspection.auto_accepted")); got != 1 {
		t.Fatalf("auto_accepted events = %d", got)
	}
}

func TestSweepUsesBookingClaimWindow(t *testing.T) {
	f := newFixture(t)
	f.addBooking(1, false, 30*time.Hour)
	f.evidence.Put(&inspection.ReturnEvidence{
		BookingID:        "bk-1",
		VerifiedByRenter: true,
		SubmittedAt:      testNow.Add(-30 * time.Hour),
		ClaimWindowHours: 24,
	})
	if res := f.runSweep(t, false); res.Released != 1 {
		t.Fatalf("24h booking window should have elapsed: %+v", res)
	}
}

func TestSweepRejectionRollsBackAndReports(t *testing.T) {
	f := newFixture(t)
	f.addBooking(1, true, time.Hour)
	f.addBooking(2, true, time.Hour)
	f.gateway.FailNext(policies.Rejected("charge_disputed", "charge is under dispute"))
	f.sweep.Concurrency = 1

	res := f.runSweep(t, false)
	if res.Released != 1 || len(res.Errors) != 1 || res.Errors[0].Kind != string(OutcomeGatewayRejected) {
		t.Fatalf("result = %+v", res)
	}
	failed := res.Errors[0].PaymentID
	if f.status(t, deposit.PaymentID(failed)).Status != deposit.StatusHeld {
		t.Fatal("rejected refund must roll back")
	}
}

func TestSweepFinalizeFailureLeavesReleasing(t *testing.T) {
	f := newFixture(t)
	f.addBooking(1, true, time.Hour)
	f.releaser.Ledger = failingFinalize{Ledger: f.ledger}

	res := f.runSweep(t, false)
	if len(res.Errors) != 1 || res.Errors[0].Kind != string(OutcomeFinalizeFailed) {
		t.Fatalf("result = %+v", res)
	}
	if f.status(t, "pay-1").Status != deposit.StatusReleasing {
		t.Fatal("finalize failure must leave releasing")
	}
	if f.gateway.Movements("ch_1") != 1 {
		t.Fatal("refund should have been issued")
	}

	f.releaser.Ledger = f.ledger
	again := f.runSweep(t, false)
	if again.Scanned != 0 || len(f.gateway.Calls()) != 1 {
		t.Fatalf("releasing deposit was picked up again: %+v", again)
	}
}

func TestConcurrentSweepsReleaseEachDepositOnce(t *testing.T) {
	f := newFixture(t)
	const bookings = 20
	for i := 1; i <= bookings; i++ {
		f.addBooking(i, true, time.Hour)
	}
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		released int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.sweep.Handle(context.Background(), SweepDepositsCommand{Trigger: TriggerKafka})
			if err != nil {
				t.Errorf("sweep: %v", err)
				return
			}
			if len(res.Errors) != 0 {
				t.Errorf("errors: %+v", res.Errors)
			}
			mu.Lock()
			released += res.Released
			mu.Unlock()
		}()
	}
	wg.Wait()
	if released != bookings {
		t.Fatalf("released %d, want %d", released, bookings)
	}
	if f.gateway.TotalMovements() != bookings || len(f.gateway.Calls()) != bookings {
		t.Fatalf("movements = %d calls = %d", f.gateway.TotalMovements(), len(f.gateway.Calls()))
	}
}

func TestSweepRespectsLimit(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 5; i++ {
		f.addBooking(i, true, time.Hour)
	}
	res, err := f.sweep.Handle(context.Background(), SweepDepositsCommand{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if res.Scanned != 2 || res.Released != 2 {
		t.Fatalf("result = %+v", res)
	}
}

func TestSweepCommandValidate(t *testing.T) {
	if err := (SweepDepositsCommand{Limit: -1}).Validate(); !errors.Is(err, ErrInvalidCommand) {
		t.Fatalf("err = %v", err)
	}
	if err := (SweepDepositsCommand{Limit: 10}).Validate(); err != nil {
		t.Fatalf("err = %v", err)
	}
}

type recordingArchive struct {
	mu    sync.Mutex
	names []string
}

func (a *recordingArchive) Archive(_ context.Context, name string, _ []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.names = append(a.names, name)
	return "s3://reports/" + name, nil
}

func TestSweepArchivesLiveReportsOnly(t *testing.T) {
	f := newFixture(t)
	f.addBooking(1, true, time.Hour)
	archive := &recordingArchive{}
	f.sweep.Archive = archive

	f.runSweep(t, true)
	live, err := f.sweep.Handle(context.Background(), SweepDepositsCommand{RunID: "run-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(archive.names) != 1 || archive.names[0] != "sweeps/2025-06-10/run-1.json" {
		t.Fatalf("archived = %v", archive.names)
	}
	if live.ReportURL != "s3://reports/sweeps/2025-06-10/run-1.json" {
		t.Fatalf("report url = %q", live.ReportURL)
	}
}

var _ policies.ReportArchive = (*recordingArchive)(nil)

func TestSweepRotatesPastRowsThatStayBlocked(t *testing.T) {
	f := newFixture(t)
	f.addBooking(1, true, 72*time.Hour)
	f.addBooking(2, true, 72*time.Hour)
	f.fileClaim("bk-1", claims.StatusDisputed)
	f.fileClaim("bk-2", claims.StatusDisputed)
	f.addBooking(3, true, 72*time.Hour)

	sweep := func(dryRun bool) *SweepResult {
		res, err := f.sweep.Handle(context.Background(), SweepDepositsCommand{Limit: 2, DryRun: dryRun, Trigger: TriggerSchedule})
		if err != nil {
			t.Fatal(err)
		}
		return res
	}

	for i := 0; i < 3; i++ {
		if res := sweep(true); res.Eligible != 0 {
			t.Fatalf("dry run %d saw the eligible row; dry runs must not rotate: %+v", i, res)
		}
	}
	first := sweep(false)
	if first.Scanned != 2 || first.Released != 0 {
		t.Fatalf("first = %+v", first)
	}
	second := sweep(false)
	if second.Released != 1 {
		t.Fatalf("second = %+v", second)
	}
	if got := f.status(t, "pay-3").Status; got != deposit.StatusReleased {
		t.Fatalf("pay-3 status = %s, want released", got)
	}
	for _, id := range []deposit.PaymentID{"pay-1", "pay-2"} {
		if got := f.status(t, id).Status; got != deposit.StatusHeld {
			t.Fatalf("%s status = %s", id, got)
		}
	}
}
