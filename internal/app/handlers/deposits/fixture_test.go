package deposits

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"rentme-deposits/internal/domain/claims"
	"rentme-deposits/internal/domain/deposit"
	"rentme-deposits/internal/domain/inspection"
	"rentme-deposits/internal/domain/shared/money"
	"rentme-deposits/internal/infra/payments"
	"rentme-deposits/internal/infra/storage/memory"
)

var testNow = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	ledger   *memory.Ledger
	evidence *memory.EvidenceStore
	claims   *memory.ClaimStore
	gateway  *payments.Sandbox
	outbox   *memory.Outbox
	releaser *Releaser
	sweep    *SweepDepositsHandler
	release  *ReleaseDepositHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ledger:   memory.NewLedger(),
		evidence: memory.NewEvidenceStore(),
		claims:   memory.NewClaimStore(),
		gateway:  payments.NewSandbox(),
		outbox:   memory.NewOutbox(),
	}
	f.releaser = &Releaser{
		Ledger:         f.ledger,
		Evidence:       f.evidence,
		Claims:         f.claims,
		Gateway:        f.gateway,
		Outbox:         f.outbox,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		GatewayTimeout: 50 * time.Millisecond,
		Clock:          func() time.Time { return testNow },
	}
	f.sweep = &SweepDepositsHandler{Releaser: f.releaser, ClaimWindow: 48 * time.Hour, Concurrency: 4}
	f.release = &ReleaseDepositHandler{Releaser: f.releaser, ClaimWindow: 48 * time.Hour}
	return f
}

// addBooking seeds a held 200 USD deposit for booking bk-<n> with renter
// verified return evidence submitted `ago` before testNow.
func (f *fixture) addBooking(n int, ownerVerified bool, ago time.Duration) *deposit.Entry {
	e := &deposit.Entry{
		ID:              deposit.PaymentID(fmt.Sprintf("pay-%d", n)),
		BookingID:       fmt.Sprintf("bk-%d", n),
		RenterID:        fmt.Sprintf("renter-%d", n),
		OwnerID:         fmt.Sprintf("owner-%d", n),
		Total:           money.Must(1200, "USD"),
		Deposit:         money.Must(200, "USD"),
		Status:          deposit.StatusHeld,
		ChargeReference: fmt.Sprintf("ch_%d", n),
	}
	f.ledger.Put(e)
	ev := &inspection.ReturnEvidence{
		BookingID:        e.BookingID,
		InspectionType:   inspection.TypeReturn,
		VerifiedByRenter: true,
		VerifiedByOwner:  ownerVerified,
		SubmittedAt:      testNow.Add(-ago),
	}
	if ownerVerified {
		ev.OwnerVerification = inspection.VerificationOwnerConfirmed
	}
	f.evidence.Put(ev)
	return e
}

func (f *fixture) fileClaim(bookingID string, status claims.Status) {
	f.claims.File(&claims.Claim{
		ID:            claims.ClaimID("claim-" + bookingID + "-" + string(status)),
		BookingID:     bookingID,
		FiledBy:       "owner",
		EstimatedCost: money.Must(50, "USD"),
		Status:        status,
	})
}

func (f *fixture) status(t *testing.T, id deposit.PaymentID) *deposit.Entry {
	t.Helper()
	e, err := f.ledger.ByID(context.Background(), id)
	if err != nil {
		t.Fatalf("ledger lookup %s: %v", id, err)
	}
	return e
}

func (f *fixture) runSweep(t *testing.T, dryRun bool) *SweepResult {
	t.Helper()
	res, err := f.sweep.Handle(context.Background(), SweepDepositsCommand{DryRun: dryRun, Trigger: TriggerCLI})
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	return res
}

// lateClaims hides claims from the bulk scan but reports them after the
// lock, simulating a claim filed between scan and lock.
type lateClaims struct {
	claims.Reader
	late map[string][]*claims.Claim
}

func (l lateClaims) ByBookings(ctx context.Context, ids []string) (map[string][]*claims.Claim, error) {
	return map[string][]*claims.Claim{}, nil
}

func (l lateClaims) ByBooking(ctx context.Context, id string) ([]*claims.Claim, error) {
	return l.late[id], nil
}

var errDiskFull = errors.New("ledger: disk full")

// failingFinalize wraps a ledger whose finalize write fails after refund.
type failingFinalize struct {
	*memory.Ledger
}

func (failingFinalize) Finalize(context.Context, deposit.PaymentID, time.Time) error {
	return errDiskFull
}

// lostLock pretends another actor always wins the lock.
type lostLock struct {
	*memory.Ledger
}

func (lostLock) TryLock(context.Context, deposit.PaymentID) (*deposit.Entry, error) {
	return nil, deposit.ErrTransitionRejected
}
