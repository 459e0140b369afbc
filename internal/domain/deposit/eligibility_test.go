package deposit

import (
	"testing"
	"time"

	"rentme-deposits/internal/domain/claims"
	"rentme-deposits/internal/domain/inspection"
	"rentme-deposits/internal/domain/shared/money"
)

var submitted = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func heldEntry() *Entry {
	return &Entry{
		ID:              "pay-1",
		BookingID:       "bk-1",
		RenterID:        "renter-1",
		OwnerID:         "owner-1",
		Total:           money.Must(1200, "USD"),
		Deposit:         money.Must(200, "USD"),
		Status:          StatusHeld,
		ChargeReference: "ch_123",
	}
}

func renterEvidence(ownerVerified bool) *inspection.ReturnEvidence {
	return &inspection.ReturnEvidence{
		BookingID:        "bk-1",
		InspectionType:   inspection.TypeReturn,
		VerifiedByOwner:  ownerVerified,
		VerifiedByRenter: true,
		SubmittedAt:      submitted,
		ClaimWindowHours: 48,
	}
}

func TestEvaluateLedgerPreconditions(t *testing.T) {
	now := submitted.Add(72 * time.Hour)
	cases := []struct {
		name   string
		mutate func(e *Entry)
		want   Reason
	}{
		{"releasing", func(e *Entry) { e.Status = StatusReleasing }, ReasonNotHeld},
		{"released", func(e *Entry) { e.Status = StatusReleased }, ReasonNotHeld},
		{"none", func(e *Entry) { e.Status = StatusNone }, ReasonNotHeld},
		{"zero deposit", func(e *Entry) { e.Deposit = money.Must(0, "USD") }, ReasonNoDeposit},
		{"missing charge", func(e *Entry) { e.ChargeReference = "" }, ReasonNoChargeReference},
		{"blank charge", func(e *Entry) { e.ChargeReference = " \t " }, ReasonNoChargeReference},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entry := heldEntry()
			tc.mutate(entry)
			got := Evaluate(EvaluateParams{Entry: entry, Evidence: renterEvidence(true), Window: 48 * time.Hour, Now: now})
			if got.Eligible {
				t.Fatalf("expected ineligible, got %+v", got)
			}
			if got.Reason != tc.want {
				t.Fatalf("reason = %s, want %s", got.Reason, tc.want)
			}
		})
	}
}

func TestEvaluateBlockingClaimsWinOverEvidence(t *testing.T) {
	now := submitted.Add(240 * time.Hour)
	evidences := map[string]*inspection.ReturnEvidence{
		"owner verified":   renterEvidence(true),
		"window elapsed":   renterEvidence(false),
		"renter only open": {BookingID: "bk-1", VerifiedByRenter: true, SubmittedAt: now},
		"missing":          nil,
	}
	for _, status := range []claims.Status{claims.StatusPending, claims.StatusDisputed} {
		for name, ev := range evidences {
			t.Run(string(status)+"/"+name, func(t *testing.T) {
				list := []*claims.Claim{
					{ID: "c-0", BookingID: "bk-1", Status: claims.StatusResolved},
					{ID: "c-1", BookingID: "bk-1", Status: status},
				}
				got := Evaluate(EvaluateParams{Entry: heldEntry(), Evidence: ev, Claims: list, Window: 48 * time.Hour, Now: now})
				if got.Eligible || got.Reason != ReasonBlockingClaim {
					t.Fatalf("expected blocking_claim, got %+v", got)
				}
			})
		}
	}
}

func TestEvaluateTerminalClaimsDoNotBlock(t *testing.T) {
	list := []*claims.Claim{
		{ID: "c-1", Status: claims.StatusAccepted},
		{ID: "c-2", Status: claims.StatusResolved},
		{ID: "c-3", Status: claims.StatusClosed},
	}
	got := Evaluate(EvaluateParams{Entry: heldEntry(), Evidence: renterEvidence(true), Claims: list, Window: 48 * time.Hour, Now: submitted})
	if !got.Eligible || got.Reason != ReasonOwnerVerified {
		t.Fatalf("expected owner_verified eligibility, got %+v", got)
	}
	if got.AutoResolve {
		t.Fatal("owner verified release must not auto-resolve")
	}
}

func TestEvaluateEvidenceRequirements(t *testing.T) {
	now := submitted.Add(100 * time.Hour)
	got := Evaluate(EvaluateParams{Entry: heldEntry(), Window: 48 * time.Hour, Now: now})
	if got.Eligible || got.Reason != ReasonEvidenceMissing {
		t.Fatalf("missing evidence: got %+v", got)
	}
	ev := renterEvidence(true)
	ev.VerifiedByRenter = false
	got = Evaluate(EvaluateParams{Entry: heldEntry(), Evidence: ev, Window: 48 * time.Hour, Now: now})
	if got.Eligible || got.Reason != ReasonRenterNotVerified {
		t.Fatalf("renter not verified: got %+v", got)
	}
}

func TestEvaluateClaimWindowBoundary(t *testing.T) {
	window := 48 * time.Hour
	cases := []struct {
		name     string
		now      time.Time
		eligible bool
		reason   Reason
	}{
		{"one second before", submitted.Add(window - time.Second), false, ReasonClaimWindowOpen},
		{"exactly at end", submitted.Add(window), false, ReasonClaimWindowOpen},
		{"one second after", submitted.Add(window + time.Second), true, ReasonWindowElapsed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(EvaluateParams{Entry: heldEntry(), Evidence: renterEvidence(false), Window: window, Now: tc.now})
			if got.Eligible != tc.eligible || got.Reason != tc.reason {
				t.Fatalf("got %+v, want eligible=%v reason=%s", got, tc.eligible, tc.reason)
			}
			if got.AutoResolve != tc.eligible {
				t.Fatalf("AutoResolve = %v, want %v", got.AutoResolve, tc.eligible)
			}
			if !got.WindowEndsAt.Equal(submitted.Add(window)) {
				t.Fatalf("WindowEndsAt = %s", got.WindowEndsAt)
			}
		})
	}
}

func TestEvaluateAlreadyAutoAccepted(t *testing.T) {
	ev := renterEvidence(false)
	if !ev.MarkAutoAccepted(submitted.Add(49 * time.Hour)) {
		t.Fatal("expected marker to apply")
	}
	got := Evaluate(EvaluateParams{Entry: heldEntry(), Evidence: ev, Window: 48 * time.Hour, Now: submitted.Add(50 * time.Hour)})
	if !got.Eligible || got.AutoResolve || got.Reason != ReasonWindowElapsed {
		t.Fatalf("got %+v", got)
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	p := EvaluateParams{Entry: heldEntry(), Evidence: renterEvidence(false), Window: 24 * time.Hour, Now: submitted.Add(30 * time.Hour)}
	first := Evaluate(p)
	for i := 0; i < 10; i++ {
		if got := Evaluate(p); got != first {
			t.Fatalf("run %d: %+v != %+v", i, got, first)
		}
	}
	if p.Evidence.VerifiedByOwner {
		t.Fatal("Evaluate mutated evidence")
	}
}
