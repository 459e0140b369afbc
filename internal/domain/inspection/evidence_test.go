package inspection

import (
	"testing"
	"time"
)

func TestResolveClaimWindow(t *testing.T) {
	cases := []struct {
		name     string
		ev       *ReturnEvidence
		fallback time.Duration
		want     time.Duration
	}{
		{"booking value", &ReturnEvidence{ClaimWindowHours: 72}, 24 * time.Hour, 72 * time.Hour},
		{"configured fallback", &ReturnEvidence{}, 24 * time.Hour, 24 * time.Hour},
		{"nil evidence", nil, 0, DefaultClaimWindow},
		{"negative hours", &ReturnEvidence{ClaimWindowHours: -3}, 0, DefaultClaimWindow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolveClaimWindow(tc.ev, tc.fallback); got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestMarkAutoAcceptedOnlyOnce(t *testing.T) {
	ev := &ReturnEvidence{BookingID: "bk-1", VerifiedByRenter: true}
	at := time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC)
	if !ev.MarkAutoAccepted(at) {
		t.Fatal("first mark should apply")
	}
	if !ev.AutoAccepted() || ev.AutoAcceptedAt == nil || !ev.AutoAcceptedAt.Equal(at) {
		t.Fatalf("marker not recorded: %+v", ev)
	}
	if ev.MarkAutoAccepted(at.Add(time.Hour)) {
		t.Fatal("second mark must not apply")
	}

	owner := &ReturnEvidence{VerifiedByOwner: true, OwnerVerification: VerificationOwnerConfirmed}
	if owner.MarkAutoAccepted(at) || owner.AutoAccepted() {
		t.Fatal("owner-confirmed evidence must keep its marker")
	}
}
