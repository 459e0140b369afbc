package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"rentme-deposits/internal/domain/claims"
	"rentme-deposits/internal/domain/deposit"
)

const fixtureJSON = `[
  {
    "payment_id": "pay-1", "booking_id": "bk-1", "renter_id": "r-1", "owner_id": "o-1",
    "total_cents": 120000, "deposit_cents": 20000, "currency": "usd", "charge_reference": "ch_1",
    "return": {"submitted_at": "2025-06-01T10:00:00Z", "verified_by_renter": true, "claim_window_hours": 24},
    "claims": [{"filed_by": "o-1", "estimate_cents": 5000}]
  },
  {"payment_id": "pay-2", "booking_id": "bk-2", "currency": "USD", "status": "frozen"},
  {"payment_id": "pay-3", "booking_id": "bk-3", "currency": "USD", "deposit_cents": 100, "status": "released"}
]`

func TestLoadFixturesSeedsStores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deposits.json")
	if err := os.WriteFile(path, []byte(fixtureJSON), 0o600); err != nil {
		t.Fatal(err)
	}
	s := memoryStores()
	ctx := context.Background()
	if err := loadFixtures(ctx, path, s.seed, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatal(err)
	}

	e, err := s.ledger.ByBooking(ctx, "bk-1")
	if err != nil {
		t.Fatal(err)
	}
	if e.Status != deposit.StatusHeld || e.Deposit.Currency != "USD" || e.Deposit.Amount != 20000 {
		t.Fatalf("entry = %+v", e)
	}
	ev, err := s.evidence.ReturnEvidence(ctx, "bk-1")
	if err != nil || ev.ClaimWindowHours != 24 || ev.VerifiedByOwner {
		t.Fatalf("evidence = %+v, %v", ev, err)
	}
	list, _ := s.claims.ByBooking(ctx, "bk-1")
	if len(list) != 1 || list[0].ID != "bk-1-claim-1" || list[0].Status != claims.StatusPending {
		t.Fatalf("claims = %+v", list)
	}

	if _, err := s.ledger.ByBooking(ctx, "bk-2"); err != deposit.ErrEntryNotFound {
		t.Fatalf("invalid fixture stored: %v", err)
	}
	released, err := s.ledger.ByBooking(ctx, "bk-3")
	if err != nil || released.ReleasedAt == nil {
		t.Fatalf("released fixture = %+v, %v", released, err)
	}
}

func TestLoadFixturesMissingFileIsNotAnError(t *testing.T) {
	err := loadFixtures(context.Background(), filepath.Join(t.TempDir(), "none.json"), memoryStores().seed, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
}
