package postgres

import (
	"errors"
	"testing"
	"time"

	"rentme-deposits/internal/domain/claims"
	"rentme-deposits/internal/domain/deposit"
	"rentme-deposits/internal/domain/shared/money"
)

func TestResponseColumnRoundTrip(t *testing.T) {
	at := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	cases := []claims.Response{
		claims.Accept{},
		claims.Negotiate{CounterOffer: money.Must(40, "USD")},
		claims.Dispute{Notes: "scratch was there at pickup"},
	}
	for _, resp := range cases {
		raw, err := encodeResponse(&claims.RenterResponse{Response: resp, RespondedAt: at})
		if err != nil {
			t.Fatal(err)
		}
		got, err := decodeResponse(raw)
		if err != nil {
			t.Fatal(err)
		}
		if got.Response != resp || !got.RespondedAt.Equal(at) {
			t.Fatalf("round trip %T = %+v", resp, got)
		}
	}
	if raw, _ := encodeResponse(nil); raw != nil {
		t.Fatalf("nil response encoded as %s", raw)
	}
	if got, err := decodeResponse(nil); got != nil || err != nil {
		t.Fatalf("NULL column = %+v, %v", got, err)
	}
}

func TestDecodeResponseRejectsUnknownAction(t *testing.T) {
	if _, err := decodeResponse([]byte(`{"action":"shrug"}`)); !errors.Is(err, claims.ErrUnknownAction) {
		t.Fatalf("err = %v", err)
	}
}

func TestBuildEntryRejectsUnknownStatus(t *testing.T) {
	if _, err := buildEntry("pay-1", "bk-1", "r", "o", 100, 20, "USD", "frozen", nil, "ch", time.Now()); err == nil {
		t.Fatal("unknown status accepted")
	}
	e, err := buildEntry("pay-1", "bk-1", "r", "o", 100, 20, "USD", "held", nil, "ch", time.Now())
	if err != nil || e.Status != deposit.StatusHeld || e.Deposit.Amount != 20 {
		t.Fatalf("entry = %+v, %v", e, err)
	}
}
