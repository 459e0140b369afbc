package policies

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"rentme-deposits/internal/domain/shared/money"
)

func TestValidateRefund(t *testing.T) {
	valid := RefundRequest{
		PaymentID:       "pay-1",
		ChargeReference: "ch_1",
		Amount:          money.Must(200, "USD"),
		MaxAmount:       money.Must(200, "USD"),
		IdempotencyKey:  "deposit_release_pay-1",
	}
	cases := []struct {
		name   string
		mutate func(*RefundRequest)
		code   string
	}{
		{"valid", func(*RefundRequest) {}, ""},
		{"no charge", func(r *RefundRequest) { r.ChargeReference = "" }, "missing_charge_reference"},
		{"blank charge", func(r *RefundRequest) { r.ChargeReference = "  " }, "missing_charge_reference"},
		{"no key", func(r *RefundRequest) { r.IdempotencyKey = "" }, "missing_idempotency_key"},
		{"zero amount", func(r *RefundRequest) { r.Amount = money.Must(0, "USD") }, "invalid_amount"},
		{"over deposit", func(r *RefundRequest) { r.Amount = money.Must(201, "USD") }, "amount_exceeds_deposit"},
		{"currency", func(r *RefundRequest) { r.Amount = money.Must(100, "EUR") }, "currency_mismatch"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid
			tc.mutate(&req)
			err := ValidateRefund(req)
			if tc.code == "" {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}
			var gerr *GatewayError
			if !errors.As(err, &gerr) || gerr.Code != tc.code || !IsRejected(err) {
				t.Fatalf("err = %v, want code %s", err, tc.code)
			}
		})
	}
}

func TestGatewayErrorClassification(t *testing.T) {
	cases := []struct {
		err       error
		transient bool
	}{
		{nil, false},
		{Rejected("card_closed", "card closed"), false},
		{fmt.Errorf("wrapped: %w", Rejected("x", "y")), false},
		{Transient("timeout", context.DeadlineExceeded), true},
		{errors.New("connection reset"), true},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.transient {
			t.Errorf("IsTransient(%v) = %v", tc.err, got)
		}
	}
}
