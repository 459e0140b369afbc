package policies

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rentme-deposits/internal/domain/shared/money"
)

// PaymentGateway is the only path to the external processor. Implementations
// never touch the ledger.
type PaymentGateway interface {
	RefundDeposit(ctx context.Context, req RefundRequest) (RefundReceipt, error)
}

type RefundRequest struct {
	PaymentID       string
	BookingID       string
	ChargeReference string
	Amount          money.Money
	// MaxAmount is the deposit portion of the original charge.
	MaxAmount      money.Money
	IdempotencyKey string
}

type RefundReceipt struct {
	RefundID    string
	Amount      money.Money
	Replayed    bool
	ProcessedAt time.Time
}

type GatewayErrorKind string

const (
	// GatewayTransient covers network failures and timeouts; safe to retry
	// with the same idempotency key.
	GatewayTransient GatewayErrorKind = "transient"
	// GatewayRejected is an explicit decline that needs operator attention.
	GatewayRejected GatewayErrorKind = "rejected"
)

type GatewayError struct {
	Kind    GatewayErrorKind
	Code    string
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("gateway %s (%s): %s", e.Kind, e.Code, msg)
	}
	return fmt.Sprintf("gateway %s: %s", e.Kind, msg)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func Transient(code string, err error) *GatewayError {
	return &GatewayError{Kind: GatewayTransient, Code: code, Err: err}
}

func Rejected(code, message string) *GatewayError {
	return &GatewayError{Kind: GatewayRejected, Code: code, Message: message}
}

// IsRejected reports an explicit processor decline.
func IsRejected(err error) bool {
	var gerr *GatewayError
	return errors.As(err, &gerr) && gerr.Kind == GatewayRejected
}

// IsTransient treats every failure that is not an explicit decline as
// transient, including context deadlines and untyped errors.
func IsTransient(err error) bool {
	return err != nil && !IsRejected(err)
}

// ValidateRefund enforces the request contract before any network call.
func ValidateRefund(req RefundRequest) error {
	if strings.TrimSpace(req.ChargeReference) == "" {
		return Rejected("missing_charge_reference", "charge reference is required")
	}
	if req.IdempotencyKey == "" {
		return Rejected("missing_idempotency_key", "idempotency key is required")
	}
	if !req.Amount.IsPositive() {
		return Rejected("invalid_amount", "refund amount must be positive")
	}
	over, err := req.Amount.Exceeds(req.MaxAmount)
	if err != nil {
		return Rejected("currency_mismatch", err.Error())
	}
	if over {
		return Rejected("amount_exceeds_deposit", fmt.Sprintf("refund %s exceeds deposit %s", req.Amount, req.MaxAmount))
	}
	return nil
}
