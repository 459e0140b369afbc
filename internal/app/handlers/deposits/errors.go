package deposits

import (
	"errors"
	"fmt"

	"rentme-deposits/internal/domain/deposit"
)

var (
	ErrInvalidCommand     = errors.New("deposits: invalid command")
	ErrDepositNotFound    = errors.New("deposits: no ledger entry for booking")
	ErrForbidden          = errors.New("deposits: caller is not a party to the booking")
	ErrNotEligible        = errors.New("deposits: deposit is not eligible for release")
	ErrReleaseConflict    = errors.New("deposits: another release is in flight")
	ErrGatewayRejected    = errors.New("deposits: processor rejected the refund")
	ErrGatewayUnavailable = errors.New("deposits: processor unavailable, retry later")
	ErrFinalizeFailed     = errors.New("deposits: refund issued but ledger finalize failed")
)

type NotEligibleError struct {
	Reason deposit.Reason
}

func (e *NotEligibleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrNotEligible.Error(), e.Reason)
}

func (e *NotEligibleError) Unwrap() error { return ErrNotEligible }

// ErrorCode maps handler errors to the stable codes returned to callers.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCommand):
		return "invalid_request"
	case errors.Is(err, ErrDepositNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotEligible):
		return "not_eligible"
	case errors.Is(err, ErrReleaseConflict):
		return "conflict"
	case errors.Is(err, ErrGatewayRejected):
		return "gateway_rejected"
	case errors.Is(err, ErrGatewayUnavailable):
		return "gateway_unavailable"
	case errors.Is(err, ErrFinalizeFailed):
		return "finalize_failed"
	default:
		return "internal"
	}
}
