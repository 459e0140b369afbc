package deposits

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rentme-deposits/internal/app/commands"
	"rentme-deposits/internal/app/middleware"
	"rentme-deposits/internal/domain/claims"
	"rentme-deposits/internal/domain/deposit"
	"rentme-deposits/internal/domain/inspection"
)

const releaseDepositKey = "deposits.release"

type ReleaseDepositCommand struct {
	BookingID       string
	CallerID        string
	IdempotencyKeyV string
}

func (c ReleaseDepositCommand) Key() string { return releaseDepositKey }

func (c ReleaseDepositCommand) IdempotencyKey() string {
	if c.IdempotencyKeyV == "" {
		return ""
	}
	// Scoped per caller so one party cannot replay another's result.
	return releaseDepositKey + ":" + c.CallerID + ":" + c.IdempotencyKeyV
}

func (c ReleaseDepositCommand) ResultPrototype() any { return &ReleaseDepositResult{} }

func (c ReleaseDepositCommand) Caller() string { return c.CallerID }

func (c ReleaseDepositCommand) Validate() error {
	if strings.TrimSpace(c.BookingID) == "" {
		return fmt.Errorf("%w: booking id is required", ErrInvalidCommand)
	}
	return nil
}

type ReleaseDepositResult struct {
	Success        bool      `json:"success"`
	PaymentID      string    `json:"payment_id"`
	BookingID      string    `json:"booking_id"`
	AmountReleased int64     `json:"amount_released"`
	Currency       string    `json:"currency"`
	RefundID       string    `json:"refund_id"`
	ReleasedAt     time.Time `json:"released_at"`
}

// ReleaseDepositHandler is the on-demand release path for one booking. It
// runs the same evaluation and release steps as the sweep and additionally
// requires the caller to be the booking's renter or owner.
type ReleaseDepositHandler struct {
	Releaser    *Releaser
	ClaimWindow time.Duration
}

func (h *ReleaseDepositHandler) Handle(ctx context.Context, cmd ReleaseDepositCommand) (*ReleaseDepositResult, error) {
	r := h.Releaser
	entry, ev, list, err := loadBooking(ctx, r, cmd.BookingID)
	if err != nil {
		return nil, err
	}
	if !entry.IsParty(cmd.CallerID) {
		return nil, ErrForbidden
	}
	if entry.Status == deposit.StatusReleasing {
		return nil, ErrReleaseConflict
	}
	window := inspection.ResolveClaimWindow(ev, h.ClaimWindow)
	decision := deposit.Evaluate(deposit.EvaluateParams{
		Entry:    entry,
		Evidence: ev,
		Claims:   list,
		Window:   window,
		Now:      r.now(),
	})
	if !decision.Eligible {
		return nil, &NotEligibleError{Reason: decision.Reason}
	}

	out := r.release(ctx, attempt{
		Entry:    entry,
		Evidence: ev,
		Decision: decision,
		Window:   window,
		Path:     "manual",
		Trigger:  "manual:" + cmd.CallerID,
	})
	switch out.Outcome {
	case OutcomeReleased:
		return &ReleaseDepositResult{
			Success:        true,
			PaymentID:      string(out.Entry.ID),
			BookingID:      out.Entry.BookingID,
			AmountReleased: out.Entry.Deposit.Amount,
			Currency:       out.Entry.Deposit.Currency,
			RefundID:       out.Receipt.RefundID,
			ReleasedAt:     out.Released,
		}, nil
	case OutcomeLockLost:
		return nil, ErrReleaseConflict
	case OutcomeStaleClaim:
		return nil, &NotEligibleError{Reason: deposit.ReasonBlockingClaim}
	case OutcomeGatewayRejected:
		return nil, fmt.Errorf("%w: %v", ErrGatewayRejected, out.Err)
	case OutcomeGatewayTransient:
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, out.Err)
	case OutcomeFinalizeFailed:
		return nil, fmt.Errorf("%w: %v", ErrFinalizeFailed, out.Err)
	default:
		return nil, fmt.Errorf("deposits: release %s: %w", entry.ID, out.Err)
	}
}

func loadBooking(ctx context.Context, r *Releaser, bookingID string) (*deposit.Entry, *inspection.ReturnEvidence, []*claims.Claim, error) {
	entry, err := r.Ledger.ByBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, deposit.ErrEntryNotFound) {
			return nil, nil, nil, ErrDepositNotFound
		}
		return nil, nil, nil, err
	}
	ev, err := r.Evidence.ReturnEvidence(ctx, bookingID)
	if err != nil && !errors.Is(err, inspection.ErrEvidenceNotFound) {
		return nil, nil, nil, err
	}
	list, err := r.Claims.ByBooking(ctx, bookingID)
	if err != nil {
		return nil, nil, nil, err
	}
	return entry, ev, list, nil
}

var _ commands.Handler[ReleaseDepositCommand, *ReleaseDepositResult] = (*ReleaseDepositHandler)(nil)
var _ middleware.IdempotentCommand = ReleaseDepositCommand{}
var _ middleware.CallerScoped = ReleaseDepositCommand{}
