package deposits

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"rentme-deposits/internal/app/outbox"
	"rentme-deposits/internal/app/policies"
	"rentme-deposits/internal/domain/claims"
	"rentme-deposits/internal/domain/deposit"
	"rentme-deposits/internal/domain/inspection"
	"rentme-deposits/internal/domain/shared/events"
)

const defaultGatewayTimeout = 10 * time.Second

type Outcome string

const (
	OutcomeReleased         Outcome = "released"
	OutcomeLockLost         Outcome = "lock_lost"
	OutcomeStaleClaim       Outcome = "stale_claim"
	OutcomeGatewayTransient Outcome = "gateway_transient"
	OutcomeGatewayRejected  Outcome = "gateway_rejected"
	OutcomeFinalizeFailed   Outcome = "finalize_failed"
	OutcomeStoreError       Outcome = "store_error"
)

// Skipped outcomes are soft: the deposit is left for a later attempt and
// nobody needs to look at it.
func (o Outcome) Skipped() bool {
	return o == OutcomeLockLost || o == OutcomeStaleClaim
}

// Releaser runs the post-eligibility part of a release: lock, claim
// re-check, optional auto-accept, refund, finalize or rollback. Sweep and
// manual release share it.
type Releaser struct {
	Ledger         deposit.Repository
	Evidence       inspection.Repository
	Claims         claims.Reader
	Gateway        policies.PaymentGateway
	Outbox         outbox.Outbox
	Encoder        outbox.EventEncoder
	Metrics        policies.ReleaseMetrics
	Logger         *slog.Logger
	GatewayTimeout time.Duration
	Clock          func() time.Time
}

type attempt struct {
	Entry    *deposit.Entry
	Evidence *inspection.ReturnEvidence
	Decision deposit.Decision
	Window   time.Duration
	Path     string
	Trigger  string
	RunID    string
}

type releaseResult struct {
	Outcome  Outcome
	Entry    *deposit.Entry
	Receipt  policies.RefundReceipt
	Released time.Time
	Err      error
}

func (r *Releaser) release(ctx context.Context, a attempt) releaseResult {
	id := a.Entry.ID
	log := r.logger().With("payment_id", string(id), "booking_id", a.Entry.BookingID, "path", a.Path)

	locked, err := r.Ledger.TryLock(ctx, id)
	if err != nil {
		if errors.Is(err, deposit.ErrTransitionRejected) {
			log.Debug("deposit lock lost to another actor")
			return r.done(a, releaseResult{Outcome: OutcomeLockLost, Err: err})
		}
		return r.done(a, releaseResult{Outcome: OutcomeStoreError, Err: err})
	}

	// A claim may have been filed between the scan and the lock.
	current, err := r.Claims.ByBooking(ctx, locked.BookingID)
	if err != nil {
		return r.done(a, r.rollback(ctx, log, locked, releaseResult{Outcome: OutcomeStoreError, Err: err}))
	}
	if blocking, found := claims.AnyBlocking(current); found {
		log.Info("claim filed after scan, releasing lock", "claim_id", string(blocking.ID), "claim_status", string(blocking.Status))
		return r.done(a, r.rollback(ctx, log, locked, releaseResult{Outcome: OutcomeStaleClaim}))
	}

	var rec events.Recorder
	now := r.now()
	if a.Decision.AutoResolve {
		applied, err := r.Evidence.MarkAutoAccepted(ctx, locked.BookingID, now)
		if err != nil {
			return r.done(a, r.rollback(ctx, log, locked, releaseResult{Outcome: OutcomeStoreError, Err: err}))
		}
		if applied {
			log.Info("return evidence auto-accepted after claim window", "window", a.Window)
			rec.Record(inspection.ReturnAutoAccepted{
				BookingID:   locked.BookingID,
				SubmittedAt: a.Evidence.SubmittedAt,
				WindowHours: int(a.Window / time.Hour),
				At:          now,
			})
		}
	}

	receipt, err := r.refund(ctx, locked)
	if err != nil {
		outcome := OutcomeGatewayTransient
		if policies.IsRejected(err) {
			outcome = OutcomeGatewayRejected
		}
		log.Error("deposit refund failed", "amount", locked.Deposit.String(), "outcome", string(outcome), "error", err)
		rec.Record(deposit.DepositReleaseFailed{
			PaymentID: locked.ID,
			BookingID: locked.BookingID,
			Amount:    locked.Deposit,
			Kind:      string(outcome),
			Error:     err.Error(),
			Trigger:   a.Trigger,
			At:        r.now(),
		})
		res := r.rollback(ctx, log, locked, releaseResult{Outcome: outcome, Err: err})
		r.flush(ctx, log, a, &rec)
		return r.done(a, res)
	}

	releasedAt := r.now()
	// Money has moved: finalize must not be abandoned because the caller went away.
	if err := r.Ledger.Finalize(context.WithoutCancel(ctx), locked.ID, releasedAt); err != nil {
		log.Error("refund issued but ledger finalize failed; deposit left in releasing for manual reconciliation",
			"amount", locked.Deposit.String(), "refund_id", receipt.RefundID, "error", err)
		rec.Record(deposit.DepositReleaseFailed{
			PaymentID: locked.ID,
			BookingID: locked.BookingID,
			Amount:    locked.Deposit,
			Kind:      string(OutcomeFinalizeFailed),
			Error:     err.Error(),
			Trigger:   a.Trigger,
			At:        releasedAt,
		})
		r.flush(ctx, log, a, &rec)
		return r.done(a, releaseResult{Outcome: OutcomeFinalizeFailed, Entry: locked, Receipt: receipt, Err: err})
	}

	log.Info("deposit released", "amount", locked.Deposit.String(), "refund_id", receipt.RefundID, "replayed", receipt.Replayed)
	rec.Record(deposit.DepositReleased{
		PaymentID: locked.ID,
		BookingID: locked.BookingID,
		RenterID:  locked.RenterID,
		Amount:    locked.Deposit,
		RefundID:  receipt.RefundID,
		Trigger:   a.Trigger,
		At:        releasedAt,
	})
	r.flush(ctx, log, a, &rec)
	return r.done(a, releaseResult{Outcome: OutcomeReleased, Entry: locked, Receipt: receipt, Released: releasedAt})
}

func (r *Releaser) refund(ctx context.Context, e *deposit.Entry) (policies.RefundReceipt, error) {
	gctx, cancel := context.WithTimeout(ctx, r.gatewayTimeout())
	defer cancel()
	receipt, err := r.Gateway.RefundDeposit(gctx, policies.RefundRequest{
		PaymentID:       string(e.ID),
		BookingID:       e.BookingID,
		ChargeReference: e.ChargeReference,
		Amount:          e.Deposit,
		MaxAmount:       e.Deposit,
		IdempotencyKey:  deposit.ReleaseIdempotencyKey(e.ID),
	})
	if err != nil {
		var gerr *policies.GatewayError
		if !errors.As(err, &gerr) {
			err = policies.Transient("gateway_error", err)
		}
		return policies.RefundReceipt{}, err
	}
	return receipt, nil
}

func (r *Releaser) rollback(ctx context.Context, log *slog.Logger, e *deposit.Entry, res releaseResult) releaseResult {
	if err := r.Ledger.Rollback(context.WithoutCancel(ctx), e.ID); err != nil {
		log.Error("deposit rollback failed; deposit left in releasing", "amount", e.Deposit.String(), "error", err, "cause", res.Err)
		res.Err = errors.Join(res.Err, err)
	}
	res.Entry = e
	return res
}

func (r *Releaser) flush(ctx context.Context, log *slog.Logger, a attempt, rec *events.Recorder) {
	if added, err := outbox.Drain(context.WithoutCancel(ctx), r.Outbox, r.encoder(a), rec); err != nil {
		log.Warn("failed to record deposit events", "recorded", added, "error", err)
	}
}

func (r *Releaser) done(a attempt, res releaseResult) releaseResult {
	r.metrics().ReleaseOutcome(a.Path, string(res.Outcome))
	return res
}

func (r *Releaser) encoder(a attempt) outbox.EventEncoder {
	if r.Encoder != nil {
		return r.Encoder
	}
	headers := map[string]string{outbox.HeaderTrigger: a.Trigger}
	if a.RunID != "" {
		headers[outbox.HeaderSweepRunID] = a.RunID
	}
	return outbox.JSONEventEncoder{Headers: headers}
}

func (r *Releaser) metrics() policies.ReleaseMetrics {
	if r.Metrics != nil {
		return r.Metrics
	}
	return policies.NopMetrics{}
}

func (r *Releaser) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r *Releaser) gatewayTimeout() time.Duration {
	if r.GatewayTimeout > 0 {
		return r.GatewayTimeout
	}
	return defaultGatewayTimeout
}

func (r *Releaser) now() time.Time {
	if r.Clock != nil {
		return r.Clock().UTC()
	}
	return time.Now().UTC()
}
