package deposits

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"rentme-deposits/internal/app/commands"
	"rentme-deposits/internal/app/middleware"
	"rentme-deposits/internal/app/policies"
	"rentme-deposits/internal/domain/deposit"
	"rentme-deposits/internal/domain/inspection"
)

const (
	sweepDepositsKey   = "deposits.sweep"
	defaultSweepLimit  = 100
	defaultConcurrency = 4
	maxSweepLimit      = 5000
)

const (
	TriggerSchedule = "schedule"
	TriggerKafka    = "kafka"
	TriggerOps      = "ops"
	TriggerCLI      = "cli"
)

type SweepDepositsCommand struct {
	Limit   int
	DryRun  bool
	Trigger string
	RunID   string
}

func (c SweepDepositsCommand) Key() string { return sweepDepositsKey }

func (c SweepDepositsCommand) Validate() error {
	if c.Limit < 0 || c.Limit > maxSweepLimit {
		return fmt.Errorf("%w: limit must be between 0 and %d", ErrInvalidCommand, maxSweepLimit)
	}
	return nil
}

type SweepItemError struct {
	BookingID string `json:"booking_id"`
	PaymentID string `json:"payment_id"`
	Kind      string `json:"kind"`
	Error     string `json:"error"`
}

type SweepResult struct {
	RunID      string           `json:"run_id"`
	Trigger    string           `json:"trigger"`
	DryRun     bool             `json:"dry_run"`
	Scanned    int              `json:"scanned"`
	Eligible   int              `json:"eligible"`
	Released   int              `json:"released"`
	Skipped    int              `json:"skipped"`
	Errors     []SweepItemError `json:"errors"`
	ReportURL  string           `json:"report_url,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

type SweepDepositsHandler struct {
	Releaser *Releaser
	// ClaimWindow is the configured fallback when a booking carries none.
	ClaimWindow  time.Duration
	DefaultLimit int
	Concurrency  int
	Archive      policies.ReportArchive
}

type candidate struct {
	entry    *deposit.Entry
	evidence *inspection.ReturnEvidence
	decision deposit.Decision
	window   time.Duration
}

func (h *SweepDepositsHandler) Handle(ctx context.Context, cmd SweepDepositsCommand) (*SweepResult, error) {
	r := h.Releaser
	log := r.logger()
	started := r.now()
	res := &SweepResult{
		RunID:     cmd.RunID,
		Trigger:   cmd.Trigger,
		DryRun:    cmd.DryRun,
		Errors:    []SweepItemError{},
		StartedAt: started,
	}
	if res.RunID == "" {
		res.RunID = uuid.NewString()
	}
	log = log.With("sweep_run_id", res.RunID, "trigger", cmd.Trigger, "dry_run", cmd.DryRun)

	candidates, scanned, err := h.scan(ctx, h.limit(cmd.Limit), started)
	if err != nil {
		return nil, err
	}
	if !cmd.DryRun {
		h.rotate(ctx, log, scanned, started)
	}
	res.Scanned = len(scanned)
	res.Eligible = len(candidates)

	if !cmd.DryRun && len(candidates) > 0 {
		h.releaseAll(ctx, cmd, res, candidates)
	}

	res.FinishedAt = r.now()
	sort.Slice(res.Errors, func(i, j int) bool { return res.Errors[i].BookingID < res.Errors[j].BookingID })
	if !cmd.DryRun {
		res.ReportURL = h.archive(ctx, res)
	}
	r.metrics().SweepCompleted(cmd.Trigger, cmd.DryRun, res.Scanned, res.Eligible, res.Released, res.Skipped, len(res.Errors), res.FinishedAt.Sub(started))
	log.Info("deposit sweep finished",
		"scanned", res.Scanned, "eligible", res.Eligible, "released", res.Released,
		"skipped", res.Skipped, "errors", len(res.Errors))
	return res, nil
}

// scan is read-only: list candidates, bulk-load their evidence and claims,
// evaluate each.
func (h *SweepDepositsHandler) scan(ctx context.Context, limit int, now time.Time) ([]candidate, []deposit.PaymentID, error) {
	r := h.Releaser
	entries, err := r.Ledger.ListReleasable(ctx, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("deposits: list releasable: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil, nil
	}
	ids := make([]string, 0, len(entries))
	listed := make([]deposit.PaymentID, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.BookingID)
		listed = append(listed, e.ID)
	}
	evidence, err := r.Evidence.ReturnEvidenceFor(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("deposits: load evidence: %w", err)
	}
	claimsByBooking, err := r.Claims.ByBookings(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("deposits: load claims: %w", err)
	}
	var out []candidate
	for _, e := range entries {
		ev := evidence[e.BookingID]
		window := inspection.ResolveClaimWindow(ev, h.ClaimWindow)
		decision := deposit.Evaluate(deposit.EvaluateParams{
			Entry:    e,
			Evidence: ev,
			Claims:   claimsByBooking[e.BookingID],
			Window:   window,
			Now:      now,
		})
		if !decision.Eligible {
			continue
		}
		out = append(out, candidate{entry: e, evidence: ev, decision: decision, window: window})
	}
	return out, listed, nil
}

// rotate stamps every listed row so the next sweep starts with rows it has
// not seen yet. Rows blocked by claims or open windows would otherwise hold
// the head of the listing forever. A failed stamp only delays rotation.
func (h *SweepDepositsHandler) rotate(ctx context.Context, log *slog.Logger, listed []deposit.PaymentID, at time.Time) {
	if len(listed) == 0 {
		return
	}
	if err := h.Releaser.Ledger.MarkScanned(ctx, listed, at); err != nil {
		log.Warn("sweep rotation stamp failed", "rows", len(listed), "error", err)
	}
}

func (h *SweepDepositsHandler) releaseAll(ctx context.Context, cmd SweepDepositsCommand, res *SweepResult, candidates []candidate) {
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(h.concurrency())
	for _, c := range candidates {
		if ctx.Err() != nil {
			break
		}
		c := c
		g.Go(func() error {
			out := h.Releaser.release(ctx, attempt{
				Entry:    c.entry,
				Evidence: c.evidence,
				Decision: c.decision,
				Window:   c.window,
				Path:     "sweep",
				Trigger:  cmd.Trigger,
				RunID:    res.RunID,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case out.Outcome == OutcomeReleased:
				res.Released++
			case out.Outcome.Skipped():
				res.Skipped++
			default:
				msg := string(out.Outcome)
				if out.Err != nil {
					msg = out.Err.Error()
				}
				res.Errors = append(res.Errors, SweepItemError{
					BookingID: c.entry.BookingID,
					PaymentID: string(c.entry.ID),
					Kind:      string(out.Outcome),
					Error:     msg,
				})
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (h *SweepDepositsHandler) archive(ctx context.Context, res *SweepResult) string {
	if h.Archive == nil {
		return ""
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return ""
	}
	name := fmt.Sprintf("sweeps/%s/%s.json", res.StartedAt.Format("2006-01-02"), res.RunID)
	url, err := h.Archive.Archive(context.WithoutCancel(ctx), name, payload)
	if err != nil {
		h.Releaser.logger().Warn("sweep report archive failed", "sweep_run_id", res.RunID, "error", err)
		return ""
	}
	return url
}

func (h *SweepDepositsHandler) limit(requested int) int {
	if requested > 0 {
		return requested
	}
	if h.DefaultLimit > 0 {
		return h.DefaultLimit
	}
	return defaultSweepLimit
}

func (h *SweepDepositsHandler) concurrency() int {
	if h.Concurrency > 0 {
		return h.Concurrency
	}
	return defaultConcurrency
}

var _ commands.Handler[SweepDepositsCommand, *SweepResult] = (*SweepDepositsHandler)(nil)
var _ middleware.SelfValidating = SweepDepositsCommand{}
