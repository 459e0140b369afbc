package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"rentme-deposits/internal/app/policies"
)

var ErrResponseLost = errors.New("payments: sandbox dropped the response")

type sandboxMode int

const (
	modeFail sandboxMode = iota + 1
	modeHang
	modeLoseResponse
)

type sandboxStep struct {
	mode sandboxMode
	err  error
}

// Sandbox is an in-process processor used by the memory driver and tests. It
// honours idempotency keys the way the real processor does and counts actual
// money movements per charge.
type Sandbox struct {
	mu        sync.Mutex
	receipts  map[string]policies.RefundReceipt
	movements map[string]int
	keys      []string
	script    []sandboxStep
	seq       int
	clock     func() time.Time
}

func NewSandbox() *Sandbox {
	return &Sandbox{
		receipts:  make(map[string]policies.RefundReceipt),
		movements: make(map[string]int),
		clock:     time.Now,
	}
}

// FailNext makes the next calls fail with the given errors, in order.
func (s *Sandbox) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, err := range errs {
		s.script = append(s.script, sandboxStep{mode: modeFail, err: err})
	}
}

// HangNext blocks the next call until its context ends.
func (s *Sandbox) HangNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, sandboxStep{mode: modeHang})
}

// LoseResponseNext applies the next refund but reports a transient failure,
// as when the processor succeeds and the connection drops.
func (s *Sandbox) LoseResponseNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, sandboxStep{mode: modeLoseResponse})
}

func (s *Sandbox) RefundDeposit(ctx context.Context, req policies.RefundRequest) (policies.RefundReceipt, error) {
	s.mu.Lock()
	s.keys = append(s.keys, req.IdempotencyKey)
	var step sandboxStep
	if len(s.script) > 0 {
		step = s.script[0]
		s.script = s.script[1:]
	}
	s.mu.Unlock()

	if err := policies.ValidateRefund(req); err != nil {
		return policies.RefundReceipt{}, err
	}
	switch step.mode {
	case modeFail:
		return policies.RefundReceipt{}, step.err
	case modeHang:
		<-ctx.Done()
		return policies.RefundReceipt{}, policies.Transient("timeout", ctx.Err())
	}

	receipt := s.apply(req)
	if step.mode == modeLoseResponse {
		return policies.RefundReceipt{}, policies.Transient("network", ErrResponseLost)
	}
	return receipt, nil
}

func (s *Sandbox) apply(req policies.RefundRequest) policies.RefundReceipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prior, ok := s.receipts[req.IdempotencyKey]; ok {
		prior.Replayed = true
		return prior
	}
	s.seq++
	receipt := policies.RefundReceipt{
		RefundID:    fmt.Sprintf("re_sandbox_%d", s.seq),
		Amount:      req.Amount,
		ProcessedAt: s.clock().UTC(),
	}
	s.receipts[req.IdempotencyKey] = receipt
	s.movements[req.ChargeReference]++
	return receipt
}

// Calls returns the idempotency key of every call received, in order.
func (s *Sandbox) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Movements reports how many refunds actually moved money for a charge.
func (s *Sandbox) Movements(chargeReference string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.movements[chargeReference]
}

// TotalMovements counts money movements across all charges.
func (s *Sandbox) TotalMovements() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.movements {
		total += n
	}
	return total
}

var _ policies.PaymentGateway = (*Sandbox)(nil)
