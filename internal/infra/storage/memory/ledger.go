package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"rentme-deposits/internal/domain/deposit"
)

// TransitionObserver is notified of every applied status change while the
// ledger lock is held, so observers see transitions in commit order.
type TransitionObserver func(id deposit.PaymentID, from, to deposit.Status)

// Ledger keeps payment ledger rows in memory. Every status change is a
// compare-and-swap under one mutex, mirroring the conditional updates of the
// persistent stores.
type Ledger struct {
	mu           sync.Mutex
	entries      map[deposit.PaymentID]*deposit.Entry
	byBooking    map[string]deposit.PaymentID
	clock        func() time.Time
	onTransition TransitionObserver
}

// NewLedger builds a ledger seeded with the provided entries.
func NewLedger(entries ...*deposit.Entry) *Ledger {
	l := &Ledger{
		entries:   make(map[deposit.PaymentID]*deposit.Entry),
		byBooking: make(map[string]deposit.PaymentID),
		clock:     time.Now,
	}
	for _, e := range entries {
		l.Put(e)
	}
	return l
}

// WithClock overrides the timestamp source used for UpdatedAt.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.mu.Lock()
	defer l.mu.Unlock()
	if clock != nil {
		l.clock = clock
	}
	return l
}

// OnTransition registers an observer for applied transitions.
func (l *Ledger) OnTransition(fn TransitionObserver) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onTransition = fn
}

// Put inserts or replaces a row. It is the charge-collection write path and
// bypasses the transition table.
func (l *Ledger) Put(e *deposit.Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := e.Clone()
	l.entries[cp.ID] = cp
	l.byBooking[cp.BookingID] = cp.ID
}

// ByID returns a copy of the row or deposit.ErrEntryNotFound.
func (l *Ledger) ByID(_ context.Context, id deposit.PaymentID) (*deposit.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok {
		return nil, deposit.ErrEntryNotFound
	}
	return e.Clone(), nil
}

// ByBooking returns the row for a booking.
func (l *Ledger) ByBooking(ctx context.Context, bookingID string) (*deposit.Entry, error) {
	l.mu.Lock()
	id, ok := l.byBooking[bookingID]
	l.mu.Unlock()
	if !ok {
		return nil, deposit.ErrEntryNotFound
	}
	return l.ByID(ctx, id)
}

// ListReleasable returns held rows with a positive deposit and a charge
// reference, least recently scanned first.
func (l *Ledger) ListReleasable(_ context.Context, limit int) ([]*deposit.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*deposit.Entry, 0)
	for _, e := range l.entries {
		if e.Releasable() {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastScannedAt.Equal(out[j].LastScannedAt) {
			return out[i].LastScannedAt.Before(out[j].LastScannedAt)
		}
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *Ledger) MarkScanned(_ context.Context, ids []deposit.PaymentID, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range ids {
		if e, ok := l.entries[id]; ok && e.Status == deposit.StatusHeld {
			e.LastScannedAt = at.UTC()
		}
	}
	return nil
}

// TryLock moves held to releasing.
func (l *Ledger) TryLock(_ context.Context, id deposit.PaymentID) (*deposit.Entry, error) {
	return l.swap(id, deposit.StatusHeld, deposit.StatusReleasing, time.Time{})
}

// Finalize moves releasing to released and stamps the release time.
func (l *Ledger) Finalize(_ context.Context, id deposit.PaymentID, releasedAt time.Time) error {
	_, err := l.swap(id, deposit.StatusReleasing, deposit.StatusReleased, releasedAt)
	return err
}

// Rollback moves releasing back to held.
func (l *Ledger) Rollback(_ context.Context, id deposit.PaymentID) error {
	_, err := l.swap(id, deposit.StatusReleasing, deposit.StatusHeld, time.Time{})
	return err
}

func (l *Ledger) swap(id deposit.PaymentID, from, to deposit.Status, at time.Time) (*deposit.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok {
		return nil, deposit.ErrEntryNotFound
	}
	if e.Status != from {
		return nil, deposit.ErrTransitionRejected
	}
	if at.IsZero() {
		at = l.clock()
	}
	if err := e.Transition(to, at); err != nil {
		return nil, err
	}
	if l.onTransition != nil {
		l.onTransition(id, from, to)
	}
	return e.Clone(), nil
}

var _ deposit.Repository = (*Ledger)(nil)
