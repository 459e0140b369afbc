package deposit

import (
	"context"
	"errors"
	"strings"
	"time"

	"rentme-deposits/internal/domain/shared/money"
)

var (
	ErrEntryNotFound      = errors.New("deposit: ledger entry not found")
	ErrTransitionRejected = errors.New("deposit: conditional transition rejected")
	ErrInvalidTransition  = errors.New("deposit: invalid status transition")
)

type PaymentID string

type Status string

const (
	StatusNone      Status = "none"
	StatusHeld      Status = "held"
	StatusReleasing Status = "releasing"
	StatusReleased  Status = "released"
)

// CanTransitionTo is the single transition table every ledger store enforces
// atomically with its write.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusHeld:
		return next == StatusReleasing
	case StatusReleasing:
		return next == StatusReleased || next == StatusHeld
	default:
		return false
	}
}

func (s Status) Valid() bool {
	switch s {
	case StatusNone, StatusHeld, StatusReleasing, StatusReleased:
		return true
	}
	return false
}

// Entry is a booking's payment ledger row. Only the deposit fields are owned
// here; Total and the party ids are written by charge collection.
type Entry struct {
	ID              PaymentID
	BookingID       string
	RenterID        string
	OwnerID         string
	Total           money.Money
	Deposit         money.Money
	Status          Status
	ReleasedAt      *time.Time
	ChargeReference string
	UpdatedAt       time.Time
	// LastScannedAt is when a live sweep last listed the row; zero means
	// never. Sweeps list rows least recently scanned first so rows that stay
	// blocked rotate to the back instead of starving the rest.
	LastScannedAt time.Time
}

// Releasable reports whether the row is a sweep candidate at all.
func (e *Entry) Releasable() bool {
	return e != nil &&
		e.Status == StatusHeld &&
		e.Deposit.IsPositive() &&
		strings.TrimSpace(e.ChargeReference) != ""
}

func (e *Entry) IsParty(userID string) bool {
	if e == nil || userID == "" {
		return false
	}
	return userID == e.RenterID || userID == e.OwnerID
}

// Transition applies next to the in-memory row. Stores call it after their
// conditional write matched so the returned entity mirrors the stored row.
func (e *Entry) Transition(next Status, at time.Time) error {
	if !e.Status.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	e.Status = next
	e.UpdatedAt = at.UTC()
	switch next {
	case StatusReleased:
		ts := at.UTC()
		e.ReleasedAt = &ts
	default:
		e.ReleasedAt = nil
	}
	return nil
}

func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	cp := *e
	if e.ReleasedAt != nil {
		ts := *e.ReleasedAt
		cp.ReleasedAt = &ts
	}
	return &cp
}

// ReleaseIdempotencyKey derives the processor idempotency key. It must stay
// stable across retries and processes for the same payment.
func ReleaseIdempotencyKey(id PaymentID) string {
	return "deposit_release_" + string(id)
}

type Repository interface {
	ByID(ctx context.Context, id PaymentID) (*Entry, error)
	ByBooking(ctx context.Context, bookingID string) (*Entry, error)
	// ListReleasable returns held rows with a positive deposit and a charge
	// reference, least recently scanned first, bounded by limit.
	ListReleasable(ctx context.Context, limit int) ([]*Entry, error)
	// MarkScanned stamps LastScannedAt on the rows that are still held.
	MarkScanned(ctx context.Context, ids []PaymentID, at time.Time) error
	// TryLock moves held to releasing and returns the updated row, or
	// ErrTransitionRejected when the row is no longer held.
	TryLock(ctx context.Context, id PaymentID) (*Entry, error)
	// Finalize moves releasing to released and stamps ReleasedAt.
	Finalize(ctx context.Context, id PaymentID, releasedAt time.Time) error
	// Rollback moves releasing back to held.
	Rollback(ctx context.Context, id PaymentID) error
}
