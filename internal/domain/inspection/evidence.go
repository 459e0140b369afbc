package inspection

import (
	"context"
	"errors"
	"time"
)

var ErrEvidenceNotFound = errors.New("inspection: return evidence not found")

// DefaultClaimWindow applies when neither the booking nor configuration
// supplies a deposit refund timeline.
const DefaultClaimWindow = 48 * time.Hour

type Type string

const (
	TypePickup Type = "pickup"
	TypeReturn Type = "return"
)

type OwnerVerification string

const (
	VerificationNone           OwnerVerification = ""
	VerificationOwnerConfirmed OwnerVerification = "owner_confirmed"
	VerificationAutoAccepted   OwnerVerification = "auto_accepted"
)

// ReturnEvidence is the inspection collaborator's record for a booking's
// return. It is read-only here apart from the auto-accept marker.
type ReturnEvidence struct {
	BookingID         string
	InspectionType    Type
	VerifiedByOwner   bool
	VerifiedByRenter  bool
	OwnerVerification OwnerVerification
	SubmittedAt       time.Time
	ClaimWindowHours  int
	AutoAcceptedAt    *time.Time
}

// ResolveClaimWindow picks the booking's own window, then fallback, then
// DefaultClaimWindow.
func ResolveClaimWindow(ev *ReturnEvidence, fallback time.Duration) time.Duration {
	if ev != nil && ev.ClaimWindowHours > 0 {
		return time.Duration(ev.ClaimWindowHours) * time.Hour
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultClaimWindow
}

func (e *ReturnEvidence) WindowEndsAt(window time.Duration) time.Time {
	return e.SubmittedAt.Add(window)
}

func (e *ReturnEvidence) AutoAccepted() bool {
	return e != nil && e.OwnerVerification == VerificationAutoAccepted
}

// MarkAutoAccepted applies the renter-favorable default in memory. It returns
// false when the owner has already verified.
func (e *ReturnEvidence) MarkAutoAccepted(at time.Time) bool {
	if e.VerifiedByOwner {
		return false
	}
	ts := at.UTC()
	e.VerifiedByOwner = true
	e.OwnerVerification = VerificationAutoAccepted
	e.AutoAcceptedAt = &ts
	return true
}

func (e *ReturnEvidence) Clone() *ReturnEvidence {
	if e == nil {
		return nil
	}
	cp := *e
	if e.AutoAcceptedAt != nil {
		ts := *e.AutoAcceptedAt
		cp.AutoAcceptedAt = &ts
	}
	return &cp
}

type Repository interface {
	ReturnEvidence(ctx context.Context, bookingID string) (*ReturnEvidence, error)
	// ReturnEvidenceFor bulk-loads return evidence keyed by booking id; bookings
	// without evidence are absent from the map.
	ReturnEvidenceFor(ctx context.Context, bookingIDs []string) (map[string]*ReturnEvidence, error)
	// MarkAutoAccepted is a conditional write that only succeeds while the
	// owner has not verified. The boolean reports whether this call applied it.
	MarkAutoAccepted(ctx context.Context, bookingID string, at time.Time) (bool, error)
}
