package claims

import (
	"context"
	"errors"
	"time"

	"rentme-deposits/internal/domain/shared/money"
)

var (
	ErrClaimNotFound        = errors.New("claims: claim not found")
	ErrClaimClosed          = errors.New("claims: claim no longer accepts responses")
	ErrDisputeNotesRequired = errors.New("claims: dispute requires notes")
	ErrInvalidCounterOffer  = errors.New("claims: counter offer must be positive")
	ErrUnknownAction        = errors.New("claims: unknown response action")
)

type ClaimID string

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusDisputed Status = "disputed"
	StatusResolved Status = "resolved"
	StatusClosed   Status = "closed"
)

// BlocksRelease is true while the claim still needs an outcome.
func (s Status) BlocksRelease() bool {
	return s == StatusPending || s == StatusDisputed
}

func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusClosed
}

type Claim struct {
	ID             ClaimID
	BookingID      string
	FiledBy        string
	EstimatedCost  money.Money
	Status         Status
	RenterResponse *RenterResponse
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Respond records the renter's answer and moves the claim along its
// lifecycle. Accept settles it; negotiate and dispute leave it disputed until
// arbitration resolves or closes it.
func (c *Claim) Respond(resp Response, at time.Time) error {
	if c.Status != StatusPending && c.Status != StatusDisputed {
		return ErrClaimClosed
	}
	if resp == nil {
		return ErrUnknownAction
	}
	if err := resp.validate(); err != nil {
		return err
	}
	switch resp.Action() {
	case ActionAccept:
		c.Status = StatusAccepted
	case ActionNegotiate, ActionDispute:
		c.Status = StatusDisputed
	default:
		return ErrUnknownAction
	}
	c.RenterResponse = &RenterResponse{Response: resp, RespondedAt: at.UTC()}
	c.UpdatedAt = at.UTC()
	return nil
}

// AnyBlocking returns the first claim that blocks release, if any.
func AnyBlocking(list []*Claim) (*Claim, bool) {
	for _, c := range list {
		if c != nil && c.Status.BlocksRelease() {
			return c, true
		}
	}
	return nil, false
}

type Reader interface {
	ByBooking(ctx context.Context, bookingID string) ([]*Claim, error)
	// ByBookings bulk-loads claims keyed by booking id.
	ByBookings(ctx context.Context, bookingIDs []string) (map[string][]*Claim, error)
}
