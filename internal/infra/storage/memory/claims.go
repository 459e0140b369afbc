package memory

import (
	"context"
	"sync"
	"time"

	"rentme-deposits/internal/domain/claims"
)

// ClaimStore keeps damage claims grouped by booking.
type ClaimStore struct {
	mu        sync.RWMutex
	byBooking map[string][]*claims.Claim
}

// NewClaimStore builds a store seeded with claims.
func NewClaimStore(items ...*claims.Claim) *ClaimStore {
	s := &ClaimStore{byBooking: make(map[string][]*claims.Claim)}
	for _, c := range items {
		s.File(c)
	}
	return s
}

// File stores a claim, replacing one with the same id.
func (s *ClaimStore) File(c *claims.Claim) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneClaim(c)
	list := s.byBooking[cp.BookingID]
	for i, existing := range list {
		if existing.ID == cp.ID {
			list[i] = cp
			return
		}
	}
	s.byBooking[cp.BookingID] = append(list, cp)
}

// Respond applies a renter response to a stored claim.
func (s *ClaimStore) Respond(_ context.Context, id claims.ClaimID, resp claims.Response, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, list := range s.byBooking {
		for _, c := range list {
			if c.ID == id {
				return c.Respond(resp, at)
			}
		}
	}
	return claims.ErrClaimNotFound
}

// ByBooking returns copies of every claim for a booking.
func (s *ClaimStore) ByBooking(_ context.Context, bookingID string) ([]*claims.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneClaims(s.byBooking[bookingID]), nil
}

// ByBookings bulk-loads claims for several bookings.
func (s *ClaimStore) ByBookings(_ context.Context, bookingIDs []string) (map[string][]*claims.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]*claims.Claim, len(bookingIDs))
	for _, id := range bookingIDs {
		if list := s.byBooking[id]; len(list) > 0 {
			out[id] = cloneClaims(list)
		}
	}
	return out, nil
}

func cloneClaims(list []*claims.Claim) []*claims.Claim {
	out := make([]*claims.Claim, 0, len(list))
	for _, c := range list {
		out = append(out, cloneClaim(c))
	}
	return out
}

func cloneClaim(c *claims.Claim) *claims.Claim {
	cp := *c
	if c.RenterResponse != nil {
		resp := *c.RenterResponse
		cp.RenterResponse = &resp
	}
	return &cp
}

var _ claims.Reader = (*ClaimStore)(nil)
