package memory

import (
	"context"
	"sync"
	"time"

	"rentme-deposits/internal/domain/inspection"
)

// EvidenceStore keeps return inspections keyed by booking.
type EvidenceStore struct {
	mu    sync.RWMutex
	items map[string]*inspection.ReturnEvidence
}

// NewEvidenceStore builds a store seeded with evidence records.
func NewEvidenceStore(items ...*inspection.ReturnEvidence) *EvidenceStore {
	s := &EvidenceStore{items: make(map[string]*inspection.ReturnEvidence)}
	for _, ev := range items {
		s.Put(ev)
	}
	return s
}

// Put stores evidence on behalf of the inspection collaborator.
func (s *EvidenceStore) Put(ev *inspection.ReturnEvidence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := ev.Clone()
	if cp.InspectionType == "" {
		cp.InspectionType = inspection.TypeReturn
	}
	s.items[cp.BookingID] = cp
}

// ReturnEvidence returns a copy or inspection.ErrEvidenceNotFound.
func (s *EvidenceStore) ReturnEvidence(_ context.Context, bookingID string) (*inspection.ReturnEvidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.items[bookingID]
	if !ok || ev.InspectionType != inspection.TypeReturn {
		return nil, inspection.ErrEvidenceNotFound
	}
	return ev.Clone(), nil
}

// ReturnEvidenceFor bulk-loads evidence for the given bookings.
func (s *EvidenceStore) ReturnEvidenceFor(_ context.Context, bookingIDs []string) (map[string]*inspection.ReturnEvidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*inspection.ReturnEvidence, len(bookingIDs))
	for _, id := range bookingIDs {
		if ev, ok := s.items[id]; ok && ev.InspectionType == inspection.TypeReturn {
			out[id] = ev.Clone()
		}
	}
	return out, nil
}

// MarkAutoAccepted applies the auto-accept marker if the owner has not verified.
func (s *EvidenceStore) MarkAutoAccepted(_ context.Context, bookingID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.items[bookingID]
	if !ok {
		return false, inspection.ErrEvidenceNotFound
	}
	return ev.MarkAutoAccepted(at), nil
}

var _ inspection.Repository = (*EvidenceStore)(nil)
