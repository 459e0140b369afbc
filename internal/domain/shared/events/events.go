package events

import (
	"sync"
	"time"
)

// DomainEvent is a fact raised by the deposit, inspection or claims
// aggregates. AggregateID keys the event when it is published.
type DomainEvent interface {
	EventName() string
	AggregateID() string
	OccurredAt() time.Time
}

// Recorder buffers events raised while deposits are processed. Sweep items
// record from separate goroutines while a drain may be in progress.
type Recorder struct {
	mu      sync.Mutex
	pending []DomainEvent
}

func (r *Recorder) Record(evts ...DomainEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range evts {
		if e != nil {
			r.pending = append(r.pending, e)
		}
	}
}

// Pending returns a copy of the buffered events.
func (r *Recorder) Pending() []DomainEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]DomainEvent(nil), r.pending...)
}

// Take empties the buffer and returns what it held, in recording order.
func (r *Recorder) Take() []DomainEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	taken := r.pending
	r.pending = nil
	return taken
}
