package memory

import (
	"context"
	"sync"

	appoutbox "rentme-deposits/internal/app/outbox"
)

// publishedLimit bounds the flushed history a long-running memory driver keeps.
const publishedLimit = 1024

// Outbox buffers records until Flush and then keeps the most recent
// published ones, which lets the memory driver and tests observe emitted
// events.
type Outbox struct {
	mu        sync.Mutex
	limit     int
	pending   []appoutbox.EventRecord
	published []appoutbox.EventRecord
}

func NewOutbox() *Outbox {
	return &Outbox{limit: publishedLimit}
}

func (o *Outbox) Add(ctx context.Context, record appoutbox.EventRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = append(o.pending, record)
	return nil
}

func (o *Outbox) Flush(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.published = append(o.published, o.pending...)
	o.pending = nil
	if o.limit > 0 && len(o.published) > o.limit {
		drop := len(o.published) - o.limit
		o.published = append(o.published[:0:0], o.published[drop:]...)
	}
	return nil
}

// Records returns flushed and pending records in insertion order.
func (o *Outbox) Records() []appoutbox.EventRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]appoutbox.EventRecord, 0, len(o.published)+len(o.pending))
	out = append(out, o.published...)
	return append(out, o.pending...)
}

// Pending counts records added since the last Flush.
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Named filters Records by event name.
func (o *Outbox) Named(name string) []appoutbox.EventRecord {
	var out []appoutbox.EventRecord
	for _, rec := range o.Records() {
		if rec.Name == name {
			out = append(out, rec)
		}
	}
	return out
}

var _ appoutbox.Outbox = (*Outbox)(nil)
