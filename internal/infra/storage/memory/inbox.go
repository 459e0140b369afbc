package memory

import (
	"context"
	"sync"
)

// Inbox records consumed message ids for deduplication.
type Inbox struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewInbox() *Inbox {
	return &Inbox{seen: make(map[string]struct{})}
}

// Seen marks the id as consumed and reports whether it already was.
func (i *Inbox) Seen(_ context.Context, messageID string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.seen[messageID]; ok {
		return true, nil
	}
	i.seen[messageID] = struct{}{}
	return false, nil
}

func (i *Inbox) Forget(_ context.Context, messageID string) error {
	i.mu.Lock()
	delete(i.seen, messageID)
	i.mu.Unlock()
	return nil
}
