package events

import (
	"sync"
	"testing"
	"time"
)

type tick struct{ id string }

func (t tick) EventName() string     { return "test.tick" }
func (t tick) AggregateID() string   { return t.id }
func (t tick) OccurredAt() time.Time { return time.Time{} }

func TestRecorderTakeLosesNothingUnderConcurrentRecords(t *testing.T) {
	var rec Recorder
	var wg sync.WaitGroup
	taken := make(chan int, 64)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Record(tick{id: "bk"})
			taken <- len(rec.Take())
		}()
	}
	wg.Wait()
	close(taken)
	total := len(rec.Take())
	for n := range taken {
		total += n
	}
	if total != 50 {
		t.Fatalf("drained %d events, want 50", total)
	}
}

func TestRecorderSkipsNil(t *testing.T) {
	var rec Recorder
	rec.Record(nil, tick{id: "a"}, nil)
	if got := rec.Pending(); len(got) != 1 || got[0].AggregateID() != "a" {
		t.Fatalf("pending = %v", got)
	}
}
