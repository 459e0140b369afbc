package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"rentme-deposits/internal/domain/shared/events"
)

// Header names attached to deposit events. The relay forwards them as Kafka
// headers next to the CloudEvents ones.
const (
	HeaderTrigger    = "trigger"
	HeaderSweepRunID = "sweep_run_id"
	HeaderEventType  = "event_type"
)

// EventRecord is one encoded domain event waiting to be relayed. Aggregate is
// the booking id, which keeps a booking's events on one partition.
type EventRecord struct {
	ID         string
	Name       string
	Payload    []byte
	OccurredAt time.Time
	Aggregate  string
	Headers    map[string]string
}

type Outbox interface {
	Add(ctx context.Context, record EventRecord) error
	Flush(ctx context.Context) error
}

type EventEncoder interface {
	Encode(ev events.DomainEvent) (EventRecord, error)
}

type JSONEventEncoder struct {
	IDGenerator func() string
	Headers     map[string]string
}

func (e JSONEventEncoder) Encode(ev events.DomainEvent) (EventRecord, error) {
	if ev == nil {
		return EventRecord{}, errors.New("outbox: nil event")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return EventRecord{}, fmt.Errorf("outbox: encode %s: %w", ev.EventName(), err)
	}
	idGen := e.IDGenerator
	if idGen == nil {
		idGen = uuid.NewString
	}
	headers := make(map[string]string, len(e.Headers)+1)
	maps.Copy(headers, e.Headers)
	headers[HeaderEventType] = ev.EventName()
	return EventRecord{
		ID:         idGen(),
		Name:       ev.EventName(),
		Payload:    payload,
		OccurredAt: ev.OccurredAt().UTC(),
		Aggregate:  ev.AggregateID(),
		Headers:    headers,
	}, nil
}

// Drain encodes everything buffered in rec, adds it to box and clears the
// recorder. A failing event does not stop the rest; all failures are joined.
func Drain(ctx context.Context, box Outbox, encoder EventEncoder, rec *events.Recorder) (int, error) {
	pending := rec.Take()
	if box == nil || len(pending) == 0 {
		return 0, nil
	}
	if encoder == nil {
		encoder = JSONEventEncoder{}
	}
	var (
		added int
		errs  []error
	)
	for _, ev := range pending {
		record, err := encoder.Encode(ev)
		if err == nil {
			err = box.Add(ctx, record)
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		added++
	}
	return added, errors.Join(errs...)
}
