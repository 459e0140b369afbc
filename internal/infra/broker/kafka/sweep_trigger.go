package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"

	"rentme-deposits/internal/app/commands"
	depositsapp "rentme-deposits/internal/app/handlers/deposits"
)

const SweepRequestedEvent = "deposits.sweep_requested"

// Inbox deduplicates redelivered messages. Forget releases a claim taken
// by Seen when the sweep could not be dispatched.
type Inbox interface {
	Seen(ctx context.Context, messageID string) (bool, error)
	Forget(ctx context.Context, messageID string) error
}

// SweepRequest is the body of a deposits.sweep_requested message, either
// bare or wrapped in a CloudEvents envelope under "data".
type SweepRequest struct {
	ID     string `json:"id"`
	Limit  int    `json:"limit"`
	DryRun bool   `json:"dry_run"`
}

// SweepTrigger runs a sweep for each sweep request. A trigger is a hint:
// if one is dropped the next scheduled sweep picks the deposits up.
type SweepTrigger struct {
	Commands commands.Bus
	Inbox    Inbox
	Logger   *slog.Logger
	// Live allows triggers to request real releases; otherwise every
	// triggered sweep is a dry run.
	Live bool
}

func (t *SweepTrigger) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	req, err := decodeSweepRequest(msg)
	if err != nil {
		t.logger().Warn("dropping malformed sweep request", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		return nil
	}
	if t.Inbox != nil {
		seen, err := t.Inbox.Seen(ctx, req.ID)
		if err != nil {
			return fmt.Errorf("kafka: inbox: %w", err)
		}
		if seen {
			t.logger().Debug("duplicate sweep request ignored", "message_id", req.ID)
			return nil
		}
	}
	cmd := depositsapp.SweepDepositsCommand{
		Limit:   req.Limit,
		DryRun:  req.DryRun || !t.Live,
		Trigger: depositsapp.TriggerKafka,
		RunID:   req.ID,
	}
	res, err := commands.Dispatch[depositsapp.SweepDepositsCommand, *depositsapp.SweepResult](ctx, t.Commands, cmd)
	if err != nil {
		if t.Inbox != nil {
			if ferr := t.Inbox.Forget(context.WithoutCancel(ctx), req.ID); ferr != nil {
				t.logger().Warn("inbox claim not released", "message_id", req.ID, "error", ferr)
			}
		}
		return err
	}
	t.logger().Info("kafka-triggered sweep completed", "message_id", req.ID, "released", res.Released, "errors", len(res.Errors))
	return nil
}

func decodeSweepRequest(msg *sarama.ConsumerMessage) (SweepRequest, error) {
	var envelope struct {
		ID   string          `json:"id"`
		Data json.RawMessage `json:"data"`
	}
	var req SweepRequest
	if len(msg.Value) > 0 {
		if err := json.Unmarshal(msg.Value, &envelope); err != nil {
			return SweepRequest{}, err
		}
		body := msg.Value
		if len(envelope.Data) > 0 {
			body = envelope.Data
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return SweepRequest{}, err
		}
	}
	if req.ID == "" {
		req.ID = envelope.ID
	}
	if req.ID == "" {
		req.ID = headerValue(msg, "ce_id")
	}
	if req.ID == "" {
		req.ID = fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
	}
	if req.Limit < 0 {
		return SweepRequest{}, fmt.Errorf("negative limit %d", req.Limit)
	}
	return req, nil
}

func headerValue(msg *sarama.ConsumerMessage, key string) string {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (t *SweepTrigger) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

var _ MessageHandler = (*SweepTrigger)(nil)
