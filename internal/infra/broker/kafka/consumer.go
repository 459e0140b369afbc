package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
)

type MessageHandler interface {
	Handle(ctx context.Context, msg *sarama.ConsumerMessage) error
}

// ConsumerConfig configures a group consumer. Backoff is the wait between
// failed group sessions; the last step repeats.
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
	Backoff []time.Duration
	Sarama  *sarama.Config
}

type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	backoff []time.Duration
	handler MessageHandler
	logger  *slog.Logger
}

func NewConsumer(cfg ConsumerConfig, handler MessageHandler, logger *slog.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if len(cfg.Topics) == 0 {
		return nil, errors.New("kafka: no topics to consume")
	}
	if handler == nil {
		return nil, errors.New("kafka: message handler required")
	}
	sc := cfg.Sarama
	if sc == nil {
		sc = sarama.NewConfig()
		sc.Version = sarama.V2_5_0_0
		// Sweep requests published while no consumer ran are stale: the
		// scheduler has covered those deposits already.
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	g, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, fmt.Errorf("kafka: consumer group %s: %w", cfg.GroupID, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{group: g, topics: cfg.Topics, backoff: cfg.Backoff, handler: handler, logger: logger}, nil
}

// Run consumes until ctx is cancelled, rejoining the group after rebalances
// and backing off after failed sessions.
func (c *Consumer) Run(ctx context.Context) error {
	failures := 0
	for {
		err := c.group.Consume(ctx, c.topics, sessionHandler{handler: c.handler, logger: c.logger})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch {
		case errors.Is(err, sarama.ErrClosedConsumerGroup):
			return nil
		case err == nil:
			failures = 0
			continue
		}
		wait := c.delay(failures)
		failures++
		c.logger.Warn("kafka consumer session failed", "topics", c.topics, "retry_in", wait, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Consumer) delay(failures int) time.Duration {
	if len(c.backoff) == 0 {
		return time.Second
	}
	if failures >= len(c.backoff) {
		return c.backoff[len(c.backoff)-1]
	}
	return c.backoff[failures]
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

type sessionHandler struct {
	handler MessageHandler
	logger  *slog.Logger
}

func (sessionHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (sessionHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim leaves failed messages unmarked so the offset is not
// committed past them.
func (h sessionHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-sess.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.handler.Handle(sess.Context(), msg); err != nil {
				h.logger.Warn("kafka message handling failed",
					"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
				continue
			}
			sess.MarkMessage(msg, "")
		}
	}
}
