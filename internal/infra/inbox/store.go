package inbox

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collection = "deposit_inbox"

// Store claims consumed sweep-request ids per consumer group. A claim is
// released again when handling fails, so a redelivery is not swallowed.
type Store struct {
	col      *mongo.Collection
	consumer string
	ttl      time.Duration
	now      func() time.Time
}

type claim struct {
	MessageID  string    `bson:"message_id"`
	Consumer   string    `bson:"consumer"`
	ReceivedAt time.Time `bson:"received_at"`
}

func NewStore(db *mongo.Database, consumer string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &Store{col: db.Collection(collection), consumer: consumer, ttl: ttl, now: time.Now}
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "consumer", Value: 1}, {Key: "message_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("consumer_message"),
		},
		{
			Keys:    bson.D{{Key: "received_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(s.ttl.Seconds())).SetName("received_ttl"),
		},
	})
	if err != nil {
		return fmt.Errorf("inbox: indexes: %w", err)
	}
	return nil
}

// Seen claims messageID and reports true when another delivery already
// holds the claim.
func (s *Store) Seen(ctx context.Context, messageID string) (bool, error) {
	_, err := s.col.InsertOne(ctx, claim{MessageID: messageID, Consumer: s.consumer, ReceivedAt: s.now().UTC()})
	switch {
	case err == nil:
		return false, nil
	case mongo.IsDuplicateKeyError(err):
		return true, nil
	default:
		return false, fmt.Errorf("inbox: claim %s: %w", messageID, err)
	}
}

// Forget drops the claim on messageID.
func (s *Store) Forget(ctx context.Context, messageID string) error {
	if _, err := s.col.DeleteOne(ctx, bson.D{{Key: "consumer", Value: s.consumer}, {Key: "message_id", Value: messageID}}); err != nil {
		return fmt.Errorf("inbox: forget %s: %w", messageID, err)
	}
	return nil
}
