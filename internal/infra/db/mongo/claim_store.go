package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"rentme-deposits/internal/domain/claims"
	"rentme-deposits/internal/domain/shared/money"
)

type ClaimStore struct {
	col *mongo.Collection
}

func NewClaimStore(db *mongo.Database) *ClaimStore {
	return &ClaimStore{col: db.Collection("damage_claims")}
}

func (s *ClaimStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "booking_id", Value: 1}}})
	return err
}

func (s *ClaimStore) ByBooking(ctx context.Context, bookingID string) ([]*claims.Claim, error) {
	grouped, err := s.ByBookings(ctx, []string{bookingID})
	if err != nil {
		return nil, err
	}
	return grouped[bookingID], nil
}

func (s *ClaimStore) ByBookings(ctx context.Context, bookingIDs []string) (map[string][]*claims.Claim, error) {
	out := make(map[string][]*claims.Claim, len(bookingIDs))
	if len(bookingIDs) == 0 {
		return out, nil
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := s.col.Find(ctx, bson.M{"booking_id": bson.M{"$in": bookingIDs}}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var doc claimDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		c, err := doc.toClaim()
		if err != nil {
			return nil, err
		}
		out[c.BookingID] = append(out[c.BookingID], c)
	}
	return out, cur.Err()
}

// Save upserts a claim as written by the claims collaborator.
func (s *ClaimStore) Save(ctx context.Context, c *claims.Claim) error {
	doc := newClaimDocument(c)
	_, err := s.col.UpdateByID(ctx, doc.ID, bson.M{"$set": doc}, options.Update().SetUpsert(true))
	return err
}

type claimDocument struct {
	ID             string                 `bson:"_id"`
	BookingID      string                 `bson:"booking_id"`
	FiledBy        string                 `bson:"filed_by"`
	EstimatedCost  int64                  `bson:"estimated_cost"`
	Currency       string                 `bson:"currency"`
	Status         string                 `bson:"status"`
	RenterResponse *claims.ResponseRecord `bson:"renter_response,omitempty"`
	CreatedAt      time.Time              `bson:"created_at"`
	UpdatedAt      time.Time              `bson:"updated_at"`
}

func newClaimDocument(c *claims.Claim) claimDocument {
	return claimDocument{
		ID:             string(c.ID),
		BookingID:      c.BookingID,
		FiledBy:        c.FiledBy,
		EstimatedCost:  c.EstimatedCost.Amount,
		Currency:       c.EstimatedCost.Currency,
		Status:         string(c.Status),
		RenterResponse: claims.Flatten(c.RenterResponse),
		CreatedAt:      c.CreatedAt.UTC(),
		UpdatedAt:      c.UpdatedAt.UTC(),
	}
}

func (d claimDocument) toClaim() (*claims.Claim, error) {
	cost, err := money.New(d.EstimatedCost, d.Currency)
	if err != nil {
		return nil, fmt.Errorf("mongo: claim %s cost: %w", d.ID, err)
	}
	resp, err := d.RenterResponse.Decode()
	if err != nil {
		return nil, fmt.Errorf("mongo: claim %s response: %w", d.ID, err)
	}
	return &claims.Claim{
		ID:             claims.ClaimID(d.ID),
		BookingID:      d.BookingID,
		FiledBy:        d.FiledBy,
		EstimatedCost:  cost,
		Status:         claims.Status(d.Status),
		RenterResponse: resp,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}, nil
}

var _ claims.Reader = (*ClaimStore)(nil)
