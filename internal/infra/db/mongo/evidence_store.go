package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"rentme-deposits/internal/domain/inspection"
)

type EvidenceStore struct {
	col *mongo.Collection
}

func NewEvidenceStore(db *mongo.Database) *EvidenceStore {
	return &EvidenceStore{col: db.Collection("inspections")}
}

func (s *EvidenceStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "booking_id", Value: 1}, {Key: "inspection_type", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (s *EvidenceStore) ReturnEvidence(ctx context.Context, bookingID string) (*inspection.ReturnEvidence, error) {
	var doc evidenceDocument
	err := s.col.FindOne(ctx, returnFilter(bookingID)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, inspection.ErrEvidenceNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toEvidence(), nil
}

func (s *EvidenceStore) ReturnEvidenceFor(ctx context.Context, bookingIDs []string) (map[string]*inspection.ReturnEvidence, error) {
	out := make(map[string]*inspection.ReturnEvidence, len(bookingIDs))
	if len(bookingIDs) == 0 {
		return out, nil
	}
	cur, err := s.col.Find(ctx, bson.M{
		"booking_id":      bson.M{"$in": bookingIDs},
		"inspection_type": string(inspection.TypeReturn),
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var doc evidenceDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out[doc.BookingID] = doc.toEvidence()
	}
	return out, cur.Err()
}

// MarkAutoAccepted only matches while the owner has not verified, so an
// owner confirmation that lands first is never overwritten.
func (s *EvidenceStore) MarkAutoAccepted(ctx context.Context, bookingID string, at time.Time) (bool, error) {
	res, err := s.col.UpdateOne(ctx, autoAcceptFilter(bookingID), bson.M{"$set": bson.M{
		"verified_by_owner":  true,
		"owner_verification": string(inspection.VerificationAutoAccepted),
		"auto_accepted_at":   at.UTC(),
	}})
	if err != nil {
		return false, err
	}
	if res.MatchedCount == 1 {
		return true, nil
	}
	n, err := s.col.CountDocuments(ctx, returnFilter(bookingID))
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, inspection.ErrEvidenceNotFound
	}
	return false, nil
}

func (s *EvidenceStore) Upsert(ctx context.Context, ev *inspection.ReturnEvidence) error {
	doc := newEvidenceDocument(ev)
	_, err := s.col.UpdateOne(ctx, bson.M{"booking_id": doc.BookingID, "inspection_type": doc.InspectionType},
		bson.M{"$set": doc}, options.Update().SetUpsert(true))
	return err
}

func returnFilter(bookingID string) bson.M {
	return bson.M{"booking_id": bookingID, "inspection_type": string(inspection.TypeReturn)}
}

// autoAcceptFilter treats a missing verified_by_owner field as unverified;
// documents written by older producers omit it.
func autoAcceptFilter(bookingID string) bson.M {
	filter := returnFilter(bookingID)
	filter["verified_by_owner"] = bson.M{"$ne": true}
	return filter
}

type evidenceDocument struct {
	BookingID         string     `bson:"booking_id"`
	InspectionType    string     `bson:"inspection_type"`
	VerifiedByOwner   bool       `bson:"verified_by_owner"`
	VerifiedByRenter  bool       `bson:"verified_by_renter"`
	OwnerVerification string     `bson:"owner_verification,omitempty"`
	SubmittedAt       time.Time  `bson:"submitted_at"`
	ClaimWindowHours  int        `bson:"claim_window_hours,omitempty"`
	AutoAcceptedAt    *time.Time `bson:"auto_accepted_at,omitempty"`
}

func newEvidenceDocument(ev *inspection.ReturnEvidence) evidenceDocument {
	kind := ev.InspectionType
	if kind == "" {
		kind = inspection.TypeReturn
	}
	return evidenceDocument{
		BookingID:         ev.BookingID,
		InspectionType:    string(kind),
		VerifiedByOwner:   ev.VerifiedByOwner,
		VerifiedByRenter:  ev.VerifiedByRenter,
		OwnerVerification: string(ev.OwnerVerification),
		SubmittedAt:       ev.SubmittedAt.UTC(),
		ClaimWindowHours:  ev.ClaimWindowHours,
		AutoAcceptedAt:    ev.AutoAcceptedAt,
	}
}

func (d evidenceDocument) toEvidence() *inspection.ReturnEvidence {
	return &inspection.ReturnEvidence{
		BookingID:         d.BookingID,
		InspectionType:    inspection.Type(d.InspectionType),
		VerifiedByOwner:   d.VerifiedByOwner,
		VerifiedByRenter:  d.VerifiedByRenter,
		OwnerVerification: inspection.OwnerVerification(d.OwnerVerification),
		SubmittedAt:       d.SubmittedAt.UTC(),
		ClaimWindowHours:  d.ClaimWindowHours,
		AutoAcceptedAt:    d.AutoAcceptedAt,
	}
}

var _ inspection.Repository = (*EvidenceStore)(nil)
