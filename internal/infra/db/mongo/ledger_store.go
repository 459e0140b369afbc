package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"rentme-deposits/internal/domain/deposit"
	"rentme-deposits/internal/domain/shared/money"
)

// LedgerStore keeps payment ledger rows in the payment_ledger collection.
// Every deposit transition is a single filtered update: the filter on
// deposit_status is the lock.
type LedgerStore struct {
	col   *mongo.Collection
	Clock func() time.Time
}

func NewLedgerStore(db *mongo.Database) *LedgerStore {
	return &LedgerStore{col: db.Collection("payment_ledger")}
}

func (s *LedgerStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "booking_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "deposit_status", Value: 1}, {Key: "last_scanned_at", Value: 1}, {Key: "updated_at", Value: 1}}},
	})
	return err
}

func (s *LedgerStore) ByID(ctx context.Context, id deposit.PaymentID) (*deposit.Entry, error) {
	return s.findOne(ctx, bson.M{"_id": string(id)})
}

func (s *LedgerStore) ByBooking(ctx context.Context, bookingID string) (*deposit.Entry, error) {
	return s.findOne(ctx, bson.M{"booking_id": bookingID})
}

func (s *LedgerStore) ListReleasable(ctx context.Context, limit int) ([]*deposit.Entry, error) {
	filter := bson.M{
		"deposit_status":   string(deposit.StatusHeld),
		"deposit_amount":   bson.M{"$gt": 0},
		"charge_reference": bson.M{"$regex": `\S`},
	}
	// Rows never scanned have no last_scanned_at and sort first.
	opts := options.Find().SetSort(bson.D{{Key: "last_scanned_at", Value: 1}, {Key: "updated_at", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*deposit.Entry
	for cur.Next(ctx) {
		var doc ledgerDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		e, err := doc.toEntry()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, cur.Err()
}

func (s *LedgerStore) MarkScanned(ctx context.Context, ids []deposit.PaymentID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make(bson.A, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, string(id))
	}
	_, err := s.col.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": keys}, "deposit_status": string(deposit.StatusHeld)},
		bson.M{"$set": bson.M{"last_scanned_at": at.UTC()}})
	return err
}

func (s *LedgerStore) TryLock(ctx context.Context, id deposit.PaymentID) (*deposit.Entry, error) {
	filter := bson.M{"_id": string(id), "deposit_status": string(deposit.StatusHeld)}
	update := bson.M{"$set": bson.M{
		"deposit_status": string(deposit.StatusReleasing),
		"updated_at":     s.now(),
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc ledgerDocument
	err := s.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, s.rejection(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	return doc.toEntry()
}

func (s *LedgerStore) Finalize(ctx context.Context, id deposit.PaymentID, releasedAt time.Time) error {
	filter := bson.M{"_id": string(id), "deposit_status": string(deposit.StatusReleasing)}
	update := bson.M{"$set": bson.M{
		"deposit_status":      string(deposit.StatusReleased),
		"deposit_released_at": releasedAt.UTC(),
		"updated_at":          s.now(),
	}}
	return s.transition(ctx, id, filter, update)
}

func (s *LedgerStore) Rollback(ctx context.Context, id deposit.PaymentID) error {
	filter := bson.M{"_id": string(id), "deposit_status": string(deposit.StatusReleasing)}
	update := bson.M{
		"$set":   bson.M{"deposit_status": string(deposit.StatusHeld), "updated_at": s.now()},
		"$unset": bson.M{"deposit_released_at": ""},
	}
	return s.transition(ctx, id, filter, update)
}

// Upsert writes a full row. Used by fixtures and the charge collection side.
func (s *LedgerStore) Upsert(ctx context.Context, e *deposit.Entry) error {
	doc := newLedgerDocument(e)
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = s.now()
	}
	_, err := s.col.UpdateByID(ctx, doc.ID, bson.M{"$set": doc}, options.Update().SetUpsert(true))
	return err
}

func (s *LedgerStore) transition(ctx context.Context, id deposit.PaymentID, filter, update bson.M) error {
	res, err := s.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return s.rejection(ctx, id)
	}
	return nil
}

func (s *LedgerStore) rejection(ctx context.Context, id deposit.PaymentID) error {
	n, err := s.col.CountDocuments(ctx, bson.M{"_id": string(id)})
	if err != nil {
		return err
	}
	if n == 0 {
		return deposit.ErrEntryNotFound
	}
	return deposit.ErrTransitionRejected
}

func (s *LedgerStore) findOne(ctx context.Context, filter bson.M) (*deposit.Entry, error) {
	var doc ledgerDocument
	if err := s.col.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, deposit.ErrEntryNotFound
		}
		return nil, err
	}
	return doc.toEntry()
}

func (s *LedgerStore) now() time.Time {
	if s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}

type ledgerDocument struct {
	ID              string     `bson:"_id"`
	BookingID       string     `bson:"booking_id"`
	RenterID        string     `bson:"renter_id"`
	OwnerID         string     `bson:"owner_id"`
	TotalAmount     int64      `bson:"total_amount"`
	DepositAmount   int64      `bson:"deposit_amount"`
	Currency        string     `bson:"currency"`
	DepositStatus   string     `bson:"deposit_status"`
	ReleasedAt      *time.Time `bson:"deposit_released_at,omitempty"`
	ChargeReference string     `bson:"charge_reference"`
	UpdatedAt       time.Time  `bson:"updated_at"`
	LastScannedAt   *time.Time `bson:"last_scanned_at,omitempty"`
}

func newLedgerDocument(e *deposit.Entry) ledgerDocument {
	doc := ledgerDocument{
		ID:              string(e.ID),
		BookingID:       e.BookingID,
		RenterID:        e.RenterID,
		OwnerID:         e.OwnerID,
		TotalAmount:     e.Total.Amount,
		DepositAmount:   e.Deposit.Amount,
		Currency:        e.Deposit.Currency,
		DepositStatus:   string(e.Status),
		ReleasedAt:      e.ReleasedAt,
		ChargeReference: e.ChargeReference,
		UpdatedAt:       e.UpdatedAt,
	}
	if !e.LastScannedAt.IsZero() {
		ts := e.LastScannedAt.UTC()
		doc.LastScannedAt = &ts
	}
	return doc
}

func (d ledgerDocument) toEntry() (*deposit.Entry, error) {
	status := deposit.Status(d.DepositStatus)
	if !status.Valid() {
		return nil, fmt.Errorf("mongo: payment %s has unknown deposit status %q", d.ID, d.DepositStatus)
	}
	total, err := money.New(d.TotalAmount, d.Currency)
	if err != nil {
		return nil, fmt.Errorf("mongo: payment %s total: %w", d.ID, err)
	}
	dep, err := money.New(d.DepositAmount, d.Currency)
	if err != nil {
		return nil, fmt.Errorf("mongo: payment %s deposit: %w", d.ID, err)
	}
	e := &deposit.Entry{
		ID:              deposit.PaymentID(d.ID),
		BookingID:       d.BookingID,
		RenterID:        d.RenterID,
		OwnerID:         d.OwnerID,
		Total:           total,
		Deposit:         dep,
		Status:          status,
		ReleasedAt:      d.ReleasedAt,
		ChargeReference: d.ChargeReference,
		UpdatedAt:       d.UpdatedAt,
	}
	if d.LastScannedAt != nil {
		e.LastScannedAt = d.LastScannedAt.UTC()
	}
	return e, nil
}

var _ deposit.Repository = (*LedgerStore)(nil)
