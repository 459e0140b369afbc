package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rentme-deposits/internal/domain/claims"
	"rentme-deposits/internal/domain/shared/money"
)

const claimColumns = `id, booking_id, filed_by, estimated_cost, currency, status, renter_response, created_at, updated_at`

type ClaimStore struct {
	pool *pgxpool.Pool
}

func NewClaimStore(db *DB) *ClaimStore {
	return &ClaimStore{pool: db.Pool}
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
	rows, err := s.pool.Query(ctx, `SELECT `+claimColumns+` FROM damage_claims
		WHERE booking_id = ANY($1) ORDER BY created_at, id`, bookingIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out[c.BookingID] = append(out[c.BookingID], c)
	}
	return out, rows.Err()
}

func (s *ClaimStore) Save(ctx context.Context, c *claims.Claim) error {
	resp, err := encodeResponse(c.RenterResponse)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO damage_claims (`+claimColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status, renter_response = EXCLUDED.renter_response, updated_at = EXCLUDED.updated_at`,
		string(c.ID), c.BookingID, c.FiledBy, c.EstimatedCost.Amount, c.EstimatedCost.Currency,
		string(c.Status), resp, c.CreatedAt.UTC(), c.UpdatedAt.UTC())
	return err
}

func encodeResponse(r *claims.RenterResponse) ([]byte, error) {
	rec := claims.Flatten(r)
	if rec == nil {
		return nil, nil
	}
	return json.Marshal(rec)
}

func decodeResponse(raw []byte) (*claims.RenterResponse, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var rec claims.ResponseRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return rec.Decode()
}

func scanClaim(row pgx.Row) (*claims.Claim, error) {
	var (
		id, bookingID, filedBy, currency, status string
		cost                                     int64
		rawResponse                              []byte
		createdAt, updatedAt                     time.Time
	)
	if err := row.Scan(&id, &bookingID, &filedBy, &cost, &currency, &status, &rawResponse, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	estimate, err := money.New(cost, currency)
	if err != nil {
		return nil, fmt.Errorf("postgres: claim %s cost: %w", id, err)
	}
	resp, err := decodeResponse(rawResponse)
	if err != nil {
		return nil, fmt.Errorf("postgres: claim %s response: %w", id, err)
	}
	return &claims.Claim{
		ID:             claims.ClaimID(id),
		BookingID:      bookingID,
		FiledBy:        filedBy,
		EstimatedCost:  estimate,
		Status:         claims.Status(status),
		RenterResponse: resp,
		CreatedAt:      createdAt.UTC(),
		UpdatedAt:      updatedAt.UTC(),
	}, nil
}

var _ claims.Reader = (*ClaimStore)(nil)
