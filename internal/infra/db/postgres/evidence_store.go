package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rentme-deposits/internal/domain/inspection"
)

const evidenceColumns = `booking_id, inspection_type, verified_by_owner, verified_by_renter,
	owner_verification, submitted_at, claim_window_hours, auto_accepted_at`

type EvidenceStore struct {
	pool *pgxpool.Pool
}

func NewEvidenceStore(db *DB) *EvidenceStore {
	return &EvidenceStore{pool: db.Pool}
}

func (s *EvidenceStore) ReturnEvidence(ctx context.Context, bookingID string) (*inspection.ReturnEvidence, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+evidenceColumns+` FROM inspections
		WHERE booking_id = $1 AND inspection_type = 'return'`, bookingID)
	ev, err := scanEvidence(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, inspection.ErrEvidenceNotFound
	}
	return ev, err
}

func (s *EvidenceStore) ReturnEvidenceFor(ctx context.Context, bookingIDs []string) (map[string]*inspection.ReturnEvidence, error) {
	out := make(map[string]*inspection.ReturnEvidence, len(bookingIDs))
	if len(bookingIDs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT `+evidenceColumns+` FROM inspections
		WHERE booking_id = ANY($1) AND inspection_type = 'return'`, bookingIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		ev, err := scanEvidence(rows)
		if err != nil {
			return nil, err
		}
		out[ev.BookingID] = ev
	}
	return out, rows.Err()
}

// MarkAutoAccepted never overwrites an owner confirmation: the update only
// matches rows still unverified by the owner.
func (s *EvidenceStore) MarkAutoAccepted(ctx context.Context, bookingID string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE inspections
		SET verified_by_owner = true, owner_verification = 'auto_accepted', auto_accepted_at = $2
		WHERE booking_id = $1 AND inspection_type = 'return' AND verified_by_owner = false`, bookingID, at.UTC())
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.ReturnEvidence(ctx, bookingID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *EvidenceStore) Upsert(ctx context.Context, ev *inspection.ReturnEvidence) error {
	kind := ev.InspectionType
	if kind == "" {
		kind = inspection.TypeReturn
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO inspections (`+evidenceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (booking_id, inspection_type) DO UPDATE SET
			verified_by_owner = EXCLUDED.verified_by_owner, verified_by_renter = EXCLUDED.verified_by_renter,
			owner_verification = EXCLUDED.owner_verification, submitted_at = EXCLUDED.submitted_at,
			claim_window_hours = EXCLUDED.claim_window_hours, auto_accepted_at = EXCLUDED.auto_accepted_at`,
		ev.BookingID, string(kind), ev.VerifiedByOwner, ev.VerifiedByRenter, string(ev.OwnerVerification),
		ev.SubmittedAt.UTC(), ev.ClaimWindowHours, ev.AutoAcceptedAt)
	return err
}

func scanEvidence(row pgx.Row) (*inspection.ReturnEvidence, error) {
	var (
		ev                 inspection.ReturnEvidence
		kind, verification string
		submitted          time.Time
		autoAcceptedAt     *time.Time
	)
	if err := row.Scan(&ev.BookingID, &kind, &ev.VerifiedByOwner, &ev.VerifiedByRenter,
		&verification, &submitted, &ev.ClaimWindowHours, &autoAcceptedAt); err != nil {
		return nil, err
	}
	ev.InspectionType = inspection.Type(kind)
	ev.OwnerVerification = inspection.OwnerVerification(verification)
	ev.SubmittedAt = submitted.UTC()
	ev.AutoAcceptedAt = autoAcceptedAt
	return &ev, nil
}

var _ inspection.Repository = (*EvidenceStore)(nil)
