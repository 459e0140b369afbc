package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rentme-deposits/internal/domain/deposit"
	"rentme-deposits/internal/domain/shared/money"
)

const ledgerColumns = `id, booking_id, renter_id, owner_id, total_amount, deposit_amount, currency,
	deposit_status, deposit_released_at, charge_reference, updated_at, last_scanned_at`

// LedgerStore implements the deposit state machine with conditional UPDATEs;
// the WHERE clause on deposit_status is the lock.
type LedgerStore struct {
	pool  *pgxpool.Pool
	Clock func() time.Time
}

func NewLedgerStore(db *DB) *LedgerStore {
	return &LedgerStore{pool: db.Pool}
}

func (s *LedgerStore) ByID(ctx context.Context, id deposit.PaymentID) (*deposit.Entry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM payment_ledger WHERE id = $1`, string(id))
	return scanEntry(row)
}

func (s *LedgerStore) ByBooking(ctx context.Context, bookingID string) (*deposit.Entry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM payment_ledger WHERE booking_id = $1`, bookingID)
	return scanEntry(row)
}

func (s *LedgerStore) ListReleasable(ctx context.Context, limit int) ([]*deposit.Entry, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+ledgerColumns+` FROM payment_ledger
		WHERE deposit_status = 'held' AND deposit_amount > 0 AND btrim(charge_reference) <> ''
		ORDER BY last_scanned_at NULLS FIRST, updated_at, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*deposit.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *LedgerStore) MarkScanned(ctx context.Context, ids []deposit.PaymentID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = string(id)
	}
	_, err := s.pool.Exec(ctx, `UPDATE payment_ledger SET last_scanned_at = $2
		WHERE id = ANY($1) AND deposit_status = 'held'`, keys, at.UTC())
	return err
}

func (s *LedgerStore) TryLock(ctx context.Context, id deposit.PaymentID) (*deposit.Entry, error) {
	row := s.pool.QueryRow(ctx, `UPDATE payment_ledger
		SET deposit_status = 'releasing', updated_at = $2
		WHERE id = $1 AND deposit_status = 'held'
		RETURNING `+ledgerColumns, string(id), s.now())
	e, err := scanEntry(row)
	if errors.Is(err, deposit.ErrEntryNotFound) {
		return nil, s.rejection(ctx, id)
	}
	return e, err
}

func (s *LedgerStore) Finalize(ctx context.Context, id deposit.PaymentID, releasedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE payment_ledger
		SET deposit_status = 'released', deposit_released_at = $2, updated_at = $3
		WHERE id = $1 AND deposit_status = 'releasing'`, string(id), releasedAt.UTC(), s.now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.rejection(ctx, id)
	}
	return nil
}

func (s *LedgerStore) Rollback(ctx context.Context, id deposit.PaymentID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE payment_ledger
		SET deposit_status = 'held', deposit_released_at = NULL, updated_at = $2
		WHERE id = $1 AND deposit_status = 'releasing'`, string(id), s.now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.rejection(ctx, id)
	}
	return nil
}

// Upsert writes a full row on behalf of charge collection and fixtures.
func (s *LedgerStore) Upsert(ctx context.Context, e *deposit.Entry) error {
	updated := e.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO payment_ledger (`+ledgerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			booking_id = EXCLUDED.booking_id, renter_id = EXCLUDED.renter_id, owner_id = EXCLUDED.owner_id,
			total_amount = EXCLUDED.total_amount, deposit_amount = EXCLUDED.deposit_amount,
			currency = EXCLUDED.currency, deposit_status = EXCLUDED.deposit_status,
			deposit_released_at = EXCLUDED.deposit_released_at, charge_reference = EXCLUDED.charge_reference,
			updated_at = EXCLUDED.updated_at, last_scanned_at = EXCLUDED.last_scanned_at`,
		string(e.ID), e.BookingID, e.RenterID, e.OwnerID, e.Total.Amount, e.Deposit.Amount, e.Deposit.Currency,
		string(e.Status), e.ReleasedAt, e.ChargeReference, updated, nullableTime(e.LastScannedAt))
	return err
}

func (s *LedgerStore) rejection(ctx context.Context, id deposit.PaymentID) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM payment_ledger WHERE id = $1)`, string(id)).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return deposit.ErrEntryNotFound
	}
	return deposit.ErrTransitionRejected
}

func (s *LedgerStore) now() time.Time {
	if s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}

func scanEntry(row pgx.Row) (*deposit.Entry, error) {
	var (
		id, bookingID, renterID, ownerID, currency, status, chargeRef string
		total, dep                                                    int64
		releasedAt, lastScanned                                       *time.Time
		updatedAt                                                     time.Time
	)
	err := row.Scan(&id, &bookingID, &renterID, &ownerID, &total, &dep, &currency, &status, &releasedAt, &chargeRef, &updatedAt, &lastScanned)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, deposit.ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	e, err := buildEntry(id, bookingID, renterID, ownerID, total, dep, currency, status, releasedAt, chargeRef, updatedAt)
	if err == nil && lastScanned != nil {
		e.LastScannedAt = lastScanned.UTC()
	}
	return e, err
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func buildEntry(id, bookingID, renterID, ownerID string, total, dep int64, currency, status string, releasedAt *time.Time, chargeRef string, updatedAt time.Time) (*deposit.Entry, error) {
	st := deposit.Status(status)
	if !st.Valid() {
		return nil, fmt.Errorf("postgres: payment %s has unknown deposit status %q", id, status)
	}
	totalMoney, err := money.New(total, currency)
	if err != nil {
		return nil, fmt.Errorf("postgres: payment %s total: %w", id, err)
	}
	depMoney, err := money.New(dep, currency)
	if err != nil {
		return nil, fmt.Errorf("postgres: payment %s deposit: %w", id, err)
	}
	if releasedAt != nil {
		utc := releasedAt.UTC()
		releasedAt = &utc
	}
	return &deposit.Entry{
		ID:              deposit.PaymentID(id),
		BookingID:       bookingID,
		RenterID:        renterID,
		OwnerID:         ownerID,
		Total:           totalMoney,
		Deposit:         depMoney,
		Status:          st,
		ReleasedAt:      releasedAt,
		ChargeReference: chargeRef,
		UpdatedAt:       updatedAt.UTC(),
	}, nil
}

var _ deposit.Repository = (*LedgerStore)(nil)
