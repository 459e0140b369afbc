package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"rentme-deposits/internal/domain/claims"
	"rentme-deposits/internal/domain/deposit"
	"rentme-deposits/internal/domain/inspection"
	"rentme-deposits/internal/domain/shared/money"
)

type fixtureSink struct {
	entry    func(context.Context, *deposit.Entry) error
	evidence func(context.Context, *inspection.ReturnEvidence) error
	claim    func(context.Context, *claims.Claim) error
}

type bookingFixture struct {
	PaymentID       string         `json:"payment_id"`
	BookingID       string         `json:"booking_id"`
	RenterID        string         `json:"renter_id"`
	OwnerID         string         `json:"owner_id"`
	TotalCents      int64          `json:"total_cents"`
	DepositCents    int64          `json:"deposit_cents"`
	Currency        string         `json:"currency"`
	Status          string         `json:"status"`
	ChargeReference string         `json:"charge_reference"`
	Return          *returnFixture `json:"return"`
	Claims          []claimFixture `json:"claims"`
}

type returnFixture struct {
	SubmittedAt      string `json:"submitted_at"`
	VerifiedByOwner  bool   `json:"verified_by_owner"`
	VerifiedByRenter bool   `json:"verified_by_renter"`
	ClaimWindowHours int    `json:"claim_window_hours"`
}

type claimFixture struct {
	ID            string `json:"id"`
	FiledBy       string `json:"filed_by"`
	EstimateCents int64  `json:"estimate_cents"`
	Status        string `json:"status"`
}

// loadFixtures seeds bookings from a JSON array. Invalid entries are logged
// and skipped; store errors abort the load.
func loadFixtures(ctx context.Context, path string, sink fixtureSink, logger *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("deposit fixtures file not found, skipping", "path", path)
			return nil
		}
		return fmt.Errorf("read fixtures: %w", err)
	}
	var fixtures []bookingFixture
	if err := json.Unmarshal(data, &fixtures); err != nil {
		return fmt.Errorf("decode fixtures: %w", err)
	}

	now := time.Now().UTC()
	loaded := 0
	for _, fx := range fixtures {
		entry, ev, list, err := fx.build(now)
		if err != nil {
			logger.Error("fixture invalid", "booking_id", fx.BookingID, "error", err)
			continue
		}
		if err := sink.entry(ctx, entry); err != nil {
			return fmt.Errorf("store fixture %s: %w", fx.BookingID, err)
		}
		if ev != nil {
			if err := sink.evidence(ctx, ev); err != nil {
				return fmt.Errorf("store fixture evidence %s: %w", fx.BookingID, err)
			}
		}
		for _, c := range list {
			if err := sink.claim(ctx, c); err != nil {
				return fmt.Errorf("store fixture claim %s: %w", c.ID, err)
			}
		}
		loaded++
	}
	logger.Info("deposit fixtures imported", "path", path, "bookings", loaded)
	return nil
}

func (fx bookingFixture) build(now time.Time) (*deposit.Entry, *inspection.ReturnEvidence, []*claims.Claim, error) {
	if fx.PaymentID == "" || fx.BookingID == "" {
		return nil, nil, nil, errors.New("payment_id and booking_id are required")
	}
	total, err := money.New(fx.TotalCents, fx.Currency)
	if err != nil {
		return nil, nil, nil, err
	}
	dep, err := money.New(fx.DepositCents, fx.Currency)
	if err != nil {
		return nil, nil, nil, err
	}
	status := deposit.Status(fx.Status)
	if fx.Status == "" {
		status = deposit.StatusHeld
	}
	if !status.Valid() {
		return nil, nil, nil, fmt.Errorf("unknown deposit status %q", fx.Status)
	}
	entry := &deposit.Entry{
		ID:              deposit.PaymentID(fx.PaymentID),
		BookingID:       fx.BookingID,
		RenterID:        fx.RenterID,
		OwnerID:         fx.OwnerID,
		Total:           total,
		Deposit:         dep,
		Status:          status,
		ChargeReference: fx.ChargeReference,
		UpdatedAt:       now,
	}
	if status == deposit.StatusReleased {
		entry.ReleasedAt = &now
	}

	var ev *inspection.ReturnEvidence
	if fx.Return != nil {
		submitted, err := time.Parse(time.RFC3339, fx.Return.SubmittedAt)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("return.submitted_at: %w", err)
		}
		ev = &inspection.ReturnEvidence{
			BookingID:        fx.BookingID,
			InspectionType:   inspection.TypeReturn,
			VerifiedByOwner:  fx.Return.VerifiedByOwner,
			VerifiedByRenter: fx.Return.VerifiedByRenter,
			SubmittedAt:      submitted.UTC(),
			ClaimWindowHours: fx.Return.ClaimWindowHours,
		}
		if ev.VerifiedByOwner {
			ev.OwnerVerification = inspection.VerificationOwnerConfirmed
		}
	}

	list := make([]*claims.Claim, 0, len(fx.Claims))
	for i, cf := range fx.Claims {
		estimate, err := money.New(cf.EstimateCents, fx.Currency)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("claims[%d]: %w", i, err)
		}
		id := cf.ID
		if id == "" {
			id = fmt.Sprintf("%s-claim-%d", fx.BookingID, i+1)
		}
		claimStatus := claims.Status(cf.Status)
		if claimStatus == "" {
			claimStatus = claims.StatusPending
		}
		list = append(list, &claims.Claim{
			ID:            claims.ClaimID(id),
			BookingID:     fx.BookingID,
			FiledBy:       cf.FiledBy,
			EstimatedCost: estimate,
			Status:        claimStatus,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}
	return entry, ev, list, nil
}
