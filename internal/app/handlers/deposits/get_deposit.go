package deposits

import (
	"context"
	"fmt"
	"strings"
	"time"

	"rentme-deposits/internal/app/dto"
	"rentme-deposits/internal/app/middleware"
	"rentme-deposits/internal/app/queries"
	"rentme-deposits/internal/domain/deposit"
	"rentme-deposits/internal/domain/inspection"
)

const getDepositKey = "deposits.get"

type GetDepositQuery struct {
	BookingID string
	CallerID  string
}

func (q GetDepositQuery) Key() string { return getDepositKey }

func (q GetDepositQuery) Caller() string { return q.CallerID }

func (q GetDepositQuery) Validate() error {
	if strings.TrimSpace(q.BookingID) == "" {
		return fmt.Errorf("%w: booking id is required", ErrInvalidCommand)
	}
	return nil
}

type GetDepositHandler struct {
	Releaser    *Releaser
	ClaimWindow time.Duration
}

func (h *GetDepositHandler) Handle(ctx context.Context, q GetDepositQuery) (dto.DepositView, error) {
	entry, ev, list, err := loadBooking(ctx, h.Releaser, q.BookingID)
	if err != nil {
		return dto.DepositView{}, err
	}
	if !entry.IsParty(q.CallerID) {
		return dto.DepositView{}, ErrForbidden
	}
	window := inspection.ResolveClaimWindow(ev, h.ClaimWindow)
	decision := deposit.Evaluate(deposit.EvaluateParams{
		Entry:    entry,
		Evidence: ev,
		Claims:   list,
		Window:   window,
		Now:      h.Releaser.now(),
	})
	view := dto.DepositView{
		PaymentID:       string(entry.ID),
		BookingID:       entry.BookingID,
		Status:          string(entry.Status),
		Amount:          entry.Deposit.Amount,
		Currency:        entry.Deposit.Currency,
		ReleasedAt:      entry.ReleasedAt,
		Eligible:        decision.Eligible,
		Reason:          string(decision.Reason),
		EvidencePresent: ev != nil,
		AutoAccepted:    ev.AutoAccepted(),
	}
	if !decision.WindowEndsAt.IsZero() {
		ends := decision.WindowEndsAt
		view.WindowEndsAt = &ends
	}
	for _, c := range list {
		if c.Status.BlocksRelease() {
			view.BlockingClaims++
		}
	}
	return view, nil
}

var _ queries.Handler[GetDepositQuery, dto.DepositView] = (*GetDepositHandler)(nil)
var _ middleware.SelfValidating = GetDepositQuery{}
