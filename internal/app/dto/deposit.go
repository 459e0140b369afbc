package dto

import "time"

type DepositView struct {
	PaymentID       string     `json:"payment_id"`
	BookingID       string     `json:"booking_id"`
	Status          string     `json:"status"`
	Amount          int64      `json:"amount"`
	Currency        string     `json:"currency"`
	ReleasedAt      *time.Time `json:"released_at,omitempty"`
	Eligible        bool       `json:"eligible"`
	Reason          string     `json:"reason"`
	WindowEndsAt    *time.Time `json:"claim_window_ends_at,omitempty"`
	BlockingClaims  int        `json:"blocking_claims"`
	AutoAccepted    bool       `json:"auto_accepted"`
	EvidencePresent bool       `json:"evidence_present"`
}
