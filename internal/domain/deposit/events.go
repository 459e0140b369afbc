package deposit

import (
	"time"

	"rentme-deposits/internal/domain/shared/money"
)

type DepositReleased struct {
	PaymentID PaymentID   `json:"payment_id"`
	BookingID string      `json:"booking_id"`
	RenterID  string      `json:"renter_id"`
	Amount    money.Money `json:"amount"`
	RefundID  string      `json:"refund_id"`
	Trigger   string      `json:"trigger"`
	At        time.Time   `json:"at"`
}

func (e DepositReleased) EventName() string     { return "deposit.released" }
func (e DepositReleased) AggregateID() string   { return e.BookingID }
func (e DepositReleased) OccurredAt() time.Time { return e.At }

type DepositReleaseFailed struct {
	PaymentID PaymentID   `json:"payment_id"`
	BookingID string      `json:"booking_id"`
	Amount    money.Money `json:"amount"`
	Kind      string      `json:"kind"`
	Error     string      `json:"error"`
	Trigger   string      `json:"trigger"`
	At        time.Time   `json:"at"`
}

func (e DepositReleaseFailed) EventName() string     { return "deposit.release_failed" }
func (e DepositReleaseFailed) AggregateID() string   { return e.BookingID }
func (e DepositReleaseFailed) OccurredAt() time.Time { return e.At }
