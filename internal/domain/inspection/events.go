package inspection

import "time"

type ReturnAutoAccepted struct {
	BookingID   string    `json:"booking_id"`
	SubmittedAt time.Time `json:"submitted_at"`
	WindowHours int       `json:"window_hours"`
	At          time.Time `json:"at"`
}

func (e ReturnAutoAccepted) EventName() string     { return "inspection.auto_accepted" }
func (e ReturnAutoAccepted) AggregateID() string   { return e.BookingID }
func (e ReturnAutoAccepted) OccurredAt() time.Time { return e.At }
