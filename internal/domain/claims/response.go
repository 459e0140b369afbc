package claims

import (
	"strings"
	"time"

	"rentme-deposits/internal/domain/shared/money"
)

type Action string

const (
	ActionAccept    Action = "accept"
	ActionNegotiate Action = "negotiate"
	ActionDispute   Action = "dispute"
)

// Response is the renter's answer to a claim. The concrete types carry only
// the fields their action allows.
type Response interface {
	Action() Action
	validate() error
}

type Accept struct{}

func (Accept) Action() Action  { return ActionAccept }
func (Accept) validate() error { return nil }

type Negotiate struct {
	CounterOffer money.Money
}

func (Negotiate) Action() Action { return ActionNegotiate }

func (n Negotiate) validate() error {
	if !n.CounterOffer.IsPositive() || n.CounterOffer.Currency == "" {
		return ErrInvalidCounterOffer
	}
	return nil
}

type Dispute struct {
	Notes string
}

func (Dispute) Action() Action { return ActionDispute }

func (d Dispute) validate() error {
	if strings.TrimSpace(d.Notes) == "" {
		return ErrDisputeNotesRequired
	}
	return nil
}

type RenterResponse struct {
	Response    Response
	RespondedAt time.Time
}

// ResponseRecord is the flat storage shape of a RenterResponse.
type ResponseRecord struct {
	Action               string    `json:"action" bson:"action"`
	CounterOfferAmount   *int64    `json:"counter_offer_amount,omitempty" bson:"counter_offer_amount,omitempty"`
	CounterOfferCurrency string    `json:"counter_offer_currency,omitempty" bson:"counter_offer_currency,omitempty"`
	Notes                string    `json:"notes,omitempty" bson:"notes,omitempty"`
	RespondedAt          time.Time `json:"responded_at" bson:"responded_at"`
}

func Flatten(r *RenterResponse) *ResponseRecord {
	if r == nil || r.Response == nil {
		return nil
	}
	rec := &ResponseRecord{Action: string(r.Response.Action()), RespondedAt: r.RespondedAt}
	switch v := r.Response.(type) {
	case Negotiate:
		amount := v.CounterOffer.Amount
		rec.CounterOfferAmount = &amount
		rec.CounterOfferCurrency = v.CounterOffer.Currency
	case Dispute:
		rec.Notes = v.Notes
	}
	return rec
}

// Decode rebuilds the typed response, rejecting rows whose fields do not fit
// their action.
func (rec *ResponseRecord) Decode() (*RenterResponse, error) {
	if rec == nil || rec.Action == "" {
		return nil, nil
	}
	var resp Response
	switch Action(rec.Action) {
	case ActionAccept:
		resp = Accept{}
	case ActionNegotiate:
		if rec.CounterOfferAmount == nil {
			return nil, ErrInvalidCounterOffer
		}
		offer, err := money.New(*rec.CounterOfferAmount, rec.CounterOfferCurrency)
		if err != nil {
			return nil, err
		}
		resp = Negotiate{CounterOffer: offer}
	case ActionDispute:
		resp = Dispute{Notes: rec.Notes}
	default:
		return nil, ErrUnknownAction
	}
	if err := resp.validate(); err != nil {
		return nil, err
	}
	return &RenterResponse{Response: resp, RespondedAt: rec.RespondedAt}, nil
}
