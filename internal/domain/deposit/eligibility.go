package deposit

import (
	"strings"
	"time"

	"rentme-deposits/internal/domain/claims"
	"rentme-deposits/internal/domain/inspection"
)

type Reason string

const (
	ReasonOwnerVerified     Reason = "owner_verified"
	ReasonWindowElapsed     Reason = "claim_window_elapsed"
	ReasonNotHeld           Reason = "deposit_not_held"
	ReasonNoDeposit         Reason = "no_deposit"
	ReasonNoChargeReference Reason = "missing_charge_reference"
	ReasonBlockingClaim     Reason = "blocking_claim"
	ReasonEvidenceMissing   Reason = "return_evidence_missing"
	ReasonRenterNotVerified Reason = "renter_not_verified"
	ReasonClaimWindowOpen   Reason = "claim_window_open"
)

type EvaluateParams struct {
	Entry    *Entry
	Evidence *inspection.ReturnEvidence
	Claims   []*claims.Claim
	// Window is the booking's resolved claim window.
	Window time.Duration
	Now    time.Time
}

type Decision struct {
	Eligible bool
	Reason   Reason
	// AutoResolve is set when eligibility comes from the elapsed window and
	// the owner never verified, so the auto-accept marker must be written.
	AutoResolve  bool
	WindowEndsAt time.Time
}

// Evaluate decides whether a held deposit may be released. It has no side
// effects and depends only on its inputs.
func Evaluate(p EvaluateParams) Decision {
	e := p.Entry
	switch {
	case e == nil || e.Status != StatusHeld:
		return Decision{Reason: ReasonNotHeld}
	case !e.Deposit.IsPositive():
		return Decision{Reason: ReasonNoDeposit}
	case strings.TrimSpace(e.ChargeReference) == "":
		return Decision{Reason: ReasonNoChargeReference}
	}
	if _, blocked := claims.AnyBlocking(p.Claims); blocked {
		return Decision{Reason: ReasonBlockingClaim}
	}
	ev := p.Evidence
	if ev == nil {
		return Decision{Reason: ReasonEvidenceMissing}
	}
	if !ev.VerifiedByRenter {
		return Decision{Reason: ReasonRenterNotVerified}
	}
	ends := ev.WindowEndsAt(p.Window)
	if ev.VerifiedByOwner {
		reason := ReasonOwnerVerified
		if ev.AutoAccepted() {
			reason = ReasonWindowElapsed
		}
		return Decision{Eligible: true, Reason: reason, WindowEndsAt: ends}
	}
	if p.Now.After(ends) {
		return Decision{Eligible: true, Reason: ReasonWindowElapsed, AutoResolve: true, WindowEndsAt: ends}
	}
	return Decision{Reason: ReasonClaimWindowOpen, WindowEndsAt: ends}
}
