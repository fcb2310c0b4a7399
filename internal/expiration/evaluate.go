// Package expiration tracks document validity against stored expiration dates
// and extends them on renewal.
package expiration

import (
	"math"
	"time"
)

// DefaultExpiringSoonDays is the window in which a valid document is flagged.
const DefaultExpiringSoonDays = 30

type ValidityStatus string

const (
	StatusNoExpiration ValidityStatus = "no_expiration"
	StatusValid        ValidityStatus = "valid"
	StatusExpiringSoon ValidityStatus = "expiring_soon"
	StatusExpired      ValidityStatus = "expired"
)

// Evaluation is the validity of a document at a point in time.
type Evaluation struct {
	DocumentID     string         `json:"documentId,omitempty"`
	Status         ValidityStatus `json:"status"`
	ExpirationDate *time.Time     `json:"expirationDate,omitempty"`
	// DaysRemaining rounds up partial days and is negative once expired.
	DaysRemaining int `json:"daysRemaining"`
	// RenewalWindowStart is when the document enters expiring_soon.
	RenewalWindowStart *time.Time `json:"renewalWindowStart,omitempty"`
	EvaluatedAt        time.Time  `json:"evaluatedAt"`
}

// Evaluate derives validity from an expiration date. A document expires at
// its expiration instant; it is expiring soon when at most soonDays remain.
func Evaluate(expiration *time.Time, now time.Time, soonDays int) Evaluation {
	if soonDays <= 0 {
		soonDays = DefaultExpiringSoonDays
	}
	ev := Evaluation{Status: StatusNoExpiration, EvaluatedAt: now}
	if expiration == nil || expiration.IsZero() {
		return ev
	}

	exp := *expiration
	window := exp.AddDate(0, 0, -soonDays)
	ev.ExpirationDate = &exp
	ev.RenewalWindowStart = &window
	ev.DaysRemaining = daysBetween(now, exp)

	switch {
	case !now.Before(exp):
		ev.Status = StatusExpired
	case !now.Before(window):
		ev.Status = StatusExpiringSoon
	default:
		ev.Status = StatusValid
	}
	return ev
}

func daysBetween(from, to time.Time) int {
	d := to.Sub(from).Hours() / 24
	if d >= 0 {
		return int(math.Ceil(d))
	}
	return int(math.Floor(d))
}

// NextExpiration extends from the previous boundary, never from now, so a late
// renewal does not shorten the following term.
func NextExpiration(previous time.Time, periodDays int) time.Time {
	return previous.AddDate(0, 0, periodDays)
}
