package evaluator

import (
	"math"
	"time"

	"github.com/credwatch-go/internal/domain/credential"
)

// Clock supplies the current instant. Production uses SystemClock; tests
// substitute a fixed instant so evaluations are reproducible.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant.
type FixedClock struct {
	Instant time.Time
}

func (c FixedClock) Now() time.Time { return c.Instant }

// Evaluation is the derived view of a credential at one instant. It is never
// persisted; re-running Evaluate with the same inputs yields the same output.
type Evaluation struct {
	Status          string `json:"status"`
	DaysUntilExpiry int    `json:"daysUntilExpiry"`
	Criticality     string `json:"criticality"`
}

// DaysUntilExpiry counts calendar days from now to the expiry date, rounding
// up. A credential expiring today yields 0; past expiry goes negative.
func DaysUntilExpiry(expiryDate, now time.Time) int {
	expiry := time.Date(expiryDate.Year(), expiryDate.Month(), expiryDate.Day(), 0, 0, 0, 0, time.UTC)
	return int(math.Ceil(expiry.Sub(now).Hours() / 24))
}

// Evaluate derives status from the credential's expiry date and the current
// instant. thresholds are the holder's reminder day offsets, descending; the
// first entry bounds the expiring_soon window. A pending renewal set by the
// external renewal workflow overrides the date-derived status.
func Evaluate(cred *credential.Credential, now time.Time, thresholds []int) Evaluation {
	days := DaysUntilExpiry(cred.ExpiryDate, now)

	eval := Evaluation{
		DaysUntilExpiry: days,
		Criticality:     cred.Criticality,
	}

	switch {
	case cred.PendingRenewal:
		eval.Status = credential.StatusPendingRenewal
	case days <= 0:
		eval.Status = credential.StatusExpired
	case len(thresholds) > 0 && days <= thresholds[0]:
		eval.Status = credential.StatusExpiringSoon
	default:
		eval.Status = credential.StatusValid
	}

	return eval
}
