// Package policy decides which reminder thresholds are newly crossed for a
// credential. It is pure: the decision depends only on the days remaining,
// the configured thresholds and the credential's ledger, so the scheduler
// can re-run it arbitrarily often without double-sending.
package policy

import (
	"github.com/credwatch-go/internal/domain/credential"
)

// Due returns the threshold labels that should fire now, in descending
// threshold order with "expired" last.
//
// A threshold t is due when daysUntilExpiry <= t and the credential has not
// expired yet. The <= comparison means a threshold skipped by infrequent
// polling still fires on the next pass. Labels already in the ledger are
// never returned again.
//
// While a renewal workflow is active nothing fires; the renewal either lands
// a new expiry date, which clears the ledger, or lapses back to the
// date-derived status.
func Due(cred *credential.Credential, daysUntilExpiry int, thresholds []int) []string {
	if cred.PendingRenewal {
		return nil
	}

	var due []string

	if daysUntilExpiry > 0 {
		for _, t := range thresholds {
			if daysUntilExpiry > t {
				continue
			}
			label := credential.ThresholdLabel(t)
			if !cred.HasNotification(label) {
				due = append(due, label)
			}
		}
		return due
	}

	if !cred.HasNotification(credential.LabelExpired) {
		due = append(due, credential.LabelExpired)
	}
	return due
}
