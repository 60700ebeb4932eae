package credential

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("credential not found")
	ErrInvalidType     = errors.New("invalid credential type")
	ErrInvalidCritical = errors.New("invalid criticality level")
)

// Credential is a tracked professional credential. Status and days until
// expiry are never stored; they are recomputed from ExpiryDate on every read.
type Credential struct {
	ID                string    `json:"id" gorm:"primaryKey"`
	HolderID          string    `json:"holderId" gorm:"not null;index"`
	Name              string    `json:"name" gorm:"not null"`
	Issuer            string    `json:"issuer"`
	Type              string    `json:"type" gorm:"not null"`
	IssueDate         time.Time `json:"issueDate"`
	ExpiryDate        time.Time `json:"expiryDate" gorm:"not null;index"`
	Criticality       string    `json:"criticality" gorm:"default:'medium'"`
	NotificationsSent []string  `json:"notificationsSent" gorm:"serializer:json"`
	AutoRenewal       bool      `json:"autoRenewal" gorm:"default:false"`
	PendingRenewal    bool      `json:"pendingRenewal" gorm:"default:false"`
	Version           int       `json:"version" gorm:"not null;default:0"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Credential types
const (
	TypeCertification   = "certification"
	TypeLicense         = "license"
	TypeTraining        = "training"
	TypeBackgroundCheck = "background_check"
)

// Criticality levels; assigned at creation and never derived from status.
const (
	CriticalityLow      = "low"
	CriticalityMedium   = "medium"
	CriticalityHigh     = "high"
	CriticalityCritical = "critical"
)

// Derived status values
const (
	StatusValid          = "valid"
	StatusExpiringSoon   = "expiring_soon"
	StatusExpired        = "expired"
	StatusPendingRenewal = "pending_renewal"
)

// LabelExpired is the ledger entry recorded once a credential has lapsed.
const LabelExpired = "expired"

// ThresholdLabel builds the ledger entry for a reminder day offset,
// e.g. "30-day".
func ThresholdLabel(days int) string {
	return fmt.Sprintf("%d-day", days)
}

// New creates a credential with a fresh identity and an empty ledger.
func New(holderID, name, issuer, credType string, issueDate, expiryDate time.Time) *Credential {
	return &Credential{
		ID:                uuid.New().String(),
		HolderID:          holderID,
		Name:              name,
		Issuer:            issuer,
		Type:              credType,
		IssueDate:         issueDate,
		ExpiryDate:        expiryDate,
		Criticality:       CriticalityMedium,
		NotificationsSent: []string{},
		CreatedAt:         time.Now().UTC(),
		UpdatedAt:         time.Now().UTC(),
	}
}

// ValidType reports whether t is a known credential type.
func ValidType(t string) bool {
	switch t {
	case TypeCertification, TypeLicense, TypeTraining, TypeBackgroundCheck:
		return true
	}
	return false
}

// ValidCriticality reports whether c is a known criticality level.
func ValidCriticality(c string) bool {
	switch c {
	case CriticalityLow, CriticalityMedium, CriticalityHigh, CriticalityCritical:
		return true
	}
	return false
}

// HasNotification reports whether a threshold label is already in the ledger.
func (c *Credential) HasNotification(label string) bool {
	for _, sent := range c.NotificationsSent {
		if sent == label {
			return true
		}
	}
	return false
}

// RecordNotifications appends labels to the ledger, skipping any already
// present so the ledger never holds duplicates.
func (c *Credential) RecordNotifications(labels ...string) {
	for _, label := range labels {
		if !c.HasNotification(label) {
			c.NotificationsSent = append(c.NotificationsSent, label)
		}
	}
}

// Renew moves the credential onto a new validity window. The ledger is
// cleared entirely: entries recorded against the old expiry refer to a
// timeline that no longer exists, and thresholds accumulate fresh as the
// new expiry approaches.
func (c *Credential) Renew(issueDate, expiryDate time.Time) {
	c.IssueDate = issueDate
	c.ExpiryDate = expiryDate
	c.NotificationsSent = []string{}
	c.PendingRenewal = false
	c.UpdatedAt = time.Now().UTC()
}
