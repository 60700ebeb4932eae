package notification

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidThresholds = errors.New("reminder thresholds must be a non-empty, strictly descending list of positive day offsets")
	ErrChannelNotFound   = errors.New("notification channel not found")
)

// Channel types
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelInApp = "in_app"
)

// Priority levels; derived from credential criticality at dispatch time and
// used for presentation urgency only.
const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Payload is what the engine hands to an outbound transport. Transports own
// delivery; the engine only decides what to send and when.
type Payload struct {
	HolderID        string `json:"holderId"`
	Recipient       string `json:"recipient"`
	CredentialID    string `json:"credentialId"`
	CredentialName  string `json:"credentialName"`
	Issuer          string `json:"issuer"`
	Threshold       string `json:"threshold"`
	DaysUntilExpiry int    `json:"daysUntilExpiry"`
	Criticality     string `json:"criticality"`
	Priority        string `json:"priority"`
	Subject         string `json:"subject"`
	Body            string `json:"body"`
}

// Notification is a row in the in-app feed, written by the in-app channel.
type Notification struct {
	ID           string     `json:"id" gorm:"primaryKey"`
	HolderID     string     `json:"holderId" gorm:"not null;index"`
	CredentialID string     `json:"credentialId" gorm:"index"`
	Threshold    string     `json:"threshold"`
	Priority     string     `json:"priority" gorm:"default:'normal'"`
	Subject      string     `json:"subject"`
	Body         string     `json:"body" gorm:"not null"`
	ReadAt       *time.Time `json:"readAt"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// NewNotification builds an in-app feed entry from a dispatch payload.
func NewNotification(p *Payload) *Notification {
	return &Notification{
		ID:           uuid.New().String(),
		HolderID:     p.HolderID,
		CredentialID: p.CredentialID,
		Threshold:    p.Threshold,
		Priority:     p.Priority,
		Subject:      p.Subject,
		Body:         p.Body,
		CreatedAt:    time.Now().UTC(),
	}
}

// MarkAsRead stamps the notification as read.
func (n *Notification) MarkAsRead() {
	now := time.Now().UTC()
	n.ReadAt = &now
}

// Settings holds a holder's notification preferences: which channels are
// enabled, where to reach them, and the reminder day offsets. A holder with
// no row falls back to the process-wide defaults from configuration.
type Settings struct {
	ID           string    `json:"id" gorm:"primaryKey"`
	HolderID     string    `json:"holderId" gorm:"uniqueIndex;not null"`
	EmailEnabled bool      `json:"emailEnabled" gorm:"default:true"`
	SMSEnabled   bool      `json:"smsEnabled" gorm:"default:false"`
	InAppEnabled bool      `json:"inAppEnabled" gorm:"default:true"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone"`
	ReminderDays []int     `json:"reminderDays" gorm:"serializer:json"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// DefaultSettings returns settings for a holder with no stored preferences.
func DefaultSettings(holderID string, reminderDays []int) *Settings {
	days := make([]int, len(reminderDays))
	copy(days, reminderDays)
	return &Settings{
		ID:           uuid.New().String(),
		HolderID:     holderID,
		EmailEnabled: true,
		InAppEnabled: true,
		ReminderDays: days,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
}

// Validate rejects threshold lists the reminder policy cannot interpret.
// Runs when settings are saved, never per-credential at evaluation time.
func (s *Settings) Validate() error {
	if err := ValidateThresholds(s.ReminderDays); err != nil {
		return err
	}
	if s.EmailEnabled && s.Email == "" {
		return fmt.Errorf("email channel enabled without an address")
	}
	if s.SMSEnabled && s.Phone == "" {
		return fmt.Errorf("sms channel enabled without a phone number")
	}
	return nil
}

// ValidateThresholds checks that day offsets are positive and strictly
// descending, e.g. [90, 60, 30, 14, 7, 1].
func ValidateThresholds(days []int) error {
	if len(days) == 0 {
		return ErrInvalidThresholds
	}
	for i, d := range days {
		if d <= 0 {
			return ErrInvalidThresholds
		}
		if i > 0 && days[i-1] <= d {
			return ErrInvalidThresholds
		}
	}
	return nil
}

// EnabledChannels lists the channel types this holder has switched on.
func (s *Settings) EnabledChannels() []string {
	var enabled []string
	if s.EmailEnabled {
		enabled = append(enabled, ChannelEmail)
	}
	if s.SMSEnabled {
		enabled = append(enabled, ChannelSMS)
	}
	if s.InAppEnabled {
		enabled = append(enabled, ChannelInApp)
	}
	return enabled
}

// RecipientFor returns the delivery address for a channel type.
func (s *Settings) RecipientFor(channel string) string {
	switch channel {
	case ChannelEmail:
		return s.Email
	case ChannelSMS:
		return s.Phone
	default:
		return s.HolderID
	}
}
