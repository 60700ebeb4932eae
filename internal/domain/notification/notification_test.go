package notification

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateThresholds(t *testing.T) {
	tests := []struct {
		name    string
		days    []int
		wantErr bool
	}{
		{"standard ladder", []int{90, 60, 30, 14, 7, 1}, false},
		{"single threshold", []int{30}, false},
		{"empty", []int{}, true},
		{"zero offset", []int{30, 0}, true},
		{"negative offset", []int{30, -7}, true},
		{"ascending", []int{7, 14, 30}, true},
		{"duplicate", []int{30, 30, 7}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateThresholds(tt.days)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidThresholds)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSettingsValidate(t *testing.T) {
	settings := DefaultSettings("holder-1", []int{90, 30, 7})
	settings.Email = "nurse@example.com"
	assert.NoError(t, settings.Validate())

	settings.Email = ""
	assert.Error(t, settings.Validate())

	settings.EmailEnabled = false
	assert.NoError(t, settings.Validate())

	settings.SMSEnabled = true
	assert.Error(t, settings.Validate())
	settings.Phone = "+15550100"
	assert.NoError(t, settings.Validate())

	settings.ReminderDays = []int{7, 30}
	assert.ErrorIs(t, settings.Validate(), ErrInvalidThresholds)
}

func TestEnabledChannels(t *testing.T) {
	settings := &Settings{EmailEnabled: true, InAppEnabled: true}
	assert.Equal(t, []string{ChannelEmail, ChannelInApp}, settings.EnabledChannels())

	settings.SMSEnabled = true
	assert.Equal(t, []string{ChannelEmail, ChannelSMS, ChannelInApp}, settings.EnabledChannels())

	assert.Empty(t, (&Settings{}).EnabledChannels())
}

func TestRecipientFor(t *testing.T) {
	settings := &Settings{HolderID: "holder-1", Email: "nurse@example.com", Phone: "+15550100"}

	assert.Equal(t, "nurse@example.com", settings.RecipientFor(ChannelEmail))
	assert.Equal(t, "+15550100", settings.RecipientFor(ChannelSMS))
	assert.Equal(t, "holder-1", settings.RecipientFor(ChannelInApp))
}

func TestNewNotification(t *testing.T) {
	p := &Payload{
		HolderID:     "holder-1",
		CredentialID: "cred-1",
		Threshold:    "30-day",
		Priority:     PriorityUrgent,
		Subject:      "Credential Expiring Soon",
		Body:         "RN License expires in 30 days",
	}

	n := NewNotification(p)
	assert.NotEmpty(t, n.ID)
	assert.Equal(t, "holder-1", n.HolderID)
	assert.Equal(t, PriorityUrgent, n.Priority)
	assert.Nil(t, n.ReadAt)

	n.MarkAsRead()
	assert.NotNil(t, n.ReadAt)
}
