package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validCompliance() ComplianceConfig {
	return ComplianceConfig{
		ReminderThresholds: []int{90, 60, 30, 14, 7, 1},
		PassInterval:       time.Hour,
		Workers:            8,
		CredentialTimeout:  30 * time.Second,
		ConflictRetries:    3,
	}
}

func TestComplianceValidate(t *testing.T) {
	cfg := validCompliance()
	assert.NoError(t, cfg.Validate())
}

func TestComplianceValidate_Thresholds(t *testing.T) {
	tests := []struct {
		name       string
		thresholds []int
	}{
		{"empty", nil},
		{"zero offset", []int{30, 0}},
		{"negative offset", []int{30, -1}},
		{"ascending", []int{7, 30, 90}},
		{"duplicate", []int{30, 30}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validCompliance()
			cfg.ReminderThresholds = tt.thresholds
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfiguration)
		})
	}
}

func TestComplianceValidate_SchedulerSettings(t *testing.T) {
	cfg := validCompliance()
	cfg.PassInterval = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfiguration)

	cfg = validCompliance()
	cfg.Workers = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfiguration)

	cfg = validCompliance()
	cfg.CredentialTimeout = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfiguration)

	cfg = validCompliance()
	cfg.ConflictRetries = -1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfiguration)

	cfg = validCompliance()
	cfg.ConflictRetries = 0
	assert.NoError(t, cfg.Validate())
}

func TestDatabaseDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host: "db.internal", Port: 5432,
		User: "credwatch", Password: "secret",
		Name: "credwatch", SSLMode: "require",
	}
	assert.Equal(t,
		"host=db.internal port=5432 user=credwatch password=secret dbname=credwatch sslmode=require",
		cfg.DSN())
}

func TestRedisAddr(t *testing.T) {
	cfg := RedisConfig{Host: "redis.internal", Port: 6380}
	assert.Equal(t, "redis.internal:6380", cfg.Addr())
}
