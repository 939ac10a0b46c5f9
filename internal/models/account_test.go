package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	cfg := AccountConfig{
		AccountID:  "a",
		SecureCSes: "ses",
		CSesIdx:    "idx",
		ConfigID:   "cfg",
	}
	assert.NoError(t, cfg.Validate())

	missing := AccountConfig{AccountID: "a", SecureCSes: "ses"}
	err := missing.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csesidx")
	assert.Contains(t, err.Error(), "config_id")
}

func TestIsExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, ExpiryZone)

	cases := []struct {
		name      string
		expiresAt string
		expired   bool
	}{
		{"no expiry never expires", "", false},
		{"future expiry", "2026-03-02 12:00:00", false},
		{"past expiry", "2026-03-01 11:59:59", true},
		{"unparsable treated as unset", "tomorrow-ish", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := AccountConfig{ExpiresAt: tc.expiresAt}
			assert.Equal(t, tc.expired, cfg.IsExpired(now))
		})
	}
}

func TestRemainingValidity_UsesFixedZone(t *testing.T) {
	// 20:00 UTC+8 is 12:00 UTC
	cfg := AccountConfig{ExpiresAt: "2026-03-01 20:00:00"}
	now := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)

	remaining, ok := cfg.RemainingValidity(now)
	require.True(t, ok)
	assert.Equal(t, time.Hour, remaining)
}

func TestFormatExpiry_Buckets(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, ExpiryZone)

	cases := []struct {
		name      string
		expiresAt string
		status    ExpiryStatus
	}{
		{"unset", "", ExpiryUnset},
		{"expired", "2026-03-01 11:00:00", ExpiryExpired},
		{"expiring soon", "2026-03-01 14:00:00", ExpiryExpiring},
		{"healthy", "2026-03-05 12:00:00", ExpiryOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := AccountConfig{ExpiresAt: tc.expiresAt}
			status, display := cfg.FormatExpiry(now)
			assert.Equal(t, tc.status, status)
			assert.NotEmpty(t, display)
		})
	}
}
