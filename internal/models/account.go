package models

import (
	"fmt"
	"time"
)

// expiresAtLayout is the persisted expiry format. Timestamps are naive and
// interpreted in a fixed UTC+8 offset.
const expiresAtLayout = "2006-01-02 15:04:05"

// ExpiryZone is the fixed offset used to interpret AccountConfig.ExpiresAt.
var ExpiryZone = time.FixedZone("UTC+8", 8*60*60)

// AccountConfig is the immutable configuration snapshot of a single upstream
// account. Credential fields are opaque cookie material and are never parsed.
// A config is built once per load cycle and superseded, not mutated, on reload.
type AccountConfig struct {
	AccountID  string `json:"id"`
	SecureCSes string `json:"secure_c_ses"`
	HostCOSes  string `json:"host_c_oses,omitempty"`
	CSesIdx    string `json:"csesidx"`
	ConfigID   string `json:"config_id"`
	ExpiresAt  string `json:"expires_at,omitempty"`
	Disabled   bool   `json:"disabled,omitempty"`

	// Inbox provider settings, used only by the external credential
	// acquisition flow. Carried opaquely through load/save.
	MailProvider     string `json:"mail_provider,omitempty"`
	MailAddress      string `json:"mail_address,omitempty"`
	MailPassword     string `json:"mail_password,omitempty"`
	MailClientID     string `json:"mail_client_id,omitempty"`
	MailRefreshToken string `json:"mail_refresh_token,omitempty"`
	MailTenant       string `json:"mail_tenant,omitempty"`
}

// Validate checks the fields every account must carry.
func (c *AccountConfig) Validate() error {
	var missing []string
	if c.SecureCSes == "" {
		missing = append(missing, "secure_c_ses")
	}
	if c.CSesIdx == "" {
		missing = append(missing, "csesidx")
	}
	if c.ConfigID == "" {
		missing = append(missing, "config_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("account %s missing required fields: %v", c.AccountID, missing)
	}
	return nil
}

// RemainingValidity returns how long until the account expires, or false when
// no expiry is set or the stored value cannot be parsed.
func (c *AccountConfig) RemainingValidity(now time.Time) (time.Duration, bool) {
	if c.ExpiresAt == "" {
		return 0, false
	}
	expire, err := time.ParseInLocation(expiresAtLayout, c.ExpiresAt, ExpiryZone)
	if err != nil {
		return 0, false
	}
	return expire.Sub(now), true
}

// IsExpired reports whether the account's configured expiry has passed.
// Accounts without an expiry never expire.
func (c *AccountConfig) IsExpired(now time.Time) bool {
	remaining, ok := c.RemainingValidity(now)
	if !ok {
		return false
	}
	return remaining <= 0
}

// ExpiryStatus buckets the remaining validity for status views.
type ExpiryStatus string

const (
	ExpiryUnset    ExpiryStatus = "unset"
	ExpiryExpired  ExpiryStatus = "expired"
	ExpiryExpiring ExpiryStatus = "expiring"
	ExpiryOK       ExpiryStatus = "ok"
)

// FormatExpiry returns the status bucket and a display string for the
// account's remaining validity. Accounts expiring within 3 hours are flagged.
func (c *AccountConfig) FormatExpiry(now time.Time) (ExpiryStatus, string) {
	remaining, ok := c.RemainingValidity(now)
	if !ok {
		return ExpiryUnset, "not set"
	}
	hours := remaining.Hours()
	switch {
	case hours <= 0:
		return ExpiryExpired, "expired"
	case hours < 3:
		return ExpiryExpiring, fmt.Sprintf("%.1f hours", hours)
	default:
		return ExpiryOK, fmt.Sprintf("%.1f hours", hours)
	}
}
