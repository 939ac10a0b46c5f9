package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/polyrelay/polyrelay/internal/models"
)

// defaultTokenLifetime is assumed when the upstream omits expires_in.
const defaultTokenLifetime = 30 * time.Minute

// HTTPIssuer obtains tokens from the upstream's session-token endpoint using
// the account's cookie material.
type HTTPIssuer struct {
	baseURL   string
	userAgent string
	client    *http.Client
	logger    *zap.Logger
}

// NewHTTPIssuer creates an issuer for the given upstream base URL.
func NewHTTPIssuer(baseURL, userAgent string, client *http.Client, logger *zap.Logger) *HTTPIssuer {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPIssuer{
		baseURL:   baseURL,
		userAgent: userAgent,
		client:    client,
		logger:    logger,
	}
}

// Issue requests a fresh token. The credential fields are sent as cookies and
// never interpreted locally.
func (i *HTTPIssuer) Issue(ctx context.Context, cfg models.AccountConfig) (*oauth2.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.baseURL+"/v1/session/token", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", i.userAgent)
	req.AddCookie(&http.Cookie{Name: "__Secure-C_SES", Value: cfg.SecureCSes})
	if cfg.HostCOSes != "" {
		req.AddCookie(&http.Cookie{Name: "__Host-C_OSES", Value: cfg.HostCOSes})
	}
	req.AddCookie(&http.Cookie{Name: "CSESIDX", Value: cfg.CSesIdx})
	req.Header.Set("X-Config-ID", cfg.ConfigID)

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		i.logger.Warn("token endpoint returned error",
			zap.String("account_id", cfg.AccountID),
			zap.Int("status", resp.StatusCode))
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Detail: truncate(string(body), 200)}
	}

	var payload struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if payload.Token == "" {
		return nil, fmt.Errorf("token response missing token field")
	}

	lifetime := defaultTokenLifetime
	if payload.ExpiresIn > 0 {
		lifetime = time.Duration(payload.ExpiresIn) * time.Second
	}
	return &oauth2.Token{
		AccessToken: payload.Token,
		TokenType:   "Bearer",
		// Renew one minute early so in-flight calls do not race the expiry.
		Expiry: time.Now().Add(lifetime - time.Minute),
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
