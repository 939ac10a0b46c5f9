// Package credential manages the short-lived authorization tokens that
// upstream calls require, one cache per account. Tokens are fetched lazily
// from an injected Issuer and refreshed when they expire or are rejected.
package credential

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/polyrelay/polyrelay/internal/models"
)

// Issuer exchanges an account's opaque credential material for a short-lived
// authorization token.
type Issuer interface {
	Issue(ctx context.Context, cfg models.AccountConfig) (*oauth2.Token, error)
}

// Cache caches the authorization token for one account. Concurrent callers
// that miss share a single refresh via singleflight.
type Cache struct {
	cfg    models.AccountConfig
	issuer Issuer
	logger *zap.Logger

	mu    sync.Mutex
	token *oauth2.Token
	group singleflight.Group
}

// NewCache creates a token cache for one account. The issuer is injected at
// construction so the cache carries no lazily-built client state.
func NewCache(cfg models.AccountConfig, issuer Issuer, logger *zap.Logger) *Cache {
	return &Cache{cfg: cfg, issuer: issuer, logger: logger}
}

// Token returns a currently valid authorization token, refreshing through the
// issuer if the cached one is missing or expired.
func (c *Cache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token.Valid() {
		tok := c.token.AccessToken
		c.mu.Unlock()
		return tok, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do("token", func() (any, error) {
		tok, err := c.issuer.Issue(ctx, c.cfg)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.token = tok
		c.mu.Unlock()
		c.logger.Debug("token refreshed",
			zap.String("account_id", c.cfg.AccountID),
			zap.Time("expiry", tok.Expiry))
		return tok.AccessToken, nil
	})
	if err != nil {
		if _, ok := HTTPStatus(err); ok {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	return v.(string), nil
}

// Invalidate drops the cached token so the next Token call refreshes. Used
// after the upstream rejects a token with 401.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
}
