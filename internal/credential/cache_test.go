package credential

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/polyrelay/polyrelay/internal/models"
)

type countingIssuer struct {
	calls atomic.Int64
	delay time.Duration
	fail  error
}

func (c *countingIssuer) Issue(ctx context.Context, cfg models.AccountConfig) (*oauth2.Token, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.fail != nil {
		return nil, c.fail
	}
	return &oauth2.Token{
		AccessToken: "tok",
		Expiry:      time.Now().Add(time.Hour),
	}, nil
}

func testAccountConfig() models.AccountConfig {
	return models.AccountConfig{
		AccountID:  "acc1",
		SecureCSes: "ses",
		CSesIdx:    "idx",
		ConfigID:   "cfg",
	}
}

func TestToken_CachedUntilExpiry(t *testing.T) {
	issuer := &countingIssuer{}
	cache := NewCache(testAccountConfig(), issuer, zap.NewNop())

	tok, err := cache.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", tok)

	// Second call serves from cache
	_, err = cache.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), issuer.calls.Load())
}

func TestToken_ConcurrentCallersShareOneRefresh(t *testing.T) {
	issuer := &countingIssuer{delay: 20 * time.Millisecond}
	cache := NewCache(testAccountConfig(), issuer, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := cache.Token(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "tok", tok)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), issuer.calls.Load())
}

func TestToken_InvalidateForcesRefresh(t *testing.T) {
	issuer := &countingIssuer{}
	cache := NewCache(testAccountConfig(), issuer, zap.NewNop())

	_, err := cache.Token(context.Background())
	require.NoError(t, err)

	cache.Invalidate()

	_, err = cache.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), issuer.calls.Load())
}

func TestToken_NonHTTPFailureWrapped(t *testing.T) {
	issuer := &countingIssuer{fail: errors.New("dial tcp: connection refused")}
	cache := NewCache(testAccountConfig(), issuer, zap.NewNop())

	_, err := cache.Token(context.Background())
	assert.ErrorIs(t, err, ErrRefreshFailed)
}

func TestToken_HTTPFailurePassesThrough(t *testing.T) {
	issuer := &countingIssuer{fail: &UpstreamError{StatusCode: 503, Detail: "overloaded"}}
	cache := NewCache(testAccountConfig(), issuer, zap.NewNop())

	_, err := cache.Token(context.Background())
	require.Error(t, err)

	status, ok := HTTPStatus(err)
	require.True(t, ok)
	assert.Equal(t, 503, status)
	assert.NotErrorIs(t, err, ErrRefreshFailed)
}
