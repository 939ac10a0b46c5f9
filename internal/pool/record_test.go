package pool

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/polyrelay/polyrelay/internal/credential"
	"github.com/polyrelay/polyrelay/internal/quota"
)

func newTestAccount(t *testing.T, issuer credential.Issuer) *Account {
	t.Helper()
	opts := testOptions(nil)
	return newAccount(testConfig("a"), opts.Cooldowns, issuer, zap.NewNop(), time.Now)
}

func TestToken_ExpiredAccount(t *testing.T) {
	cfg := testConfig("a")
	cfg.ExpiresAt = "2020-01-01 00:00:00"
	opts := testOptions(nil)
	rec := newAccount(cfg, opts.Cooldowns, &stubIssuer{}, zap.NewNop(), time.Now)

	_, err := rec.Token(context.Background())
	assert.ErrorIs(t, err, credential.ErrExpired)
	assert.False(t, rec.Available())
}

func TestToken_IssuerFailureReportsOutcome(t *testing.T) {
	issuer := &stubIssuer{fail: &credential.UpstreamError{StatusCode: 503}}
	rec := newTestAccount(t, issuer)

	_, err := rec.Token(context.Background())
	require.Error(t, err)
	assert.Equal(t, int64(1), rec.FailureCount())
	assert.False(t, rec.Tracker().IsAvailable(quota.ClassText, time.Now()))
}

func TestDoWithAuth_RetriesOnceOn401(t *testing.T) {
	issuer := &stubIssuer{}
	rec := newTestAccount(t, issuer)

	var calls atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			assert.Equal(t, "Bearer tok1", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "Bearer tok2", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	build := func(token string) (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, upstream.URL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return req, nil
	}

	resp, err := rec.DoWithAuth(context.Background(), upstream.Client(), build)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, 2, issuer.calls)
}

func TestDoWithAuth_SecondRejectionReturned(t *testing.T) {
	issuer := &stubIssuer{}
	rec := newTestAccount(t, issuer)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer upstream.Close()

	build := func(token string) (*http.Request, error) {
		return http.NewRequest(http.MethodGet, upstream.URL, nil)
	}

	resp, err := rec.DoWithAuth(context.Background(), upstream.Client(), build)
	require.NoError(t, err)
	defer resp.Body.Close()

	// No endless loop: the second 401 goes back to the caller
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 2, issuer.calls)
}

func TestReportOutcome_400IsNotAFailure(t *testing.T) {
	rec := newTestAccount(t, &stubIssuer{})

	rec.ReportOutcome(&credential.UpstreamError{StatusCode: 400})

	assert.Zero(t, rec.FailureCount())
	assert.True(t, rec.Tracker().IsAvailable(quota.ClassText, time.Now()))
}

func TestReportOutcome_CoolsHintedClass(t *testing.T) {
	rec := newTestAccount(t, &stubIssuer{})

	rec.ReportOutcome(&credential.UpstreamError{StatusCode: 429}, quota.ClassVideos)

	now := time.Now()
	assert.Equal(t, int64(1), rec.FailureCount())
	assert.False(t, rec.Tracker().IsAvailable(quota.ClassVideos, now))
	assert.True(t, rec.Tracker().IsAvailable(quota.ClassText, now))
}

func TestReportOutcome_UnclassifiedFailureCoolsText(t *testing.T) {
	rec := newTestAccount(t, &stubIssuer{})

	rec.ReportOutcome(errors.New("connection reset"))

	// Text cooling cascades over everything
	now := time.Now()
	assert.False(t, rec.Tracker().IsAvailable(quota.ClassText, now))
	assert.False(t, rec.Tracker().IsAvailable(quota.ClassImages, now))
}

func TestReportOutcome_NilErrorIsSuccess(t *testing.T) {
	rec := newTestAccount(t, &stubIssuer{})

	rec.ReportOutcome(nil)

	assert.Equal(t, int64(1), rec.SuccessCount())
	assert.Zero(t, rec.FailureCount())
}

func TestQuotaStatus_DisabledAccountFullyLimited(t *testing.T) {
	cfg := testConfig("a")
	cfg.Disabled = true
	opts := testOptions(nil)
	rec := newAccount(cfg, opts.Cooldowns, &stubIssuer{}, zap.NewNop(), time.Now)

	st := rec.QuotaStatus()
	assert.True(t, st.Expired)
	assert.Equal(t, st.TotalCount, st.LimitedCount)
	for _, cs := range st.PerClass {
		assert.False(t, cs.Available)
	}
}
