package pool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/polyrelay/polyrelay/internal/credential"
	"github.com/polyrelay/polyrelay/internal/models"
	"github.com/polyrelay/polyrelay/internal/quota"
)

// Account is one pool member: an immutable config snapshot plus the runtime
// state that survives across requests. All mutation goes through methods;
// callers never touch counters or the cooldown map directly.
type Account struct {
	cfg     models.AccountConfig
	tracker *quota.Tracker
	creds   *credential.Cache
	logger  *zap.Logger
	now     func() time.Time

	available    atomic.Bool
	successCount atomic.Int64
	failureCount atomic.Int64
	sessionUsage atomic.Int64
}

func newAccount(cfg models.AccountConfig, durations quota.Durations, issuer credential.Issuer, logger *zap.Logger, now func() time.Time) *Account {
	a := &Account{
		cfg:     cfg,
		tracker: quota.NewTracker(durations),
		creds:   credential.NewCache(cfg, issuer, logger),
		logger:  logger,
		now:     now,
	}
	a.available.Store(true)
	return a
}

// ID returns the account identifier.
func (a *Account) ID() string { return a.cfg.AccountID }

// Config returns the immutable configuration snapshot.
func (a *Account) Config() models.AccountConfig { return a.cfg }

// Tracker exposes the account's quota tracker.
func (a *Account) Tracker() *quota.Tracker { return a.tracker }

// Available reports the account's availability flag. The flag is a display
// signal; admission filtering uses disabled/expired/quota state.
func (a *Account) Available() bool { return a.available.Load() }

// SuccessCount returns the lifetime successful-use counter.
func (a *Account) SuccessCount() int64 { return a.successCount.Load() }

// FailureCount returns the lifetime failure counter.
func (a *Account) FailureCount() int64 { return a.failureCount.Load() }

// SessionUsage returns the number of selections since this process started.
func (a *Account) SessionUsage() int64 { return a.sessionUsage.Load() }

// Token returns a valid authorization token for this account, refreshing the
// cached one when needed. An account past its configured expiry fails with
// credential.ErrExpired and is marked unavailable.
func (a *Account) Token(ctx context.Context) (string, error) {
	if a.cfg.IsExpired(a.now()) {
		a.available.Store(false)
		a.logger.Warn("account expired, marked unavailable",
			zap.String("account_id", a.cfg.AccountID))
		return "", fmt.Errorf("account %s: %w", a.cfg.AccountID, credential.ErrExpired)
	}
	tok, err := a.creds.Token(ctx)
	if err != nil {
		a.ReportOutcome(err)
		return "", err
	}
	a.available.Store(true)
	return tok, nil
}

// RequestBuilder constructs the upstream request for a given token. It is
// called again if the first attempt is rejected with 401.
type RequestBuilder func(token string) (*http.Request, error)

// DoWithAuth issues an upstream call with a freshly fetched token. A 401
// response invalidates the cached token and retries exactly once; a second
// 401 is returned to the caller for classification.
func (a *Account) DoWithAuth(ctx context.Context, client *http.Client, build RequestBuilder) (*http.Response, error) {
	token, err := a.Token(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := a.doOnce(ctx, client, build, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	a.creds.Invalidate()
	a.logger.Info("token rejected with 401, retrying once with fresh token",
		zap.String("account_id", a.cfg.AccountID))

	token, err = a.Token(ctx)
	if err != nil {
		return nil, err
	}
	return a.doOnce(ctx, client, build, token)
}

func (a *Account) doOnce(ctx context.Context, client *http.Client, build RequestBuilder, token string) (*http.Response, error) {
	req, err := build(token)
	if err != nil {
		return nil, err
	}
	return client.Do(req.WithContext(ctx))
}

// ReportSuccess records a successful upstream use.
func (a *Account) ReportSuccess() {
	a.successCount.Add(1)
	a.available.Store(true)
}

// ReportOutcome is the single error-classification entry point. A 400 status
// is a client-input problem and is logged only. Any other status, or a
// non-HTTP failure, cools down the hinted class — text when no hint is given,
// since conversational capability is the foundation every class depends on.
// 401 normally never reaches here: the retry-once wrapper handles it first.
func (a *Account) ReportOutcome(err error, hint ...quota.Class) {
	if err == nil {
		a.ReportSuccess()
		return
	}

	status, isHTTP := credential.HTTPStatus(err)
	if isHTTP && status == http.StatusBadRequest {
		a.logger.Warn("HTTP 400 from upstream, not counted as failure",
			zap.String("account_id", a.cfg.AccountID),
			zap.Error(err))
		return
	}

	class := quota.ClassText
	if len(hint) > 0 && hint[0].Valid() {
		class = hint[0]
	}
	now := a.now()
	a.tracker.Cooldown(class, now)
	a.failureCount.Add(1)

	fields := []zap.Field{
		zap.String("account_id", a.cfg.AccountID),
		zap.String("quota_class", class.String()),
		zap.Error(err),
	}
	if isHTTP {
		fields = append(fields, zap.Int("status", status))
	}
	a.logger.Warn("upstream failure, quota class cooling down", fields...)
}

// QuotaStatus is the per-account availability report.
type QuotaStatus struct {
	quota.Status
	Expired bool `json:"is_expired"`
}

// QuotaStatus reports availability of every quota class. An expired or
// manually disabled account reports all classes unavailable.
func (a *Account) QuotaStatus() QuotaStatus {
	now := a.now()
	if a.cfg.IsExpired(now) || a.cfg.Disabled {
		st := quota.Status{
			PerClass:     make(map[string]quota.ClassStatus, len(quota.Classes)),
			LimitedCount: len(quota.Classes),
			TotalCount:   len(quota.Classes),
		}
		for _, c := range quota.Classes {
			st.PerClass[c.String()] = quota.ClassStatus{Available: false}
		}
		return QuotaStatus{Status: st, Expired: true}
	}
	return QuotaStatus{Status: a.tracker.Status(now)}
}

// state is the runtime state transplanted across a reload.
type state struct {
	success      int64
	failure      int64
	sessionUsage int64
	available    bool
	cooldowns    map[quota.Class]time.Time
}

func (a *Account) snapshot() state {
	return state{
		success:      a.successCount.Load(),
		failure:      a.failureCount.Load(),
		sessionUsage: a.sessionUsage.Load(),
		available:    a.available.Load(),
		cooldowns:    a.tracker.Snapshot(),
	}
}

func (a *Account) restore(s state) {
	a.successCount.Store(s.success)
	a.failureCount.Store(s.failure)
	a.sessionUsage.Store(s.sessionUsage)
	// An account whose expiry passed since the snapshot keeps the
	// unavailable flag its fresh record was created with.
	if !a.cfg.IsExpired(a.now()) {
		a.available.Store(s.available)
	}
	a.tracker.Restore(s.cooldowns)
}
