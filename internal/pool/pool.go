// Package pool owns the collection of upstream accounts and everything that
// is shared across concurrent request flows: round-robin dispatch, session
// affinity, and per-conversation locks.
package pool

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/polyrelay/polyrelay/internal/credential"
	"github.com/polyrelay/polyrelay/internal/models"
	"github.com/polyrelay/polyrelay/internal/quota"
)

// Options configures a pool. Issuer and Logger are required; Now is replaced
// in tests only.
type Options struct {
	Cooldowns  quota.Durations
	SessionTTL time.Duration
	Issuer     credential.Issuer
	Logger     *zap.Logger
	Now        func() time.Time
}

// Pool holds the account records, the round-robin cursor, the session
// affinity cache and the per-conversation lock table.
type Pool struct {
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	order    []string
	accounts map[string]*Account

	// The cursor has its own cheap mutex: it is touched from request
	// goroutines and from worker threads, and never held across I/O.
	cursorMu     sync.Mutex
	cursor       int
	lastEligible int

	sessions *sessionCache

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New builds a pool from a list of account configs. Configs missing required
// credential fields are a fatal configuration error. Expired accounts are
// still loaded — they stay visible to status views — but marked unavailable.
func New(configs []models.AccountConfig, opts Options) (*Pool, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	p := &Pool{
		opts:     opts,
		logger:   opts.Logger,
		now:      opts.Now,
		accounts: make(map[string]*Account, len(configs)),
		sessions: newSessionCache(opts.SessionTTL, opts.Now, opts.Logger),
		locks:    make(map[string]*sync.Mutex),
	}

	for i, cfg := range configs {
		if cfg.AccountID == "" {
			cfg.AccountID = fmt.Sprintf("account_%d", i+1)
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid account config: %w", err)
		}
		if _, dup := p.accounts[cfg.AccountID]; dup {
			return nil, fmt.Errorf("duplicate account id %q", cfg.AccountID)
		}
		rec := newAccount(cfg, opts.Cooldowns, opts.Issuer, p.logger, p.now)
		if cfg.IsExpired(p.now()) {
			rec.available.Store(false)
			p.logger.Warn("account already expired, loaded for visibility only",
				zap.String("account_id", cfg.AccountID))
		}
		p.accounts[cfg.AccountID] = rec
		p.order = append(p.order, cfg.AccountID)
	}

	if len(p.accounts) == 0 {
		p.logger.Warn("no accounts configured, pool will reject selections")
	} else {
		p.logger.Info("account pool loaded", zap.Int("accounts", len(p.accounts)))
	}
	return p, nil
}

// Get selects an account. With an explicit id the account must exist and pass
// admission (not disabled, not expired, requested quota classes available);
// otherwise the pool round-robins over the eligible set. An empty class list
// imposes no quota requirement: cooling accounts stay selectable.
func (p *Pool) Get(explicitID string, classes ...quota.Class) (*Account, error) {
	now := p.now()

	if explicitID != "" {
		rec, ok := p.accounts[explicitID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, explicitID)
		}
		if rec.cfg.Disabled || rec.cfg.IsExpired(now) || !rec.tracker.AreAvailable(classes, now) {
			return nil, fmt.Errorf("%w: %s", ErrAccountUnavailable, explicitID)
		}
		return rec, nil
	}

	var eligible []*Account
	for _, id := range p.order {
		rec := p.accounts[id]
		if rec.cfg.Disabled || rec.cfg.IsExpired(now) {
			continue
		}
		if !rec.tracker.AreAvailable(classes, now) {
			continue
		}
		eligible = append(eligible, rec)
	}
	if len(eligible) == 0 {
		return nil, ErrNoAccounts
	}

	p.cursorMu.Lock()
	if len(eligible) != p.lastEligible {
		// Reseed on availability churn so rotation does not restart at the
		// same low indices every time the eligible set changes size.
		p.cursor = rand.Intn(1_000_000)
		p.lastEligible = len(eligible)
	}
	index := p.cursor % len(eligible)
	p.cursor++
	p.cursorMu.Unlock()

	selected := eligible[index]
	usage := selected.sessionUsage.Add(1)
	p.logger.Info("account selected",
		zap.String("account_id", selected.cfg.AccountID),
		zap.Int("index", index),
		zap.Int("eligible", len(eligible)),
		zap.Int64("session_usage", usage))
	return selected, nil
}

// Account looks up a record by id without admission checks (status views).
func (p *Pool) Account(id string) (*Account, bool) {
	rec, ok := p.accounts[id]
	return rec, ok
}

// Accounts returns the records in configured order.
func (p *Pool) Accounts() []*Account {
	out := make([]*Account, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.accounts[id])
	}
	return out
}

// Len returns the number of configured accounts.
func (p *Pool) Len() int { return len(p.accounts) }
