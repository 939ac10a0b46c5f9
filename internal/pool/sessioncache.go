package pool

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	sessionCacheMaxSize = 1000
	lockTableMaxSize    = 2000
)

// SessionEntry binds a conversation key to the account and upstream session
// that served it last.
type SessionEntry struct {
	AccountID string
	SessionID string
	UpdatedAt time.Time
}

// sessionCache is the bounded, TTL-scoped affinity map. Every operation runs
// under one cache-wide mutex; the mutex is never held across blocking calls.
type sessionCache struct {
	mu      sync.Mutex
	entries map[string]SessionEntry
	maxSize int
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

func newSessionCache(ttl time.Duration, now func() time.Time, logger *zap.Logger) *sessionCache {
	return &sessionCache{
		entries: make(map[string]SessionEntry),
		maxSize: sessionCacheMaxSize,
		ttl:     ttl,
		now:     now,
		logger:  logger,
	}
}

// SessionFor returns the cached binding for a conversation key. Entries older
// than the TTL are invisible even before the sweep removes them.
func (p *Pool) SessionFor(convKey string) (SessionEntry, bool) {
	c := p.sessions
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[convKey]
	if !ok {
		return SessionEntry{}, false
	}
	if c.now().Sub(entry.UpdatedAt) > c.ttl {
		return SessionEntry{}, false
	}
	return entry, true
}

// BindSession upserts the binding for a conversation key and enforces the
// size bound.
func (p *Pool) BindSession(convKey, accountID, sessionID string) {
	c := p.sessions
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[convKey] = SessionEntry{
		AccountID: accountID,
		SessionID: sessionID,
		UpdatedAt: c.now(),
	}
	c.enforceSizeLocked()
}

// TouchSession refreshes the timestamp of an existing entry so hot
// conversations do not age out under the TTL sweep.
func (p *Pool) TouchSession(convKey string) {
	c := p.sessions
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[convKey]; ok {
		entry.UpdatedAt = c.now()
		c.entries[convKey] = entry
	}
}

// SweepSessions removes expired entries and re-enforces the size bound. The
// serve command schedules this every five minutes; call-triggered enforcement
// happens independently on every BindSession.
func (p *Pool) SweepSessions() {
	c := p.sessions
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeExpiredLocked()
	c.enforceSizeLocked()
}

// ClearSessions drops every affinity entry. Used on reload: conversations are
// not guaranteed stable across a configuration change.
func (p *Pool) ClearSessions() {
	c := p.sessions
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]SessionEntry)
}

// SessionCount returns the number of cached entries, expired or not.
func (p *Pool) SessionCount() int {
	c := p.sessions
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *sessionCache) removeExpiredLocked() {
	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if now.Sub(entry.UpdatedAt) > c.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Info("expired session cache entries removed", zap.Int("count", removed))
	}
}

// enforceSizeLocked evicts the oldest 20% by last-touched time once the cache
// grows past its cap. LRU by timestamp, not access order.
func (c *sessionCache) enforceSizeLocked() {
	if len(c.entries) <= c.maxSize {
		return
	}
	type aged struct {
		key string
		at  time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for key, entry := range c.entries {
		all = append(all, aged{key, entry.UpdatedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })

	keep := c.maxSize * 8 / 10
	removeCount := len(all) - keep
	for _, a := range all[:removeCount] {
		delete(c.entries, a.key)
	}
	c.logger.Info("session cache size enforced", zap.Int("evicted", removeCount))
}

// SessionLock returns the mutex serializing requests for one conversation,
// creating it on demand. Callers hold it around the read-select-bind sequence
// so two racing turns cannot create divergent upstream sessions.
func (p *Pool) SessionLock(convKey string) *sync.Mutex {
	p.locksMu.Lock()
	defer p.locksMu.Unlock()

	if len(p.locks) > lockTableMaxSize {
		p.reclaimLocksLocked()
	}
	lock, ok := p.locks[convKey]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[convKey] = lock
	}
	return lock
}

// reclaimLocksLocked removes up to half of the locks whose conversation has
// aged out of the affinity cache. A lock whose key is still cached is never
// reclaimed, so in-use locks survive.
func (p *Pool) reclaimLocksLocked() {
	c := p.sessions
	c.mu.Lock()
	cached := make(map[string]struct{}, len(c.entries))
	for key := range c.entries {
		cached[key] = struct{}{}
	}
	c.mu.Unlock()

	var stale []string
	for key := range p.locks {
		if _, ok := cached[key]; !ok {
			stale = append(stale, key)
		}
	}
	for _, key := range stale[:len(stale)/2] {
		delete(p.locks, key)
	}
	if len(stale) > 0 {
		p.logger.Info("conversation lock table reclaimed",
			zap.Int("removed", len(stale)/2),
			zap.Int("remaining", len(p.locks)))
	}
}

// LockCount returns the current lock table size.
func (p *Pool) LockCount() int {
	p.locksMu.Lock()
	defer p.locksMu.Unlock()
	return len(p.locks)
}
