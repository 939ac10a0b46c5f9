package pool

import (
	"go.uber.org/zap"

	"github.com/polyrelay/polyrelay/internal/models"
)

// Reload builds a fresh pool from updated configuration while transplanting
// each surviving account's runtime state: counters, availability flag, and
// cooldown map. Adding, removing, or disabling one account never resets the
// state of the others. The affinity cache is cleared — conversations are not
// guaranteed stable across a reload. Accounts absent from the new config are
// dropped.
func (p *Pool) Reload(configs []models.AccountConfig) (*Pool, error) {
	snapshots := make(map[string]state, len(p.accounts))
	for id, rec := range p.accounts {
		snapshots[id] = rec.snapshot()
	}

	p.ClearSessions()

	fresh, err := New(configs, p.opts)
	if err != nil {
		return nil, err
	}

	restored := 0
	for id, snap := range snapshots {
		rec, ok := fresh.accounts[id]
		if !ok {
			continue
		}
		rec.restore(snap)
		restored++
	}

	p.logger.Info("account pool reloaded",
		zap.Int("accounts", fresh.Len()),
		zap.Int("state_restored", restored))
	return fresh, nil
}
