package quota

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Tracker records cooldown start times per class for one account and answers
// availability queries. Expired entries are cleared lazily: a stale entry
// never survives past the next check that observes it.
type Tracker struct {
	mu        sync.Mutex
	durations Durations
	cooldowns map[Class]time.Time
}

// NewTracker creates a tracker with the given per-class cooldown durations.
func NewTracker(d Durations) *Tracker {
	return &Tracker{
		durations: d,
		cooldowns: make(map[Class]time.Time),
	}
}

// SetDurations applies an updated cooldown policy. Existing cooldown start
// times are kept; only the durations change.
func (t *Tracker) SetDurations(d Durations) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.durations = d
}

// Cooldown marks class as cooling down starting at now. Unknown classes
// default to text, which protects the foundational capability when a failure
// carries no classification.
func (t *Tracker) Cooldown(class Class, now time.Time) {
	if !class.Valid() {
		class = ClassText
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cooldowns[class] = now
}

// IsAvailable reports whether class may be used at now. A non-text class is
// unavailable whenever text itself is cooling down.
func (t *Tracker) IsAvailable(class Class, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if class != ClassText && !t.classAvailableLocked(ClassText, now) {
		return false
	}
	return t.classAvailableLocked(class, now)
}

// AreAvailable reports whether text and every requested class are all
// available. An empty request list is vacuously true.
func (t *Tracker) AreAvailable(classes []Class, now time.Time) bool {
	if len(classes) == 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.classAvailableLocked(ClassText, now) {
		return false
	}
	for _, c := range classes {
		if c == ClassText {
			continue
		}
		if !t.classAvailableLocked(c, now) {
			return false
		}
	}
	return true
}

// classAvailableLocked checks a single class without the cascade rule and
// clears the entry when its cooldown has elapsed. Caller holds t.mu.
func (t *Tracker) classAvailableLocked(class Class, now time.Time) bool {
	start, ok := t.cooldowns[class]
	if !ok {
		return true
	}
	if now.Sub(start) < t.durations.For(class) {
		return false
	}
	delete(t.cooldowns, class)
	return true
}

// Remaining returns the longest remaining cooldown across all classes and a
// short human-readable summary. The cascade rule applies: while text cools,
// all classes are reported as limited even though only text holds an entry.
func (t *Tracker) Remaining(now time.Time) (time.Duration, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var max time.Duration
	var limited []Class
	for _, c := range Classes {
		if rem := t.remainingLocked(c, now); rem > 0 {
			if rem > max {
				max = rem
			}
			limited = append(limited, c)
		}
	}
	if len(limited) == 0 {
		return 0, ""
	}

	reported := limited
	if limited[0] == ClassText {
		reported = Classes[:]
	}
	switch len(reported) {
	case numClasses:
		return max, "all classes cooling"
	case 1:
		return max, fmt.Sprintf("%s cooling", reported[0])
	default:
		names := make([]string, len(reported))
		for i, c := range reported {
			names[i] = c.String()
		}
		return max, fmt.Sprintf("%s cooling", strings.Join(names, "/"))
	}
}

func (t *Tracker) remainingLocked(class Class, now time.Time) time.Duration {
	start, ok := t.cooldowns[class]
	if !ok {
		return 0
	}
	rem := t.durations.For(class) - now.Sub(start)
	if rem < 0 {
		return 0
	}
	return rem
}

// ClassStatus describes one class in a status report.
type ClassStatus struct {
	Available        bool   `json:"available"`
	RemainingSeconds int    `json:"remaining_seconds,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

// Status is the availability report for every class of one account.
type Status struct {
	PerClass     map[string]ClassStatus `json:"quotas"`
	LimitedCount int                    `json:"limited_count"`
	TotalCount   int                    `json:"total_count"`
}

// Status reports the availability of every class at now, clearing expired
// entries as a side effect and applying the cascade rule to the report.
func (t *Tracker) Status(now time.Time) Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := Status{
		PerClass:   make(map[string]ClassStatus, numClasses),
		TotalCount: numClasses,
	}
	textLimited := false
	for _, c := range Classes {
		start, ok := t.cooldowns[c]
		if !ok {
			st.PerClass[c.String()] = ClassStatus{Available: true}
			continue
		}
		rem := t.durations.For(c) - now.Sub(start)
		if rem <= 0 {
			delete(t.cooldowns, c)
			st.PerClass[c.String()] = ClassStatus{Available: true}
			continue
		}
		st.PerClass[c.String()] = ClassStatus{
			Available:        false,
			RemainingSeconds: int(rem.Seconds()),
		}
		st.LimitedCount++
		if c == ClassText {
			textLimited = true
		}
	}
	if textLimited {
		for _, c := range Classes {
			if c == ClassText {
				continue
			}
			if cs := st.PerClass[c.String()]; cs.Available {
				st.PerClass[c.String()] = ClassStatus{
					Available: false,
					Reason:    "text quota limited",
				}
				st.LimitedCount++
			}
		}
	}
	return st
}

// Snapshot returns a copy of the current cooldown start times, for carrying
// runtime state across a pool reload.
func (t *Tracker) Snapshot() map[Class]time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[Class]time.Time, len(t.cooldowns))
	for c, ts := range t.cooldowns {
		out[c] = ts
	}
	return out
}

// Restore replaces the cooldown map with a previously taken snapshot.
func (t *Tracker) Restore(snapshot map[Class]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cooldowns = make(map[Class]time.Time, len(snapshot))
	for c, ts := range snapshot {
		if c.Valid() {
			t.cooldowns[c] = ts
		}
	}
}
