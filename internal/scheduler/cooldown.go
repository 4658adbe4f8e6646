package scheduler

import (
	"sync"
	"time"

	"github.com/rankwatch/rankwatch/internal/backoff"
)

// CooldownTracker holds per-domain rate-limit state for one run: when each
// domain may next be attempted and how many 429s it has produced in total.
// It is constructed per run and passed in, never package-global, so
// concurrent runs and tests do not share state.
type CooldownTracker struct {
	mu     sync.Mutex
	policy backoff.Policy
	limit  int
	next   map[string]time.Time
	counts map[string]int
}

// NewCooldownTracker builds a tracker. domain429Limit caps the run-wide
// 429 count per domain: past it the domain is saturated and its remaining
// tasks are failed without further probing.
func NewCooldownTracker(policy backoff.Policy, domain429Limit int) *CooldownTracker {
	if domain429Limit <= 0 {
		domain429Limit = 10
	}
	return &CooldownTracker{
		policy: policy,
		limit:  domain429Limit,
		next:   make(map[string]time.Time),
		counts: make(map[string]int),
	}
}

// Ready reports whether the domain may be attempted at now.
func (t *CooldownTracker) Ready(domain string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	until, cooling := t.next[domain]
	return !cooling || !now.Before(until)
}

// Record429 notes a rate-limit response for the domain and starts a new
// cooldown window sized by the task's attempt count. It returns when the
// domain may next be attempted.
func (t *CooldownTracker) Record429(domain string, attempt int, now time.Time) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[domain]++
	until := now.Add(t.policy.Delay(attempt))
	t.next[domain] = until
	return until
}

// Saturated reports whether the domain has hit the run-wide 429 cap.
func (t *CooldownTracker) Saturated(domain string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[domain] >= t.limit
}

// Count429 returns how many 429s the domain has produced this run.
func (t *CooldownTracker) Count429(domain string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[domain]
}

// EarliestWake returns the soonest moment any cooling domain becomes
// attemptable again. Windows that already passed are purged and reported
// as an immediate wake, so a cooldown expiring between scheduling checks
// can never leave the caller waiting on nothing. The second return is
// false when nothing is cooling.
func (t *CooldownTracker) EarliestWake(now time.Time) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var (
		earliest time.Time
		found    bool
		expired  bool
	)
	for domain, until := range t.next {
		if !until.After(now) {
			delete(t.next, domain)
			expired = true
			continue
		}
		if !found || until.Before(earliest) {
			earliest = until
			found = true
		}
	}
	if expired {
		return now, true
	}
	return earliest, found
}
