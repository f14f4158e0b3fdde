// Package quota tracks per-user daily request counts and decides admission.
package quota

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tgrelay/tgrelay/internal/core"
)

// Unlimited is reported by Remaining for users that bypass the limit.
const Unlimited = -1

// Tracker owns the per-user, per-day usage records.
//
// Each user has its own ledger lock so admission and accounting for one user
// are serialized without blocking other users. Operations that must observe
// every ledger at once (snapshots, eviction) take the outer lock exclusively.
type Tracker struct {
	// mu is held shared by per-user operations and exclusively by operations
	// that need a point-in-time view of every ledger.
	mu sync.RWMutex

	ledgersMu sync.Mutex
	ledgers   map[core.UserID]*ledger

	limitMu sync.RWMutex
	limit   int
	admins  map[core.UserID]struct{}

	Location *time.Location
	Clock    func() time.Time
}

type ledger struct {
	mu      sync.Mutex
	days    map[string]int
	pending map[string]int
}

// NewTracker builds a tracker for the given policy. A nil location means UTC.
func NewTracker(policy core.QuotaPolicy, loc *time.Location) *Tracker {
	admins := make(map[core.UserID]struct{}, len(policy.AdminIDs))
	for id := range policy.AdminIDs {
		admins[id] = struct{}{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Tracker{
		ledgers:  make(map[core.UserID]*ledger),
		limit:    policy.DailyLimit,
		admins:   admins,
		Location: loc,
	}
}

// Limit returns the current daily limit.
func (t *Tracker) Limit() int {
	t.limitMu.RLock()
	defer t.limitMu.RUnlock()
	return t.limit
}

// SetLimit replaces the daily limit. Non-positive values are rejected.
func (t *Tracker) SetLimit(limit int) error {
	if limit <= 0 {
		return core.NewError(core.KindInvalidArgument, "setlimit", "limit must be a positive integer")
	}
	t.limitMu.Lock()
	t.limit = limit
	t.limitMu.Unlock()
	return nil
}

// IsAdmin reports whether the user bypasses the daily limit.
func (t *Tracker) IsAdmin(user core.UserID) bool {
	_, ok := t.admins[user]
	return ok
}

// Today returns the calendar-day key for the current instant.
func (t *Tracker) Today() string {
	return t.now().Format(core.DateLayout)
}

// ResetAt returns the start of the next calendar day in the reference timezone.
func (t *Tracker) ResetAt() time.Time {
	now := t.now()
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}

// CanConsume reports whether the user may issue one more request today.
func (t *Tracker) CanConsume(user core.UserID) bool {
	if t.IsAdmin(user) {
		return true
	}
	today := t.Today()
	limit := t.Limit()

	t.mu.RLock()
	defer t.mu.RUnlock()
	l := t.ledger(user, false)
	if l == nil {
		return limit > 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.days[today]+l.pending[today] < limit
}

// Consume increments today's count for the user and returns the updated record.
func (t *Tracker) Consume(user core.UserID) core.UsageRecord {
	today := t.Today()

	t.mu.RLock()
	defer t.mu.RUnlock()
	l := t.ledger(user, true)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.days[today]++
	return core.UsageRecord{UserID: user, Date: today, Count: l.days[today]}
}

// Remaining returns how many requests the user has left today, or Unlimited.
func (t *Tracker) Remaining(user core.UserID) int {
	if t.IsAdmin(user) {
		return Unlimited
	}
	used := t.Used(user)
	remaining := t.Limit() - used
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Used returns today's committed count for the user.
func (t *Tracker) Used(user core.UserID) int {
	today := t.Today()
	t.mu.RLock()
	defer t.mu.RUnlock()
	l := t.ledger(user, false)
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.days[today]
}

// ResetUser zeroes today's record for the user.
func (t *Tracker) ResetUser(user core.UserID) {
	today := t.Today()
	t.mu.RLock()
	defer t.mu.RUnlock()
	l := t.ledger(user, false)
	if l == nil {
		return
	}
	l.mu.Lock()
	delete(l.days, today)
	l.mu.Unlock()
}

// StatsSnapshot returns today's count for every user that has a record today.
func (t *Tracker) StatsSnapshot() map[core.UserID]int {
	today := t.Today()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ledgersMu.Lock()
	defer t.ledgersMu.Unlock()

	snapshot := make(map[core.UserID]int, len(t.ledgers))
	for user, l := range t.ledgers {
		if count, ok := l.days[today]; ok {
			snapshot[user] = count
		}
	}
	return snapshot
}

// KnownUsers returns every user that has any usage record, sorted by id.
func (t *Tracker) KnownUsers() []core.UserID {
	t.ledgersMu.Lock()
	users := make([]core.UserID, 0, len(t.ledgers))
	for user := range t.ledgers {
		users = append(users, user)
	}
	t.ledgersMu.Unlock()
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

// Evict drops records older than retainDays calendar days and returns how
// many were removed. Ledgers left empty are removed as well.
func (t *Tracker) Evict(retainDays int) int {
	if retainDays <= 0 {
		return 0
	}
	now := t.now()
	y, m, d := now.Date()
	cutoff := time.Date(y, m, d-retainDays, 0, 0, 0, 0, now.Location()).Format(core.DateLayout)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.ledgersMu.Lock()
	defer t.ledgersMu.Unlock()

	removed := 0
	for user, l := range t.ledgers {
		for day := range l.days {
			// Date keys sort lexically in calendar order.
			if day < cutoff {
				delete(l.days, day)
				removed++
			}
		}
		for day, n := range l.pending {
			if day < cutoff || n <= 0 {
				delete(l.pending, day)
			}
		}
		if len(l.days) == 0 && len(l.pending) == 0 {
			delete(t.ledgers, user)
		}
	}
	return removed
}

// RunJanitor evicts stale records every interval until ctx is cancelled.
func (t *Tracker) RunJanitor(ctx context.Context, interval time.Duration, retainDays int, onEvict func(removed int)) {
	if interval <= 0 || retainDays <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := t.Evict(retainDays)
			if onEvict != nil {
				onEvict(removed)
			}
		}
	}
}

// ledger returns the user's ledger, creating it when create is set.
// Callers must hold t.mu.
func (t *Tracker) ledger(user core.UserID, create bool) *ledger {
	t.ledgersMu.Lock()
	defer t.ledgersMu.Unlock()
	if l, ok := t.ledgers[user]; ok {
		return l
	}
	if !create {
		return nil
	}
	l := &ledger{days: make(map[string]int), pending: make(map[string]int)}
	t.ledgers[user] = l
	return l
}

func (t *Tracker) now() time.Time {
	var now time.Time
	if t != nil && t.Clock != nil {
		now = t.Clock()
	} else {
		now = time.Now()
	}
	loc := time.UTC
	if t != nil && t.Location != nil {
		loc = t.Location
	}
	return now.In(loc)
}
