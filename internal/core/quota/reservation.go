package quota

import (
	"sync"

	"github.com/tgrelay/tgrelay/internal/core"
)

// Reservation holds one admitted request slot between admission and the
// outcome of the upstream call. Exactly one of Commit or Release takes effect.
type Reservation struct {
	tracker *Tracker
	user    core.UserID
	day     string
	admin   bool

	once   sync.Once
	record core.UsageRecord
}

// Reserve admits one request for the user and holds its slot until the
// reservation is committed or released. In-flight reservations count against
// the limit, so concurrent requests from one user cannot over-admit.
func (t *Tracker) Reserve(user core.UserID) (*Reservation, error) {
	today := t.Today()
	admin := t.IsAdmin(user)
	limit := t.Limit()

	t.mu.RLock()
	defer t.mu.RUnlock()
	l := t.ledger(user, true)
	l.mu.Lock()
	defer l.mu.Unlock()

	if !admin && l.days[today]+l.pending[today] >= limit {
		return nil, &core.Error{
			Kind:    core.KindQuotaExceeded,
			Op:      "quota",
			Message: "daily limit reached",
			ResetAt: t.ResetAt(),
		}
	}
	l.pending[today]++
	return &Reservation{tracker: t, user: user, day: today, admin: admin}, nil
}

// User returns the reserved user.
func (r *Reservation) User() core.UserID {
	return r.user
}

// Commit accounts the reserved slot as consumed and returns the updated record.
func (r *Reservation) Commit() core.UsageRecord {
	r.once.Do(func() {
		r.record = r.tracker.settle(r.user, r.day, true)
	})
	return r.record
}

// Release returns the reserved slot without consuming quota.
func (r *Reservation) Release() {
	r.once.Do(func() {
		r.tracker.settle(r.user, r.day, false)
	})
}

// settle drops one pending slot for the day and optionally counts it.
// The increment is applied to the reservation's day so a request admitted
// before midnight is accounted to the day it was admitted on.
func (t *Tracker) settle(user core.UserID, day string, consume bool) core.UsageRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	l := t.ledger(user, true)
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pending[day] > 0 {
		l.pending[day]--
	}
	if l.pending[day] == 0 {
		delete(l.pending, day)
	}
	if consume {
		l.days[day]++
	}
	return core.UsageRecord{UserID: user, Date: day, Count: l.days[day]}
}

// Admin reports whether the reservation bypassed the daily limit.
func (r *Reservation) Admin() bool {
	return r.admin
}
