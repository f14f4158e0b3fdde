package core

import "time"

// BackoffState is the per-backend request window and throttle state.
type BackoffState struct {
	Requests        int        `json:"requests"`
	WindowStart     time.Time  `json:"window_start"`
	BackoffUntil    *time.Time `json:"backoff_until,omitempty"`
	LastThrottledAt *time.Time `json:"last_throttled_at,omitempty"`
}

// Throttled reports whether the backend is inside a backoff window at now.
func (s *BackoffState) Throttled(now time.Time) bool {
	return s != nil && s.BackoffUntil != nil && now.Before(*s.BackoffUntil)
}
