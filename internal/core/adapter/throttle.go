package adapter

import (
	"context"
	"errors"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/tgrelay/tgrelay/internal/core"
	"github.com/tgrelay/tgrelay/internal/metrics"
)

// Throttle enforces per-backend request windows and honours backend 429
// backoff so a throttled backend is not hammered by every waiting user.
// Store failures never block a call; they are logged and counted.
type Throttle struct {
	Store  BackoffStore
	Limits map[string]RateLimit
	Clock  func() time.Time
	Margin float64
	Logger *logging.Logger
}

// RateLimit represents a request window.
type RateLimit struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// BackoffStore stores backoff state keyed by backend name.
type BackoffStore interface {
	GetBackoff(ctx context.Context, backend string) (*core.BackoffState, error)
	UpdateBackoff(ctx context.Context, backend string, state *core.BackoffState) error
}

// Allow checks if a request is allowed and returns the wait duration if not.
// Backends without a configured window are only subject to 429 backoff.
func (t *Throttle) Allow(ctx context.Context, backend string) (bool, time.Duration, error) {
	if t == nil || t.Store == nil {
		return true, 0, nil
	}

	state, err := t.Store.GetBackoff(ctx, backend)
	if err != nil {
		return true, 0, err
	}
	if state == nil {
		return true, 0, nil
	}

	now := t.now()
	if state.Throttled(now) {
		return false, state.BackoffUntil.Sub(now), nil
	}

	limit, ok := t.limit(backend)
	if !ok {
		return true, 0, nil
	}
	windowEnd := state.WindowStart.Add(limit.WindowDuration)
	if now.After(windowEnd) {
		return true, 0, nil
	}
	if state.Requests >= limit.RequestsPerWindow {
		return false, windowEnd.Sub(now), nil
	}
	return true, 0, nil
}

// Record counts one request against the backend's window.
func (t *Throttle) Record(ctx context.Context, backend string) error {
	if t == nil || t.Store == nil {
		return nil
	}

	state, err := t.Store.GetBackoff(ctx, backend)
	if err != nil {
		return err
	}
	now := t.now()
	if state == nil {
		state = &core.BackoffState{WindowStart: now}
	}
	if limit, ok := t.limit(backend); ok && now.After(state.WindowStart.Add(limit.WindowDuration)) {
		state.Requests = 0
		state.WindowStart = now
	}
	if state.WindowStart.IsZero() {
		state.WindowStart = now
	}
	state.Requests++

	return t.Store.UpdateBackoff(ctx, backend, state)
}

// RecordThrottled applies a backoff window after a 429 response.
func (t *Throttle) RecordThrottled(ctx context.Context, backend string, retryAfter time.Duration) error {
	if t == nil || t.Store == nil {
		return nil
	}

	state, err := t.Store.GetBackoff(ctx, backend)
	if err != nil {
		return err
	}
	now := t.now()
	if state == nil {
		state = &core.BackoffState{WindowStart: now}
	}

	state.LastThrottledAt = &now
	if retryAfter > 0 {
		until := now.Add(retryAfter)
		state.BackoffUntil = &until
	}

	return t.Store.UpdateBackoff(ctx, backend, state)
}

// ApplyOverrides sets per-backend request limits (per minute).
func (t *Throttle) ApplyOverrides(overrides map[string]int) {
	if t == nil || len(overrides) == 0 {
		return
	}
	if t.Limits == nil {
		t.Limits = make(map[string]RateLimit, len(overrides))
	}
	for backend, value := range overrides {
		if backend == "" || value <= 0 {
			continue
		}
		t.Limits[backend] = RateLimit{RequestsPerWindow: value, WindowDuration: time.Minute}
	}
}

func (t *Throttle) limit(backend string) (RateLimit, bool) {
	limit, ok := t.Limits[backend]
	if !ok || limit.RequestsPerWindow <= 0 || limit.WindowDuration <= 0 {
		return RateLimit{}, false
	}
	if t.Margin > 0 && t.Margin < 1 {
		adjusted := int(math.Floor(float64(limit.RequestsPerWindow) * t.Margin))
		if adjusted < 1 {
			adjusted = 1
		}
		limit.RequestsPerWindow = adjusted
	}
	return limit, true
}

func (t *Throttle) now() time.Time {
	if t != nil && t.Clock != nil {
		return t.Clock()
	}
	return time.Now().UTC()
}

// guard runs call under the throttle: it refuses throttled backends, counts
// the request and records a backoff when the backend answers 429.
func (t *Throttle) guard(ctx context.Context, backend string, call func() (*Result, error)) (*Result, error) {
	if t == nil {
		return call()
	}
	allowed, wait, err := t.Allow(ctx, backend)
	t.storeFailed(backend, "allow", err)
	if !allowed {
		return nil, &core.Error{
			Kind:       core.KindUpstreamUnavailable,
			Op:         backend,
			Message:    "backend is cooling down",
			RetryAfter: wait,
		}
	}
	t.storeFailed(backend, "record", t.Record(ctx, backend))

	result, err := call()
	if err != nil {
		var domainErr *core.Error
		if errors.As(err, &domainErr) && domainErr.StatusCode == http.StatusTooManyRequests {
			t.storeFailed(backend, "throttled", t.RecordThrottled(ctx, backend, domainErr.RetryAfter))
		}
	}
	return result, err
}

func (t *Throttle) storeFailed(backend, op string, err error) {
	if err == nil {
		return
	}
	metrics.RecordBackoffStoreError(backend, op)
	if t.Logger != nil {
		t.Logger.Warn("Backoff store failed; continuing without throttle state",
			zap.String("backend", backend),
			zap.String("op", op),
			zap.Error(err))
	}
}

// MemoryBackoffStore keeps backoff state in process memory.
type MemoryBackoffStore struct {
	mu    sync.Mutex
	state map[string]core.BackoffState
}

// NewMemoryBackoffStore returns an empty in-memory store.
func NewMemoryBackoffStore() *MemoryBackoffStore {
	return &MemoryBackoffStore{state: make(map[string]core.BackoffState)}
}

// GetBackoff returns a copy of the stored state, or nil.
func (m *MemoryBackoffStore) GetBackoff(_ context.Context, backend string) (*core.BackoffState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.state[backend]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

// UpdateBackoff stores a copy of state.
func (m *MemoryBackoffStore) UpdateBackoff(_ context.Context, backend string, state *core.BackoffState) error {
	if state == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		m.state = make(map[string]core.BackoffState)
	}
	m.state[backend] = *state
	return nil
}
