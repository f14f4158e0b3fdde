package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tgrelay/tgrelay/internal/core"
)

// GetBackoff returns stored backoff state for a backend.
func (s *Store) GetBackoff(ctx context.Context, backend string) (*core.BackoffState, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	backend = strings.TrimSpace(backend)
	if backend == "" {
		return nil, errors.New("backend is required")
	}

	row := s.DB.QueryRowContext(ctx, `
		SELECT backend, request_count, window_start, backoff_until, last_throttled_at
		FROM backend_backoff
		WHERE backend = ?
	`, backend)

	entry, err := scanBackoff(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch backoff: %w", err)
	}
	return &entry.State, nil
}

// UpdateBackoff persists backoff state for a backend.
func (s *Store) UpdateBackoff(ctx context.Context, backend string, state *core.BackoffState) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	backend = strings.TrimSpace(backend)
	if backend == "" {
		return errors.New("backend is required")
	}
	if state == nil {
		return errors.New("backoff state is required")
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO backend_backoff (backend, request_count, window_start, backoff_until, last_throttled_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(backend) DO UPDATE SET
			request_count = excluded.request_count,
			window_start = excluded.window_start,
			backoff_until = excluded.backoff_until,
			last_throttled_at = excluded.last_throttled_at
	`, backend, state.Requests, state.WindowStart.UTC().Unix(), nullUnix(state.BackoffUntil), nullUnix(state.LastThrottledAt))
	if err != nil {
		return fmt.Errorf("store backoff: %w", err)
	}

	return nil
}

// BackoffEntry is one stored backend backoff row.
type BackoffEntry struct {
	Backend string            `json:"backend"`
	State   core.BackoffState `json:"state"`
}

// ListBackoff returns stored backoff state, optionally for a single backend.
func (s *Store) ListBackoff(ctx context.Context, backend string) ([]BackoffEntry, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args := backoffWhere(backend)
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT backend, request_count, window_start, backoff_until, last_throttled_at
		FROM backend_backoff
		%s
		ORDER BY backend
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list backoff: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	entries := []BackoffEntry{}
	for rows.Next() {
		entry, err := scanBackoff(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backoff: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list backoff: %w", err)
	}
	return entries, nil
}

// ResetBackoff deletes stored backoff state. An empty backend resets all.
func (s *Store) ResetBackoff(ctx context.Context, backend string) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args := backoffWhere(backend)
	result, err := s.DB.ExecContext(ctx, fmt.Sprintf(`DELETE FROM backend_backoff %s`, where), args...)
	if err != nil {
		return 0, fmt.Errorf("reset backoff: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset backoff: %w", err)
	}
	return affected, nil
}

func backoffWhere(backend string) (string, []any) {
	backend = strings.TrimSpace(backend)
	if backend == "" {
		return "", nil
	}
	return "WHERE backend = ?", []any{backend}
}

func scanBackoff(row rowScanner) (BackoffEntry, error) {
	var (
		backend         string
		requestCount    int
		windowStart     int64
		backoffUntil    sql.NullInt64
		lastThrottledAt sql.NullInt64
	)
	if err := row.Scan(&backend, &requestCount, &windowStart, &backoffUntil, &lastThrottledAt); err != nil {
		return BackoffEntry{}, err
	}

	entry := BackoffEntry{
		Backend: backend,
		State: core.BackoffState{
			Requests:    requestCount,
			WindowStart: time.Unix(windowStart, 0).UTC(),
		},
	}
	if backoffUntil.Valid {
		value := time.Unix(backoffUntil.Int64, 0).UTC()
		entry.State.BackoffUntil = &value
	}
	if lastThrottledAt.Valid {
		value := time.Unix(lastThrottledAt.Int64, 0).UTC()
		entry.State.LastThrottledAt = &value
	}
	return entry, nil
}

func nullUnix(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: value.UTC().Unix(), Valid: true}
}
