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

// User is one entry of the user directory.
type User struct {
	ID                core.UserID `json:"user_id"`
	Username          string      `json:"username,omitempty"`
	FirstName         string      `json:"first_name,omitempty"`
	FirstSeen         time.Time   `json:"first_seen"`
	LastSeen          time.Time   `json:"last_seen"`
	Requests          int         `json:"requests"`
	UnreachableAt     *time.Time  `json:"unreachable_at,omitempty"`
	UnreachableReason string      `json:"unreachable_reason,omitempty"`
}

// UserQuery filters ListUsers.
type UserQuery struct {
	// IncludeUnreachable also returns users a broadcast could not reach.
	IncludeUnreachable bool
	// SeenSince keeps users seen at or after this instant when non-zero.
	SeenSince time.Time
	Limit     int
}

// TouchUser records that the user sent a message. It creates the entry on
// first sight, refreshes the names and clears any unreachable mark.
func (s *Store) TouchUser(ctx context.Context, user User) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if user.ID == 0 {
		return errors.New("user id is required")
	}

	seen := user.LastSeen
	if seen.IsZero() {
		seen = time.Now().UTC()
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO users (user_id, username, first_name, first_seen, last_seen, requests)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(user_id) DO UPDATE SET
			username = excluded.username,
			first_name = excluded.first_name,
			last_seen = excluded.last_seen,
			requests = users.requests + 1,
			unreachable_at = NULL,
			unreachable_reason = NULL
	`, int64(user.ID), strings.TrimSpace(user.Username), strings.TrimSpace(user.FirstName), seen.UTC().Unix(), seen.UTC().Unix())
	if err != nil {
		return fmt.Errorf("store user: %w", err)
	}
	return nil
}

// GetUser returns a directory entry, or nil when the user is unknown.
func (s *Store) GetUser(ctx context.Context, id core.UserID) (*User, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	row := s.DB.QueryRowContext(ctx, `
		SELECT user_id, username, first_name, first_seen, last_seen, requests, unreachable_at, unreachable_reason
		FROM users
		WHERE user_id = ?
	`, int64(id))

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch user: %w", err)
	}
	return user, nil
}

// ListUsers returns directory entries ordered by most recently seen.
func (s *Store) ListUsers(ctx context.Context, q UserQuery) ([]User, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		clauses []string
		args    []any
	)
	if !q.IncludeUnreachable {
		clauses = append(clauses, "unreachable_at IS NULL")
	}
	if !q.SeenSince.IsZero() {
		clauses = append(clauses, "last_seen >= ?")
		args = append(args, q.SeenSince.UTC().Unix())
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	limit := ""
	if q.Limit > 0 {
		limit = "LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT user_id, username, first_name, first_seen, last_seen, requests, unreachable_at, unreachable_reason
		FROM users
		%s
		ORDER BY last_seen DESC, user_id
		%s
	`, where, limit), args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	users := []User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan users: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// Recipients returns the ids of every reachable user.
func (s *Store) Recipients(ctx context.Context) ([]core.UserID, error) {
	users, err := s.ListUsers(ctx, UserQuery{})
	if err != nil {
		return nil, err
	}
	ids := make([]core.UserID, 0, len(users))
	for _, user := range users {
		ids = append(ids, user.ID)
	}
	return ids, nil
}

// MarkUnreachable excludes a user from future broadcasts until they write again.
func (s *Store) MarkUnreachable(ctx context.Context, id core.UserID, reason string) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	_, err := s.DB.ExecContext(ctx, `
		UPDATE users SET unreachable_at = ?, unreachable_reason = ?
		WHERE user_id = ?
	`, time.Now().UTC().Unix(), strings.TrimSpace(reason), int64(id))
	if err != nil {
		return fmt.Errorf("mark user unreachable: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		id                int64
		username          sql.NullString
		firstName         sql.NullString
		firstSeen         int64
		lastSeen          int64
		requests          int
		unreachableAt     sql.NullInt64
		unreachableReason sql.NullString
	)
	if err := row.Scan(&id, &username, &firstName, &firstSeen, &lastSeen, &requests, &unreachableAt, &unreachableReason); err != nil {
		return nil, err
	}

	user := &User{
		ID:                core.UserID(id),
		Username:          username.String,
		FirstName:         firstName.String,
		FirstSeen:         time.Unix(firstSeen, 0).UTC(),
		LastSeen:          time.Unix(lastSeen, 0).UTC(),
		Requests:          requests,
		UnreachableReason: unreachableReason.String,
	}
	if unreachableAt.Valid {
		value := time.Unix(unreachableAt.Int64, 0).UTC()
		user.UnreachableAt = &value
	}
	return user, nil
}
