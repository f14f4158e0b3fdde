package core

import (
	"strconv"
	"time"
)

// UserID is the platform-assigned identifier of a requester.
type UserID int64

// String renders the id in decimal form.
func (u UserID) String() string {
	return strconv.FormatInt(int64(u), 10)
}

// ParseUserID parses a decimal user id.
func ParseUserID(value string) (UserID, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, err
	}
	return UserID(id), nil
}

// DateLayout is the calendar-day key format used for usage records.
const DateLayout = "2006-01-02"

// UsageRecord is the request count of one user on one calendar day.
type UsageRecord struct {
	UserID UserID `json:"user_id"`
	Date   string `json:"date"`
	Count  int    `json:"count"`
}

// QuotaPolicy is the process-wide quota configuration.
type QuotaPolicy struct {
	DailyLimit int
	AdminIDs   map[UserID]struct{}
}

// NewQuotaPolicy builds a policy from a limit and a list of admin ids.
func NewQuotaPolicy(limit int, admins []UserID) QuotaPolicy {
	set := make(map[UserID]struct{}, len(admins))
	for _, id := range admins {
		set[id] = struct{}{}
	}
	return QuotaPolicy{DailyLimit: limit, AdminIDs: set}
}

// IsAdmin reports whether the id is on the admin allow-list.
func (p QuotaPolicy) IsAdmin(id UserID) bool {
	_, ok := p.AdminIDs[id]
	return ok
}

// CommandRequest is one inbound command message.
type CommandRequest struct {
	UserID    UserID    `json:"user_id"`
	ChatID    int64     `json:"chat_id,omitempty"`
	Username  string    `json:"username,omitempty"`
	Command   Command   `json:"command"`
	Argument  string    `json:"argument,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Status is the terminal state of a dispatched request.
type Status int

const (
	StatusServed Status = iota + 1
	StatusDenied
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusServed:
		return "served"
	case StatusDenied:
		return "denied"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of dispatching a CommandRequest.
type Outcome struct {
	Status    Status    `json:"status"`
	Command   Command   `json:"command"`
	Payload   string    `json:"payload,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Err       error     `json:"-"`
	ResetAt   time.Time `json:"reset_at,omitempty"`
	Remaining int       `json:"remaining"`
	Source    string    `json:"source,omitempty"`
}

// Served builds a successful outcome.
func Served(cmd Command, payload string) Outcome {
	return Outcome{Status: StatusServed, Command: cmd, Payload: payload}
}

// Denied builds a quota denial outcome.
func Denied(cmd Command, reason string, resetAt time.Time) Outcome {
	return Outcome{Status: StatusDenied, Command: cmd, Reason: reason, ResetAt: resetAt}
}

// Failed builds a failure outcome. The reason is taken from err.
func Failed(cmd Command, err error) Outcome {
	out := Outcome{Status: StatusFailed, Command: cmd, Err: err}
	if err != nil {
		out.Reason = err.Error()
	}
	return out
}

// Kind returns the error kind of a failed outcome, or the empty kind.
func (o Outcome) Kind() ErrorKind {
	if o.Status == StatusDenied {
		return KindQuotaExceeded
	}
	return KindOf(o.Err)
}
