package output

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tgrelay/tgrelay/internal/core"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Formatter renders usage reports.
type Formatter interface {
	FormatUsage(report *UsageReport) (string, error)
}

// UsageReport is today's usage across all tracked users.
type UsageReport struct {
	Date        string       `json:"date"`
	Timezone    string       `json:"timezone"`
	DailyLimit  int          `json:"daily_limit"`
	GeneratedAt time.Time    `json:"generated_at"`
	ResetAt     time.Time    `json:"reset_at"`
	Total       int          `json:"total_requests"`
	Entries     []UsageEntry `json:"entries"`
}

// UsageEntry is one user's line in a UsageReport.
type UsageEntry struct {
	UserID    core.UserID `json:"user_id"`
	Count     int         `json:"count"`
	Remaining int         `json:"remaining"`
	Admin     bool        `json:"admin,omitempty"`
}

// NewUsageReport builds a report from a counts snapshot. Entries are ordered by
// count (descending) then user id. remaining computes each user's allowance.
func NewUsageReport(date, timezone string, limit int, counts map[core.UserID]int, isAdmin func(core.UserID) bool, remaining func(core.UserID) int) *UsageReport {
	report := &UsageReport{
		Date:       date,
		Timezone:   timezone,
		DailyLimit: limit,
		Entries:    make([]UsageEntry, 0, len(counts)),
	}
	for user, count := range counts {
		entry := UsageEntry{UserID: user, Count: count}
		if isAdmin != nil {
			entry.Admin = isAdmin(user)
		}
		if remaining != nil {
			entry.Remaining = remaining(user)
		}
		report.Entries = append(report.Entries, entry)
		report.Total += count
	}
	sort.Slice(report.Entries, func(i, j int) bool {
		a, b := report.Entries[i], report.Entries[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.UserID < b.UserID
	})
	return report
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

func remainingLabel(entry UsageEntry) string {
	if entry.Admin || entry.Remaining < 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d", entry.Remaining)
}

func userLabel(entry UsageEntry) string {
	if entry.Admin {
		return entry.UserID.String() + " (admin)"
	}
	return entry.UserID.String()
}
