package output

import (
	"fmt"
	"strings"
)

// MarkdownFormatter renders reports as a markdown table.
type MarkdownFormatter struct{}

// FormatUsage renders a usage report as Markdown.
func (f *MarkdownFormatter) FormatUsage(report *UsageReport) (string, error) {
	if report == nil {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Usage %s (%s)\n\n", escapeMarkdownCell(report.Date), escapeMarkdownCell(report.Timezone)))
	sb.WriteString(fmt.Sprintf("Daily limit: **%d**\n\n", report.DailyLimit))
	if len(report.Entries) == 0 {
		sb.WriteString("_No usage recorded._\n")
		return sb.String(), nil
	}

	sb.WriteString("| User | Requests | Remaining |\n")
	sb.WriteString("|------|----------|-----------|\n")
	for _, entry := range report.Entries {
		sb.WriteString(fmt.Sprintf("| %s | %d | %s |\n",
			escapeMarkdownCell(userLabel(entry)),
			entry.Count,
			escapeMarkdownCell(remainingLabel(entry)),
		))
	}
	sb.WriteString(fmt.Sprintf("\n**Total**: %d requests from %d users\n", report.Total, len(report.Entries)))
	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
