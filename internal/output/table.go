package output

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
)

// TableFormatter renders reports as an ASCII table.
type TableFormatter struct {
	// Plain drops the outer border to keep chat replies narrow.
	Plain bool
}

// FormatUsage renders a usage report as a table.
func (f *TableFormatter) FormatUsage(report *UsageReport) (string, error) {
	if report == nil {
		return "", nil
	}

	t := table.NewWriter()
	if f.Plain {
		t.SetStyle(table.StyleLight)
		t.Style().Options.DrawBorder = false
	} else {
		t.SetStyle(table.StyleRounded)
	}
	t.SetTitle(fmt.Sprintf("Usage %s (%s), limit %d/day", report.Date, report.Timezone, report.DailyLimit))
	t.AppendHeader(table.Row{"User", "Requests", "Remaining"})

	if len(report.Entries) == 0 {
		t.AppendRow(table.Row{"-", 0, "-"})
	}
	for _, entry := range report.Entries {
		t.AppendRow(table.Row{userLabel(entry), entry.Count, remainingLabel(entry)})
	}

	t.AppendFooter(table.Row{fmt.Sprintf("%d users", len(report.Entries)), report.Total, ""})
	return t.Render(), nil
}
