package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/tgrelay/tgrelay/internal/core/store"
	"github.com/tgrelay/tgrelay/internal/output"
)

var backoffCmd = &cobra.Command{
	Use:   "backoff",
	Short: "Manage persisted backend backoff state",
}

var backoffListCmd = &cobra.Command{
	Use:   "list [backend]",
	Short: "List stored backend backoff state",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := tableOrJSON(cmd)
		if err != nil {
			return err
		}

		_, db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		entries, err := db.ListBackoff(cmd.Context(), firstArg(args))
		if err != nil {
			return err
		}

		sink, err := sinkFor(cmd, "backoff.list", format)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		return writeBackoffList(format, sink.writer, entries, time.Now())
	},
}

var backoffResetCmd = &cobra.Command{
	Use:   "reset [backend]",
	Short: "Clear stored backoff state",
	Long:  "Clear stored backoff state for one backend, or for all backends with --all --yes.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := tableOrJSON(cmd)
		if err != nil {
			return err
		}
		all, _ := cmd.Flags().GetBool("all")
		yes, _ := cmd.Flags().GetBool("yes")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		backend := firstArg(args)
		switch {
		case backend == "" && !all:
			return errors.New("name a backend or pass --all")
		case backend != "" && all:
			return errors.New("a backend and --all are mutually exclusive")
		case all && !yes && !dryRun:
			return errors.New("--all requires --yes (or use --dry-run)")
		}

		_, db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		matched, err := db.ListBackoff(cmd.Context(), backend)
		if err != nil {
			return err
		}

		sink, err := sinkFor(cmd, "backoff.reset", format)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		if dryRun {
			return writeBackoffReset(format, sink.writer, len(matched), 0, true)
		}
		deleted, err := db.ResetBackoff(cmd.Context(), backend)
		if err != nil {
			return err
		}
		return writeBackoffReset(format, sink.writer, len(matched), deleted, false)
	},
}

func writeBackoffList(format output.Format, w io.Writer, entries []store.BackoffEntry, now time.Time) error {
	if format == output.FormatJSON {
		return writeIndentedJSON(w, entries)
	}

	lines := []string{"Backend Backoff", ""}
	if len(entries) == 0 {
		lines = append(lines, "(no stored backoff state)")
	}
	for _, entry := range entries {
		until := "-"
		if entry.State.BackoffUntil != nil {
			until = entry.State.BackoffUntil.UTC().Format(time.RFC3339)
			if entry.State.Throttled(now) {
				until += " (active)"
			}
		}
		lines = append(lines, fmt.Sprintf("%s: requests=%d backoff_until=%s", entry.Backend, entry.State.Requests, until))
	}
	_, err := fmt.Fprint(w, ascii.DrawBox(strings.Join(lines, "\n"), 0))
	return err
}

func writeBackoffReset(format output.Format, w io.Writer, matched int, deleted int64, dryRun bool) error {
	if format == output.FormatJSON {
		return writeIndentedJSON(w, map[string]any{
			"matched": matched,
			"deleted": deleted,
			"dry_run": dryRun,
		})
	}
	if dryRun {
		_, err := fmt.Fprintf(w, "Would clear %d backoff entr(ies)\n", matched)
		return err
	}
	_, err := fmt.Fprintf(w, "Cleared %d/%d backoff entr(ies)\n", deleted, matched)
	return err
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return strings.TrimSpace(args[0])
}

func init() {
	addOutputFlags(backoffListCmd, "table|json")
	addOutputFlags(backoffResetCmd, "table|json")
	backoffResetCmd.Flags().Bool("all", false, "Reset every backend")
	backoffResetCmd.Flags().Bool("yes", false, "Confirm destructive reset")
	backoffResetCmd.Flags().Bool("dry-run", false, "Show what would be cleared")

	backoffCmd.AddCommand(backoffListCmd)
	backoffCmd.AddCommand(backoffResetCmd)
	rootCmd.AddCommand(backoffCmd)
}
