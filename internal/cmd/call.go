package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tgrelay/tgrelay/internal/core"
	"github.com/tgrelay/tgrelay/internal/observability"
)

// callResult is the JSON shape printed by call.
type callResult struct {
	Command   string    `json:"command"`
	Status    string    `json:"status"`
	Payload   string    `json:"payload,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	Source    string    `json:"source,omitempty"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at,omitzero"`
}

var callCmd = &cobra.Command{
	Use:   "call <command> [argument...]",
	Short: "Dispatch one command without Telegram",
	Long: `Dispatch one command through the same quota, routing and backend path
the bot uses, and print the outcome. Quota is held in memory, so each
invocation starts with a fresh daily allowance.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("output-format")
		format = strings.ToLower(strings.TrimSpace(format))
		if format != "text" && format != "json" {
			return fmt.Errorf("unsupported output format: %s", format)
		}
		user, _ := cmd.Flags().GetInt64("user")

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		cfg, db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		relay, err := buildRelay(cfg, db, nil, observability.CLILogger)
		if err != nil {
			return err
		}

		req := commandRequest(core.UserID(user), args)
		out := relay.dispatcher.Dispatch(ctx, req)

		if err := writeCallResult(format, cmd.OutOrStdout(), out); err != nil {
			return err
		}
		if out.Status != core.StatusServed {
			return fmt.Errorf("%s: %s", out.Status, out.Reason)
		}
		return nil
	},
}

// commandRequest parses "/name" or "name" plus the remaining words as the argument.
func commandRequest(user core.UserID, args []string) core.CommandRequest {
	name := strings.TrimPrefix(strings.TrimSpace(args[0]), "/")
	return core.CommandRequest{
		UserID:    user,
		ChatID:    int64(user),
		Command:   core.ParseCommand(name),
		Argument:  strings.TrimSpace(strings.Join(args[1:], " ")),
		Timestamp: time.Now(),
	}
}

func writeCallResult(format string, w io.Writer, out core.Outcome) error {
	result := callResult{
		Command:   out.Command.String(),
		Status:    out.Status.String(),
		Payload:   out.Payload,
		Reason:    out.Reason,
		Kind:      string(out.Kind()),
		Source:    out.Source,
		Remaining: out.Remaining,
		ResetAt:   out.ResetAt,
	}
	if format == "json" {
		return writeIndentedJSON(w, result)
	}

	if out.Status == core.StatusServed {
		_, err := fmt.Fprintln(w, out.Payload)
		return err
	}
	line := fmt.Sprintf("%s (%s): %s", result.Status, result.Kind, result.Reason)
	if !out.ResetAt.IsZero() {
		line += fmt.Sprintf("; resets at %s", out.ResetAt.Format(time.RFC3339))
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

func init() {
	callCmd.Flags().Int64("user", 0, "User id to account the request to")
	callCmd.Flags().String("output-format", "text", "Output format: text|json")
	rootCmd.AddCommand(callCmd)
}
