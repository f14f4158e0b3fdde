package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/tgrelay/tgrelay/internal/core"
	"github.com/tgrelay/tgrelay/internal/core/store"
	"github.com/tgrelay/tgrelay/internal/output"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Inspect the user directory",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users who have messaged the bot",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := tableOrJSON(cmd)
		if err != nil {
			return err
		}
		query := store.UserQuery{}
		query.IncludeUnreachable, _ = cmd.Flags().GetBool("include-unreachable")
		query.Limit, _ = cmd.Flags().GetInt("limit")
		if since, _ := cmd.Flags().GetDuration("since"); since > 0 {
			query.SeenSince = time.Now().Add(-since)
		}

		_, db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		users, err := db.ListUsers(cmd.Context(), query)
		if err != nil {
			return err
		}

		sink, err := sinkFor(cmd, "users.list", format)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		return writeUserList(format, sink.writer, users)
	},
}

var usersShowCmd = &cobra.Command{
	Use:   "show <user_id>",
	Short: "Show one user's directory entry",
	Args:  cobra.ExactArgs(1),
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

		user, err := lookupUser(cmd.Context(), db, args[0])
		if err != nil {
			return err
		}

		sink, err := sinkFor(cmd, "users.show", format)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		if format == output.FormatJSON {
			return writeIndentedJSON(sink.writer, user)
		}
		return writeUserList(format, sink.writer, []store.User{*user})
	},
}

type userFinder interface {
	GetUser(ctx context.Context, id core.UserID) (*store.User, error)
}

func lookupUser(ctx context.Context, users userFinder, arg string) (*store.User, error) {
	id, err := core.ParseUserID(arg)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("invalid user id %q", arg)
	}
	user, err := users.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %s has never messaged the bot", id)
	}
	return user, nil
}

func writeUserList(format output.Format, w io.Writer, users []store.User) error {
	if format == output.FormatJSON {
		if users == nil {
			users = []store.User{}
		}
		return writeIndentedJSON(w, users)
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"User", "Username", "Name", "Requests", "Last seen", "Reachable"})
	for _, u := range users {
		username := "-"
		if u.Username != "" {
			username = "@" + u.Username
		}
		reachable := "yes"
		if u.UnreachableAt != nil {
			reachable = "no"
			if u.UnreachableReason != "" {
				reachable = "no: " + u.UnreachableReason
			}
		}
		t.AppendRow(table.Row{u.ID.String(), username, u.FirstName, u.Requests, u.LastSeen.UTC().Format(time.RFC3339), reachable})
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d users", len(users)), "", "", "", "", ""})
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func init() {
	addOutputFlags(usersListCmd, "table|json")
	usersListCmd.Flags().Bool("include-unreachable", false, "Include users a broadcast could not reach")
	usersListCmd.Flags().Duration("since", 0, "Only users seen within this window (e.g. 72h)")
	usersListCmd.Flags().Int("limit", 0, "Maximum users to list (0 = all)")

	addOutputFlags(usersShowCmd, "table|json")

	usersCmd.AddCommand(usersListCmd, usersShowCmd)
	rootCmd.AddCommand(usersCmd)
}
