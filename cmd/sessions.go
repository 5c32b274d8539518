package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/gocode/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage sessions",
}

var sessionsListFlags struct {
	all      bool
	archived bool
	limit    int
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			filters := session.ListFilters{Limit: sessionsListFlags.limit}
			if !sessionsListFlags.all {
				archived := sessionsListFlags.archived
				filters.Archived = &archived
			}
			infos, err := a.store.List(ctx, filters)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tUPDATED\tSHARED")
			for _, info := range infos {
				shared := ""
				if info.Share != nil {
					shared = info.Share.URL
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					info.ID, info.Title,
					time.UnixMilli(info.Time.Updated).Format("2006-01-02 15:04"),
					shared)
			}
			return w.Flush()
		})
	},
}

var sessionsForkCmd = &cobra.Command{
	Use:   "fork <session-id> [message-id]",
	Short: "Copy a session, optionally truncated at a message",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			cutoff := ""
			if len(args) == 2 {
				cutoff = args[1]
			}
			info, err := a.store.Fork(ctx, args[0], cutoff)
			if err != nil {
				return err
			}
			fmt.Println(info.ID)
			return nil
		})
	},
}

var sessionsShareCmd = &cobra.Command{
	Use:   "share <session-id>",
	Short: "Create a share link for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			info, err := a.store.Share(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(info.Share.URL)
			return nil
		})
	},
}

var sessionsUnshareCmd = &cobra.Command{
	Use:   "unshare <session-id>",
	Short: "Revoke a session's share link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			_, err := a.store.Unshare(ctx, args[0])
			return err
		})
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session, its children and all messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			return a.store.Delete(ctx, args[0])
		})
	},
}

var sessionsCompactCmd = &cobra.Command{
	Use:   "compact <session-id>",
	Short: "Summarize a session's history to shrink future prompts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			res, err := a.runner.Compact(ctx, args[0], false)
			if err != nil {
				return err
			}
			fmt.Println(assistantOutput(res))
			return nil
		})
	},
}

func init() {
	sessionsListCmd.Flags().BoolVar(&sessionsListFlags.all, "all", false, "include archived sessions")
	sessionsListCmd.Flags().BoolVar(&sessionsListFlags.archived, "archived", false, "only archived sessions")
	sessionsListCmd.Flags().IntVar(&sessionsListFlags.limit, "limit", 50, "maximum sessions to list")
	sessionsCmd.AddCommand(sessionsListCmd, sessionsForkCmd, sessionsShareCmd,
		sessionsUnshareCmd, sessionsDeleteCmd, sessionsCompactCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// withApp runs fn against a fully wired app and tears it down after.
func withApp(ctx context.Context, fn func(context.Context, *app) error) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return fn(ctx, a)
}
