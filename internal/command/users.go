package command

import (
	"context"
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/saravenpi/wavechat/internal/logging"
	"github.com/saravenpi/wavechat/internal/models"
	"github.com/spf13/cobra"
)

// NewUsersCmd creates the users command.
func NewUsersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List everyone you can talk to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.SetOutput(cmd.ErrOrStderr(), warnLevel)
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			users, stale, err := ctx.Directory.ListUsers(cmd.Context())
			if err != nil {
				return writeCommandError(cmd, err)
			}

			if ctx.JSONMode {
				rows := make([]profileJSON, 0, len(users))
				for _, u := range users {
					rows = append(rows, toProfileJSON(u))
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{"users": rows, "stale": stale})
			}

			out := cmd.OutOrStdout()
			if stale {
				fmt.Fprintln(out, "(server unreachable, showing cached directory)")
			}
			for _, u := range users {
				if u.ID == ctx.Local {
					continue
				}
				name := u.DisplayName()
				if nick := ctx.Contacts.Name(u.ID); nick != "" {
					name = fmt.Sprintf("%s (%s)", nick, name)
				}
				fmt.Fprintf(out, "%6d  %s\n", u.ID, name)
			}
			return nil
		},
	}
}

// NewUnreadCmd creates the unread command.
func NewUnreadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unread",
		Short: "Show unread message counts per sender",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.SetOutput(cmd.ErrOrStderr(), warnLevel)
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			counts, err := ctx.Client.FetchUnreadCounts(cmd.Context(), ctx.Local)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			senders := make([]models.UserID, 0, len(counts))
			for sender := range counts {
				senders = append(senders, sender)
			}
			sort.Slice(senders, func(i, j int) bool {
				if counts[senders[i]] != counts[senders[j]] {
					return counts[senders[i]] > counts[senders[j]]
				}
				return senders[i] < senders[j]
			})

			if ctx.JSONMode {
				type row struct {
					SenderID int64 `json:"senderId"`
					Count    int   `json:"count"`
				}
				rows := make([]row, 0, len(senders))
				for _, s := range senders {
					rows = append(rows, row{SenderID: int64(s), Count: counts[s]})
				}
				return writeJSON(cmd.OutOrStdout(), rows)
			}

			out := cmd.OutOrStdout()
			if len(senders) == 0 {
				fmt.Fprintln(out, "Nothing unread.")
				return nil
			}
			total := 0
			for _, s := range senders {
				total += counts[s]
				fmt.Fprintf(out, "%8s  %s\n", humanize.Comma(int64(counts[s])), displayName(cmd.Context(), ctx, s))
			}
			fmt.Fprintf(out, "%s unread from %d %s\n", humanize.Comma(int64(total)), len(senders), plural(len(senders), "person", "people"))
			return nil
		},
	}
}

// displayName prefers the address book, then the directory, and falls back
// to the numeric id when nobody knows the user.
func displayName(ctx context.Context, c *CommandContext, user models.UserID) string {
	if name := c.Contacts.Name(user); name != "" {
		return name
	}
	p, err := c.Directory.FetchProfile(ctx, user)
	if err != nil || (p.FirstName == "" && p.LastName == "") {
		return fmt.Sprintf("#%d", user)
	}
	return p.DisplayName()
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
