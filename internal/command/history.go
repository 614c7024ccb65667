package command

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/saravenpi/wavechat/internal/logging"
	"github.com/saravenpi/wavechat/internal/models"
	"github.com/saravenpi/wavechat/internal/thread"
	"github.com/spf13/cobra"
)

const warnLevel = zerolog.WarnLevel

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <user-id>",
		Short: "Print the conversation with a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := models.ParseUserID(args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}

			logging.SetOutput(cmd.ErrOrStderr(), warnLevel)
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			messages, err := ctx.Client.FetchHistory(cmd.Context(), ctx.Local, peer)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			// The thread store repairs ordering and drops duplicates the
			// same way the interactive client does. An anomaly is logged
			// there and is not fatal.
			store := thread.New(ctx.Local, thread.WithLogger(logging.Component("history")))
			_ = store.LoadInitial(messages)
			rows := store.Messages()

			if last, _ := cmd.Flags().GetInt("last"); last > 0 && len(rows) > last {
				rows = rows[len(rows)-last:]
			}

			if ctx.JSONMode {
				payload := make([]messageJSON, 0, len(rows))
				for _, m := range rows {
					payload = append(payload, toMessageJSON(m))
				}
				return writeJSON(cmd.OutOrStdout(), payload)
			}

			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintf(out, "No messages with %s\n", displayName(cmd.Context(), ctx, peer))
				return nil
			}

			names := nameCache(cmd.Context(), ctx)
			for _, m := range rows {
				fmt.Fprintln(out, formatMessage(m, ctx.Local, names))
			}
			return nil
		},
	}

	cmd.Flags().Int("last", 0, "only show the last N messages")
	return cmd
}

func nameCache(ctx context.Context, c *CommandContext) func(models.UserID) string {
	seen := map[models.UserID]string{}
	return func(user models.UserID) string {
		if name, ok := seen[user]; ok {
			return name
		}
		name := displayName(ctx, c, user)
		seen[user] = name
		return name
	}
}
