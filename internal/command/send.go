package command

import (
	"fmt"
	"strings"

	"github.com/saravenpi/wavechat/internal/logging"
	"github.com/saravenpi/wavechat/internal/models"
	"github.com/spf13/cobra"
)

// NewSendCmd creates the send command.
func NewSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <user-id> <message>",
		Short: "Send a message without opening the client",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := models.ParseUserID(args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			content := strings.TrimSpace(strings.Join(args[1:], " "))
			if content == "" {
				return writeCommandError(cmd, fmt.Errorf("message is empty"))
			}

			logging.SetOutput(cmd.ErrOrStderr(), warnLevel)
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			if peer == ctx.Local {
				return writeCommandError(cmd, fmt.Errorf("cannot send a message to yourself"))
			}

			msg, err := ctx.Client.SendMessage(cmd.Context(), ctx.Local, peer, content)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			if ctx.JSONMode {
				return writeJSON(cmd.OutOrStdout(), toMessageJSON(msg))
			}
			if msg.ID != 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Sent message %d to %s\n", msg.ID, displayName(cmd.Context(), ctx, peer))
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Sent message to %s\n", displayName(cmd.Context(), ctx, peer))
			}
			return nil
		},
	}
}
