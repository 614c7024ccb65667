package command

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const AppName = "wavechat"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   AppName,
		Short: "Wavechat - terminal client for two-party chat",
		Long: `Wavechat is a terminal chat client. Run it without arguments to open the
interactive client, or use a subcommand for one-off operations.

Navigation:
  ↑/↓ or j/k        Navigate lists and select messages
  Enter             Open a conversation
  n                 Write a new message
  e / d             Edit or delete your selected message
  r / x             Retry or discard a failed message
  ctrl+r            Reconnect
  ESC               Go back
  q                 Quit from current view`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(cmd)
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().String("config", "", "config file (default ~/.wavechat/config.yml)")
	cmd.PersistentFlags().String("server", "", "REST base URL, overrides server_url")
	cmd.PersistentFlags().String("ws", "", "websocket URL, overrides ws_url")
	cmd.PersistentFlags().Int64("user", 0, "local user id, overrides user_id")
	cmd.PersistentFlags().Bool("json", false, "output in JSON format")

	cmd.AddCommand(
		NewVersionCmd(version),
		NewConfigCmd(),
		NewUsersCmd(),
		NewUnreadCmd(),
		NewHistoryCmd(),
		NewSendCmd(),
	)

	return cmd
}

func Execute() error {
	root := NewRootCmd(Version)
	cmd, err := root.ExecuteC()
	if err != nil && !errors.As(err, new(reportedError)) {
		fmt.Fprintf(root.ErrOrStderr(), "Error: %s\n", err)
		fmt.Fprintf(root.ErrOrStderr(), "Run '%s --help' for usage.\n", cmd.CommandPath())
	}
	return err
}

func NewVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Printf("%s version %s\n", AppName, version)
			return nil
		},
	}
}
