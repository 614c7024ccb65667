package command

import (
	"errors"
	"fmt"
	"os"

	"github.com/saravenpi/wavechat/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewConfigCmd creates the config command group.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}
	cmd.AddCommand(newConfigInitCmd(), newConfigShowCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			if path == "" {
				path = config.DefaultPath()
			}
			force, _ := cmd.Flags().GetBool("force")

			if _, err := os.Stat(path); err == nil && !force {
				return writeCommandError(cmd, fmt.Errorf("%s already exists (use --force to overwrite)", path))
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return writeCommandError(cmd, err)
			}

			cfg := config.Default()
			if v, _ := cmd.Flags().GetString("server"); v != "" {
				cfg.ServerURL = v
			}
			if v, _ := cmd.Flags().GetString("ws"); v != "" {
				cfg.WSURL = v
			}
			if v, _ := cmd.Flags().GetInt64("user"); v != 0 {
				cfg.UserID = v
			}

			if err := cfg.Save(path); err != nil {
				return writeCommandError(cmd, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			if cfg.UserID == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Set user_id before starting wavechat.")
			}
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			shown := *cfg
			if shown.SessionCookie != "" {
				shown.SessionCookie = "<redacted>"
			}
			if shown.AuthToken != "" {
				shown.AuthToken = "<redacted>"
			}

			if jsonMode, _ := cmd.Flags().GetBool("json"); jsonMode {
				return writeJSON(cmd.OutOrStdout(), shown)
			}
			data, err := yaml.Marshal(&shown)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
