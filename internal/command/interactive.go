package command

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/saravenpi/wavechat/internal/config"
	"github.com/saravenpi/wavechat/internal/conversation"
	"github.com/saravenpi/wavechat/internal/logging"
	"github.com/saravenpi/wavechat/internal/notify"
	"github.com/saravenpi/wavechat/internal/transport"
	"github.com/saravenpi/wavechat/internal/ui"
	"github.com/spf13/cobra"
)

const dialTimeout = 15 * time.Second

func runInteractive(cmd *cobra.Command) error {
	ctx, err := GetContext(cmd)
	if err != nil {
		return writeCommandError(cmd, err)
	}
	defer ctx.Close()

	cfg := ctx.Config
	if err := logging.Setup(cfg.LogPath, cfg.LogLevel); err != nil {
		return writeCommandError(cmd, err)
	}
	defer logging.Close()

	log := logging.Component("app")
	log.Info().
		Int64("user", cfg.UserID).
		Str("server", cfg.ServerURL).
		Str("version", Version).
		Msg("Starting wavechat")

	opts := []conversation.Option{
		conversation.WithReconcileWindow(cfg.ReconcileWindow),
		conversation.WithBackoff(cfg.ReconnectDelay, cfg.MaxReconnectDelay, cfg.MaxReconnectAttempts),
	}
	if cfg.Notifications {
		opts = append(opts, conversation.WithNotifier(notify.New(ctx.Contacts.NameOr(ctx.Directory))))
	}

	controller := conversation.New(ctx.Local, conversation.Deps{
		History:    ctx.Client,
		Messages:   ctx.Client,
		Profiles:   ctx.Directory,
		NewChannel: channelFactory(cfg),
	}, opts...)
	defer controller.Close()

	env := &ui.Env{
		Local:        ctx.Local,
		Conversation: controller,
		Unread:       ctx.Client,
		Users:        ctx.Directory,
		Contacts:     ctx.Contacts,
	}

	p := tea.NewProgram(ui.NewApp(env), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Error().Err(err).Msg("UI exited with error")
		return writeCommandError(cmd, fmt.Errorf("ui: %w", err))
	}
	return nil
}

// channelFactory returns a constructor for one websocket STOMP channel per
// conversation.
func channelFactory(cfg *config.Config) func() conversation.Channel {
	tcfg := transport.Config{
		URL:         cfg.WSURL,
		HeartBeat:   cfg.HeartBeat,
		Header:      sessionHeader(cfg),
		DialTimeout: dialTimeout,
	}
	return func() conversation.Channel {
		return transport.NewChannel(tcfg)
	}
}
