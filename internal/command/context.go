package command

import (
	"net/http"

	"github.com/saravenpi/wavechat/internal/api"
	"github.com/saravenpi/wavechat/internal/cache"
	"github.com/saravenpi/wavechat/internal/config"
	"github.com/saravenpi/wavechat/internal/contacts"
	"github.com/saravenpi/wavechat/internal/models"
	"github.com/spf13/cobra"
)

// CommandContext provides shared command resources.
type CommandContext struct {
	Config     *config.Config
	ConfigPath string
	Local      models.UserID
	Client     *api.Client
	Cache      *cache.DB
	Directory  *cache.Directory
	Contacts   *contacts.Book
	JSONMode   bool
}

// loadConfig reads the config file and applies the persistent flag
// overrides. The result is validated.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}

	if v, _ := cmd.Flags().GetString("server"); v != "" {
		cfg.ServerURL = v
	}
	if v, _ := cmd.Flags().GetString("ws"); v != "" {
		cfg.WSURL = v
	}
	if v, _ := cmd.Flags().GetInt64("user"); v != 0 {
		cfg.UserID = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// GetContext resolves configuration, the REST client and the profile cache
// for a command. Callers must Close the context.
func GetContext(cmd *cobra.Command) (*CommandContext, error) {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	jsonMode, _ := cmd.Flags().GetBool("json")

	client, err := api.NewClient(cfg.ServerURL,
		api.WithSession(cfg.SessionCookie),
		api.WithToken(cfg.AuthToken),
	)
	if err != nil {
		return nil, err
	}

	db, err := cache.Open(cfg.CachePath)
	if err != nil {
		return nil, err
	}

	return &CommandContext{
		Config:     cfg,
		ConfigPath: path,
		Local:      models.UserID(cfg.UserID),
		Client:     client,
		Cache:      db,
		Directory:  cache.NewDirectory(client, db),
		Contacts:   contacts.NewBook(cfg.ContactsDir),
		JSONMode:   jsonMode,
	}, nil
}

func (c *CommandContext) Close() error {
	return c.Cache.Close()
}

// sessionHeader carries the same credentials the REST client sends so the
// websocket handshake is authenticated by the same session.
func sessionHeader(cfg *config.Config) http.Header {
	h := http.Header{}
	if cfg.SessionCookie != "" {
		h.Set("Cookie", cfg.SessionCookie)
	}
	if cfg.AuthToken != "" {
		h.Set("Authorization", "Bearer "+cfg.AuthToken)
	}
	return h
}
