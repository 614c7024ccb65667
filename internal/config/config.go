package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ServerURL string `yaml:"server_url" validate:"required,url"`
	WSURL     string `yaml:"ws_url" validate:"required,url"`
	UserID    int64  `yaml:"user_id" validate:"gt=0"`

	// Ambient session credentials, passed through untouched.
	SessionCookie string `yaml:"session_cookie,omitempty"`
	AuthToken     string `yaml:"auth_token,omitempty"`

	ReconcileWindow      time.Duration `yaml:"reconcile_window" validate:"gt=0"`
	HeartBeat            time.Duration `yaml:"heartbeat" validate:"gte=0"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay" validate:"gt=0"`
	MaxReconnectDelay    time.Duration `yaml:"max_reconnect_delay" validate:"gtefield=ReconnectDelay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts" validate:"gte=0"`

	CachePath     string `yaml:"cache_path" validate:"required"`
	ContactsDir   string `yaml:"contacts_dir" validate:"required"`
	LogPath       string `yaml:"log_path" validate:"required"`
	LogLevel      string `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error disabled"`
	Notifications bool   `yaml:"notifications"`
}

// Dir returns the wavechat state directory (~/.wavechat).
func Dir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".wavechat")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yml")
}

func Default() *Config {
	return &Config{
		ServerURL:            "http://localhost:8081",
		WSURL:                "ws://localhost:8081/ws",
		ReconcileWindow:      30 * time.Second,
		HeartBeat:            10 * time.Second,
		ReconnectDelay:       2 * time.Second,
		MaxReconnectDelay:    30 * time.Second,
		MaxReconnectAttempts: 5,
		CachePath:            filepath.Join(Dir(), "cache.db"),
		ContactsDir:          filepath.Join(Dir(), "contacts"),
		LogPath:              filepath.Join(Dir(), "wavechat.log"),
		LogLevel:             "info",
		Notifications:        true,
	}
}

// Load builds the configuration: defaults, then the YAML file at path (a
// missing file is fine), then a .env file in the working directory, then
// WAVECHAT_* environment variables. The result is not validated; callers
// apply flag overrides first and then call Validate.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("WAVECHAT_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("WAVECHAT_WS_URL"); v != "" {
		cfg.WSURL = v
	}
	if v := os.Getenv("WAVECHAT_USER_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid WAVECHAT_USER_ID: %w", err)
		}
		cfg.UserID = id
	}
	if v := os.Getenv("WAVECHAT_SESSION_COOKIE"); v != "" {
		cfg.SessionCookie = v
	}
	if v := os.Getenv("WAVECHAT_AUTH_TOKEN"); v != "" {
		cfg.AuthToken = v
	}
	if v := os.Getenv("WAVECHAT_CACHE_PATH"); v != "" {
		cfg.CachePath = v
	}
	if v := os.Getenv("WAVECHAT_CONTACTS_DIR"); v != "" {
		cfg.ContactsDir = v
	}
	if v := os.Getenv("WAVECHAT_LOG_PATH"); v != "" {
		cfg.LogPath = v
	}
	if v := os.Getenv("WAVECHAT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("WAVECHAT_NOTIFICATIONS"); v != "" {
		cfg.Notifications = v == "1" || strings.EqualFold(v, "true")
	}

	durations := map[string]*time.Duration{
		"WAVECHAT_RECONCILE_WINDOW":    &cfg.ReconcileWindow,
		"WAVECHAT_HEARTBEAT":           &cfg.HeartBeat,
		"WAVECHAT_RECONNECT_DELAY":     &cfg.ReconnectDelay,
		"WAVECHAT_MAX_RECONNECT_DELAY": &cfg.MaxReconnectDelay,
	}
	for key, dst := range durations {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = d
	}

	if v := os.Getenv("WAVECHAT_MAX_RECONNECT_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid WAVECHAT_MAX_RECONNECT_ATTEMPTS: %w", err)
		}
		cfg.MaxReconnectAttempts = n
	}

	return nil
}

var validate = validator.New()

// Validate checks the configuration and reports every failing field.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Save writes the configuration as YAML, creating the directory if needed.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
