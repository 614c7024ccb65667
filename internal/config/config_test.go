package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadLayersFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "config.yml")
	writeFile(t, path, "server_url: http://chat.example:9000\nuser_id: 4\nreconcile_window: 45s\n")
	t.Setenv("WAVECHAT_WS_URL", "ws://chat.example:9000/ws")
	t.Setenv("WAVECHAT_RECONNECT_DELAY", "500ms")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ServerURL != "http://chat.example:9000" {
		t.Fatalf("unexpected server url: %s", cfg.ServerURL)
	}
	if cfg.WSURL != "ws://chat.example:9000/ws" {
		t.Fatalf("unexpected ws url: %s", cfg.WSURL)
	}
	if cfg.UserID != 4 {
		t.Fatalf("unexpected user id: %d", cfg.UserID)
	}
	if cfg.ReconcileWindow != 45*time.Second {
		t.Fatalf("unexpected window: %v", cfg.ReconcileWindow)
	}
	if cfg.ReconnectDelay != 500*time.Millisecond {
		t.Fatalf("unexpected reconnect delay: %v", cfg.ReconnectDelay)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, filepath.Join(dir, ".env"), "WAVECHAT_USER_ID=12\n")
	t.Cleanup(func() { os.Unsetenv("WAVECHAT_USER_ID") })

	cfg, err := Load(filepath.Join(dir, "missing.yml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.UserID != 12 {
		t.Fatalf("expected user id from .env, got %d", cfg.UserID)
	}
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("WAVECHAT_HEARTBEAT", "soon")

	if _, err := Load(filepath.Join(t.TempDir(), "none.yml")); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestValidateReportsFields(t *testing.T) {
	cfg := Default()
	cfg.ServerURL = "not a url"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "ServerURL") || !strings.Contains(err.Error(), "UserID") {
		t.Fatalf("expected ServerURL and UserID in error, got %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.yml")

	cfg := Default()
	cfg.UserID = 9
	cfg.ReconcileWindow = time.Minute
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.UserID != 9 || loaded.ReconcileWindow != time.Minute {
		t.Fatalf("unexpected config: %+v", loaded)
	}
}
