package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
)

func executeCommand(cmd *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return buf.String(), err
}

type fakeServer struct {
	*httptest.Server

	mu   sync.Mutex
	sent []map[string]any
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /all-users", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":1,"firstName":"Me"},{"id":2,"firstName":"Bob","lastName":"Stone"},{"id":3,"firstName":"Alice"}]`)
	})
	mux.HandleFunc("GET /user/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("id") {
		case "2":
			fmt.Fprint(w, `{"id":2,"firstName":"Bob","lastName":"Stone"}`)
		case "3":
			fmt.Fprint(w, `{"id":3,"firstName":"Alice"}`)
		default:
			http.Error(w, `{"error":"no such user"}`, http.StatusNotFound)
		}
	})
	mux.HandleFunc("GET /api/messages/unread/1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"senderId":2,"count":1},{"senderId":3,"count":1200}]`)
	})
	// Out of order on purpose: the client must sort by timestamp.
	mux.HandleFunc("GET /api/messages/1/2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"id":11,"senderId":1,"receiverId":2,"content":"second","timestamp":"2026-01-01T10:01:00Z"},
			{"id":10,"senderId":2,"receiverId":1,"content":"first","timestamp":"2026-01-01T10:00:00Z"},
			{"id":12,"senderId":2,"receiverId":1,"content":"third","timestamp":"2026-01-01T10:02:00Z"}
		]`)
	})
	mux.HandleFunc("GET /api/messages/1/3", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	mux.HandleFunc("GET /api/messages/unread/9", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
	})
	mux.HandleFunc("POST /api/messages/send", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		fs.mu.Lock()
		fs.sent = append(fs.sent, payload)
		fs.mu.Unlock()
		fmt.Fprintf(w, `{"id":99,"senderId":1,"receiverId":2,"content":%q,"timestamp":"2026-01-01T11:00:00Z"}`, payload["content"])
	})

	fs.Server = httptest.NewServer(mux)
	t.Cleanup(fs.Close)
	return fs
}

// writeConfig writes a config pointing at server into a temp dir and
// returns its path.
func writeConfig(t *testing.T, serverURL string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	content := fmt.Sprintf(`server_url: %s
ws_url: ws://127.0.0.1:1/ws
user_id: 1
session_cookie: SESSION=secret
cache_path: %s
contacts_dir: %s
log_path: %s
`, serverURL, filepath.Join(dir, "cache.db"), filepath.Join(dir, "contacts"), filepath.Join(dir, "wavechat.log"))
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRootCommandVersion(t *testing.T) {
	output, err := executeCommand(NewRootCmd("test"), "--version")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(output, "wavechat version test") {
		t.Fatalf("expected version output, got %q", output)
	}

	output, err = executeCommand(NewRootCmd("test"), "version")
	if err != nil || !strings.Contains(output, "wavechat version test") {
		t.Fatalf("version subcommand: %q, %v", output, err)
	}
}

func TestUsersCommand(t *testing.T) {
	srv := newFakeServer(t)
	cfg := writeConfig(t, srv.URL)

	output, err := executeCommand(NewRootCmd("test"), "--config", cfg, "users")
	if err != nil {
		t.Fatalf("users: %v\n%s", err, output)
	}
	if !strings.Contains(output, "Bob Stone") || !strings.Contains(output, "Alice") {
		t.Errorf("missing users in %q", output)
	}
	if strings.Contains(output, "Me") {
		t.Errorf("local user should not be listed: %q", output)
	}
}

func TestUsersCommandShowsNicknames(t *testing.T) {
	srv := newFakeServer(t)
	cfg := writeConfig(t, srv.URL)

	contactsDir := filepath.Join(filepath.Dir(cfg), "contacts")
	if err := os.MkdirAll(contactsDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(contactsDir, "Bobby.yml"), []byte("name: Bobby\nuser_ids: [2]\n"), 0644); err != nil {
		t.Fatal(err)
	}

	output, err := executeCommand(NewRootCmd("test"), "--config", cfg, "users")
	if err != nil {
		t.Fatalf("users: %v\n%s", err, output)
	}
	if !strings.Contains(output, "Bobby (Bob Stone)") {
		t.Errorf("expected nickname, got %q", output)
	}

	output, err = executeCommand(NewRootCmd("test"), "--config", cfg, "history", "2")
	if err != nil {
		t.Fatalf("history: %v\n%s", err, output)
	}
	if !strings.Contains(output, "Bobby: first") {
		t.Errorf("history should use the nickname: %q", output)
	}
}

func TestUsersCommandFallsBackToCache(t *testing.T) {
	srv := newFakeServer(t)
	cfg := writeConfig(t, srv.URL)

	if _, err := executeCommand(NewRootCmd("test"), "--config", cfg, "users"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	srv.Close()

	output, err := executeCommand(NewRootCmd("test"), "--config", cfg, "users")
	if err != nil {
		t.Fatalf("users offline: %v\n%s", err, output)
	}
	if !strings.Contains(output, "cached directory") || !strings.Contains(output, "Alice") {
		t.Errorf("expected cached directory, got %q", output)
	}
}

func TestUnreadCommand(t *testing.T) {
	srv := newFakeServer(t)
	cfg := writeConfig(t, srv.URL)

	output, err := executeCommand(NewRootCmd("test"), "--config", cfg, "unread")
	if err != nil {
		t.Fatalf("unread: %v\n%s", err, output)
	}
	if !strings.Contains(output, "1,200  Alice") {
		t.Errorf("expected humanized count for Alice first, got %q", output)
	}
	if strings.Index(output, "Alice") > strings.Index(output, "Bob") {
		t.Errorf("larger count should come first: %q", output)
	}
	if !strings.Contains(output, "1,201 unread from 2 people") {
		t.Errorf("missing total in %q", output)
	}
}

func TestUnreadCommandRejectedSession(t *testing.T) {
	srv := newFakeServer(t)
	cfg := writeConfig(t, srv.URL)

	output, err := executeCommand(NewRootCmd("test"), "--config", cfg, "--user", "9", "unread")
	if err == nil {
		t.Fatalf("expected an error, got %q", output)
	}
	if !strings.Contains(output, "Hint:") {
		t.Errorf("expected session hint, got %q", output)
	}
}

func TestHistoryCommandOrdersMessages(t *testing.T) {
	srv := newFakeServer(t)
	cfg := writeConfig(t, srv.URL)

	output, err := executeCommand(NewRootCmd("test"), "--config", cfg, "history", "2")
	if err != nil {
		t.Fatalf("history: %v\n%s", err, output)
	}
	first := strings.Index(output, "Bob Stone: first")
	second := strings.Index(output, "You: second")
	third := strings.Index(output, "Bob Stone: third")
	if first < 0 || second < 0 || third < 0 || !(first < second && second < third) {
		t.Errorf("history out of order:\n%s", output)
	}
}

func TestHistoryCommandJSONLast(t *testing.T) {
	srv := newFakeServer(t)
	cfg := writeConfig(t, srv.URL)

	// The out-of-order history logs a warning; keep it out of the JSON.
	cmd := NewRootCmd("test")
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs([]string{"--config", cfg, "--json", "history", "2", "--last", "2"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("history: %v\n%s", err, stderr)
	}
	var rows []messageJSON
	if err := json.Unmarshal(stdout.Bytes(), &rows); err != nil {
		t.Fatalf("decode %q: %v", stdout, err)
	}
	if !strings.Contains(stderr.String(), "Repaired history") {
		t.Errorf("expected an ordering warning on stderr, got %q", stderr)
	}
	if len(rows) != 2 || rows[0].ID != 11 || rows[1].ID != 12 {
		t.Errorf("rows = %+v, want ids 11, 12", rows)
	}
	if rows[0].Status != "DELIVERED" {
		t.Errorf("status = %q, want DELIVERED", rows[0].Status)
	}
}

func TestHistoryCommandEmpty(t *testing.T) {
	srv := newFakeServer(t)
	cfg := writeConfig(t, srv.URL)

	output, err := executeCommand(NewRootCmd("test"), "--config", cfg, "history", "3")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(output, "No messages with Alice") {
		t.Errorf("output = %q", output)
	}
}

func TestHistoryCommandRejectsBadID(t *testing.T) {
	_, err := executeCommand(NewRootCmd("test"), "history", "bob")
	if err == nil {
		t.Fatal("expected an error for a non-numeric id")
	}
}

func TestSendCommand(t *testing.T) {
	srv := newFakeServer(t)
	cfg := writeConfig(t, srv.URL)

	output, err := executeCommand(NewRootCmd("test"), "--config", cfg, "send", "2", "hello", "there")
	if err != nil {
		t.Fatalf("send: %v\n%s", err, output)
	}
	if !strings.Contains(output, "Sent message 99 to Bob Stone") {
		t.Errorf("output = %q", output)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.sent) != 1 {
		t.Fatalf("server received %d sends", len(srv.sent))
	}
	got := srv.sent[0]
	if got["content"] != "hello there" || got["senderId"] != float64(1) || got["receiverId"] != float64(2) {
		t.Errorf("payload = %v", got)
	}
}

func TestSendCommandToSelf(t *testing.T) {
	srv := newFakeServer(t)
	cfg := writeConfig(t, srv.URL)

	if _, err := executeCommand(NewRootCmd("test"), "--config", cfg, "send", "1", "hi"); err == nil {
		t.Fatal("expected an error sending to yourself")
	}
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")

	output, err := executeCommand(NewRootCmd("test"), "--config", path, "--user", "5", "config", "init")
	if err != nil {
		t.Fatalf("config init: %v\n%s", err, output)
	}

	if _, err := executeCommand(NewRootCmd("test"), "--config", path, "config", "init"); err == nil {
		t.Error("second init without --force should fail")
	}

	output, err = executeCommand(NewRootCmd("test"), "--config", path, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v\n%s", err, output)
	}
	if !strings.Contains(output, "user_id: 5") {
		t.Errorf("show output = %q", output)
	}
}

func TestConfigShowRedactsCredentials(t *testing.T) {
	cfg := writeConfig(t, "http://localhost:8081")

	output, err := executeCommand(NewRootCmd("test"), "--config", cfg, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v\n%s", err, output)
	}
	if strings.Contains(output, "secret") || !strings.Contains(output, "<redacted>") {
		t.Errorf("session cookie leaked: %q", output)
	}
}

func TestInvalidConfigIsReported(t *testing.T) {
	cfg := writeConfig(t, "http://localhost:8081")

	output, err := executeCommand(NewRootCmd("test"), "--config", cfg, "--user", "-4", "users")
	if err == nil {
		t.Fatalf("expected validation error, got %q", output)
	}
	if !strings.Contains(output, "UserID") {
		t.Errorf("error should name the field: %q", output)
	}
}
