package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/saravenpi/wavechat/internal/models"
)

type recorded struct {
	method string
	path   string
	body   string
	cookie string
	auth   string
}

func newServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		calls = append(calls, recorded{
			method: r.Method,
			path:   r.URL.Path,
			body:   string(body),
			cookie: r.Header.Get("Cookie"),
			auth:   r.Header.Get("Authorization"),
		})
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL+"/", WithSession("JSESSIONID=s1"), WithToken("tok"))
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return c, &calls
}

func TestFetchHistory(t *testing.T) {
	c, calls := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id":1,"senderId":4,"receiverId":9,"content":"hi","timestamp":"2024-05-01T10:00:00Z"},
			{"id":"2","senderId":"9","receiverId":"4","content":"yo","timestamp":"2024-05-01T10:01:00Z","status":"READ"}
		]`))
	})

	history, err := c.FetchHistory(context.Background(), 4, 9)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[1].ID != 2 || history[1].SenderID != 9 || history[1].Status != models.StatusDelivered {
		t.Fatalf("unexpected second message: %+v", history[1])
	}

	got := (*calls)[0]
	if got.method != http.MethodGet || got.path != "/api/messages/4/9" {
		t.Fatalf("unexpected request %s %s", got.method, got.path)
	}
	if got.cookie != "JSESSIONID=s1" || got.auth != "Bearer tok" {
		t.Fatalf("credentials not forwarded: cookie=%q auth=%q", got.cookie, got.auth)
	}
}

func TestFetchHistoryFailure(t *testing.T) {
	c, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Internal Server Error","message":"boom"}`))
	})

	_, err := c.FetchHistory(context.Background(), 1, 2)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || fetchErr.Op != "history" {
		t.Fatalf("expected history FetchError, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 500 || apiErr.Message != "boom" {
		t.Fatalf("expected APIError 500 boom, got %v", err)
	}
}

func TestFetchHistoryRejectsGarbage(t *testing.T) {
	c, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"not":"an array"}`))
	})

	if _, err := c.FetchHistory(context.Background(), 1, 2); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestFetchUnreadCounts(t *testing.T) {
	c, calls := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"senderId":7,"count":3},{"senderId":"8","count":1}]`))
	})

	counts, err := c.FetchUnreadCounts(context.Background(), 4)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if counts[7] != 3 || counts[8] != 1 || len(counts) != 2 {
		t.Fatalf("unexpected counts: %v", counts)
	}
	if (*calls)[0].path != "/api/messages/unread/4" {
		t.Fatalf("unexpected path %s", (*calls)[0].path)
	}
}

func TestFetchProfileAndUsers(t *testing.T) {
	c, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user/9":
			w.Write([]byte(`{"id":9,"firstName":"Ada","lastName":"Lovelace","imageUrl":"http://img/9.png"}`))
		case "/all-users":
			w.Write([]byte(`[{"id":1,"firstName":"A"},{"id":2,"firstName":"B"}]`))
		default:
			http.NotFound(w, r)
		}
	})

	p, err := c.FetchProfile(context.Background(), 9)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if p.DisplayName() != "Ada Lovelace" || p.ImageURL != "http://img/9.png" {
		t.Fatalf("unexpected profile: %+v", p)
	}

	users, err := c.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("users: %v", err)
	}
	if len(users) != 2 || users[1].ID != 2 {
		t.Fatalf("unexpected users: %+v", users)
	}

	_, err = c.FetchProfile(context.Background(), 3)
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMutations(t *testing.T) {
	c, calls := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.Write([]byte(`{"id":12,"senderId":4,"receiverId":9,"content":"hey","timestamp":"2024-05-01T10:00:00"}`))
		case http.MethodPut:
			w.Write([]byte(`{"id":12,"content":"hey!"}`))
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	})
	ctx := context.Background()

	sent, err := c.SendMessage(ctx, 4, 9, "hey")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent.ID != 12 {
		t.Fatalf("unexpected sent message: %+v", sent)
	}
	if err := c.UpdateMessage(ctx, 12, "hey!"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := c.DeleteMessage(ctx, 12); err != nil {
		t.Fatalf("delete: %v", err)
	}

	want := []struct{ method, path string }{
		{http.MethodPost, "/api/messages/send"},
		{http.MethodPut, "/api/messages/12"},
		{http.MethodDelete, "/api/messages/12"},
	}
	for i, w := range want {
		if (*calls)[i].method != w.method || (*calls)[i].path != w.path {
			t.Fatalf("call %d: expected %s %s, got %s %s", i, w.method, w.path, (*calls)[i].method, (*calls)[i].path)
		}
	}

	var outbound map[string]any
	if err := json.Unmarshal([]byte((*calls)[0].body), &outbound); err != nil {
		t.Fatalf("decode send body: %v", err)
	}
	if outbound["senderId"] != float64(4) || outbound["receiverId"] != float64(9) || outbound["content"] != "hey" {
		t.Fatalf("unexpected send body: %v", outbound)
	}
	if (*calls)[1].body != `{"content":"hey!"}` {
		t.Fatalf("unexpected edit body: %s", (*calls)[1].body)
	}
}

func TestMutationFailure(t *testing.T) {
	c, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("not your message"))
	})

	err := c.UpdateMessage(context.Background(), 5, "x")
	var mutErr *MutationError
	if !errors.As(err, &mutErr) || mutErr.Op != "edit" || mutErr.ID != 5 {
		t.Fatalf("expected edit MutationError for 5, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "not your message" {
		t.Fatalf("expected plain-text API message, got %v", err)
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "http://localhost:8081/", want: "http://localhost:8081"},
		{in: "  https://chat.example  ", want: "https://chat.example"},
		{in: "localhost:8081", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := NormalizeBaseURL(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("%q: got %q, %v", tc.in, got, err)
		}
	}
}
