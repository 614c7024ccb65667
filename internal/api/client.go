// Package api is the REST side of the chat backend: history, unread
// counts, profiles, the user directory and message mutations.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/saravenpi/wavechat/internal/models"
	"github.com/saravenpi/wavechat/internal/wire"
)

// APIError represents a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server error (%d)", e.Status)
}

// FetchError reports a failed read: history, unread counts, profiles or
// the user directory.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// MutationError reports a failed send, edit or delete.
type MutationError struct {
	Op  string
	ID  models.MessageID
	Err error
}

func (e *MutationError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("failed to %s message %d: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("failed to %s message: %v", e.Op, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

// IsNotFound reports whether err carries a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type Client struct {
	baseURL    string
	cookie     string
	token      string
	httpClient *http.Client
}

type Option func(*Client)

// WithSession attaches the session cookie to every request.
func WithSession(cookie string) Option {
	return func(c *Client) { c.cookie = cookie }
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	normalized, err := NormalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL: normalized,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NormalizeBaseURL trims the base URL and ensures it has a scheme.
func NormalizeBaseURL(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("server url cannot be empty")
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("server url must include scheme and host (http://host:port)")
	}
	return strings.TrimRight(value, "/"), nil
}

// FetchHistory returns the conversation between local and peer in the
// order the server sent it (ascending timestamps by contract).
func (c *Client) FetchHistory(ctx context.Context, local, peer models.UserID) ([]models.Message, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/api/messages/"+id(local)+"/"+id(peer), nil, &raw); err != nil {
		return nil, &FetchError{Op: "history", Err: err}
	}
	if len(raw) == 0 {
		return nil, nil
	}
	messages, err := wire.DecodeMessages(raw)
	if err != nil {
		return nil, &FetchError{Op: "history", Err: err}
	}
	return messages, nil
}

// FetchUnreadCounts returns unread message counts keyed by sender.
func (c *Client) FetchUnreadCounts(ctx context.Context, local models.UserID) (map[models.UserID]int, error) {
	var items []wire.Unread
	if err := c.doJSON(ctx, http.MethodGet, "/api/messages/unread/"+id(local), nil, &items); err != nil {
		return nil, &FetchError{Op: "unread counts", Err: err}
	}
	counts := make(map[models.UserID]int, len(items))
	for _, item := range items {
		counts[models.UserID(item.SenderID)] += item.Count
	}
	return counts, nil
}

func (c *Client) FetchProfile(ctx context.Context, user models.UserID) (models.Profile, error) {
	var p wire.Profile
	if err := c.doJSON(ctx, http.MethodGet, "/user/"+id(user), nil, &p); err != nil {
		return models.Profile{}, &FetchError{Op: "profile", Err: err}
	}
	profile := p.Model()
	if profile.ID == 0 {
		profile.ID = user
	}
	return profile, nil
}

// ListUsers returns the user directory.
func (c *Client) ListUsers(ctx context.Context) ([]models.Profile, error) {
	var raw []wire.Profile
	if err := c.doJSON(ctx, http.MethodGet, "/all-users", nil, &raw); err != nil {
		return nil, &FetchError{Op: "users", Err: err}
	}
	users := make([]models.Profile, 0, len(raw))
	for _, p := range raw {
		users = append(users, p.Model())
	}
	return users, nil
}

// SendMessage posts a message over REST instead of the STOMP channel. The
// server echoes it on the sender's topic like any other send.
func (c *Client) SendMessage(ctx context.Context, from, to models.UserID, content string) (models.Message, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodPost, "/api/messages/send", wire.NewOutbound(from, to, content), &raw); err != nil {
		return models.Message{}, &MutationError{Op: "send", Err: err}
	}
	if len(raw) == 0 {
		return models.Message{}, nil
	}
	msg, err := wire.DecodeMessage(raw)
	if err != nil {
		// Some deployments answer with a plain acknowledgement.
		return models.Message{}, nil
	}
	return msg, nil
}

func (c *Client) UpdateMessage(ctx context.Context, msgID models.MessageID, content string) error {
	if err := c.doJSON(ctx, http.MethodPut, "/api/messages/"+strconv.FormatInt(int64(msgID), 10), wire.Edit{Content: content}, nil); err != nil {
		return &MutationError{Op: "edit", ID: msgID, Err: err}
	}
	return nil
}

func (c *Client) DeleteMessage(ctx context.Context, msgID models.MessageID) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/api/messages/"+strconv.FormatInt(int64(msgID), 10), nil, nil); err != nil {
		return &MutationError{Op: "delete", ID: msgID, Err: err}
	}
	return nil
}

func id(u models.UserID) string {
	return strconv.FormatInt(int64(u), 10)
}

func (c *Client) doJSON(ctx context.Context, method, path string, reqBody any, respBody any) error {
	endpoint := c.baseURL + path

	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload errorPayload
		if err := json.Unmarshal(respData, &payload); err == nil && (payload.Message != "" || payload.Error != "") {
			apiErr.Message = payload.Message
			if apiErr.Message == "" {
				apiErr.Message = payload.Error
			}
		} else {
			apiErr.Message = strings.TrimSpace(string(respData))
		}
		return apiErr
	}

	if respBody == nil || len(respData) == 0 {
		return nil
	}
	if raw, ok := respBody.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], respData...)
		return nil
	}
	return json.Unmarshal(respData, respBody)
}
