// Package wire holds the JSON shapes exchanged with the messaging backend.
//
// The backend is not strict about number encoding: ids may arrive as JSON
// numbers or as numeric strings, and timestamps as ISO strings with or
// without a zone, epoch milliseconds, or a [y,m,d,h,mi,s,nanos] array.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/saravenpi/wavechat/internal/models"
)

// ID decodes from a JSON number or a numeric string.
type ID int64

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*id = 0
			return nil
		}
		data = []byte(s)
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", string(data), err)
	}
	*id = ID(n)
	return nil
}

// Time decodes the timestamp encodings the backend is known to emit.
type Time struct {
	time.Time
}

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (t *Time) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		t.Time = time.Time{}
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseTime(s)
		if err != nil {
			return err
		}
		t.Time = parsed
		return nil
	case len(data) > 0 && data[0] == '[':
		var parts []int
		if err := json.Unmarshal(data, &parts); err != nil {
			return fmt.Errorf("invalid timestamp array: %w", err)
		}
		if len(parts) < 3 {
			return fmt.Errorf("invalid timestamp array: %d fields", len(parts))
		}
		for len(parts) < 7 {
			parts = append(parts, 0)
		}
		t.Time = time.Date(parts[0], time.Month(parts[1]), parts[2], parts[3], parts[4], parts[5], parts[6], time.Local)
		return nil
	default:
		ms, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid timestamp %s: %w", string(data), err)
		}
		t.Time = time.UnixMilli(ms)
		return nil
	}
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

// ParseTime parses an ISO timestamp. Values without a zone are local time.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return parsed, nil
	}
	for _, layout := range localLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// Message is the backend's message record.
type Message struct {
	ID         ID     `json:"id"`
	SenderID   ID     `json:"senderId"`
	ReceiverID ID     `json:"receiverId"`
	Content    string `json:"content"`
	Timestamp  Time   `json:"timestamp"`
	Status     string `json:"status,omitempty"`
}

// Model converts a confirmed server record. Every record coming from the
// server is DELIVERED from the thread's point of view, whatever read state
// the backend attaches to it.
func (m Message) Model() models.Message {
	return models.Message{
		ID:         models.MessageID(m.ID),
		SenderID:   models.UserID(m.SenderID),
		ReceiverID: models.UserID(m.ReceiverID),
		Content:    m.Content,
		Timestamp:  m.Timestamp.Time,
		Status:     models.StatusDelivered,
	}
}

// DecodeMessage decodes one pushed message frame body.
func DecodeMessage(body []byte) (models.Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return models.Message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	if m.ID == 0 {
		return models.Message{}, fmt.Errorf("failed to decode message: missing id")
	}
	return m.Model(), nil
}

// DecodeMessages decodes a history array.
func DecodeMessages(body []byte) ([]models.Message, error) {
	var raw []Message
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	messages := make([]models.Message, 0, len(raw))
	for _, m := range raw {
		messages = append(messages, m.Model())
	}
	return messages, nil
}

// Outbound is the payload published to the chat destination and posted to
// the REST send endpoint.
type Outbound struct {
	SenderID   int64  `json:"senderId"`
	ReceiverID int64  `json:"receiverId"`
	Content    string `json:"content"`
}

func NewOutbound(sender, receiver models.UserID, content string) Outbound {
	return Outbound{SenderID: int64(sender), ReceiverID: int64(receiver), Content: content}
}

type Edit struct {
	Content string `json:"content"`
}

type Unread struct {
	SenderID ID  `json:"senderId"`
	Count    int `json:"count"`
}

type Profile struct {
	ID        ID     `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	ImageURL  string `json:"imageUrl"`
}

func (p Profile) Model() models.Profile {
	return models.Profile{
		ID:        models.UserID(p.ID),
		FirstName: p.FirstName,
		LastName:  p.LastName,
		ImageURL:  p.ImageURL,
	}
}
