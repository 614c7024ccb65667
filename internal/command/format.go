package command

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/saravenpi/wavechat/internal/models"
)

type messageJSON struct {
	ID         int64     `json:"id"`
	SenderID   int64     `json:"senderId"`
	ReceiverID int64     `json:"receiverId"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Status     string    `json:"status"`
}

func toMessageJSON(m models.Message) messageJSON {
	return messageJSON{
		ID:         int64(m.ID),
		SenderID:   int64(m.SenderID),
		ReceiverID: int64(m.ReceiverID),
		Content:    m.Content,
		Timestamp:  m.Timestamp,
		Status:     string(m.Status),
	}
}

type profileJSON struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

func toProfileJSON(p models.Profile) profileJSON {
	return profileJSON{ID: int64(p.ID), FirstName: p.FirstName, LastName: p.LastName}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatMessage renders one history line: "[3 minutes ago] Bob: hello".
func formatMessage(m models.Message, local models.UserID, names func(models.UserID) string) string {
	who := "You"
	if m.SenderID != local {
		who = names(m.SenderID)
	}
	when := "unknown time"
	if !m.Timestamp.IsZero() {
		when = humanize.Time(m.Timestamp)
	}
	return fmt.Sprintf("[%s] %s: %s", when, who, m.Content)
}
