// Package notify raises desktop notifications for messages that arrive in
// conversations other than the open one.
package notify

import (
	"fmt"
	"strings"

	"github.com/gen2brain/beeep"
	"github.com/rs/zerolog"
	"github.com/saravenpi/wavechat/internal/logging"
	"github.com/saravenpi/wavechat/internal/models"
)

const maxBody = 100

// Namer resolves a user id to a display name. An empty result falls back
// to the numeric id.
type Namer interface {
	Name(user models.UserID) string
}

type Notifier struct {
	names Namer
	send  func(title, body string) error
	log   zerolog.Logger
}

func New(names Namer) *Notifier {
	return &Notifier{
		names: names,
		send:  desktop,
		log:   logging.Component("notify"),
	}
}

// MessageReceived notifies about msg. Failures are logged, never returned:
// a missing notification daemon must not disturb the conversation.
func (n *Notifier) MessageReceived(msg models.Message) {
	title := ""
	if n.names != nil {
		title = n.names.Name(msg.SenderID)
	}
	if title == "" {
		title = fmt.Sprintf("User %d", msg.SenderID)
	}

	if err := n.send(title, truncate(msg.Content, maxBody)); err != nil {
		n.log.Warn().Err(err).Msg("Failed to send notification")
	}
}

func desktop(title, body string) error {
	return beeep.Notify(title, body, "")
}

func truncate(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-1]) + "…"
}
