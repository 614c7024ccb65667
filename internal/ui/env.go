package ui

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/saravenpi/wavechat/internal/contacts"
	"github.com/saravenpi/wavechat/internal/conversation"
	"github.com/saravenpi/wavechat/internal/models"
)

// Conversation is the part of the conversation controller the views drive.
type Conversation interface {
	Open(peer models.UserID)
	Close()
	Send(content string) (models.MessageID, error)
	Retry(id models.MessageID) error
	Discard(id models.MessageID) error
	Edit(ctx context.Context, id models.MessageID, content string) error
	Delete(ctx context.Context, id models.MessageID) error
	Reconnect() error
	ClearError()
	Snapshot() conversation.Snapshot
	Updates() <-chan struct{}
}

type UnreadSource interface {
	FetchUnreadCounts(ctx context.Context, local models.UserID) (map[models.UserID]int, error)
}

type UserDirectory interface {
	ListUsers(ctx context.Context) (users []models.Profile, stale bool, err error)
}

// ContactBook is the local address book. Nil disables contacts.
type ContactBook interface {
	List() ([]contacts.Contact, error)
	Save(c contacts.Contact) error
	Delete(name string) error
	Name(user models.UserID) string
}

// Env carries the session-wide collaborators every view needs.
type Env struct {
	Local        models.UserID
	Conversation Conversation
	Unread       UnreadSource
	Users        UserDirectory
	Contacts     ContactBook
	// Timeout bounds each REST call started from the UI.
	Timeout time.Duration
}

func (e *Env) context() (context.Context, context.CancelFunc) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

// nickname returns the address book name for user, or "".
func (e *Env) nickname(user models.UserID) string {
	if e.Contacts == nil {
		return ""
	}
	return e.Contacts.Name(user)
}

// displayName prefers the address book over the server profile.
func (e *Env) displayName(p models.Profile) string {
	if name := e.nickname(p.ID); name != "" {
		return name
	}
	return p.DisplayName()
}

var errSelfConversation = errors.New("you cannot start a conversation with yourself")

type conversationUpdatedMsg struct{}

// waitForUpdate blocks until the controller signals a change. App re-arms
// it after every signal.
func waitForUpdate(c Conversation) tea.Cmd {
	return func() tea.Msg {
		<-c.Updates()
		return conversationUpdatedMsg{}
	}
}

// sized replays the last window size into a freshly built model so it does
// not render at the default size until the next resize.
func sized(m tea.Model, width, height int) (tea.Model, tea.Cmd) {
	if width <= 0 {
		return m, nil
	}
	return m.Update(tea.WindowSizeMsg{Width: width, Height: height})
}
