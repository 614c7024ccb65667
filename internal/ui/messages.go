package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/muesli/reflow/wordwrap"
	"github.com/saravenpi/wavechat/internal/conversation"
	"github.com/saravenpi/wavechat/internal/models"
	"github.com/saravenpi/wavechat/internal/transport"
)

type actionDoneMsg struct {
	action string
	err    error
}

type MessagesModel struct {
	env            *Env
	peer           models.Profile
	snap           conversation.Snapshot
	viewport       viewport.Model
	textarea       textarea.Model
	spinner        spinner.Model
	composing      bool
	editing        models.MessageID
	selected       models.MessageID
	busy           string
	queued         string
	err            error
	windowWidth    int
	windowHeight   int
	showUnreadOnly bool
}

// openThread opens the conversation with peer and returns its thread view.
// A non-empty first message is sent as soon as the history is in.
func openThread(env *Env, peer models.Profile, first string, showUnreadOnly bool, width, height int) (tea.Model, tea.Cmd) {
	env.Conversation.Open(peer.ID)
	m := NewMessagesModel(env, peer, showUnreadOnly)
	m.queued = strings.TrimSpace(first)
	next, cmd := sized(m, width, height)
	return next, tea.Batch(next.Init(), cmd)
}

func NewMessagesModel(env *Env, peer models.Profile, showUnreadOnly bool) MessagesModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = statusStyle

	vp := viewport.New(80, 20)

	ta := textarea.New()
	ta.Placeholder = "Type your message..."
	ta.CharLimit = 1000
	ta.SetHeight(3)
	ta.ShowLineNumbers = false

	return MessagesModel{
		env:            env,
		peer:           peer,
		snap:           env.Conversation.Snapshot(),
		viewport:       vp,
		textarea:       ta,
		spinner:        s,
		windowWidth:    80,
		windowHeight:   30,
		showUnreadOnly: showUnreadOnly,
	}
}

func (m MessagesModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// canPublish reports whether a send would reach the server right now.
func (m MessagesModel) canPublish() bool {
	return m.snap.State == conversation.Active && m.snap.Connection == transport.Connected
}

func (m MessagesModel) loading() bool {
	return m.snap.State == conversation.Loading && !m.snap.HistoryLoaded
}

func (m MessagesModel) sendCmd(content string) tea.Cmd {
	c := m.env.Conversation
	return func() tea.Msg {
		_, err := c.Send(content)
		return actionDoneMsg{action: "send", err: err}
	}
}

func (m MessagesModel) editCmd(id models.MessageID, content string) tea.Cmd {
	env := m.env
	return func() tea.Msg {
		ctx, cancel := env.context()
		defer cancel()
		return actionDoneMsg{action: "edit", err: env.Conversation.Edit(ctx, id, content)}
	}
}

func (m MessagesModel) deleteCmd(id models.MessageID) tea.Cmd {
	env := m.env
	return func() tea.Msg {
		ctx, cancel := env.context()
		defer cancel()
		return actionDoneMsg{action: "delete", err: env.Conversation.Delete(ctx, id)}
	}
}

func (m MessagesModel) retryCmd(id models.MessageID) tea.Cmd {
	c := m.env.Conversation
	return func() tea.Msg {
		return actionDoneMsg{action: "retry", err: c.Retry(id)}
	}
}

func (m MessagesModel) selectedMessage() (models.Message, bool) {
	for _, msg := range m.snap.Messages {
		if msg.ID == m.selected {
			return msg, true
		}
	}
	return models.Message{}, false
}

func (m MessagesModel) selectedIndex() int {
	for i, msg := range m.snap.Messages {
		if msg.ID == m.selected {
			return i
		}
	}
	return -1
}

// moveSelection moves the cursor by delta messages. With nothing selected
// the first move lands on the newest message.
func (m *MessagesModel) moveSelection(delta int) {
	n := len(m.snap.Messages)
	if n == 0 {
		return
	}
	i := m.selectedIndex()
	if i < 0 {
		i = n - 1
	} else {
		i += delta
	}
	if i < 0 {
		i = 0
	}
	if i >= n {
		i = n - 1
	}
	m.selected = m.snap.Messages[i].ID
}

func (m *MessagesModel) resize() {
	headerHeight := 4
	textareaHeight := 5
	helpHeight := 2
	availableHeight := m.windowHeight - headerHeight - helpHeight

	m.viewport.Width = m.windowWidth - 4
	m.viewport.Height = availableHeight
	if m.composing {
		m.viewport.Height = availableHeight - textareaHeight
		m.textarea.SetWidth(m.windowWidth - 4)
	}
	if m.viewport.Height < 3 {
		m.viewport.Height = 3
	}
}

func (m MessagesModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		m.resize()
		m.updateViewportContent(false)
		return m, nil

	case conversationUpdatedMsg:
		atBottom := m.viewport.AtBottom()
		prevLen := len(m.snap.Messages)
		m.snap = m.env.Conversation.Snapshot()
		if m.snap.Profile.FirstName != "" || m.snap.Profile.LastName != "" {
			m.peer = m.snap.Profile
		}
		if _, ok := m.selectedMessage(); !ok {
			m.selected = 0
		}
		m.updateViewportContent(atBottom || prevLen == 0)

		if m.queued != "" && m.canPublish() {
			content := m.queued
			m.queued = ""
			return m, m.sendCmd(content)
		}
		return m, nil

	case actionDoneMsg:
		m.busy = ""
		m.err = msg.err
		if msg.err == nil && msg.action == "edit" {
			m.editing = 0
		}
		return m, nil

	case spinner.TickMsg:
		if m.loading() || m.busy != "" {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

		if msg.String() == "esc" {
			if m.composing {
				m.composing = false
				m.editing = 0
				m.textarea.Reset()
				m.textarea.Blur()
				m.err = nil
				m.resize()
				return m, nil
			}
			if m.selected != 0 {
				m.selected = 0
				m.updateViewportContent(false)
				return m, nil
			}
			m.env.Conversation.Close()
			convModel, cmd := sized(NewConversationsModel(m.env, m.showUnreadOnly), m.windowWidth, m.windowHeight)
			return convModel, tea.Batch(convModel.Init(), cmd)
		}

		if m.composing {
			switch msg.String() {
			case "ctrl+s":
				text := strings.TrimSpace(m.textarea.Value())
				if text == "" {
					return m, nil
				}
				editing := m.editing
				m.composing = false
				m.editing = 0
				m.textarea.Reset()
				m.textarea.Blur()
				m.resize()
				if editing != 0 {
					m.busy = "Saving edit..."
					return m, tea.Batch(m.spinner.Tick, m.editCmd(editing, text))
				}
				m.selected = 0
				return m, m.sendCmd(text)
			default:
				var cmd tea.Cmd
				m.textarea, cmd = m.textarea.Update(msg)
				return m, cmd
			}
		}

		switch msg.String() {
		case "q":
			return m, tea.Quit

		case "ctrl+r":
			m.err = m.env.Conversation.Reconnect()
			return m, nil
		}

		if m.loading() {
			return m, nil
		}

		switch msg.String() {
		case "n", "c":
			if m.snap.State == conversation.Closed {
				return m, nil
			}
			m.composing = true
			m.editing = 0
			m.textarea.Reset()
			m.textarea.Focus()
			m.resize()
			return m, textarea.Blink

		case "up", "k":
			m.moveSelection(-1)
			m.updateViewportContent(false)
			return m, nil

		case "down", "j":
			m.moveSelection(1)
			m.updateViewportContent(false)
			return m, nil

		case "e":
			sel, ok := m.selectedMessage()
			if !ok {
				return m, nil
			}
			if err := m.editable(sel); err != nil {
				m.err = err
				return m, nil
			}
			m.composing = true
			m.editing = sel.ID
			m.textarea.SetValue(sel.Content)
			m.textarea.Focus()
			m.resize()
			return m, textarea.Blink

		case "d":
			sel, ok := m.selectedMessage()
			if !ok {
				return m, nil
			}
			if err := m.editable(sel); err != nil {
				m.err = err
				return m, nil
			}
			m.busy = "Deleting..."
			return m, tea.Batch(m.spinner.Tick, m.deleteCmd(sel.ID))

		case "r":
			sel, ok := m.selectedMessage()
			if !ok || sel.Status != models.StatusFailed {
				return m, nil
			}
			return m, m.retryCmd(sel.ID)

		case "x":
			sel, ok := m.selectedMessage()
			if !ok || !sel.Provisional || sel.Status != models.StatusFailed {
				return m, nil
			}
			m.err = m.env.Conversation.Discard(sel.ID)
			m.selected = 0
			return m, nil

		case "a":
			if m.env.Contacts == nil {
				return m, nil
			}
			form, cmd := sized(NewQuickContactFormModel(m), m.windowWidth, m.windowHeight)
			return form, tea.Batch(form.Init(), cmd)

		default:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}

	return m, nil
}

// editable mirrors the controller's rules so the view can refuse early
// with a readable reason.
func (m MessagesModel) editable(msg models.Message) error {
	switch {
	case msg.SenderID != m.env.Local:
		return conversation.ErrNotOwnMessage
	case msg.Provisional || msg.Status != models.StatusDelivered:
		return conversation.ErrNotConfirmed
	case m.snap.State != conversation.Active:
		return conversation.ErrNotActive
	}
	return nil
}

func statusMarker(msg models.Message) string {
	switch msg.Status {
	case models.StatusPending:
		return pendingStyle.Render("…")
	case models.StatusFailed:
		return failedStyle.Render("✗ failed")
	default:
		return deliveredStyle.Render("✓")
	}
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	if time.Since(t) < 24*time.Hour {
		return t.Local().Format("3:04 PM")
	}
	return humanize.Time(t)
}

func (m *MessagesModel) updateViewportContent(gotoBottom bool) {
	var content strings.Builder
	wrapWidth := m.viewport.Width
	if wrapWidth <= 0 {
		wrapWidth = 80
	}

	right := lipgloss.NewStyle().Align(lipgloss.Right).Width(wrapWidth)

	for i, message := range m.snap.Messages {
		if i > 0 {
			content.WriteString("\n")
		}

		cursor := "  "
		if message.ID == m.selected {
			cursor = selectedStyle.Render("▸ ")
		}
		timestamp := formatTimestamp(message.Timestamp)

		if message.SenderID == m.env.Local {
			header := messageHeaderStyle.Render(fmt.Sprintf("You • %s", timestamp)) + " " + statusMarker(message)
			content.WriteString(right.Render(cursor+header) + "\n")

			wrappedText := wordwrap.String(message.Content, wrapWidth-10)
			content.WriteString(right.Render(messageFromMeStyle.Render(wrappedText)) + "\n")
		} else {
			header := messageHeaderStyle.Render(fmt.Sprintf("%s • %s", m.env.displayName(m.peer), timestamp))
			content.WriteString(cursor + header + "\n")

			wrappedText := wordwrap.String(message.Content, wrapWidth-10)
			content.WriteString(messageFromOtherStyle.Render(wrappedText) + "\n")
		}
	}

	m.viewport.SetContent(content.String())
	if gotoBottom {
		m.viewport.GotoBottom()
	}
}

func (m MessagesModel) connectionLine() string {
	switch {
	case m.snap.Connection == transport.Connected:
		return connectedStyle.Render("● live")
	case m.snap.Connection == transport.Connecting:
		return disconnectedStyle.Render("○ connecting…")
	case m.snap.Reconnecting:
		return disconnectedStyle.Render("○ reconnecting…")
	default:
		return disconnectedStyle.Render("○ offline • ctrl+r: reconnect")
	}
}

func (m MessagesModel) View() string {
	if m.loading() && len(m.snap.Messages) == 0 {
		return fmt.Sprintf("\n  %s Loading messages with %s...\n", m.spinner.View(), m.env.displayName(m.peer))
	}

	s := titleStyle.Render(fmt.Sprintf("💬 %s", m.env.displayName(m.peer))) + "  " + m.connectionLine() + "\n"

	err := m.err
	if err == nil {
		err = m.snap.Err
	}
	if err != nil {
		s += errorStyle.Render(fmt.Sprintf("Error: %v", err)) + "\n"
	}

	if m.snap.State == conversation.Closed {
		s += "\n" + normalStyle.Render("  This conversation could not be loaded.") + "\n"
		s += "\n" + helpStyle.Render("esc: back • q: quit")
		return s
	}

	if m.busy != "" {
		s += fmt.Sprintf("  %s %s\n", m.spinner.View(), m.busy)
	}

	if len(m.snap.Messages) == 0 {
		s += "\n" + normalStyle.Render("  No messages yet. Press n to say hello.") + "\n"
	} else {
		s += m.viewport.View() + "\n"
	}

	if m.composing {
		label := "New Message:"
		if m.editing != 0 {
			label = "Edit Message:"
		}
		s += "\n" + inputStyle.Render(label) + "\n"
		s += m.textarea.View() + "\n"
		s += helpStyle.Render("ctrl+s: send • esc: cancel")
		return s
	}

	help := "↑↓/jk: select • n: new message • esc: back • q: quit"
	if m.env.Contacts != nil {
		help = "↑↓/jk: select • n: new message • a: save contact • esc: back • q: quit"
	}
	if sel, ok := m.selectedMessage(); ok {
		switch {
		case sel.Status == models.StatusFailed:
			help = "r: retry • x: discard • esc: deselect"
		case m.editable(sel) == nil:
			help = "e: edit • d: delete • esc: deselect"
		}
	}
	if m.snap.Connection == transport.Disconnected {
		help += " • ctrl+r: reconnect"
	}
	s += "\n" + helpStyle.Render(help)

	return s
}
