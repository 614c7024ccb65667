package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/saravenpi/wavechat/internal/contacts"
)

type quickContactSavedMsg struct {
	err error
}

// QuickContactFormModel saves the peer of an open thread as a contact and
// returns to that thread. The conversation stays open meanwhile.
type QuickContactFormModel struct {
	thread       MessagesModel
	nameInput    textinput.Model
	err          error
	windowWidth  int
	windowHeight int
}

func NewQuickContactFormModel(thread MessagesModel) QuickContactFormModel {
	nameInput := textinput.New()
	nameInput.Placeholder = "Contact Name"
	nameInput.Focus()
	nameInput.CharLimit = 100
	nameInput.Width = 50
	nameInput.SetValue(thread.env.displayName(thread.peer))

	return QuickContactFormModel{
		thread:       thread,
		nameInput:    nameInput,
		windowWidth:  thread.windowWidth,
		windowHeight: thread.windowHeight,
	}
}

func (m QuickContactFormModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m QuickContactFormModel) back() (tea.Model, tea.Cmd) {
	thread, cmd := sized(m.thread, m.windowWidth, m.windowHeight)
	return thread, cmd
}

func (m QuickContactFormModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		return m, nil

	case conversationUpdatedMsg:
		// Keep the thread current underneath the form.
		next, cmd := m.thread.Update(msg)
		m.thread = next.(MessagesModel)
		return m, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

		if msg.String() == "esc" {
			return m.back()
		}

		if msg.String() == "enter" || msg.String() == "ctrl+s" {
			return m, m.saveContact()
		}

	case quickContactSavedMsg:
		if msg.err == nil {
			return m.back()
		}
		m.err = msg.err
		return m, nil
	}

	var cmd tea.Cmd
	m.nameInput, cmd = m.nameInput.Update(msg)
	return m, cmd
}

func (m QuickContactFormModel) saveContact() tea.Cmd {
	book := m.thread.env.Contacts
	name := strings.TrimSpace(m.nameInput.Value())
	peer := m.thread.peer.ID
	return func() tea.Msg {
		if name == "" {
			return quickContactSavedMsg{err: fmt.Errorf("name is required")}
		}
		contact := contacts.Contact{Name: name, UserIDs: []int64{int64(peer)}}
		return quickContactSavedMsg{err: book.Save(contact)}
	}
}

func (m QuickContactFormModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Add Contact") + "\n\n")
	b.WriteString(normalStyle.Render(fmt.Sprintf("User id: %d", m.thread.peer.ID)) + "\n\n")

	focusedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
	b.WriteString(focusedStyle.Render("Name:") + "\n")
	b.WriteString(m.nameInput.View() + "\n\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)) + "\n\n")
	}

	b.WriteString(helpStyle.Render("enter/ctrl+s: save • esc: cancel"))

	return b.String()
}
