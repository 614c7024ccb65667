package ui

import (
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/saravenpi/wavechat/internal/models"
)

type NewConversationModel struct {
	env            *Env
	recipientInput textinput.Model
	messageInput   textinput.Model
	focusIndex     int
	windowWidth    int
	windowHeight   int
	showUnreadOnly bool
	err            error
}

func NewNewConversationModel(env *Env, showUnreadOnly bool) NewConversationModel {
	recipientInput := textinput.New()
	recipientInput.Placeholder = "User id (e.g. 42)"
	recipientInput.Focus()
	recipientInput.CharLimit = 20
	recipientInput.Width = 60

	messageInput := textinput.New()
	messageInput.Placeholder = "First message (optional)"
	messageInput.CharLimit = 1000
	messageInput.Width = 60

	return NewConversationModel{
		env:            env,
		recipientInput: recipientInput,
		messageInput:   messageInput,
		showUnreadOnly: showUnreadOnly,
	}
}

func (m NewConversationModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m NewConversationModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		m.recipientInput.Width = msg.Width - 20
		m.messageInput.Width = msg.Width - 20
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "esc":
			convModel, cmd := sized(NewConversationsModel(m.env, m.showUnreadOnly), m.windowWidth, m.windowHeight)
			return convModel, tea.Batch(convModel.Init(), cmd)

		case "tab", "shift+tab":
			if msg.String() == "tab" {
				m.focusIndex = (m.focusIndex + 1) % 2
			} else {
				m.focusIndex = (m.focusIndex - 1 + 2) % 2
			}

			if m.focusIndex == 0 {
				m.recipientInput.Focus()
				m.messageInput.Blur()
			} else {
				m.recipientInput.Blur()
				m.messageInput.Focus()
			}
			return m, nil

		case "enter":
			if m.recipientInput.Value() == "" {
				m.err = nil
				return m, nil
			}

			peer, err := models.ParseUserID(m.recipientInput.Value())
			if err != nil {
				m.err = err
				return m, nil
			}
			if peer == m.env.Local {
				m.err = errSelfConversation
				return m, nil
			}

			return openThread(m.env, models.Profile{ID: peer}, m.messageInput.Value(), m.showUnreadOnly, m.windowWidth, m.windowHeight)
		}
	}

	var cmd tea.Cmd
	if m.focusIndex == 0 {
		m.recipientInput, cmd = m.recipientInput.Update(msg)
	} else {
		m.messageInput, cmd = m.messageInput.Update(msg)
	}
	return m, cmd
}

func (m NewConversationModel) View() string {
	style := lipgloss.NewStyle().
		Padding(1, 2).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("5"))

	title := titleStyle.Render("New Conversation")

	recipientLabel := "User id:"
	if m.focusIndex == 0 {
		recipientLabel = "> " + recipientLabel
	} else {
		recipientLabel = "  " + recipientLabel
	}

	messageLabel := "Message:"
	if m.focusIndex == 1 {
		messageLabel = "> " + messageLabel
	} else {
		messageLabel = "  " + messageLabel
	}

	content := title + "\n\n"
	content += style.Render(
		recipientLabel + "\n" +
			m.recipientInput.View() + "\n\n" +
			messageLabel + "\n" +
			m.messageInput.View(),
	)

	if m.err != nil {
		content += "\n\n" + errorStyle.Render("Error: "+m.err.Error())
	}

	content += "\n\n" + helpStyle.Render("tab: switch field • enter: open • esc: back • ctrl+c: quit")

	return content
}
