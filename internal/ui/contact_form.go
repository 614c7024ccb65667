package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/saravenpi/wavechat/internal/contacts"
	"github.com/saravenpi/wavechat/internal/models"
)

type contactSavedMsg struct {
	err error
}

type ContactFormModel struct {
	env             *Env
	originalContact *contacts.Contact
	nameInput       textinput.Model
	idInputs        []textinput.Model
	noteInput       textinput.Model
	focusIndex      int
	err             error
	windowWidth     int
	windowHeight    int
}

// NewContactFormModel creates a form for adding or editing a contact.
func NewContactFormModel(env *Env, contact *contacts.Contact) ContactFormModel {
	nameInput := textinput.New()
	nameInput.Placeholder = "Contact Name"
	nameInput.Focus()
	nameInput.CharLimit = 100
	nameInput.Width = 50

	idInputs := make([]textinput.Model, 3)
	for i := range idInputs {
		idInputs[i] = textinput.New()
		idInputs[i].Placeholder = fmt.Sprintf("User id %d", i+1)
		if i > 0 {
			idInputs[i].Placeholder += " (optional)"
		}
		idInputs[i].CharLimit = 20
		idInputs[i].Width = 50
	}

	noteInput := textinput.New()
	noteInput.Placeholder = "Note (optional)"
	noteInput.CharLimit = 200
	noteInput.Width = 50

	m := ContactFormModel{
		env:             env,
		originalContact: contact,
		nameInput:       nameInput,
		idInputs:        idInputs,
		noteInput:       noteInput,
		windowWidth:     80,
		windowHeight:    30,
	}

	if contact != nil {
		m.nameInput.SetValue(contact.Name)
		for i, id := range contact.UserIDs {
			if i < len(m.idInputs) {
				m.idInputs[i].SetValue(fmt.Sprint(id))
			}
		}
		m.noteInput.SetValue(contact.Note)
	}

	return m
}

func (m ContactFormModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m ContactFormModel) totalInputs() int {
	return 2 + len(m.idInputs)
}

func (m ContactFormModel) backToList() (tea.Model, tea.Cmd) {
	contactsModel, cmd := sized(NewContactsListModel(m.env), m.windowWidth, m.windowHeight)
	return contactsModel, tea.Batch(contactsModel.Init(), cmd)
}

func (m ContactFormModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

		if msg.String() == "esc" {
			return m.backToList()
		}

		if msg.String() == "tab" || msg.String() == "shift+tab" || msg.String() == "down" || msg.String() == "up" {
			if msg.String() == "up" || msg.String() == "shift+tab" {
				m.focusIndex--
				if m.focusIndex < 0 {
					m.focusIndex = m.totalInputs() - 1
				}
			} else {
				m.focusIndex++
				if m.focusIndex >= m.totalInputs() {
					m.focusIndex = 0
				}
			}

			m.updateFocus()
			return m, nil
		}

		if msg.String() == "ctrl+s" {
			return m, m.saveContact()
		}

	case contactSavedMsg:
		if msg.err == nil {
			return m.backToList()
		}
		m.err = msg.err
		return m, nil
	}

	cmd := m.updateInputs(msg)
	return m, cmd
}

func (m *ContactFormModel) updateFocus() {
	m.nameInput.Blur()
	for i := range m.idInputs {
		m.idInputs[i].Blur()
	}
	m.noteInput.Blur()

	switch {
	case m.focusIndex == 0:
		m.nameInput.Focus()
	case m.focusIndex <= len(m.idInputs):
		m.idInputs[m.focusIndex-1].Focus()
	default:
		m.noteInput.Focus()
	}
}

func (m *ContactFormModel) updateInputs(msg tea.Msg) tea.Cmd {
	cmds := make([]tea.Cmd, 0, m.totalInputs())

	var cmd tea.Cmd
	m.nameInput, cmd = m.nameInput.Update(msg)
	cmds = append(cmds, cmd)

	for i := range m.idInputs {
		m.idInputs[i], cmd = m.idInputs[i].Update(msg)
		cmds = append(cmds, cmd)
	}

	m.noteInput, cmd = m.noteInput.Update(msg)
	cmds = append(cmds, cmd)

	return tea.Batch(cmds...)
}

// contact builds the contact from the form fields.
func (m ContactFormModel) contact() (contacts.Contact, error) {
	name := strings.TrimSpace(m.nameInput.Value())
	if name == "" {
		return contacts.Contact{}, fmt.Errorf("name is required")
	}

	c := contacts.Contact{Name: name, Note: strings.TrimSpace(m.noteInput.Value())}
	for _, input := range m.idInputs {
		raw := strings.TrimSpace(input.Value())
		if raw == "" {
			continue
		}
		id, err := models.ParseUserID(raw)
		if err != nil {
			return contacts.Contact{}, err
		}
		c.UserIDs = append(c.UserIDs, int64(id))
	}
	if len(c.UserIDs) == 0 {
		return contacts.Contact{}, fmt.Errorf("at least one user id is required")
	}
	return c, nil
}

func (m ContactFormModel) saveContact() tea.Cmd {
	contact, err := m.contact()
	book := m.env.Contacts
	original := m.originalContact
	return func() tea.Msg {
		if err != nil {
			return contactSavedMsg{err: err}
		}

		if original != nil && original.Name != contact.Name {
			if err := book.Delete(original.Name); err != nil {
				return contactSavedMsg{err: fmt.Errorf("failed to delete old contact: %w", err)}
			}
		}

		return contactSavedMsg{err: book.Save(contact)}
	}
}

func (m ContactFormModel) View() string {
	var b strings.Builder

	title := "Add Contact"
	if m.originalContact != nil {
		title = "Edit Contact"
	}

	b.WriteString(titleStyle.Render(title) + "\n\n")

	focusedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
	blurredStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	renderInput := func(input textinput.Model, label string, focused bool) {
		style := blurredStyle
		if focused {
			style = focusedStyle
		}
		b.WriteString(style.Render(label) + "\n")
		b.WriteString(input.View() + "\n\n")
	}

	renderInput(m.nameInput, "Name (required):", m.focusIndex == 0)

	b.WriteString(normalStyle.Render("User ids:") + "\n")
	for i, input := range m.idInputs {
		renderInput(input, fmt.Sprintf("  Id %d:", i+1), m.focusIndex == i+1)
	}

	renderInput(m.noteInput, "Note:", m.focusIndex == len(m.idInputs)+1)

	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)) + "\n\n")
	}

	b.WriteString(helpStyle.Render("tab/↑↓: navigate • ctrl+s: save • esc: cancel"))

	return b.String()
}
