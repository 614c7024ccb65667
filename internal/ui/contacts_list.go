package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/saravenpi/wavechat/internal/contacts"
	"github.com/saravenpi/wavechat/internal/models"
)

type contactItem struct {
	contact contacts.Contact
}

func (i contactItem) FilterValue() string { return i.contact.Name }
func (i contactItem) Title() string       { return i.contact.Name }
func (i contactItem) Description() string {
	ids := make([]string, 0, len(i.contact.UserIDs))
	for _, id := range i.contact.UserIDs {
		ids = append(ids, fmt.Sprintf("#%d", id))
	}
	desc := strings.Join(ids, ", ")
	if i.contact.Note != "" {
		desc += " • " + i.contact.Note
	}
	return desc
}

type contactsLoadedMsg struct {
	contacts []contacts.Contact
	err      error
}

type ContactsListModel struct {
	env             *Env
	list            list.Model
	contacts        []contacts.Contact
	loading         bool
	err             error
	windowWidth     int
	windowHeight    int
	confirmDelete   bool
	contactToDelete *contacts.Contact
}

// NewContactsListModel creates the address book view.
func NewContactsListModel(env *Env) ContactsListModel {
	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(lipgloss.Color("5")).
		Bold(true)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(lipgloss.Color("8"))

	l := list.New([]list.Item{}, delegate, 80, 20)
	l.Title = "Contacts"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.SetShowHelp(false)

	return ContactsListModel{
		env:          env,
		list:         l,
		loading:      true,
		windowWidth:  80,
		windowHeight: 30,
	}
}

func (m ContactsListModel) Init() tea.Cmd {
	return m.loadContactsCmd()
}

func (m ContactsListModel) loadContactsCmd() tea.Cmd {
	book := m.env.Contacts
	return func() tea.Msg {
		if book == nil {
			return contactsLoadedMsg{}
		}
		all, err := book.List()
		return contactsLoadedMsg{contacts: all, err: err}
	}
}

func (m ContactsListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		m.list.SetWidth(msg.Width)
		m.list.SetHeight(msg.Height - 4)
		return m, nil

	case contactsLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}

		m.err = nil
		m.contacts = msg.contacts
		items := make([]list.Item, len(m.contacts))
		for i, contact := range m.contacts {
			items[i] = contactItem{contact: contact}
		}
		m.list.SetItems(items)
		m.list.Title = fmt.Sprintf("Contacts - %d total", len(m.contacts))
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

		if m.confirmDelete {
			switch msg.String() {
			case "y", "Y":
				name := m.contactToDelete.Name
				m.confirmDelete = false
				m.contactToDelete = nil
				if err := m.env.Contacts.Delete(name); err != nil {
					m.err = err
					return m, nil
				}
				m.loading = true
				return m, m.loadContactsCmd()
			case "n", "N", "esc":
				m.confirmDelete = false
				m.contactToDelete = nil
			}
			return m, nil
		}

		if m.list.SettingFilter() {
			var cmd tea.Cmd
			m.list, cmd = m.list.Update(msg)
			return m, cmd
		}

		switch msg.String() {
		case "esc", "q":
			menuModel, cmd := sized(NewMenuModel(m.env), m.windowWidth, m.windowHeight)
			return menuModel, tea.Batch(menuModel.Init(), cmd)

		case "n", "a":
			formModel, cmd := sized(NewContactFormModel(m.env, nil), m.windowWidth, m.windowHeight)
			return formModel, tea.Batch(formModel.Init(), cmd)

		case "r":
			m.loading = true
			return m, m.loadContactsCmd()

		case "e":
			if item, ok := m.list.SelectedItem().(contactItem); ok {
				contact := item.contact
				formModel, cmd := sized(NewContactFormModel(m.env, &contact), m.windowWidth, m.windowHeight)
				return formModel, tea.Batch(formModel.Init(), cmd)
			}
			return m, nil

		case "enter":
			if item, ok := m.list.SelectedItem().(contactItem); ok && item.contact.Primary() != 0 {
				profile := models.Profile{ID: item.contact.Primary()}
				return openThread(m.env, profile, "", false, m.windowWidth, m.windowHeight)
			}
			return m, nil

		case "d", "delete":
			if item, ok := m.list.SelectedItem().(contactItem); ok {
				m.confirmDelete = true
				contactCopy := item.contact
				m.contactToDelete = &contactCopy
			}
			return m, nil
		}

		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m ContactsListModel) View() string {
	if m.confirmDelete && m.contactToDelete != nil {
		s := titleStyle.Render("Delete Contact") + "\n\n"
		s += normalStyle.Render(fmt.Sprintf("Are you sure you want to delete '%s'?", m.contactToDelete.Name)) + "\n\n"
		s += errorStyle.Render("This action cannot be undone.") + "\n\n"
		s += helpStyle.Render("y: confirm delete • n/esc: cancel")
		return s
	}

	if m.loading {
		return "\n  Loading contacts...\n"
	}

	if m.err != nil {
		s := titleStyle.Render("Contacts") + "\n\n"
		s += errorStyle.Render(fmt.Sprintf("Error: %v", m.err)) + "\n\n"
		s += helpStyle.Render("r: reload • esc: back to menu • q: quit")
		return s
	}

	if len(m.contacts) == 0 {
		s := titleStyle.Render("Contacts") + "\n\n"
		s += normalStyle.Render("  No contacts yet. Press 'n' to add one.") + "\n"
		s += "\n" + helpStyle.Render("n: new contact • esc: back • q: quit")
		return s
	}

	s := m.list.View() + "\n"
	s += helpStyle.Render("↑↓/jk: navigate • enter: chat • e: edit • n: new • d: delete • /: search • r: refresh • esc: back")

	return s
}
