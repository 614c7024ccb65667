package ui

import (
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	menuConversations   = "💬 Conversations"
	menuUnread          = "🔔 Unread"
	menuNewConversation = "✏️  New conversation"
	menuContacts        = "📇 Contacts"
)

type menuItem struct {
	title string
	desc  string
}

func (i menuItem) FilterValue() string { return i.title }
func (i menuItem) Title() string       { return i.title }
func (i menuItem) Description() string { return i.desc }

type MenuModel struct {
	env          *Env
	list         list.Model
	windowWidth  int
	windowHeight int
}

// NewMenuModel creates the main menu.
func NewMenuModel(env *Env) MenuModel {
	items := []list.Item{
		menuItem{title: menuConversations, desc: "Everyone you can talk to"},
		menuItem{title: menuUnread, desc: "Only people with unread messages"},
		menuItem{title: menuNewConversation, desc: "Start a conversation by user id"},
	}
	if env.Contacts != nil {
		items = append(items, menuItem{title: menuContacts, desc: "Nicknames for the people you talk to"})
	}

	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(lipgloss.Color("5")).
		Bold(true)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(lipgloss.Color("8"))

	l := list.New(items, delegate, 80, 14)
	l.Title = "Wavechat"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)

	return MenuModel{
		env:          env,
		list:         l,
		windowWidth:  80,
		windowHeight: 30,
	}
}

func (m MenuModel) Init() tea.Cmd {
	return nil
}

func (m MenuModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		m.list.SetWidth(msg.Width)
		m.list.SetHeight(msg.Height - 4)
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}

		if msg.String() == "enter" {
			selectedItem, ok := m.list.SelectedItem().(menuItem)
			if !ok {
				return m, nil
			}

			var next tea.Model
			switch selectedItem.title {
			case menuConversations:
				next = NewConversationsModel(m.env, false)
			case menuUnread:
				next = NewConversationsModel(m.env, true)
			case menuNewConversation:
				next = NewNewConversationModel(m.env, false)
			case menuContacts:
				next = NewContactsListModel(m.env)
			default:
				return m, nil
			}
			next, cmd := sized(next, m.windowWidth, m.windowHeight)
			return next, tea.Batch(next.Init(), cmd)
		}

		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m MenuModel) View() string {
	s := m.list.View() + "\n"
	s += helpStyle.Render("↑↓/jk: navigate • enter: select • q: quit")
	return s
}
