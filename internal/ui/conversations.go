package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/saravenpi/wavechat/internal/models"
)

type peerItem struct {
	profile  models.Profile
	nickname string
	unread   int
}

func (i peerItem) name() string {
	if i.nickname != "" {
		return i.nickname
	}
	return i.profile.DisplayName()
}

type peersFetchedMsg struct {
	users  []models.Profile
	unread map[models.UserID]int
	stale  bool
	err    error
}

func (i peerItem) Title() string {
	title := i.name()
	if i.unread > 0 {
		title += " " + badgeStyle.Render(humanize.Comma(int64(i.unread)))
	}
	return title
}

func (i peerItem) Description() string {
	desc := fmt.Sprintf("#%d", i.profile.ID)
	if i.nickname != "" {
		desc += " • " + i.profile.DisplayName()
	}
	if i.unread > 0 {
		desc += fmt.Sprintf(" • %s unread", humanize.Comma(int64(i.unread)))
	}
	return desc
}

func (i peerItem) FilterValue() string {
	return i.name() + " " + i.profile.DisplayName()
}

type ConversationsModel struct {
	env            *Env
	users          []models.Profile
	unread         map[models.UserID]int
	list           list.Model
	loading        bool
	stale          bool
	err            error
	spinner        spinner.Model
	windowWidth    int
	windowHeight   int
	showUnreadOnly bool
}

func NewConversationsModel(env *Env, showUnreadOnly bool) ConversationsModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = statusStyle

	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(lipgloss.Color("5")).
		Bold(true)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(lipgloss.Color("8"))

	l := list.New([]list.Item{}, delegate, 80, 20)
	l.Title = "Conversations"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.SetShowHelp(false)

	return ConversationsModel{
		env:            env,
		list:           l,
		loading:        true,
		spinner:        s,
		windowWidth:    80,
		windowHeight:   30,
		showUnreadOnly: showUnreadOnly,
	}
}

func (m ConversationsModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetchPeersCmd())
}

func (m ConversationsModel) fetchPeersCmd() tea.Cmd {
	env := m.env
	return func() tea.Msg {
		ctx, cancel := env.context()
		defer cancel()

		users, stale, err := env.Users.ListUsers(ctx)
		if err != nil {
			return peersFetchedMsg{err: err}
		}

		// Unread counts are a nicety; the list still works without them.
		unread, err := env.Unread.FetchUnreadCounts(ctx, env.Local)
		if err != nil {
			unread = map[models.UserID]int{}
		}
		return peersFetchedMsg{users: users, unread: unread, stale: stale}
	}
}

// liveUnread merges the fetched counts with the tallies the controller kept
// while a conversation was open. The server may already include those, so
// the larger number wins.
func (m ConversationsModel) liveUnread() map[models.UserID]int {
	merged := make(map[models.UserID]int, len(m.unread))
	for peer, n := range m.unread {
		merged[peer] = n
	}
	for peer, n := range m.env.Conversation.Snapshot().Unread {
		if n > merged[peer] {
			merged[peer] = n
		}
	}
	return merged
}

func (m *ConversationsModel) rebuild() {
	unread := m.liveUnread()

	items := make([]list.Item, 0, len(m.users))
	for _, u := range m.users {
		if u.ID == m.env.Local {
			continue
		}
		if m.showUnreadOnly && unread[u.ID] == 0 {
			continue
		}
		items = append(items, peerItem{profile: u, nickname: m.env.nickname(u.ID), unread: unread[u.ID]})
	}

	// People with unread messages first, then by name.
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].(peerItem), items[j].(peerItem)
		if (a.unread > 0) != (b.unread > 0) {
			return a.unread > 0
		}
		return strings.ToLower(a.name()) < strings.ToLower(b.name())
	})

	m.list.SetItems(items)
	title := "Conversations"
	if m.showUnreadOnly {
		title = "Unread"
	}
	m.list.Title = fmt.Sprintf("%s - %d people", title, len(items))
	if m.stale {
		m.list.Title += " (offline)"
	}
}

func (m ConversationsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		m.list.SetWidth(msg.Width)
		m.list.SetHeight(msg.Height - 4)
		return m, nil

	case peersFetchedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}

		m.err = nil
		m.users = msg.users
		m.unread = msg.unread
		m.stale = msg.stale
		m.rebuild()
		return m, nil

	case conversationUpdatedMsg:
		if !m.loading && m.err == nil && !m.list.SettingFilter() {
			m.rebuild()
		}
		return m, nil

	case spinner.TickMsg:
		if m.loading {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		if m.list.SettingFilter() {
			var cmd tea.Cmd
			m.list, cmd = m.list.Update(msg)
			return m, cmd
		}

		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

		if msg.String() == "esc" {
			menuModel, cmd := sized(NewMenuModel(m.env), m.windowWidth, m.windowHeight)
			return menuModel, tea.Batch(menuModel.Init(), cmd)
		}

		if msg.String() == "r" && !m.loading {
			m.loading = true
			return m, tea.Batch(m.spinner.Tick, m.fetchPeersCmd())
		}

		if msg.String() == "u" && !m.loading {
			m.showUnreadOnly = !m.showUnreadOnly
			m.rebuild()
			return m, nil
		}

		if msg.String() == "n" {
			newModel, cmd := sized(NewNewConversationModel(m.env, m.showUnreadOnly), m.windowWidth, m.windowHeight)
			return newModel, tea.Batch(newModel.Init(), cmd)
		}

		if msg.String() == "enter" && !m.loading {
			if item, ok := m.list.SelectedItem().(peerItem); ok {
				return openThread(m.env, item.profile, "", m.showUnreadOnly, m.windowWidth, m.windowHeight)
			}
		}

		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m ConversationsModel) View() string {
	if m.loading {
		return fmt.Sprintf("\n  %s Loading conversations...\n", m.spinner.View())
	}

	if m.err != nil {
		s := titleStyle.Render("Conversations") + "\n\n"
		s += errorStyle.Render(fmt.Sprintf("Error: %v", m.err)) + "\n\n"
		s += helpStyle.Render("Check server_url and your session in ~/.wavechat/config.yml") + "\n"
		s += helpStyle.Render("r: retry • esc: back • q: quit")
		return s
	}

	if len(m.list.Items()) == 0 {
		s := titleStyle.Render(m.list.Title) + "\n\n"
		if m.showUnreadOnly {
			s += normalStyle.Render("  Nothing unread.") + "\n"
		} else {
			s += normalStyle.Render("  No one to talk to yet.") + "\n"
		}
		s += "\n" + helpStyle.Render("r: refresh • u: toggle unread • n: new • esc: back • q: quit")
		return s
	}

	s := m.list.View() + "\n"
	s += helpStyle.Render("↑↓/jk: navigate • enter: open • /: search • u: toggle unread • n: new • r: refresh • esc: back • q: quit")

	return s
}
