package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// App is the program root. Views replace each other by returning a new
// model from Update; App keeps whichever is current and owns the single
// subscription to controller updates.
type App struct {
	env   *Env
	child tea.Model
}

func NewApp(env *Env) App {
	return App{env: env, child: NewMenuModel(env)}
}

func (a App) Init() tea.Cmd {
	return tea.Batch(a.child.Init(), waitForUpdate(a.env.Conversation))
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	a.child, cmd = a.child.Update(msg)

	if _, ok := msg.(conversationUpdatedMsg); ok {
		return a, tea.Batch(cmd, waitForUpdate(a.env.Conversation))
	}
	return a, cmd
}

func (a App) View() string {
	return a.child.View()
}
