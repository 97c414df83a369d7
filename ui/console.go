package ui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/moapub/moa/activitypub"
	"github.com/moapub/moa/db"
	"github.com/moapub/moa/domain"
	"github.com/moapub/moa/ui/common"
	"github.com/moapub/moa/ui/compose"
	"github.com/moapub/moa/ui/followers"
	"github.com/moapub/moa/ui/following"
	"github.com/moapub/moa/ui/followuser"
	"github.com/moapub/moa/ui/header"
	"github.com/moapub/moa/ui/notes"
	"github.com/moapub/moa/ui/notifications"
	"github.com/moapub/moa/ui/stream"
	"github.com/moapub/moa/util"
	"github.com/muesli/termenv"
)

var (
	modelStyle = lipgloss.NewStyle().
			Align(lipgloss.Top, lipgloss.Top).
			BorderStyle(lipgloss.HiddenBorder()).MarginLeft(1)
	focusedModelStyle = lipgloss.NewStyle().
				Align(lipgloss.Top, lipgloss.Top).
				BorderStyle(lipgloss.NormalBorder()).
				BorderForeground(lipgloss.Color(common.COLOR_LIGHTBLUE)).MarginLeft(1)
)

type MainModel struct {
	width              int
	height             int
	state              common.SessionState
	store              *db.DB
	engine             *activitypub.Engine
	base               string
	headerModel        header.Model
	composeModel       compose.Model
	notesModel         notes.Model
	streamModel        stream.Model
	notificationsModel notifications.Model
	followModel        followuser.Model
	followersModel     followers.Model
	followingModel     following.Model
}

func NewModel(conf *util.AppConfig, store *db.DB, engine *activitypub.Engine, actor *domain.LocalActor, width int, height int) MainModel {

	width = common.DefaultWindowWidth(width)
	height = common.DefaultWindowHeight(height)
	base := conf.BaseIRI()

	m := MainModel{state: common.ComposeView}
	m.store = store
	m.engine = engine
	m.base = base
	m.headerModel = header.Model{Width: width, Actor: actor, Domain: conf.Conf.SslDomain}
	m.composeModel = compose.InitialModel(engine, base, width)
	m.notesModel = notes.InitialModel(store, engine, base, width, height)
	m.streamModel = stream.InitialModel(store, width, height)
	m.notificationsModel = notifications.InitialModel(store, base, width, height)
	m.followModel = followuser.InitialModel(store, engine, base)
	m.followersModel = followers.InitialModel(store, width, height)
	m.followingModel = following.InitialModel(store, engine, base, width, height)
	m.width = width
	m.height = height
	return m
}

func (m MainModel) Init() tea.Cmd {
	return tea.Batch(
		m.composeModel.Init(),
		m.followModel.Init(),
		m.notesModel.Init(),
	)
}

func (m MainModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.headerModel.Width = msg.Width
		return m, nil

	case common.SessionState:
		switch msg {
		case common.ComposeView, common.NotesView, common.StreamView,
			common.NotificationsView, common.FollowActorView,
			common.FollowersView, common.FollowingView:
			m.state = msg
		case common.ReloadNotes:
			m.notesModel = notes.InitialModel(m.store, m.engine, m.base, m.width, m.height)
			return m, m.notesModel.Init()
		}

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "tab":
			switch m.state {
			case common.ComposeView:
				m.state = common.NotesView
			case common.NotesView:
				m.state = common.StreamView
			case common.StreamView:
				m.state = common.NotificationsView
			case common.NotificationsView:
				m.state = common.FollowActorView
			case common.FollowActorView:
				m.state = common.FollowersView
			case common.FollowersView:
				m.state = common.FollowingView
			case common.FollowingView:
				m.state = common.ComposeView
			}
			cmds = append(cmds, m.viewInitCmd(m.state))
		case "shift+tab":
			switch m.state {
			case common.ComposeView:
				m.state = common.FollowingView
			case common.NotesView:
				m.state = common.ComposeView
			case common.StreamView:
				m.state = common.NotesView
			case common.NotificationsView:
				m.state = common.StreamView
			case common.FollowActorView:
				m.state = common.NotificationsView
			case common.FollowersView:
				m.state = common.FollowActorView
			case common.FollowingView:
				m.state = common.FollowersView
			}
			cmds = append(cmds, m.viewInitCmd(m.state))
		}
	}

	// Non-keyboard messages go to every sub-model so loaded data reaches
	// its destination; keyboard input goes to the focused view only.
	if _, isKeyMsg := msg.(tea.KeyMsg); !isKeyMsg {
		m.headerModel, _ = m.headerModel.Update(msg)
		m.composeModel, cmd = m.composeModel.Update(msg)
		cmds = append(cmds, cmd)
		m.notesModel, cmd = m.notesModel.Update(msg)
		cmds = append(cmds, cmd)
		m.streamModel, cmd = m.streamModel.Update(msg)
		cmds = append(cmds, cmd)
		m.notificationsModel, cmd = m.notificationsModel.Update(msg)
		cmds = append(cmds, cmd)
		m.followModel, cmd = m.followModel.Update(msg)
		cmds = append(cmds, cmd)
		m.followersModel, cmd = m.followersModel.Update(msg)
		cmds = append(cmds, cmd)
		m.followingModel, cmd = m.followingModel.Update(msg)
		cmds = append(cmds, cmd)
	}

	if _, ok := msg.(tea.KeyMsg); ok {
		switch m.state {
		case common.ComposeView:
			m.composeModel, cmd = m.composeModel.Update(msg)
		case common.NotesView:
			m.notesModel, cmd = m.notesModel.Update(msg)
		case common.StreamView:
			m.streamModel, cmd = m.streamModel.Update(msg)
		case common.NotificationsView:
			m.notificationsModel, cmd = m.notificationsModel.Update(msg)
		case common.FollowActorView:
			m.followModel, cmd = m.followModel.Update(msg)
		case common.FollowersView:
			m.followersModel, cmd = m.followersModel.Update(msg)
		case common.FollowingView:
			m.followingModel, cmd = m.followingModel.Update(msg)
		}
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m MainModel) View() string {

	var s string

	availableHeight := m.height - 10
	leftPanelWidth := m.width / 3
	rightPanelWidth := m.width - leftPanelWidth - 6

	leftPanel := lipgloss.NewStyle().
		MaxHeight(availableHeight).
		Height(availableHeight).
		Width(leftPanelWidth).
		MaxWidth(leftPanelWidth).
		Render(m.composeModel.View())

	rightPanel := lipgloss.NewStyle().
		MaxHeight(availableHeight).
		Height(availableHeight).
		Width(rightPanelWidth).
		MaxWidth(rightPanelWidth).
		Margin(1).
		Render(m.currentRightView())

	s += lipgloss.NewStyle().Render(m.headerModel.View()) + "\n"

	if m.state == common.ComposeView {
		s += lipgloss.JoinHorizontal(lipgloss.Top,
			focusedModelStyle.Render(leftPanel),
			modelStyle.Render(rightPanel))
	} else {
		s += lipgloss.JoinHorizontal(lipgloss.Top,
			modelStyle.Render(leftPanel),
			focusedModelStyle.Render(rightPanel))
	}

	var viewCommands string
	switch m.state {
	case common.NotesView:
		viewCommands = "↑/↓: select • d: delete"
	case common.NotificationsView:
		viewCommands = "↑/↓: scroll"
	case common.FollowActorView:
		viewCommands = "enter: follow • esc: clear"
	case common.FollowersView:
		viewCommands = "↑/↓: scroll"
	case common.FollowingView:
		viewCommands = "↑/↓: select • u/enter: unfollow"
	default:
		viewCommands = " "
	}

	s += common.HelpStyle.Render(fmt.Sprintf(
		"focused > %s\t\tkeys > tab: next • shift+tab: prev • %s • ctrl-c: exit",
		m.currentFocusedModel(), viewCommands))
	return lipgloss.NewStyle().Render(s)
}

// currentRightView picks what the right panel shows. Compose keeps the
// notes list visible so a fresh post shows up immediately.
func (m MainModel) currentRightView() string {
	switch m.state {
	case common.StreamView:
		return m.streamModel.View()
	case common.NotificationsView:
		return m.notificationsModel.View()
	case common.FollowActorView:
		return m.followModel.View()
	case common.FollowersView:
		return m.followersModel.View()
	case common.FollowingView:
		return m.followingModel.View()
	default:
		return m.notesModel.View()
	}
}

func (m MainModel) currentFocusedModel() string {
	switch m.state {
	case common.NotesView:
		return "my notes"
	case common.StreamView:
		return "stream"
	case common.NotificationsView:
		return "notifications"
	case common.FollowActorView:
		return "follow actor"
	case common.FollowersView:
		return "followers"
	case common.FollowingView:
		return "following"
	default:
		return "new note"
	}
}

// viewInitCmd returns the init command for a view to reload its data
func (m *MainModel) viewInitCmd(state common.SessionState) tea.Cmd {
	switch state {
	case common.NotesView:
		return m.notesModel.Init()
	case common.StreamView:
		return m.streamModel.Init()
	case common.NotificationsView:
		return m.notificationsModel.Init()
	case common.FollowersView:
		return m.followersModel.Init()
	case common.FollowingView:
		return m.followingModel.Init()
	default:
		return nil
	}
}

// RunConsole runs the operator console in the local terminal. It talks
// straight to the store and the engine; deliveries it causes are queued
// for the serving process to send.
func RunConsole(conf *util.AppConfig, store *db.DB, engine *activitypub.Engine, actor *domain.LocalActor) error {
	lipgloss.SetColorProfile(termenv.ANSI256)

	m := NewModel(conf, store, engine, actor, 120, 40)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
