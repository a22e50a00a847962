package tui

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jpalmerr/zync/internal/poller"
)

// Actions are the player operations the view triggers.
type Actions interface {
	Open(ctx context.Context)
	Refresh()
	Deploy(ctx context.Context) error
	Extend(ctx context.Context) error
	Terminate(ctx context.Context) error
}

// actionDoneMsg reports the end of an action started from a key.
type actionDoneMsg struct {
	name string
	err  error
}

// openedMsg reports that the first status was rendered.
type openedMsg struct{}

// Model is the root Bubble Tea model of the watch view.
type Model struct {
	ctx     context.Context
	title   string
	actions Actions
	keys    KeyMap
	width   int

	opened   bool
	loading  bool
	outcome  poller.Outcome
	rendered bool
	timeLeft string

	// busy is the running action, "" when idle
	busy   string
	notice string
}

// New creates the model. ctx bounds the session and the actions.
func New(ctx context.Context, title string, actions Actions) Model {
	return Model{
		ctx:     ctx,
		title:   title,
		actions: actions,
		keys:    DefaultKeyMap(),
		loading: true,
	}
}

// Init opens the watcher.
func (m Model) Init() tea.Cmd {
	return func() tea.Msg {
		m.actions.Open(m.ctx)
		return openedMsg{}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case openedMsg:
		m.opened = true
		return m, nil

	case loadingMsg:
		m.loading = true
		return m, nil

	case outcomeMsg:
		m.loading = false
		m.outcome = msg.outcome
		m.rendered = true
		m.timeLeft = ""
		return m, nil

	case timeLeftMsg:
		m.timeLeft = msg.remaining
		return m, nil

	case actionDoneMsg:
		m.busy = ""
		if msg.err != nil {
			m.notice = msg.name + " failed: " + msg.err.Error()
		}
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		return m, tea.Quit
	}
	if !m.opened || m.busy != "" {
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Deploy) && m.canDeploy():
		return m.run("deploy", m.actions.Deploy)
	case key.Matches(msg, m.keys.Extend) && m.canExtend():
		return m.run("extend", m.actions.Extend)
	case key.Matches(msg, m.keys.Terminate) && m.canTerminate():
		return m.run("terminate", m.actions.Terminate)
	case key.Matches(msg, m.keys.Refresh):
		m.notice = ""
		actions := m.actions
		return m, func() tea.Msg {
			actions.Refresh()
			return nil
		}
	}
	return m, nil
}

func (m Model) run(name string, action func(context.Context) error) (tea.Model, tea.Cmd) {
	m.busy = name
	m.notice = ""
	ctx := m.ctx
	return m, func() tea.Msg {
		err := action(ctx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		return actionDoneMsg{name: name, err: err}
	}
}

func (m Model) canDeploy() bool {
	if !m.rendered {
		return false
	}
	switch m.outcome.Kind {
	case poller.KindNotDeployed, poller.KindError:
		return true
	}
	return false
}

func (m Model) canExtend() bool {
	return m.rendered && m.outcome.Kind == poller.KindRunning && m.outcome.Snapshot.CanExtend()
}

func (m Model) canTerminate() bool {
	if !m.rendered {
		return false
	}
	switch m.outcome.Kind {
	case poller.KindRunning, poller.KindError:
		return m.outcome.Snapshot.CanDelete()
	}
	return false
}

// View renders the model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n")

	var body []string
	switch {
	case !m.rendered:
		body = append(body, labelStyle.Render("Loading..."))
	default:
		status := lipgloss.NewStyle().Bold(true).Foreground(kindColor(m.outcome.Kind)).Render(Label(m.outcome.Kind))
		if m.loading {
			status += labelStyle.Render("  refreshing")
		}
		body = append(body, status)

		snap := m.outcome.Snapshot
		if m.outcome.Kind == poller.KindRunning {
			if snap.ConnectionInfo != "" {
				body = append(body, labelStyle.Render("connect  ")+snap.ConnectionInfo)
			}
			if m.timeLeft != "" {
				body = append(body, labelStyle.Render("time     ")+m.timeLeft)
			}
			if snap.ExtensionsLeft != nil && *snap.ExtensionsLeft >= 0 {
				body = append(body, labelStyle.Render("extend   ")+pluralize(*snap.ExtensionsLeft, "extension")+" left, "+snap.ExtensionTime+" each")
			}
		}
		if m.outcome.Message != "" {
			body = append(body, noticeStyle.Render(m.outcome.Message))
		}
	}
	if m.busy != "" {
		body = append(body, labelStyle.Render(m.busy+"..."))
	}
	if m.notice != "" {
		body = append(body, noticeStyle.Render(m.notice))
	}

	box := boxStyle
	if m.width > 4 {
		box = box.Width(m.width - 2)
	}
	b.WriteString(box.Render(strings.Join(body, "\n")))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(m.help()))
	return b.String()
}

func (m Model) help() string {
	var parts []string
	add := func(b key.Binding) {
		h := b.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	if m.canDeploy() {
		add(m.keys.Deploy)
	}
	if m.canExtend() {
		add(m.keys.Extend)
	}
	if m.canTerminate() {
		add(m.keys.Terminate)
	}
	add(m.keys.Refresh)
	add(m.keys.Quit)
	return strings.Join(parts, "  ")
}

func pluralize(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return strconv.Itoa(n) + " " + word + "s"
}
