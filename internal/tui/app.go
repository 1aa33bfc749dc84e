package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/lotas/ragex/internal/applog"
	"github.com/lotas/ragex/internal/panel"
	"github.com/lotas/ragex/internal/server"
)

// chrome is the number of lines around the chat viewport: tab strip,
// status bar, alert, input and help.
const chrome = 5

// --- Messages ---

// RefreshMsg asks the model to redraw from the store. Send it from the
// store's change hook.
type RefreshMsg struct{}

// StatusMsg shows a transient line in the alert slot.
type StatusMsg string

type connectDoneMsg struct{ err error }
type sendDoneMsg struct{ err error }
type storeDoneMsg struct{ err error }
type wsEventMsg struct{ msg server.IncomingMsg }

// --- Command helpers ---

func connectCmd(ctrl *panel.Controller) tea.Cmd {
	return func() tea.Msg {
		return connectDoneMsg{err: ctrl.Connect(context.Background())}
	}
}

func sendCmd(ctrl *panel.Controller, text string) tea.Cmd {
	return func() tea.Msg {
		return sendDoneMsg{err: ctrl.Send(context.Background(), text)}
	}
}

func storeCmd(f func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		return storeDoneMsg{err: f(context.Background())}
	}
}

func listenWebSocket(srv *server.Server) tea.Cmd {
	if srv == nil {
		return nil
	}
	return func() tea.Msg {
		return wsEventMsg{msg: <-srv.Messages()}
	}
}

// --- Model ---

type Model struct {
	ctrl     *panel.Controller
	server   *server.Server
	copyText func(string) error

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	view       panel.View
	content    string
	alert      string
	currentTab string
	width      int
	height     int
}

// NewModel builds the panel UI. srv may be nil when the active tab comes
// from somewhere other than the extension.
func NewModel(ctrl *panel.Controller, srv *server.Server) Model {
	in := textinput.New()
	in.Prompt = "> "
	in.CharLimit = 2000

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		ctrl:     ctrl,
		server:   srv,
		copyText: clipboard.WriteAll,
		input:    in,
		viewport: viewport.New(80, 20),
		spinner:  sp,
	}
	m.refresh()
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, listenWebSocket(m.server))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-chrome, 3)
		m.input.Width = max(msg.Width-4, 10)
		m.content = ""

	case tea.KeyMsg:
		cmd, handled := m.handleKey(msg)
		if cmd != nil {
			cmds = append(cmds, cmd)
		}
		if !handled && m.view.InputEnabled {
			var c tea.Cmd
			m.input, c = m.input.Update(msg)
			cmds = append(cmds, c)
		}

	case connectDoneMsg:
		if msg.err != nil {
			m.alert = msg.err.Error()
		} else {
			m.alert = ""
		}

	case sendDoneMsg:
		// Query failures are shown inline as notices.
		if errors.Is(msg.err, panel.ErrBusy) || errors.Is(msg.err, panel.ErrNotConnected) {
			m.alert = msg.err.Error()
		}

	case storeDoneMsg:
		if msg.err != nil {
			m.alert = msg.err.Error()
		}

	case StatusMsg:
		m.alert = string(msg)

	case wsEventMsg:
		m.handleEvent(msg.msg)
		cmds = append(cmds, listenWebSocket(m.server))

	case spinner.TickMsg:
		var c tea.Cmd
		m.spinner, c = m.spinner.Update(msg)
		cmds = append(cmds, c)

	case RefreshMsg:

	default:
		var c tea.Cmd
		m.input, c = m.input.Update(msg)
		cmds = append(cmds, c)
	}

	m.refresh()
	return m, tea.Batch(cmds...)
}

// handleKey runs panel keys. It reports false for keys meant for the input.
func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	store := m.ctrl.Store()
	switch key := msg.String(); key {
	case "ctrl+c", "ctrl+q":
		return tea.Quit, true
	case "esc":
		m.alert = ""
		return nil, true
	case "ctrl+t":
		return storeCmd(func(ctx context.Context) error {
			_, err := store.Create(ctx)
			return err
		}), true
	case "ctrl+w":
		id := m.activeID()
		return storeCmd(func(ctx context.Context) error { return store.Close(ctx, id) }), true
	case "ctrl+right", "alt+right":
		return m.switchBy(1), true
	case "ctrl+left", "alt+left":
		return m.switchBy(-1), true
	case "ctrl+r":
		m.alert = ""
		return connectCmd(m.ctrl), true
	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if text == "" || !m.view.InputEnabled {
			return nil, true
		}
		m.input.Reset()
		m.alert = ""
		return sendCmd(m.ctrl, text), true
	case "ctrl+y":
		answer := lastAnswer(m.view)
		if answer == "" {
			return nil, true
		}
		if err := m.copyText(answer); err != nil {
			applog.Error("tui.copy", err)
			m.alert = "copy failed: " + err.Error()
		} else {
			m.alert = "Copied last answer"
		}
		return nil, true
	case "pgup", "pgdown", "ctrl+u", "ctrl+d":
		var c tea.Cmd
		m.viewport, c = m.viewport.Update(msg)
		return c, true
	case "alt+1", "alt+2", "alt+3", "alt+4", "alt+5", "alt+6", "alt+7", "alt+8", "alt+9":
		n := int(key[len(key)-1] - '1')
		suggestions := lastSuggestions(m.view)
		if n >= len(suggestions) || !m.view.InputEnabled {
			return nil, true
		}
		m.alert = ""
		return sendCmd(m.ctrl, suggestions[n]), true
	}
	return nil, false
}

func (m *Model) activeID() string {
	for _, t := range m.view.Tabs {
		if t.Active {
			return t.ID
		}
	}
	return ""
}

func (m *Model) switchBy(delta int) tea.Cmd {
	var ids []string
	cur := 0
	for _, t := range m.view.Tabs {
		if t.Add {
			continue
		}
		if t.Active {
			cur = len(ids)
		}
		ids = append(ids, t.ID)
	}
	if len(ids) < 2 {
		return nil
	}
	next := ids[(cur+delta+len(ids))%len(ids)]
	store := m.ctrl.Store()
	return storeCmd(func(ctx context.Context) error { return store.SwitchTo(ctx, next) })
}

func (m *Model) handleEvent(msg server.IncomingMsg) {
	if msg.Tab != nil {
		m.currentTab = msg.Tab.Title
		if m.currentTab == "" {
			m.currentTab = msg.Tab.URL
		}
	}
	switch msg.Type {
	case server.TypeActionClicked:
		m.alert = "Opened from the browser; ctrl+r to connect this tab"
	case server.TypeTabRemoved:
		if _, err := m.server.CurrentTab(context.Background()); err != nil {
			m.currentTab = ""
		}
	}
}

// refresh re-projects state and keeps the chat pinned to the bottom when
// its content changes.
func (m *Model) refresh() {
	m.view = m.ctrl.View()
	if m.view.InputEnabled {
		m.input.Placeholder = "Ask a question about this page"
		m.input.Focus()
	} else {
		m.input.Placeholder = "Connect to a page first (ctrl+r)"
		m.input.Blur()
	}

	content := renderChat(m.view, m.viewport.Width, m.spinner.View())
	if content != m.content {
		m.content = content
		m.viewport.SetContent(content)
		m.viewport.GotoBottom()
	}
}

func (m Model) View() string {
	if m.width == 0 {
		return "\n  Loading sessions...\n"
	}

	var body string
	if m.view.Overlay != "" {
		body = lipgloss.Place(m.width, m.viewport.Height, lipgloss.Center, lipgloss.Center,
			m.spinner.View()+" "+m.view.Overlay)
	} else {
		body = m.viewport.View()
	}

	alert := ""
	if m.alert != "" {
		alert = errorStyle.Render(" " + truncate(m.alert, m.width-2))
	}

	helpStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Padding(0, 1)
	help := fmt.Sprintf("ctrl+r %s · enter send · alt+1-9 suggestion · ctrl+t new · ctrl+w close · ctrl+←/→ switch · ctrl+y copy · ctrl+c quit",
		strings.ToLower(m.view.ScanLabel))

	return lipgloss.JoinVertical(lipgloss.Left,
		renderTabStrip(m.view.Tabs, m.width),
		renderStatusBar(m.view, m.currentTab, m.width),
		body,
		alert,
		" "+m.input.View(),
		helpStyle.Render(truncate(help, max(m.width-2, 10))),
	)
}
