// Package watch is a terminal client for the advisory hub: it shows
// incoming answers in a scrollback view with a status line, and lets
// the operator pause and resume broadcasting with a keystroke.
package watch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"

	"earshot/hub"
)

const clientPingInterval = 10 * time.Second

type serverEvent struct {
	Type      hub.MessageType `json:"type"`
	Status    string          `json:"status"`
	Paused    bool            `json:"paused"`
	Text      string          `json:"text"`
	Timestamp int64           `json:"timestamp"`
}

type disconnected struct{ err error }

type pingTick time.Time

type model struct {
	viewport viewport.Model
	conn     *websocket.Conn
	events   chan tea.Msg

	advisories []string
	connected  bool
	paused     bool
	lastErr    error
	ready      bool
}

// Run connects to the hub and drives the terminal UI until the user
// quits or the connection drops.
func Run(hubAddr string) error {
	url := "ws://" + hubAddr + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	events := make(chan tea.Msg, 16)
	go readLoop(conn, events)

	m := model{
		conn:       conn,
		events:     events,
		advisories: []string{},
	}

	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

// readLoop pumps server frames into the event channel. It exits on
// the first read error; the Update loop surfaces the disconnect.
func readLoop(conn *websocket.Conn, events chan<- tea.Msg) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			events <- disconnected{err: err}
			return
		}
		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		events <- ev
	}
}

func waitForEvent(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-events
	}
}

func schedulePing() tea.Cmd {
	return tea.Tick(clientPingInterval, func(t time.Time) tea.Msg {
		return pingTick(t)
	})
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.events), schedulePing())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case "p":
			m.conn.WriteJSON(m.toggleMessage())
		}

	case tea.WindowSizeMsg:
		headerHeight := lipgloss.Height(m.headerView())
		footerHeight := lipgloss.Height(m.footerView())
		verticalMarginHeight := headerHeight + footerHeight

		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-verticalMarginHeight)
			m.viewport.YPosition = headerHeight
			m.viewport.SetContent(m.contentView())
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - verticalMarginHeight
		}

	case serverEvent:
		switch msg.Type {
		case hub.TypeStatus:
			m.connected = msg.Status == "connected"
			m.paused = msg.Paused
		case hub.TypeAdvisorKeywords:
			stamp := time.UnixMilli(msg.Timestamp).Format("15:04:05")
			m.advisories = append(m.advisories, stamp+"\n"+msg.Text)
			m.viewport.SetContent(m.contentView())
			m.viewport.GotoBottom()
		case hub.TypePong:
			// Keepalive acknowledged; nothing to show.
		}
		cmds = append(cmds, waitForEvent(m.events))

	case pingTick:
		m.conn.WriteJSON(map[string]string{"type": string(hub.TypePing)})
		cmds = append(cmds, schedulePing())

	case disconnected:
		m.connected = false
		m.lastErr = msg.err
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// toggleMessage flips between pause and resume based on the last
// status the server reported.
func (m model) toggleMessage() map[string]string {
	if m.paused {
		return map[string]string{"type": string(hub.TypeResume)}
	}
	return map[string]string{"type": string(hub.TypePause)}
}

func (m model) View() string {
	if !m.ready {
		return "\n  Connecting..."
	}
	return fmt.Sprintf(
		"%s\n%s\n%s",
		m.headerView(),
		m.viewport.View(),
		m.footerView(),
	)
}

func (m model) headerView() string {
	title := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFDF5")).
		Background(lipgloss.Color("#25A065")).
		Padding(0, 1).
		Render("Earshot " + m.statusLine())
	line := strings.Repeat(
		"─",
		max(0, m.viewport.Width-lipgloss.Width(title)),
	)
	return lipgloss.JoinHorizontal(lipgloss.Center, title, line)
}

func (m model) statusLine() string {
	switch {
	case !m.connected && m.lastErr != nil:
		return "· disconnected"
	case m.paused:
		return "· paused"
	case m.connected:
		return "· live"
	default:
		return "· connecting"
	}
}

func (m model) footerView() string {
	info := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFDF5")).
		Background(lipgloss.Color("#25A065")).
		Padding(0, 1).
		Render("Press q to quit, p to pause/resume")
	line := strings.Repeat("─", max(0, m.viewport.Width-lipgloss.Width(info)))
	return lipgloss.JoinHorizontal(lipgloss.Center, line, info)
}

func (m model) contentView() string {
	if len(m.advisories) == 0 {
		return "Waiting for advisory answers..."
	}
	return strings.Join(m.advisories, "\n\n") + "\n"
}
