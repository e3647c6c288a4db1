package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/iqr/casterbase/caster"
	"github.com/iqr/casterbase/telemetry"
)

// resendInterval keeps remote commands fresh against the dead-man timeout.
const resendInterval = 200 * time.Millisecond

var (
	monitorURL  string
	monitorStep float64
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live view of a running casterd",
	Long: `Connect to the telemetry websocket of a running casterd and show joint
state, motor registers and faults as they arrive.

Keys: w/up and s/down change both wheels, a/left and d/right turn,
space stops, q quits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		url := monitorURL
		if url == "" {
			url = "ws://" + appConfig.Telemetry.Listen + "/ws"
		}
		dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
		conn, resp, err := dialer.DialContext(cmd.Context(), url, nil)
		if err != nil {
			if resp != nil {
				return fmt.Errorf("websocket connection failed (HTTP %d): %w", resp.StatusCode, err)
			}
			return fmt.Errorf("websocket connection failed: %w", err)
		}
		defer conn.Close()

		m := newMonitorModel(url, monitorStep, conn)
		_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
		return err
	},
}

func init() {
	monitorCmd.Flags().StringVarP(&monitorURL, "url", "u", "", "telemetry websocket URL (default ws://<telemetry.listen>/ws)")
	monitorCmd.Flags().Float64Var(&monitorStep, "step", 0.5, "wheel velocity step per key press in rad/s")
	rootCmd.AddCommand(monitorCmd)
}

type snapshotMsg caster.Snapshot

type connErrMsg struct{ err error }

type resendMsg time.Time

// commandWriter sends wheel commands to the server.
type commandWriter interface {
	WriteJSON(v any) error
}

type monitorModel struct {
	url    string
	step   float64
	conn   *websocket.Conn
	writer commandWriter

	snap        caster.Snapshot
	have        bool
	received    int
	err         error
	left, right float64
	width       int
}

func newMonitorModel(url string, step float64, conn *websocket.Conn) monitorModel {
	m := monitorModel{url: url, step: step, conn: conn, width: 80}
	if conn != nil {
		m.writer = conn
	}
	return m
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(m.readSnapshot(), resendTick())
}

func (m monitorModel) readSnapshot() tea.Cmd {
	if m.conn == nil {
		return nil
	}
	conn := m.conn
	return func() tea.Msg {
		var s caster.Snapshot
		if err := conn.ReadJSON(&s); err != nil {
			return connErrMsg{err}
		}
		return snapshotMsg(s)
	}
}

func resendTick() tea.Cmd {
	return tea.Tick(resendInterval, func(t time.Time) tea.Msg { return resendMsg(t) })
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.left, m.right = 0, 0
			m.send()
			return m, tea.Quit
		case "w", "up":
			m.left += m.step
			m.right += m.step
		case "s", "down":
			m.left -= m.step
			m.right -= m.step
		case "a", "left":
			m.left -= m.step
			m.right += m.step
		case "d", "right":
			m.left += m.step
			m.right -= m.step
		case " ":
			m.left, m.right = 0, 0
		default:
			return m, nil
		}
		m.send()

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case snapshotMsg:
		m.snap = caster.Snapshot(msg)
		m.have = true
		m.received++
		return m, m.readSnapshot()

	case connErrMsg:
		m.err = msg.err

	case resendMsg:
		if m.left != 0 || m.right != 0 {
			m.send()
		}
		return m, resendTick()
	}
	return m, nil
}

func (m *monitorModel) send() {
	if m.writer == nil || m.err != nil {
		return
	}
	l, r := m.left, m.right
	if err := m.writer.WriteJSON(telemetry.WheelCommand{Left: &l, Right: &r}); err != nil {
		m.err = err
	}
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	staleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func (m monitorModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("casterd monitor") + " " + labelStyle.Render(m.url) + "\n\n")

	if !m.have {
		b.WriteString(labelStyle.Render("waiting for telemetry...") + "\n")
	} else {
		b.WriteString(m.statusLine() + "\n")
		boxes := make([]string, 0, 2)
		for i := range m.snap.Joints {
			boxes = append(boxes, boxStyle.Render(m.wheelBox(i)))
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...) + "\n")
		if len(m.snap.Faults) > 0 {
			b.WriteString(errorStyle.Render("FAULT: "+strings.Join(m.snap.Faults, ", ")) + "\n")
		}
	}

	fmt.Fprintf(&b, "\n%s %s\n", labelStyle.Render("command (rad/s):"),
		valueStyle.Render(fmt.Sprintf("left %+.2f  right %+.2f", m.left, m.right)))
	if m.err != nil {
		b.WriteString(errorStyle.Render("connection: "+m.err.Error()) + "\n")
	}
	b.WriteString(labelStyle.Render("w/s speed  a/d turn  space stop  q quit") + "\n")
	return b.String()
}

func (m monitorModel) statusLine() string {
	s := m.snap
	flag := func(name string, on bool) string {
		if on {
			return valueStyle.Render(name)
		}
		return staleStyle.Render("!" + name)
	}
	return fmt.Sprintf("%s  %s  %s  %s  %s",
		labelStyle.Render(fmt.Sprintf("tick %d", s.Tick)),
		flag("connected", s.Connected),
		flag("initialized", s.Initialized),
		flag("alive", s.ControllerAlive),
		labelStyle.Render(fmt.Sprintf("status %s  read errs %d  write errs %d", s.StatusFlags, s.ReadErrors, s.WriteErrors)),
	)
}

func (m monitorModel) wheelBox(i int) string {
	j, ms := m.snap.Joints[i], m.snap.Motors[i]
	row := func(label, value string) string {
		return labelStyle.Render(fmt.Sprintf("%-10s", label)) + valueStyle.Render(value)
	}
	rows := []string{
		titleStyle.Render(j.Name),
		row("position", fmt.Sprintf("%+.3f rad", j.Position)),
		row("velocity", fmt.Sprintf("%+.3f rad/s", j.Velocity)),
		row("speed", fmt.Sprintf("%+.3f m/s", m.snap.LinearVelocity[i])),
		row("command", fmt.Sprintf("%+.3f rad/s", j.VelocityCommand)),
		row("sent", fmt.Sprintf("%+.3f rad/s (%d rpm)", ms.Commanded, ms.CommandRPM)),
		row("encoder", fmt.Sprintf("%d", ms.Counter)),
		row("motor", fmt.Sprintf("%d rpm", ms.RPM)),
		row("flags", ms.Flags.String()),
	}
	if !ms.Fresh {
		rows = append(rows, staleStyle.Render("stale: "+ms.LastError))
	}
	return strings.Join(rows, "\n")
}
