// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/cellwatch/internal/config"
	"github.com/Thermoquad/cellwatch/internal/logging"
	"github.com/Thermoquad/cellwatch/pkg/acquire"
	"github.com/Thermoquad/cellwatch/pkg/linkq"
	"github.com/Thermoquad/cellwatch/pkg/sample"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Live dashboard of every device",
	Long: `Poll the configured devices and show a live table of the latest
sample and link quality of each.

Keys: up/down select a device, c copies its last sample to the
clipboard, q quits.

Logs go to log.file when set and are discarded otherwise, so they do not
corrupt the display.`,
	Args: cobra.NoArgs,
	RunE: runTUI,
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logging.Discard()
	if cfg.Log.File != "" {
		l, closer, err := setupLogger(cfg)
		if err != nil {
			return err
		}
		defer closer.Close()
		log = l
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn := newConnector(cfg, log)
	defer conn.Close()

	f, err := newFleet(ctx, cfg, log, conn)
	if err != nil {
		return err
	}
	defer f.Close()

	p := tea.NewProgram(initialModel(cfg, f.tracker), tea.WithAltScreen())
	f.observers = append(f.observers, acquire.ObserverFunc(func(device string, res *acquire.Result, err error) {
		p.Send(cycleMsg{device: device, result: res, err: err, at: time.Now()})
	}))
	f.connected = func(device, info string) {
		p.Send(connectedMsg{device: device, info: info})
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.Run(ctx)
		p.Quit()
	}()

	_, err = p.Run()
	cancel()
	<-done
	return err
}

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// Per-device dashboard state
type deviceState struct {
	profile    string
	connection string
	last       *sample.Sample
	lastAt     time.Time
	status     string
}

// TUI model
type model struct {
	devices       []string
	state         map[string]*deviceState
	tracker       *linkq.Tracker
	table         table.Model
	eventLog      []eventLogEntry
	maxLogEntries int
	status        string
	width         int
	height        int
	quitting      bool
}

// Messages
type tickMsg time.Time
type cycleMsg struct {
	device string
	result *acquire.Result
	err    error
	at     time.Time
}
type connectedMsg struct {
	device string
	info   string
}

var tableColumns = []table.Column{
	{Title: "Device", Width: 14},
	{Title: "Profile", Width: 8},
	{Title: "Voltage", Width: 9},
	{Title: "Current", Width: 9},
	{Title: "SoC", Width: 6},
	{Title: "Temp", Width: 7},
	{Title: "Link", Width: 6},
	{Title: "Updated", Width: 10},
	{Title: "Status", Width: 18},
}

func initialModel(cfg *config.Config, tracker *linkq.Tracker) model {
	m := model{
		state:         map[string]*deviceState{},
		tracker:       tracker,
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
	for _, d := range cfg.Devices {
		m.devices = append(m.devices, d.Name)
		m.state[d.Name] = &deviceState{profile: d.Profile, status: "connecting"}
	}

	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57"))

	m.table = table.New(
		table.WithColumns(tableColumns),
		table.WithFocused(true),
		table.WithHeight(len(m.devices)+1),
		table.WithStyles(styles),
	)
	m.table.SetRows(m.rows(time.Now()))
	return m
}

func (m model) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "c":
			m.copySelected()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.table.SetRows(m.rows(time.Time(msg)))
		return m, tickCmd()

	case connectedMsg:
		if st, ok := m.state[msg.device]; ok {
			st.connection = msg.info
			st.status = "connected"
		}
		m.addLogEntry(fmt.Sprintf("%s connected (%s)", msg.device, msg.info), false)
		m.table.SetRows(m.rows(time.Now()))

	case cycleMsg:
		m.applyCycle(msg)
		m.table.SetRows(m.rows(msg.at))
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *model) applyCycle(msg cycleMsg) {
	st, ok := m.state[msg.device]
	if !ok {
		return
	}
	if msg.err != nil {
		st.status = acquire.Reason(msg.err)
		m.addLogEntry(fmt.Sprintf("%s: %v", msg.device, msg.err), true)
		return
	}
	st.last = msg.result.Sample
	st.lastAt = msg.at
	st.status = "ok"
	if st.last.Problem {
		st.status = "problem"
		m.addLogEntry(fmt.Sprintf("%s: implausible values or protection active (code 0x%X)", msg.device, st.last.ProblemCode), true)
	}
}

func (m *model) copySelected() {
	row := m.table.SelectedRow()
	if row == nil {
		return
	}
	st := m.state[row[0]]
	if st == nil || st.last == nil {
		m.status = fmt.Sprintf("No sample for %s yet", row[0])
		return
	}
	if err := clipboard.WriteAll(st.last.String()); err != nil {
		m.status = fmt.Sprintf("Copy failed: %v", err)
		return
	}
	m.status = fmt.Sprintf("Sample of %s copied to clipboard", row[0])
}

func (m *model) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

// rows renders one table row per device in configuration order
func (m model) rows(now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(m.devices))
	for _, name := range m.devices {
		st := m.state[name]
		row := table.Row{name, st.profile, "-", "-", "-", "-", "-", "-", st.status}
		if s := st.last; s != nil {
			row[2] = formatValue(s, sample.Voltage, "%.2f V")
			row[3] = formatValue(s, sample.Current, "%.2f A")
			row[4] = formatValue(s, sample.BatteryLevel, "%.0f%%")
			row[5] = formatValue(s, sample.Temperature, "%.1f°C")
			row[7] = formatAge(now.Sub(st.lastAt))
		}
		if ratio, ok := m.tracker.Ratio(name); ok {
			row[6] = fmt.Sprintf("%.0f%%", ratio*100)
		}
		rows = append(rows, row)
	}
	return rows
}

func formatValue(s *sample.Sample, k sample.Key, format string) string {
	v, ok := s.Get(k)
	if !ok {
		return "-"
	}
	return fmt.Sprintf(format, v)
}

// formatAge renders a duration as the largest whole unit
func formatAge(d time.Duration) string {
	switch {
	case d < time.Second:
		return "now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	infoStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("CELLWATCH"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%d device(s) | c: copy sample | q: quit", len(m.devices))))
	s.WriteString("\n\n")

	s.WriteString(boxStyle.Render(m.table.View()))
	s.WriteString("\n")
	if m.status != "" {
		s.WriteString(infoStyle.Render(m.status))
	}
	s.WriteString("\n")

	// Selected device detail
	if row := m.table.SelectedRow(); row != nil {
		if st := m.state[row[0]]; st != nil && st.last != nil {
			s.WriteString(labelStyle.Render(row[0] + ":"))
			s.WriteString("\n")
			s.WriteString(boxStyle.Render(st.last.String()))
			s.WriteString("\n")
		}
	}

	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - len(m.devices) - 20
	if logHeight < 5 {
		logHeight = 5
	}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	logContent := strings.Builder{}
	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	}
	for i := startIdx; i < len(m.eventLog); i++ {
		entry := m.eventLog[i]
		timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
		if entry.isError {
			logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), errorStyle.Render("✗ "+entry.message)))
		} else {
			logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), infoStyle.Render("ℹ "+entry.message)))
		}
	}

	width := m.width - 4
	if width < 20 {
		width = 20
	}
	s.WriteString(boxStyle.Width(width).Render(logContent.String()))
	return s.String()
}
