// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Thermoquad/cellwatch/internal/config"
	"github.com/Thermoquad/cellwatch/pkg/acquire"
	"github.com/Thermoquad/cellwatch/pkg/linkq"
	"github.com/Thermoquad/cellwatch/pkg/sample"
)

func dashboard(t *testing.T, names ...string) (model, *linkq.Tracker) {
	t.Helper()
	cfg := config.Default()
	for _, name := range names {
		cfg.Devices = append(cfg.Devices, config.DeviceConfig{Name: name, Profile: "jbd"})
	}
	tr := linkq.New()
	return initialModel(cfg, tr), tr
}

func update(t *testing.T, m model, msg tea.Msg) model {
	t.Helper()
	next, _ := m.Update(msg)
	mm, ok := next.(model)
	if !ok {
		t.Fatalf("unexpected model type %T", next)
	}
	return mm
}

func testSample() *sample.Sample {
	s := sample.New("jbd")
	s.Set(sample.Voltage, 13.28)
	s.Set(sample.Current, -2.5)
	s.Set(sample.BatteryLevel, 87)
	return s
}

// ============================================================
// Model Tests
// ============================================================

func TestModel_InitialRows(t *testing.T) {
	m, _ := dashboard(t, "house", "van")
	rows := m.rows(time.Now())
	if len(rows) != 2 || rows[0][0] != "house" || rows[1][0] != "van" {
		t.Fatalf("rows not in configuration order: %v", rows)
	}
	if rows[0][1] != "jbd" || rows[0][2] != "-" || rows[0][8] != "connecting" {
		t.Errorf("unexpected empty row: %v", rows[0])
	}
}

func TestModel_Connected(t *testing.T) {
	m, _ := dashboard(t, "house")
	m = update(t, m, connectedMsg{device: "house", info: "ble C0:D6:3C:58:A4:10"})

	st := m.state["house"]
	if st.status != "connected" || st.connection != "ble C0:D6:3C:58:A4:10" {
		t.Errorf("unexpected state: %+v", st)
	}
	if len(m.eventLog) != 1 || m.eventLog[0].isError {
		t.Errorf("expected one info event, got %+v", m.eventLog)
	}
}

func TestModel_Cycle(t *testing.T) {
	m, tr := dashboard(t, "house")
	tr.Record("house", true)
	tr.Record("house", false)

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m = update(t, m, cycleMsg{device: "house", result: &acquire.Result{Sample: testSample()}, at: at})

	rows := m.rows(at.Add(90 * time.Second))
	row := rows[0]
	expected := []string{"house", "jbd", "13.28 V", "-2.50 A", "87%", "-", "50%", "1m ago", "ok"}
	for i, want := range expected {
		if row[i] != want {
			t.Errorf("column %s: expected %q, got %q", tableColumns[i].Title, want, row[i])
		}
	}
}

func TestModel_CycleFailure(t *testing.T) {
	m, _ := dashboard(t, "house")
	err := &acquire.CycleError{State: acquire.AwaitingResponse, Step: "basic_info", Attempts: 3, Err: acquire.ErrResponseTimeout}
	m = update(t, m, cycleMsg{device: "house", result: &acquire.Result{}, err: err, at: time.Now()})

	if st := m.state["house"]; st.status != "response_timeout" || st.last != nil {
		t.Errorf("unexpected state: %+v", st)
	}
	if len(m.eventLog) != 1 || !m.eventLog[0].isError {
		t.Errorf("expected one error event, got %+v", m.eventLog)
	}
}

func TestModel_CycleProblem(t *testing.T) {
	m, _ := dashboard(t, "house")
	s := testSample()
	s.Problem = true
	s.ProblemCode = 0x20
	m = update(t, m, cycleMsg{device: "house", result: &acquire.Result{Sample: s}, at: time.Now()})

	if m.state["house"].status != "problem" {
		t.Errorf("expected problem status, got %s", m.state["house"].status)
	}
	if len(m.eventLog) != 1 || !strings.Contains(m.eventLog[0].message, "0x20") {
		t.Errorf("expected problem event, got %+v", m.eventLog)
	}
}

func TestModel_UnknownDeviceIgnored(t *testing.T) {
	m, _ := dashboard(t, "house")
	m = update(t, m, cycleMsg{device: "ghost", result: &acquire.Result{Sample: testSample()}, at: time.Now()})
	if _, ok := m.state["ghost"]; ok {
		t.Error("unknown device added to the dashboard")
	}
}

func TestModel_EventLogBounded(t *testing.T) {
	m, _ := dashboard(t, "house")
	m.maxLogEntries = 3
	for i := 0; i < 5; i++ {
		m.addLogEntry("event", false)
	}
	if len(m.eventLog) != 3 {
		t.Errorf("expected 3 entries, got %d", len(m.eventLog))
	}
}

func TestModel_Quit(t *testing.T) {
	m, _ := dashboard(t, "house")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected a quit command")
	}
	if !next.(model).quitting {
		t.Error("model not marked as quitting")
	}
	if next.View() != "Shutting down...\n" {
		t.Errorf("unexpected view: %q", next.View())
	}
}

func TestModel_View(t *testing.T) {
	m, _ := dashboard(t, "house")
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	view := m.View()
	for _, part := range []string{"CELLWATCH", "house", "1 device(s)", "(no events yet)"} {
		if !strings.Contains(view, part) {
			t.Errorf("view missing %q", part)
		}
	}
}

// ============================================================
// Format Tests
// ============================================================

func TestFormatAge(t *testing.T) {
	tests := []struct {
		age      time.Duration
		expected string
	}{
		{0, "now"},
		{999 * time.Millisecond, "now"},
		{5 * time.Second, "5s ago"},
		{59 * time.Second, "59s ago"},
		{2*time.Minute + 30*time.Second, "2m ago"},
		{3 * time.Hour, "3h ago"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := formatAge(tt.age); got != tt.expected {
				t.Errorf("formatAge(%v) = %q, expected %q", tt.age, got, tt.expected)
			}
		})
	}
}

func TestFormatValue_Missing(t *testing.T) {
	if got := formatValue(sample.New("jbd"), sample.Temperature, "%.1f°C"); got != "-" {
		t.Errorf("expected -, got %q", got)
	}
}
