// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/miniecu/pkg/diag"
	"github.com/Thermoquad/miniecu/pkg/msgs"
	"github.com/Thermoquad/miniecu/pkg/pbstx"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Log entry
type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for info
}

// paramItem is one row of the parameter table
type paramItem struct {
	value *msgs.ParamValue
}

// Implement list.Item interface
func (p paramItem) Title() string { return p.value.ParamID }
func (p paramItem) Description() string {
	return fmt.Sprintf("%s  %s", p.value.Value.Type(), p.value.Value)
}
func (p paramItem) FilterValue() string { return p.value.ParamID }

const (
	focusParams = iota
	focusInput
)

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	connMgr  *connectionManager
	connInfo string

	// Telemetry
	lastStatus *msgs.Status
	stats      pbstx.Statistics

	// Parameters
	params     list.Model
	valueInput textinput.Model
	editing    string
	focus      int

	// Diagnostics
	log           []logEntry
	maxLogEntries int

	// UI state
	width          int
	height         int
	quitting       bool
	connectionLost bool
	connectedAt    time.Time
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type monitorTickMsg time.Time

type monitorBatchMsg struct {
	messages []msgs.Message
	stats    pbstx.Statistics
}

type connectionLostMsg struct{}

type reconnectedMsg struct {
	connInfo string
}

type paramListMsg struct {
	values []*msgs.ParamValue
}

type paramSetMsg struct {
	value *msgs.ParamValue
}

type commandDoneMsg struct {
	op       msgs.Operation
	response msgs.Response
}

type requestFailedMsg struct {
	err error
}

// formatUptime formats uptime in milliseconds to human-friendly string
func formatUptime(ms uint64) string {
	if ms == 0 {
		return "0 seconds"
	}

	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	plural := func(n uint64, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}

	parts := []string{}
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, plural(seconds, "second"))
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialMonitorModel(connMgr *connectionManager, connInfo string) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "value"
	ti.CharLimit = 32
	ti.Width = 24

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	params := list.New([]list.Item{}, delegate, 40, 12)
	params.Title = "Parameters"
	params.SetShowStatusBar(false)
	params.SetShowHelp(false)
	params.SetFilteringEnabled(false)

	return monitorModel{
		connMgr:       connMgr,
		connInfo:      connInfo,
		params:        params,
		valueInput:    ti,
		focus:         focusParams,
		maxLogEntries: 100,
		width:         80,
		height:        24,
		connectedAt:   time.Now(),
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(monitorTickCmd(), m.connMgr.listParams())
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.params.SetSize(40, max(6, m.height-16))

	case monitorTickMsg:
		return m, monitorTickCmd()

	case monitorBatchMsg:
		m.stats = msg.stats
		for _, message := range msg.messages {
			m.apply(message)
		}

	case connectionLostMsg:
		if !m.connectionLost {
			m.connectionLost = true
			m.addLogEntry("Connection lost, reconnecting...", true)
		}

	case reconnectedMsg:
		if m.connectionLost {
			m.connectionLost = false
			m.connInfo = msg.connInfo
			m.connectedAt = time.Now()
			m.addLogEntry("Reconnected: "+msg.connInfo, false)
			return m, m.connMgr.listParams()
		}

	case paramListMsg:
		items := make([]list.Item, len(msg.values))
		for i, v := range msg.values {
			items[i] = paramItem{value: v}
		}
		cmd := m.params.SetItems(items)
		return m, cmd

	case paramSetMsg:
		m.updateParam(msg.value)
		m.addLogEntry(fmt.Sprintf("%s = %s", msg.value.ParamID, msg.value.Value), false)

	case commandDoneMsg:
		m.addLogEntry(fmt.Sprintf("%s: %s", msg.op, msg.response), msg.response != msgs.ResponseACK)

	case requestFailedMsg:
		m.addLogEntry(msg.err.Error(), true)
	}

	return m, nil
}

// apply folds one received message into the model
func (m *monitorModel) apply(message msgs.Message) {
	switch v := message.(type) {
	case *msgs.Status:
		m.lastStatus = v
	case *msgs.ParamValue:
		m.updateParam(v)
	case *msgs.StatusText:
		m.addLogEntry(fmt.Sprintf("%s: %s", v.Severity, v.Text), v.Severity >= diag.Error)
	case *msgs.Command:
		if v.Response != msgs.ResponseNone {
			m.addLogEntry(fmt.Sprintf("%s: %s", v.Operation, v.Response), v.Response == msgs.ResponseNAK)
		}
	}
}

// updateParam replaces the row of v, appending unknown ids
func (m *monitorModel) updateParam(v *msgs.ParamValue) {
	for i, item := range m.params.Items() {
		if item.(paramItem).value.ParamID == v.ParamID {
			m.params.SetItem(i, paramItem{value: v})
			return
		}
	}
	m.params.InsertItem(len(m.params.Items()), paramItem{value: v})
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		m.quitting = true
		return m, tea.Quit
	}

	if m.focus == focusInput {
		switch msg.String() {
		case "esc", "tab":
			m.focus = focusParams
			m.valueInput.Blur()
			return m, nil
		case "enter":
			id, text := m.editing, strings.TrimSpace(m.valueInput.Value())
			m.focus = focusParams
			m.valueInput.Blur()
			m.valueInput.SetValue("")
			if id == "" || text == "" {
				return m, nil
			}
			return m, m.connMgr.setParam(id, text)
		}
		var cmd tea.Cmd
		m.valueInput, cmd = m.valueInput.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		m.quitting = true
		return m, tea.Quit
	case "tab", "enter":
		item, ok := m.params.SelectedItem().(paramItem)
		if !ok {
			return m, nil
		}
		m.editing = item.value.ParamID
		m.focus = focusInput
		m.valueInput.Placeholder = item.value.Value.String()
		return m, m.valueInput.Focus()
	case "r":
		return m, m.connMgr.listParams()
	case "i":
		op := msgs.OpIgnitionEnable
		if m.lastStatus != nil && m.lastStatus.Flags&msgs.FlagIgnitionEnabled != 0 {
			op = msgs.OpIgnitionDisable
		}
		return m, m.connMgr.command(op)
	case "s":
		op := msgs.OpStarterEnable
		if m.lastStatus != nil && m.lastStatus.Flags&msgs.FlagStarterEnabled != 0 {
			op = msgs.OpStarterDisable
		}
		return m, m.connMgr.command(op)
	case "x":
		return m, m.connMgr.command(msgs.OpEmergencyStop)
	case "w":
		return m, m.connMgr.command(msgs.OpSaveConfig)
	case "l":
		return m, m.connMgr.command(msgs.OpLoadConfig)
	}

	var cmd tea.Cmd
	m.params, cmd = m.params.Update(msg)
	return m, cmd
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.log = append(m.log, logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(m.log) > m.maxLogEntries {
		m.log = m.log[len(m.log)-m.maxLogEntries:]
	}
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func milli(v int32) string {
	return fmt.Sprintf("%.1f°C", float64(v)/1000)
}

// statusView renders the latest Status
func (m monitorModel) statusView() string {
	if m.lastStatus == nil {
		return warningStyle.Render("Waiting for status...")
	}
	s := m.lastStatus

	var b strings.Builder
	field := func(label, value string) {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render(label), value)
	}

	flagStyle := valueStyle
	if s.Flags&(msgs.FlagError|msgs.FlagUndervoltage|msgs.FlagOverheat|msgs.FlagLowFuel) != 0 {
		flagStyle = errorStyle
	}
	field("Engine:", valueStyle.Render(fmt.Sprintf("%d", s.EngineID)))
	field("Flags:", flagStyle.Render(msgs.FormatFlags(s.Flags)))

	if s.Flags&msgs.FlagTimeKnown != 0 {
		field("Time:", valueStyle.Render(time.UnixMilli(int64(s.TimestampMs)).Format("2006-01-02 15:04:05")))
	} else {
		field("Uptime:", valueStyle.Render(formatUptime(s.TimestampMs)))
	}

	field("RPM:", valueStyle.Render(fmt.Sprintf("%d", s.RPM)))

	batt := fmt.Sprintf("%.2f V", float64(s.Battery.Voltage)/1000)
	if s.Battery.Remaining != nil {
		batt += fmt.Sprintf(" (%d%%)", *s.Battery.Remaining)
	}
	field("Battery:", valueStyle.Render(batt))

	temp := milli(s.Temperature.Engine)
	if s.Temperature.OilP != nil {
		temp += ", oil " + milli(*s.Temperature.OilP)
	}
	field("Temp:", valueStyle.Render(temp))

	if s.CPU.Temperature != nil || s.CPU.Load != nil {
		var cpu []string
		if s.CPU.Load != nil {
			cpu = append(cpu, fmt.Sprintf("%d%%", *s.CPU.Load))
		}
		if s.CPU.Temperature != nil {
			cpu = append(cpu, milli(*s.CPU.Temperature))
		}
		field("CPU:", valueStyle.Render(strings.Join(cpu, ", ")))
	}

	if s.Fuel != nil {
		fuel := fmt.Sprintf("%d ml/min, used %d ml", s.Fuel.FlowMl, s.Fuel.TotalUsedMl)
		if s.Fuel.Remaining != nil {
			fuel += fmt.Sprintf(", %d%% left", *s.Fuel.Remaining)
		}
		field("Fuel:", valueStyle.Render(fuel))
	}

	fmt.Fprintf(&b, "%s %s",
		labelStyle.Render("Frames:"),
		valueStyle.Render(fmt.Sprintf("%d rx / %d tx, %d errors", m.stats.RxFrames, m.stats.TxFrames, m.stats.Errors())))
	return b.String()
}

func (m monitorModel) logView(height int) string {
	if len(m.log) == 0 {
		return headerStyle.Render("  (no events yet)")
	}

	var b strings.Builder
	start := max(0, len(m.log)-height)
	for _, entry := range m.log[start:] {
		timestamp := headerStyle.Render(entry.timestamp.Format("15:04:05.000"))
		if entry.isError {
			fmt.Fprintf(&b, "%s %s\n", timestamp, errorStyle.Render("✗ "+entry.message))
		} else {
			fmt.Fprintf(&b, "%s %s\n", timestamp, warningStyle.Render("ℹ "+entry.message))
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("MINIECU - MONITOR"))
	s.WriteString("\n")
	conn := m.connInfo
	if m.connectionLost {
		conn = errorStyle.Render("disconnected")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | connected %s | i ignition  s starter  x e-stop  w save  l load  r refresh  q quit",
		conn, formatUptime(uint64(time.Since(m.connectedAt).Milliseconds())))))
	s.WriteString("\n\n")

	right := boxStyle.Render(m.statusView())
	left := m.params.View()
	if m.focus == focusInput {
		left += "\n" + labelStyle.Render(m.editing+":") + " " + m.valueInput.View()
	}
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxStyle.Render(left), right))
	s.WriteString("\n")

	s.WriteString(labelStyle.Render("Diagnostics:"))
	s.WriteString("\n")
	logHeight := max(3, m.height-m.params.Height()-10)
	s.WriteString(boxStyle.Width(max(20, m.width-4)).Render(m.logView(logHeight)))

	return s.String()
}
