// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/via-fydp/Basestation-SW/pkg/devicemgr"
	"github.com/via-fydp/Basestation-SW/pkg/link"
	"github.com/via-fydp/Basestation-SW/pkg/rigproto"
	"github.com/via-fydp/Basestation-SW/pkg/rigstate"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	monitorRefreshInterval = 250 * time.Millisecond
	historyViewLines       = 8
	eventViewLines         = 5
	commandCharLimit       = 128
)

// Focus states
const (
	focusSensorList = iota
	focusCommandInput
	focusCount
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// monitorSource is the part of the device manager the monitor reads
type monitorSource interface {
	Snapshot() devicemgr.Snapshot
	Stats() rigproto.Statistics
	EnqueueCommand(cmd string) error
}

// sensor is one row of the sensor list
type sensor struct {
	name    string
	reading rigstate.PressureReading
	faults  int
}

// Implement list.Item interface
func (s sensor) Title() string       { return s.name }
func (s sensor) Description() string { return fmt.Sprintf("%s  faults %d", formatReading(s.reading), s.faults) }
func (s sensor) FilterValue() string { return s.name }

// eventLogEntry is one line of the event log
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	src      monitorSource
	connInfo string

	sensorList list.Model
	snapshot   devicemgr.Snapshot
	stats      rigproto.Statistics

	eventLog      []eventLogEntry
	maxLogEntries int

	cmdInput     textinput.Model
	focusedField int

	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type monitorTickMsg time.Time

type linkStateMsg struct {
	state link.State
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialMonitorModel(src monitorSource, connInfo string) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "command"
	ti.CharLimit = commandCharLimit
	ti.Width = 40
	ti.Prompt = "> "

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	sensorList := list.New([]list.Item{}, delegate, 30, 10)
	sensorList.Title = "Sensors"
	sensorList.SetShowStatusBar(false)
	sensorList.SetShowHelp(false)
	sensorList.SetFilteringEnabled(false)

	m := monitorModel{
		src:           src,
		connInfo:      connInfo,
		sensorList:    sensorList,
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		cmdInput:      ti,
		focusedField:  focusSensorList,
		width:         80,
		height:        24,
	}
	m.refresh()
	return m
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return monitorTickCmd()
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(monitorRefreshInterval, func(t time.Time) tea.Msg {
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
		m.updateListSize()

	case monitorTickMsg:
		m.refresh()
		return m, monitorTickCmd()

	case linkStateMsg:
		switch msg.state {
		case link.StateConnected:
			m.addLogEntry("Connected", false)
		case link.StateConnecting:
			m.addLogEntry("Connecting...", false)
		default:
			m.addLogEntry("Disconnected", true)
		}
		m.snapshot.Link.State = msg.state
	}

	var cmd tea.Cmd
	if m.focusedField == focusCommandInput {
		m.cmdInput, cmd = m.cmdInput.Update(msg)
	}
	return m, cmd
}

func (m *monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "q":
		if m.focusedField == focusSensorList {
			m.quitting = true
			return m, tea.Quit
		}

	case "tab":
		return m.cycleFocus(1), nil

	case "shift+tab":
		return m.cycleFocus(-1), nil

	case "enter":
		if m.focusedField == focusCommandInput {
			return m.submitCommand(), nil
		}

	case "up", "k", "down", "j":
		if m.focusedField == focusSensorList {
			m.sensorList, _ = m.sensorList.Update(msg)
			return m, nil
		}
	}

	if m.focusedField == focusCommandInput {
		var cmd tea.Cmd
		m.cmdInput, cmd = m.cmdInput.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *monitorModel) cycleFocus(delta int) *monitorModel {
	m.focusedField = (m.focusedField + delta + focusCount) % focusCount
	if m.focusedField == focusCommandInput {
		m.cmdInput.Focus()
	} else {
		m.cmdInput.Blur()
	}
	return m
}

// submitCommand queues the typed command and clears the input
func (m *monitorModel) submitCommand() *monitorModel {
	text := m.cmdInput.Value()
	if err := m.src.EnqueueCommand(text); err != nil {
		m.addLogEntry(fmt.Sprintf("Rejected %q: %v", text, err), true)
		return m
	}
	m.addLogEntry(fmt.Sprintf("Queued %q", text), false)
	m.cmdInput.Reset()
	return m
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

// refresh pulls a fresh snapshot and rebuilds the sensor list
func (m *monitorModel) refresh() {
	m.snapshot = m.src.Snapshot()
	m.stats = m.src.Stats()

	names := make([]string, 0, len(m.snapshot.Sensors))
	for name := range m.snapshot.Sensors {
		names = append(names, name)
	}
	slices.Sort(names)

	items := make([]list.Item, 0, len(names))
	for _, name := range names {
		items = append(items, sensor{
			name:    name,
			reading: m.snapshot.Sensors[name],
			faults:  m.snapshot.FaultCounts[name],
		})
	}
	m.sensorList.SetItems(items)
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	entry := eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m *monitorModel) updateListSize() {
	listHeight := max(m.height/3, 5)
	m.sensorList.SetSize(28, listHeight)
}

func formatReading(r rigstate.PressureReading) string {
	if r.Status == rigstate.StatusValid {
		return fmt.Sprintf("%g", r.Value)
	}
	return r.Status.String()
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

type monitorStyles struct {
	title      lipgloss.Style
	header     lipgloss.Style
	label      lipgloss.Style
	value      lipgloss.Style
	err        lipgloss.Style
	warning    lipgloss.Style
	box        lipgloss.Style
	focusedBox lipgloss.Style
}

func newMonitorStyles() monitorStyles {
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	return monitorStyles{
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1),
		header: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),
		label: lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true),
		value: lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")),
		err: lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true),
		warning: lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")),
		box:        box,
		focusedBox: box.BorderForeground(lipgloss.Color("12")),
	}
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	st := newMonitorStyles()
	var s strings.Builder

	// Header
	s.WriteString(st.title.Render("BASESTATION MONITOR"))
	s.WriteString(" ")
	s.WriteString(st.header.Render(fmt.Sprintf("| %s | %s | q=quit Tab=switch Enter=send", m.connInfo, m.renderLinkState(st))))
	s.WriteString("\n\n")

	// Layout: left panel (sensors) | right panel (link and battery)
	leftWidth := 30
	rightWidth := max(m.width-leftWidth-6, 20)

	listStyle := st.box.Width(leftWidth)
	if m.focusedField == focusSensorList {
		listStyle = st.focusedBox.Width(leftWidth)
	}
	sensorPanel := listStyle.Render(m.renderSensors(st))
	sidePanel := st.box.Width(rightWidth).Render(m.renderSidePanel(st))

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, sensorPanel, " ", sidePanel))
	s.WriteString("\n")

	s.WriteString(m.renderStatisticsBar(st))
	s.WriteString("\n")
	s.WriteString(m.renderHistory(st))
	s.WriteString("\n")
	s.WriteString(m.renderEventLog(st))
	s.WriteString("\n")

	inputStyle := st.box
	if m.focusedField == focusCommandInput {
		inputStyle = st.focusedBox
	}
	s.WriteString(inputStyle.Width(m.width - 4).Render(m.cmdInput.View()))

	return s.String()
}

func (m monitorModel) renderLinkState(st monitorStyles) string {
	state := m.snapshot.Link.State
	switch state {
	case link.StateConnected:
		return st.value.Render(state.String())
	case link.StateConnecting:
		return st.warning.Render(state.String())
	default:
		return st.err.Render(state.String())
	}
}

func (m monitorModel) renderSensors(st monitorStyles) string {
	if len(m.snapshot.Sensors) == 0 {
		return st.label.Render("SENSORS") + "\n" + st.header.Render("(no readings yet)")
	}
	return m.sensorList.View()
}

func (m monitorModel) renderSidePanel(st monitorStyles) string {
	var s strings.Builder
	ls := m.snapshot.Link

	s.WriteString(st.label.Render("LINK"))
	s.WriteString("\n")
	session := ls.SessionID
	if session == "" {
		session = "-"
	}
	s.WriteString(fmt.Sprintf("%s %s\n", st.label.Render("Session:"), st.value.Render(session)))
	s.WriteString(fmt.Sprintf("%s %s  %s %s\n",
		st.label.Render("Reconnects:"), st.value.Render(fmt.Sprintf("%d", ls.Reconnects)),
		st.label.Render("Queued:"), st.value.Render(fmt.Sprintf("%d", ls.QueuedCommands))))

	// Selected sensor detail
	if item, ok := m.sensorList.SelectedItem().(sensor); ok {
		s.WriteString("\n")
		s.WriteString(fmt.Sprintf("%s %s  ", st.label.Render("Selected:"), item.name))
		if item.reading.Status == rigstate.StatusValid {
			s.WriteString(st.value.Render(formatReading(item.reading)))
		} else {
			s.WriteString(st.err.Render(formatReading(item.reading)))
		}
		s.WriteString("\n")
	}

	s.WriteString("\n")
	s.WriteString(st.label.Render("BATTERY"))
	s.WriteString("\n")
	if len(m.snapshot.Battery) == 0 {
		s.WriteString(st.header.Render("(no readings yet)"))
		return s.String()
	}

	ids := make([]string, 0, len(m.snapshot.Battery))
	for id := range m.snapshot.Battery {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		b := m.snapshot.Battery[id]
		charging := ""
		if b.Charging {
			charging = st.warning.Render(" charging")
		}
		s.WriteString(fmt.Sprintf("%s %s%s\n", st.label.Render(id+":"), st.value.Render(b.Value), charging))
	}

	return strings.TrimSuffix(s.String(), "\n")
}

func (m monitorModel) renderStatisticsBar(st monitorStyles) string {
	var recognizedPercent float64
	if m.stats.TotalLines > 0 {
		recognizedPercent = float64(m.stats.TotalLines-m.stats.Unrecognized) * 100.0 / float64(m.stats.TotalLines)
	}

	unrecognized := st.value.Render("0")
	if m.stats.Unrecognized > 0 {
		unrecognized = st.err.Render(fmt.Sprintf("%d", m.stats.Unrecognized))
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
		st.label.Render("Lines:"), st.value.Render(fmt.Sprintf("%d", m.stats.TotalLines)),
		st.label.Render("Recognized:"), st.value.Render(fmt.Sprintf("%.1f%%", recognizedPercent)),
		st.label.Render("Unrecognized:"), unrecognized,
		st.label.Render("Read errors:"), st.value.Render(fmt.Sprintf("%d", m.stats.ReadErrors)),
		st.label.Render("Rate:"), st.value.Render(fmt.Sprintf("%.1f lines/s", m.stats.LineRate)),
	)

	return st.box.Width(m.width - 4).Render(content)
}

func (m monitorModel) renderHistory(st monitorStyles) string {
	var s strings.Builder
	s.WriteString(st.label.Render("HISTORY"))
	s.WriteString("\n")

	history := m.snapshot.History
	if len(history) == 0 {
		s.WriteString(st.header.Render("  (no lines yet)"))
		return st.box.Width(m.width - 4).Render(s.String())
	}

	start := max(len(history)-historyViewLines, 0)
	for _, entry := range history[start:] {
		text := entry.Text
		if entry.Kind == rigproto.KindUnknown {
			text = st.err.Render(text)
		}
		s.WriteString(fmt.Sprintf("%s %-9s %s\n",
			st.header.Render(entry.At.Format("15:04:05.000")),
			entry.Kind,
			text))
	}

	return st.box.Width(m.width - 4).Render(strings.TrimSuffix(s.String(), "\n"))
}

func (m monitorModel) renderEventLog(st monitorStyles) string {
	var s strings.Builder
	s.WriteString(st.label.Render("EVENTS"))
	s.WriteString("\n")

	if len(m.eventLog) == 0 {
		s.WriteString(st.header.Render("  (no events yet)"))
		return st.box.Width(m.width - 4).Render(s.String())
	}

	start := max(len(m.eventLog)-eventViewLines, 0)
	for _, entry := range m.eventLog[start:] {
		icon := "i"
		style := st.warning
		if entry.isError {
			icon = "x"
			style = st.err
		}
		s.WriteString(fmt.Sprintf("%s %s %s\n",
			st.header.Render(entry.timestamp.Format("15:04:05.000")),
			style.Render(icon),
			entry.message))
	}

	return st.box.Width(m.width - 4).Render(strings.TrimSuffix(s.String(), "\n"))
}
