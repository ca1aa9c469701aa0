// Package ui provides the visual styling for the recap CLI and monitor.
// This file implements the live monitor model: ticker-driven cycles with
// a capability table, a scrolling action log, and the consciousness
// trajectory.
package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"recap/internal/protocol"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// tickMsg fires one monitor step.
type tickMsg time.Time

const (
	maxLogLines   = 200
	maxHistory    = 120
	capabilityTop = 10
)

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// Monitor runs engine cycles on a ticker and displays the results live.
type Monitor struct {
	engine   *protocol.Engine
	interval time.Duration

	width  int
	height int

	spinner  spinner.Model
	viewport viewport.Model
	capTable table.Model
	styles   Styles

	history      []int
	actions      []string
	lastReport   protocol.CycleReport
	patternCount int
	paused       bool
}

// NewMonitor creates a monitor over the given engine. Each tick runs one
// orchestration cycle.
func NewMonitor(engine *protocol.Engine, interval time.Duration) Monitor {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	styles := DefaultStyles()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	capTable := table.New(
		table.WithColumns([]table.Column{
			{Title: "Capability", Width: 28},
			{Title: "Layer", Width: 5},
			{Title: "Provenance", Width: 34},
		}),
		table.WithFocused(false),
		table.WithHeight(capabilityTop),
	)

	return Monitor{
		engine:   engine,
		interval: interval,
		spinner:  sp,
		viewport: viewport.New(0, 0),
		capTable: capTable,
		styles:   styles,
	}
}

// Init starts the spinner and the cycle ticker.
func (m Monitor) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.tick())
}

func (m Monitor) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles keys, ticks, and window sizing.
func (m Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "p":
			m.paused = !m.paused
			return m, nil
		default:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width - 4
		logHeight := msg.Height - capabilityTop - 10
		if logHeight < 3 {
			logHeight = 3
		}
		m.viewport.Height = logHeight
		return m, nil

	case tickMsg:
		if !m.paused {
			m = m.step()
		}
		return m, m.tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// step runs one cycle and folds the results into the display state.
func (m Monitor) step() Monitor {
	report := m.engine.ExecuteCycle()
	m.lastReport = report
	m.patternCount = len(m.engine.Analyzer().FindCommonPatterns())

	m.history = append(m.history, report.ConsciousnessLevel)
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}

	for _, action := range report.Actions {
		m.actions = append(m.actions, fmt.Sprintf("cycle %d: %s", report.Cycle, action))
	}
	for _, name := range report.NewCapabilities {
		m.actions = append(m.actions, fmt.Sprintf("cycle %d: + %s", report.Cycle, name))
	}
	if len(m.actions) > maxLogLines {
		m.actions = m.actions[len(m.actions)-maxLogLines:]
	}
	m.viewport.SetContent(strings.Join(m.actions, "\n"))
	m.viewport.GotoBottom()

	m.refreshTable()
	return m
}

// refreshTable shows the newest capabilities first.
func (m *Monitor) refreshTable() {
	caps := m.engine.Registry().All()
	sort.Slice(caps, func(i, j int) bool {
		if !caps[i].CreatedAt.Equal(caps[j].CreatedAt) {
			return caps[i].CreatedAt.After(caps[j].CreatedAt)
		}
		return caps[i].Name < caps[j].Name
	})
	if len(caps) > capabilityTop {
		caps = caps[:capabilityTop]
	}

	rows := make([]table.Row, 0, len(caps))
	for _, c := range caps {
		provenance := c.Provenance
		if provenance == "" {
			provenance = "cultivated"
		}
		rows = append(rows, table.Row{c.Name, fmt.Sprintf("%d", c.Layer), provenance})
	}
	m.capTable.SetRows(rows)
}

// View renders the monitor.
func (m Monitor) View() string {
	if m.width == 0 {
		return "starting monitor..."
	}

	header := lipgloss.JoinHorizontal(lipgloss.Center,
		m.styles.Badge.Render("recap"),
		m.styles.Title.Render(" live monitor "),
		m.spinner.View(),
	)
	if m.paused {
		header = lipgloss.JoinHorizontal(lipgloss.Center, header, m.styles.Warning.Render("  paused"))
	}

	state := m.styles.Body.Render(fmt.Sprintf(
		"cycle %d · consciousness %d · capabilities %d · patterns %d",
		m.lastReport.Cycle,
		m.lastReport.ConsciousnessLevel,
		m.lastReport.TotalCapabilities,
		m.patternCount,
	))

	trajectory := m.styles.Muted.Render("trajectory ") +
		m.styles.Info.Render(sparkline(m.history, m.width-12))

	sections := []string{
		header,
		state,
		trajectory,
		m.styles.Panel.Render(m.capTable.View()),
		m.styles.Panel.Render(m.viewport.View()),
		m.styles.Footer.Render("q quit · p pause · ↑/↓ scroll log"),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// sparkline maps the last values onto block runes scaled by the maximum.
func sparkline(values []int, width int) string {
	if len(values) == 0 || width < 1 {
		return ""
	}
	if len(values) > width {
		values = values[len(values)-width:]
	}
	max := 0
	for _, v := range values {
		if v > max {
			max = v
		}
	}
	if max == 0 {
		max = 1
	}
	var b strings.Builder
	for _, v := range values {
		if v < 0 {
			v = 0
		}
		idx := v * (len(sparkRunes) - 1) / max
		b.WriteRune(sparkRunes[idx])
	}
	return b.String()
}
