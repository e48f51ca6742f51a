package main

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/telearm/pkg/robot"
	"github.com/gwillem/telearm/pkg/teleop"
)

const (
	headerHeight = 2 // title + blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
)

// Motor colors - distinct colors for each motor id
var motorColors = map[int]string{
	1: "196", // red
	2: "208", // orange
	3: "226", // yellow
	4: "46",  // green
	5: "51",  // cyan
	6: "201", // magenta
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	alertStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

// Messages shared by the interactive commands.
type logMsg string
type doneMsg struct{ err error }

func waitForLogCh(ch <-chan string) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-ch)
	}
}

func waitForDone(ch <-chan error) tea.Cmd {
	return func() tea.Msg {
		return doneMsg{err: <-ch}
	}
}

// newPositionChart builds a streaming chart with one data set per
// motor, scaled to percent of travel.
func newPositionChart() streamlinechart.Model {
	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(0, 100),
	)
	for id, color := range motorColors {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(color))
		chart.SetDataSetStyles(robot.NameByID(id), runes.ThinLineStyle, style)
	}
	return chart
}

// pushPositions streams one arm's positions into the chart as percent
// of travel.
func pushPositions(chart *streamlinechart.Model, positions map[int]int, resolution int) {
	for id, raw := range positions {
		chart.PushDataSet(robot.NameByID(id), 100*float64(raw)/float64(resolution-1))
	}
	chart.DrawAll()
}

// chartSize fits the chart between header, legend and log box.
func chartSize(width, height int) (w, h int) {
	if width == 0 || height == 0 {
		return 80, 20 // default size before we know terminal size
	}
	w = width - borderSize - 2
	if w < 40 {
		w = 40
	}
	h = height - headerHeight - legendHeight - footerHeight - borderSize
	if h < 10 {
		h = 10
	}
	return w, h
}

func appendLog(logs []string, msg string) []string {
	logs = append(logs, msg)
	if len(logs) > maxLogs {
		logs = logs[len(logs)-maxLogs:]
	}
	return logs
}

func renderLegend() string {
	var items []string
	for _, id := range robot.DefaultMotorIDs() {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(motorColors[id])).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+robot.NameByID(id))
	}
	return strings.Join(items, "  ")
}

func renderLogBox(width int, logs []string, hint string) string {
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(width - 4).
		Foreground(lipgloss.Color("9")) // bright red

	var lines string
	if len(logs) == 0 {
		lines = statusStyle.Render(hint)
	} else {
		lines = strings.Join(logs, "\n")
	}
	return logStyle.Render(lines)
}

// renderPairs shows the active leader→follower assignment.
func renderPairs(pairs []teleop.Pair) string {
	if len(pairs) == 0 {
		return ""
	}
	items := make([]string, len(pairs))
	for i, p := range pairs {
		items[i] = fmt.Sprintf("%s → %s", p.Leader, p.Follower)
	}
	return statusStyle.Render(strings.Join(items, "    "))
}
