package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/telearm/pkg/robot"
	"github.com/gwillem/telearm/pkg/teleop"
)

type TeleoperateCommand struct {
	BusOptions
	FPS       int           `long:"fps" default:"60" description:"Control loop frequency"`
	Duration  time.Duration `long:"duration" description:"Stop after this long (e.g. 90s); 0 runs until quit"`
	NoDisplay bool          `long:"no-display" description:"Run without the TUI, logging to stdout"`
}

func (c *TeleoperateCommand) Execute(args []string) error {
	config := loadConfigOrExit()
	if len(config.Leaders) == 0 || len(config.Followers) == 0 {
		fmt.Fprintln(os.Stderr, "Teleoperation needs both leader and follower arms. Run 'telearm setup' first.")
		os.Exit(1)
	}
	requireCalibrated(config.Leaders, config.Followers)
	fmt.Printf("Loaded configuration from %s\n", robot.DefaultConfigFile)

	ctx := context.Background()
	leaders, err := openLeaders(ctx, config, c.BusOptions)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	followers, err := openFollowers(ctx, config, c.BusOptions)
	if err != nil {
		closeAll(leaders)
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	ctrl, err := teleop.NewController(teleop.Config{
		Leaders:   asArms(leaders),
		Followers: asArms(followers),
		FPS:       c.FPS,
		Duration:  c.Duration,
	})
	if err != nil {
		closeAll(leaders)
		closeAll(followers)
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer ctrl.Close()

	if c.NoDisplay {
		return runControllerHeadless(ctrl)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- ctrl.Start(runCtx)
	}()

	resolution := leaders[0].Resolution()
	p := tea.NewProgram(initialTeleopModel(ctrl, done, resolution), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running program: %v", err)
	}

	return nil
}

func asArms(channels []*robot.Channel) []teleop.Arm {
	arms := make([]teleop.Arm, len(channels))
	for i, ch := range channels {
		arms[i] = ch
	}
	return arms
}

// runControllerHeadless drives the loop without a TUI. Interrupt stops
// it at the next cycle boundary; torque stays on.
func runControllerHeadless(ctrl *teleop.Controller) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	done := make(chan error, 1)
	go func() {
		done <- ctrl.Start(ctx)
	}()

	for {
		select {
		case msg := <-ctrl.Logs():
			fmt.Println(msg)
		case <-ctrl.States():
			// Drained so the loop never stalls on a full channel.
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return nil
		}
	}
}

type teleopModel struct {
	ctrl       *teleop.Controller
	done       chan error
	chart      *streamlinechart.Model
	resolution int

	width     int
	height    int
	logs      []string
	pairs     []teleop.Pair
	readErrs  int
	writeErrs int
	quitting  bool

	lastPositions map[int]int // previous charted positions, to freeze when idle
}

type stateMsg teleop.State

func waitForState(ctrl *teleop.Controller) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-ctrl.States())
	}
}

func initialTeleopModel(ctrl *teleop.Controller, done chan error, resolution int) teleopModel {
	chart := newPositionChart()
	return teleopModel{
		ctrl:       ctrl,
		done:       done,
		chart:      &chart,
		resolution: resolution,
	}
}

func (m teleopModel) Init() tea.Cmd {
	return tea.Batch(
		waitForState(m.ctrl),
		waitForLogCh(m.ctrl.Logs()),
		waitForDone(m.done),
	)
}

// hasMovement reports whether the charted positions changed since the
// previous state.
func (m *teleopModel) hasMovement(positions map[int]int) bool {
	if m.lastPositions == nil {
		return true
	}
	for id, pos := range positions {
		if last, ok := m.lastPositions[id]; !ok || pos != last {
			return true
		}
	}
	return false
}

func (m teleopModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		w, h := chartSize(m.width, m.height)
		m.chart.Resize(w, h)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "s":
			if len(m.pairs) >= 2 {
				m.ctrl.RequestRemap(m.pairs[0].Leader, m.pairs[1].Leader)
			}
		}

	case stateMsg:
		state := teleop.State(msg)
		m.pairs = state.Pairs
		m.readErrs = state.ReadErrors
		m.writeErrs = state.WriteErrors
		if len(state.Pairs) > 0 {
			// Chart the first leader; freeze when idle.
			positions := state.Positions[state.Pairs[0].Leader]
			if positions != nil && m.hasMovement(positions) {
				pushPositions(m.chart, positions, m.resolution)
				m.lastPositions = positions
			}
		}
		return m, waitForState(m.ctrl)

	case logMsg:
		m.logs = appendLog(m.logs, string(msg))
		return m, waitForLogCh(m.ctrl.Logs())

	case doneMsg:
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) && !errors.Is(msg.err, context.DeadlineExceeded) {
			m.logs = appendLog(m.logs, fmt.Sprintf("Controller error: %v", msg.err))
		}
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

func (m teleopModel) View() string {
	if m.quitting {
		return "Teleoperation stopped, positions held.\n"
	}

	var sb strings.Builder

	sb.WriteString(titleStyle.Render("TeleArm Teleoperate"))
	sb.WriteString(fmt.Sprintf(" - %d Hz", m.ctrl.FPS()))
	if m.width > 0 {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  [%dx%d]", m.width, m.height)))
	}
	sb.WriteString("\n\n")

	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	sb.WriteString(renderLegend())
	sb.WriteString("\n")

	status := renderPairs(m.pairs)
	if m.readErrs > 0 || m.writeErrs > 0 {
		status += statusStyle.Render(fmt.Sprintf("    read errors: %d  write errors: %d", m.readErrs, m.writeErrs))
	}
	sb.WriteString(status)
	sb.WriteString("\n")

	hint := "Press 'q' to quit"
	if len(m.pairs) >= 2 {
		hint = "Press 's' to swap pairs, 'q' to quit"
	}
	sb.WriteString(renderLogBox(m.width, m.logs, hint))
	sb.WriteString("\n")

	return sb.String()
}
