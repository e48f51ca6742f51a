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

	"github.com/gwillem/telearm/pkg/relay"
)

type FollowerCommand struct {
	BusOptions
	FPS        int     `long:"fps" default:"60" description:"Apply rate"`
	MaxLatency int     `long:"max-latency" default:"200" description:"Drop frames older than this (milliseconds)"`
	MaxStep    int     `long:"max-step" default:"200" description:"Max ticks per motor per cycle"`
	Alpha      float64 `long:"alpha" default:"0.8" description:"Smoothing weight of the previous position (0-1)"`
	Transport  string  `long:"transport" default:"pubnub" choice:"pubnub" choice:"mem" description:"Relay transport (mem is in-process, for bench runs)"`
	NoDisplay  bool    `long:"no-display" description:"Run without the TUI, logging to stdout"`
}

func (c *FollowerCommand) Execute(args []string) error {
	config := loadConfigOrExit()
	if len(config.Followers) == 0 {
		fmt.Fprintln(os.Stderr, "No follower arms configured. Run 'telearm setup' first.")
		os.Exit(1)
	}
	requireCalibrated(config.Followers)

	ctx := context.Background()
	arms, err := openFollowers(ctx, config, c.BusOptions)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logs := make(chan string, 20)
	transport := newTransport(c.Transport, logs)
	defer transport.Close()

	follower, err := relay.NewFollower(relay.FollowerConfig{
		Transport:  transport,
		Arms:       asArms(arms),
		FPS:        c.FPS,
		MaxLatency: time.Duration(c.MaxLatency) * time.Millisecond,
		MaxStep:    c.MaxStep,
		Alpha:      c.Alpha,
	})
	if err != nil {
		closeAll(arms)
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer closeAll(arms)

	go forwardLogs(follower.Logs(), logs)

	if c.NoDisplay {
		return runFollowerHeadless(follower, logs)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- follower.Start(runCtx)
	}()

	resolution := arms[0].Resolution()
	p := tea.NewProgram(initialFollowerModel(follower, arms[0].Label(), resolution, logs, done), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running program: %v", err)
	}

	return nil
}

func runFollowerHeadless(follower *relay.Follower, logs chan string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	done := make(chan error, 1)
	go func() {
		done <- follower.Start(ctx)
	}()

	var lastStats time.Time
	for {
		select {
		case msg := <-logs:
			fmt.Println(msg)
		case state := <-follower.States():
			if time.Since(lastStats) >= 2*time.Second {
				fmt.Printf("seq %d  applied %d  stale %d  late %d  missed %d  latency %.0fms\n",
					state.LastSequence, state.Applied, state.StaleDrops, state.LatencyDrops,
					state.Missed, state.LatencyMillis)
				lastStats = time.Now()
			}
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		}
	}
}

type followerModel struct {
	follower   *relay.Follower
	armLabel   string
	resolution int
	logs       chan string
	done       chan error
	chart      *streamlinechart.Model

	width    int
	height   int
	logLines []string
	state    relay.FollowerState
	quitting bool

	lastTargets map[int]int
}

type followerStateMsg relay.FollowerState

func waitForFollowerState(f *relay.Follower) tea.Cmd {
	return func() tea.Msg {
		return followerStateMsg(<-f.States())
	}
}

func initialFollowerModel(follower *relay.Follower, armLabel string, resolution int, logs chan string, done chan error) followerModel {
	chart := newPositionChart()
	return followerModel{
		follower:   follower,
		armLabel:   armLabel,
		resolution: resolution,
		logs:       logs,
		done:       done,
		chart:      &chart,
	}
}

func (m followerModel) Init() tea.Cmd {
	return tea.Batch(
		waitForFollowerState(m.follower),
		waitForLogCh(m.logs),
		waitForDone(m.done),
	)
}

func (m *followerModel) hasMovement(targets map[int]int) bool {
	if m.lastTargets == nil {
		return true
	}
	for id, pos := range targets {
		if last, ok := m.lastTargets[id]; !ok || pos != last {
			return true
		}
	}
	return false
}

func (m followerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
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
			if len(m.state.Pairs) >= 2 {
				m.follower.RequestRemap(m.state.Pairs[0].Leader, m.state.Pairs[1].Leader)
			}
		}

	case followerStateMsg:
		m.state = relay.FollowerState(msg)
		targets := m.state.Targets[m.armLabel]
		if targets != nil && m.hasMovement(targets) {
			pushPositions(m.chart, targets, m.resolution)
			m.lastTargets = targets
		}
		return m, waitForFollowerState(m.follower)

	case logMsg:
		m.logLines = appendLog(m.logLines, string(msg))
		return m, waitForLogCh(m.logs)

	case doneMsg:
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.logLines = appendLog(m.logLines, fmt.Sprintf("Follower error: %v", msg.err))
		}
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

func (m followerModel) View() string {
	if m.quitting {
		return "Follower stopped, positions held.\n"
	}

	var sb strings.Builder

	sb.WriteString(titleStyle.Render("TeleArm Follower"))
	sb.WriteString(fmt.Sprintf(" - %s, %d fps", m.follower.ID(), m.follower.FPS()))
	if m.width > 0 {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  [%dx%d]", m.width, m.height)))
	}
	sb.WriteString("\n\n")

	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	sb.WriteString(renderLegend())
	sb.WriteString("\n")

	status := m.statsLine()
	if pairs := renderPairs(m.state.Pairs); pairs != "" {
		status += "    " + pairs
	}
	sb.WriteString(status)
	sb.WriteString("\n")

	hint := "Press 'q' to quit"
	if len(m.state.Pairs) >= 2 {
		hint = "Press 's' to swap pairs, 'q' to quit"
	}
	sb.WriteString(renderLogBox(m.width, m.logLines, hint))
	sb.WriteString("\n")

	return sb.String()
}

func (m followerModel) statsLine() string {
	s := m.state

	latency := fmt.Sprintf("latency %.0fms", s.LatencyMillis)
	if s.WarnLatency {
		latency = alertStyle.Render(latency)
	}
	leader := statusStyle.Render("no leader")
	if s.LeaderConnected {
		leader = successStyle.Render(fmt.Sprintf("leader rtt %.0fms", s.LeaderRTTMillis))
	}

	parts := []string{
		fmt.Sprintf("seq %d", s.LastSequence),
		fmt.Sprintf("applied %d", s.Applied),
		fmt.Sprintf("stale %d", s.StaleDrops),
		fmt.Sprintf("late %d", s.LatencyDrops),
		fmt.Sprintf("missed %d", s.Missed),
		latency,
		leader,
	}
	if s.WriteErrors > 0 || s.PublishErrors > 0 {
		parts = append(parts, fmt.Sprintf("errors w%d/p%d", s.WriteErrors, s.PublishErrors))
	}
	return statusStyle.Render(strings.Join(parts, "  "))
}
