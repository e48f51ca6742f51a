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

type LeaderCommand struct {
	BusOptions
	FPS       int    `long:"fps" default:"60" description:"Telemetry publish rate"`
	Transport string `long:"transport" default:"pubnub" choice:"pubnub" choice:"mem" description:"Relay transport (mem is in-process, for bench runs)"`
	NoDisplay bool   `long:"no-display" description:"Run without the TUI, logging to stdout"`
}

func (c *LeaderCommand) Execute(args []string) error {
	config := loadConfigOrExit()
	if len(config.Leaders) == 0 {
		fmt.Fprintln(os.Stderr, "No leader arms configured. Run 'telearm setup' first.")
		os.Exit(1)
	}
	requireCalibrated(config.Leaders)

	ctx := context.Background()
	arms, err := openLeaders(ctx, config, c.BusOptions)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logs := make(chan string, 20)
	transport := newTransport(c.Transport, logs)
	defer transport.Close()

	leader, err := relay.NewLeader(relay.LeaderConfig{
		Transport: transport,
		Arms:      asArms(arms),
		FPS:       c.FPS,
	})
	if err != nil {
		closeAll(arms)
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer closeAll(arms)

	go forwardLogs(leader.Logs(), logs)

	if c.NoDisplay {
		return runLeaderHeadless(leader, logs)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- leader.Start(runCtx)
	}()

	resolution := arms[0].Resolution()
	p := tea.NewProgram(initialLeaderModel(leader, arms[0].Label(), resolution, logs, done), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running program: %v", err)
	}

	return nil
}

// newTransport builds the relay transport for the leader and follower
// commands. Credentials come from the environment; the mem transport
// never leaves the process.
func newTransport(kind string, logs chan string) relay.Transport {
	if kind == "mem" {
		return relay.NewMemTransport()
	}
	return relay.NewPubNub(relay.CredentialsFromEnv(), chanLogf(logs))
}

// chanLogf adapts a log channel to the transport's logf, matching the
// client log format. Messages are dropped when the channel is full.
func chanLogf(ch chan string) func(format string, args ...any) {
	return func(format string, args ...any) {
		msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
		select {
		case ch <- msg:
		default:
		}
	}
}

// forwardLogs merges a client's log channel into the shared one the
// TUI drains.
func forwardLogs(src <-chan string, dst chan string) {
	for msg := range src {
		select {
		case dst <- msg:
		default:
		}
	}
}

func runLeaderHeadless(leader *relay.Leader, logs chan string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	done := make(chan error, 1)
	go func() {
		done <- leader.Start(ctx)
	}()

	var lastStats time.Time
	for {
		select {
		case msg := <-logs:
			fmt.Println(msg)
		case state := <-leader.States():
			if time.Since(lastStats) >= 2*time.Second {
				fmt.Printf("seq %d  sent %d  acked %d  rtt %.0fms  loss %.1f%%\n",
					state.Sequence, state.Sent, state.Acked, state.AvgRTTMillis, 100*state.Loss)
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

type leaderModel struct {
	leader     *relay.Leader
	armLabel   string
	resolution int
	logs       chan string
	done       chan error
	chart      *streamlinechart.Model

	width    int
	height   int
	logLines []string
	state    relay.LeaderState
	quitting bool

	lastPositions map[int]int
}

type leaderStateMsg relay.LeaderState

func waitForLeaderState(l *relay.Leader) tea.Cmd {
	return func() tea.Msg {
		return leaderStateMsg(<-l.States())
	}
}

func initialLeaderModel(leader *relay.Leader, armLabel string, resolution int, logs chan string, done chan error) leaderModel {
	chart := newPositionChart()
	return leaderModel{
		leader:     leader,
		armLabel:   armLabel,
		resolution: resolution,
		logs:       logs,
		done:       done,
		chart:      &chart,
	}
}

func (m leaderModel) Init() tea.Cmd {
	return tea.Batch(
		waitForLeaderState(m.leader),
		waitForLogCh(m.logs),
		waitForDone(m.done),
	)
}

func (m *leaderModel) hasMovement(positions map[int]int) bool {
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

func (m leaderModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
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
		}

	case leaderStateMsg:
		m.state = relay.LeaderState(msg)
		positions := m.state.Positions[m.armLabel]
		if positions != nil && m.hasMovement(positions) {
			pushPositions(m.chart, positions, m.resolution)
			m.lastPositions = positions
		}
		return m, waitForLeaderState(m.leader)

	case logMsg:
		m.logLines = appendLog(m.logLines, string(msg))
		return m, waitForLogCh(m.logs)

	case doneMsg:
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.logLines = appendLog(m.logLines, fmt.Sprintf("Leader error: %v", msg.err))
		}
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

func (m leaderModel) View() string {
	if m.quitting {
		return "Leader stopped.\n"
	}

	var sb strings.Builder

	sb.WriteString(titleStyle.Render("TeleArm Leader"))
	sb.WriteString(fmt.Sprintf(" - %s, %d fps", m.leader.ID(), m.leader.FPS()))
	if m.width > 0 {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  [%dx%d]", m.width, m.height)))
	}
	sb.WriteString("\n\n")

	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	sb.WriteString(renderLegend())
	sb.WriteString("\n")

	sb.WriteString(m.statsLine())
	sb.WriteString("\n")

	sb.WriteString(renderLogBox(m.width, m.logLines, "Press 'q' to quit"))
	sb.WriteString("\n")

	return sb.String()
}

func (m leaderModel) statsLine() string {
	s := m.state

	rtt := fmt.Sprintf("rtt %.0fms", s.AvgRTTMillis)
	if s.AvgRTTMillis > relay.WarnRTTMillis {
		rtt = alertStyle.Render(rtt)
	}
	loss := fmt.Sprintf("loss %.1f%%", 100*s.Loss)
	if s.Loss > relay.WarnLoss {
		loss = alertStyle.Render(loss)
	}
	follower := statusStyle.Render("no follower")
	if s.FollowerConnected {
		follower = successStyle.Render("follower connected")
	}

	parts := []string{
		fmt.Sprintf("seq %d", s.Sequence),
		fmt.Sprintf("sent %d", s.Sent),
		fmt.Sprintf("acked %d", s.Acked),
		rtt,
		loss,
		follower,
	}
	if s.ReadErrors > 0 || s.PublishErrors > 0 {
		parts = append(parts, fmt.Sprintf("errors r%d/p%d", s.ReadErrors, s.PublishErrors))
	}
	return statusStyle.Render(strings.Join(parts, "  "))
}
