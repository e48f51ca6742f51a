package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/gwillem/telearm/pkg/robot"
	"github.com/gwillem/telearm/pkg/teleop"
)

type MonitorCommand struct {
	BusOptions
	Port string `long:"port" description:"Serial port to monitor (default: first configured arm)"`
}

func (c *MonitorCommand) Execute(args []string) error {
	port := c.Port
	if port == "" {
		config, err := robot.LoadConfig()
		if err != nil || len(config.Ports()) == 0 {
			fmt.Fprintln(os.Stderr, "No port given and no configuration found. Use --port or run 'telearm setup'.")
			os.Exit(1)
		}
		port = config.Ports()[0]
	}

	ch, err := robot.Open(robot.ChannelConfig{
		Port:     port,
		MotorIDs: c.motorIDs(),
		BaudRate: c.Baud,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", port, err)
		os.Exit(1)
	}
	defer ch.Close()

	ctx := context.Background()
	identity, err := robot.Identify(ctx, ch)
	if err != nil {
		fmt.Fprintf(os.Stderr, "identify %s: %v\n", port, err)
		os.Exit(1)
	}

	p := tea.NewProgram(newMonitorModel(ch, identity))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}

	return nil
}

type monitorTickMsg time.Time

func monitorTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

type monitorModel struct {
	ch       *robot.Channel
	identity robot.Identity

	positions map[int]int
	temps     map[int]int
	voltage   float64
	lastErr   string
	quitting  bool
}

func newMonitorModel(ch *robot.Channel, identity robot.Identity) monitorModel {
	return monitorModel{
		ch:        ch,
		identity:  identity,
		positions: map[int]int{},
		temps:     map[int]int{},
		voltage:   identity.Voltage,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return monitorTick()
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter", "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case monitorTickMsg:
		ctx := context.Background()
		m.lastErr = ""

		if positions, err := m.ch.Positions(ctx); err == nil {
			m.positions = positions
		} else {
			m.lastErr = err.Error()
		}
		if v, err := m.ch.Voltage(ctx); err == nil {
			m.voltage = v
		}
		for _, id := range m.ch.IDs() {
			if t, err := m.ch.Temperature(ctx, id); err == nil {
				m.temps[id] = t
			}
		}
		return m, monitorTick()
	}

	return m, nil
}

func (m monitorModel) View() string {
	if m.quitting {
		return ""
	}

	var sb strings.Builder

	sb.WriteString(titleStyle.Render("TeleArm Monitor"))
	sb.WriteString(fmt.Sprintf(" - %s ", m.ch.Port()))
	sb.WriteString(statusStyle.Render(fmt.Sprintf("(%s, %.1fV)", m.identity.Role, m.voltage)))
	sb.WriteString("\n\n")

	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)

	ids := m.ch.IDs()
	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		raw, ok := m.positions[id]
		rawCell, pctCell := "-", "-"
		if ok {
			rawCell = fmt.Sprintf("%d", raw)
			pctCell = fmt.Sprintf("%.1f%%", teleop.Percent(raw, m.ch.Resolution()))
		}
		tempCell := "-"
		if t, ok := m.temps[id]; ok {
			tempCell = fmt.Sprintf("%d°C", t)
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", id),
			robot.NameByID(id),
			rawCell,
			pctCell,
			tempCell,
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("ID", "Motor", "Raw", "Percent", "Temp").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			if col == 1 && row >= 0 && row < len(ids) {
				color, ok := motorColors[ids[row]]
				if ok {
					return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Padding(0, 1)
				}
			}
			return cellStyle
		})

	sb.WriteString(t.Render())
	sb.WriteString("\n")
	if m.lastErr != "" {
		sb.WriteString(alertStyle.Render(m.lastErr))
		sb.WriteString("\n")
	}
	if missing := m.ch.Missing(); len(missing) > 0 {
		sb.WriteString(warnStyle.Render(fmt.Sprintf("motors %v not responding", missing)))
		sb.WriteString("\n")
	}
	sb.WriteString(statusStyle.Render("Press 'q' to quit"))
	sb.WriteString("\n")

	return sb.String()
}
