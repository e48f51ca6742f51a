package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"go.bug.st/serial"

	"github.com/gwillem/telearm/pkg/robot"
)

type SetupCommand struct {
	BusOptions
	Leaders   int `long:"leaders" default:"1" description:"Expected number of leader arms"`
	Followers int `long:"followers" default:"1" description:"Expected number of follower arms"`
}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("TeleArm Setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━"))
	fmt.Println()

	ctx := context.Background()

	// Step 1: Find and identify arms by supply voltage
	fleet := discoverArms(ctx, c)
	defer fleet.Close()

	config := configFromFleet(fleet)
	if err := config.Save(); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	// Step 2: Calibrate each arm in turn
	for i, ch := range fleet.All() {
		fmt.Println()
		fmt.Println(subHeaderStyle.Render(fmt.Sprintf("━━━ Calibrating %s ━━━", ch.Label())))
		fmt.Println()
		fmt.Printf("Calibrating %s on %s\n", ch.Label(), ch.Port())

		record, err := robot.Calibrate(ctx, ch, confirmMiddlePose(ch.Label()))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error calibrating %s: %v\n", ch.Label(), err)
			os.Exit(1)
		}

		path := calibrationPath(ch.Label())
		if err := record.SaveTo(path); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving calibration: %v\n", err)
			os.Exit(1)
		}
		setCalibrationPath(config, i, path)
		if err := config.Save(); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
			os.Exit(1)
		}

		fmt.Println(successStyle.Render(fmt.Sprintf("%s calibrated.", ch.Label())))
	}

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", robot.DefaultConfigFile)
	fmt.Println()
	fmt.Println("Start teleoperation with: " + headerStyle.Render("telearm teleoperate"))

	return nil
}

func discoverArms(ctx context.Context, c *SetupCommand) *robot.Fleet {
	fmt.Println("Scanning for robot arms...")
	fmt.Println()

	ports := scanPorts()
	if len(ports) == 0 {
		fmt.Println("No serial ports found.")
		fmt.Println("Make sure your arms are connected and powered on.")
		os.Exit(1)
	}

	fleet, err := robot.Discover(ctx, robot.DiscoverConfig{
		Ports:         ports,
		MotorIDs:      c.motorIDs(),
		BaudRate:      c.Baud,
		WantLeaders:   c.Leaders,
		WantFollowers: c.Followers,
		Logf: func(format string, args ...any) {
			fmt.Printf("  "+format+"\n", args...)
		},
	})
	if err != nil {
		fmt.Println()
		fmt.Fprintf(os.Stderr, "%v\n", err)
		fmt.Fprintln(os.Stderr, "Leader arms run on a 5V supply, followers on 12V.")
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Arms identified:"))
	fmt.Println(assignmentTable(ctx, fleet))

	return fleet
}

// scanPorts lists serial ports worth probing.
func scanPorts() []string {
	all, err := serial.GetPortsList()
	if err != nil {
		fmt.Printf("Error listing ports: %v\n", err)
		return nil
	}

	var ports []string
	for _, port := range all {
		// Skip Bluetooth ports on macOS
		if strings.Contains(port, "Bluetooth") {
			continue
		}
		ports = append(ports, port)
	}
	return ports
}

func assignmentTable(ctx context.Context, fleet *robot.Fleet) string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)

	rows := make([][]string, 0, len(fleet.Leaders)+len(fleet.Followers))
	for _, ch := range fleet.All() {
		voltage := "?"
		if v, err := ch.Voltage(ctx); err == nil {
			voltage = fmt.Sprintf("%.1fV", v)
		}
		rows = append(rows, []string{ch.Label(), ch.Port(), voltage, string(ch.Role())})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Arm", "Port", "Voltage", "Role").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			return cellStyle
		}).
		Render()
}

func configFromFleet(fleet *robot.Fleet) *robot.Config {
	config := &robot.Config{}
	for _, ch := range fleet.Leaders {
		config.Leaders = append(config.Leaders, robot.ArmConfig{Port: ch.Port()})
	}
	for _, ch := range fleet.Followers {
		config.Followers = append(config.Followers, robot.ArmConfig{Port: ch.Port()})
	}
	return config
}

// setCalibrationPath records the calibration file for the i-th arm in
// fleet order, leaders first.
func setCalibrationPath(config *robot.Config, i int, path string) {
	if i < len(config.Leaders) {
		config.Leaders[i].Calibration = path
		return
	}
	config.Followers[i-len(config.Leaders)].Calibration = path
}
