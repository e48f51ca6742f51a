package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/gwillem/telearm/pkg/robot"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// BusOptions are shared by every command that opens hardware.
type BusOptions struct {
	IDs  []int `long:"id" description:"Motor id to use (repeat for several; default 1-6)"`
	Baud int   `long:"baud" default:"1000000" description:"Serial baud rate"`
}

func (b *BusOptions) motorIDs() []int {
	if len(b.IDs) == 0 {
		return robot.DefaultMotorIDs()
	}
	return b.IDs
}

func loadConfigOrExit() *robot.Config {
	cfg, err := robot.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "No configuration found. Run 'telearm setup' first.")
		os.Exit(1)
	}
	if len(cfg.Leaders) == 0 && len(cfg.Followers) == 0 {
		fmt.Fprintln(os.Stderr, "No arms configured. Run 'telearm setup' first.")
		os.Exit(1)
	}
	return cfg
}

// openArm opens one configured channel and re-verifies its role by
// supply voltage before anything moves. The config names a port; the
// voltage says what is actually plugged into it.
func openArm(ctx context.Context, arm robot.ArmConfig, want robot.Role, label string, bus BusOptions) (*robot.Channel, error) {
	ch, err := robot.Open(robot.ChannelConfig{
		Port:     arm.Port,
		MotorIDs: bus.motorIDs(),
		BaudRate: bus.Baud,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", arm.Port, err)
	}

	identity, err := robot.Identify(ctx, ch)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("identify %s: %w", arm.Port, err)
	}
	if identity.Role != want {
		ch.Close()
		return nil, fmt.Errorf("arm on %s reads %.1fV (%s), configured as %s; re-run 'telearm setup'",
			arm.Port, identity.Voltage, identity.Role, want)
	}
	ch.AssignRole(want, label)

	if missing := ch.Missing(); len(missing) > 0 {
		fmt.Fprintf(os.Stderr, "%s\n", warnStyle.Render(
			fmt.Sprintf("Warning: %s motors %v not responding", label, missing)))
	}
	return ch, nil
}

// openLeaders opens and verifies every configured leader arm.
func openLeaders(ctx context.Context, cfg *robot.Config, bus BusOptions) ([]*robot.Channel, error) {
	var channels []*robot.Channel
	for i, arm := range cfg.Leaders {
		ch, err := openArm(ctx, arm, robot.RoleLeader, fmt.Sprintf("Leader%d", i+1), bus)
		if err != nil {
			closeAll(channels)
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

// openFollowers opens and verifies every configured follower arm.
func openFollowers(ctx context.Context, cfg *robot.Config, bus BusOptions) ([]*robot.Channel, error) {
	var channels []*robot.Channel
	for i, arm := range cfg.Followers {
		ch, err := openArm(ctx, arm, robot.RoleFollower, fmt.Sprintf("Follower%d", i+1), bus)
		if err != nil {
			closeAll(channels)
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

func closeAll(channels []*robot.Channel) {
	for _, ch := range channels {
		ch.Close()
	}
}

// requireCalibrated exits when any listed arm lacks a complete
// calibration record. No motion is commanded past this point without
// known offsets.
func requireCalibrated(arms ...[]robot.ArmConfig) {
	for _, list := range arms {
		for _, arm := range list {
			if !arm.IsCalibrated() {
				fmt.Fprintf(os.Stderr, "Arm on %s is not calibrated. Run 'telearm calibrate' first.\n", arm.Port)
				os.Exit(1)
			}
		}
	}
}

// confirmMiddlePose blocks until the operator confirms the arm is
// centered, satisfying robot.ConfirmFunc.
func confirmMiddlePose(label string) robot.ConfirmFunc {
	return func(ctx context.Context) error {
		fmt.Println()
		fmt.Printf("Move %s to the middle of its range on every joint.\n", label)

		confirmed := false
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Is %s in its middle pose?", label)).
					Affirmative("Yes, record it").
					Negative("Abort").
					Value(&confirmed),
			),
		)
		if err := form.Run(); err != nil {
			return err
		}
		if !confirmed {
			return fmt.Errorf("calibration aborted")
		}
		return nil
	}
}

// calibrationPath is where a record lands when the config does not
// name one yet.
func calibrationPath(label string) string {
	return fmt.Sprintf("calibration/%s.json", label)
}
