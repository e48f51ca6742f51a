package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/gwillem/telearm/pkg/robot"
)

type CalibrateCommand struct {
	BusOptions
	Port       string `long:"port" description:"Calibrate only the arm on this port"`
	Continuous bool   `long:"continuous" description:"Calibrate every configured arm one after another"`
}

// calTarget points into the loaded config so the calibration path can
// be written back after a successful run.
type calTarget struct {
	arm   *robot.ArmConfig
	role  robot.Role
	label string
}

func (c *CalibrateCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("TeleArm Calibrate"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━"))

	config := loadConfigOrExit()
	targets := c.pickTargets(config)

	ctx := context.Background()
	for _, target := range targets {
		fmt.Println()
		fmt.Println(subHeaderStyle.Render(fmt.Sprintf("━━━ Calibrating %s ━━━", target.label)))
		fmt.Println()

		ch, err := openArm(ctx, *target.arm, target.role, target.label, c.BusOptions)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

		record, err := robot.Calibrate(ctx, ch, confirmMiddlePose(target.label))
		ch.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error calibrating %s: %v\n", target.label, err)
			os.Exit(1)
		}

		if target.arm.Calibration == "" {
			target.arm.Calibration = calibrationPath(target.label)
		}
		if err := record.SaveTo(target.arm.Calibration); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving calibration: %v\n", err)
			os.Exit(1)
		}
		if err := config.Save(); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
			os.Exit(1)
		}

		fmt.Println(offsetTable(record))
		fmt.Println(successStyle.Render(fmt.Sprintf("%s calibrated, saved to %s", target.label, target.arm.Calibration)))
	}

	return nil
}

// pickTargets selects which arms to calibrate: a named port, every
// configured arm in continuous mode, or one chosen interactively.
func (c *CalibrateCommand) pickTargets(config *robot.Config) []calTarget {
	var all []calTarget
	for i := range config.Leaders {
		all = append(all, calTarget{
			arm:   &config.Leaders[i],
			role:  robot.RoleLeader,
			label: fmt.Sprintf("Leader%d", i+1),
		})
	}
	for i := range config.Followers {
		all = append(all, calTarget{
			arm:   &config.Followers[i],
			role:  robot.RoleFollower,
			label: fmt.Sprintf("Follower%d", i+1),
		})
	}

	if c.Port != "" {
		for _, target := range all {
			if target.arm.Port == c.Port {
				return []calTarget{target}
			}
		}
		fmt.Fprintf(os.Stderr, "Port %s is not in %s. Run 'telearm setup' first.\n", c.Port, robot.DefaultConfigFile)
		os.Exit(1)
	}

	if c.Continuous || len(all) == 1 {
		return all
	}

	var picked int
	options := make([]huh.Option[int], len(all))
	for i, target := range all {
		options[i] = huh.NewOption(fmt.Sprintf("%s (%s)", target.label, target.arm.Port), i)
	}
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[int]().
				Title("Which arm do you want to calibrate?").
				Options(options...).
				Value(&picked),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}
	return []calTarget{all[picked]}
}

func offsetTable(record *robot.Record) string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)

	ids := make([]int, 0, len(record.HomePositions))
	for id := range record.HomePositions {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, []string{
			fmt.Sprintf("%d", id),
			robot.NameByID(id),
			fmt.Sprintf("%+d", record.HomePositions[id]),
		})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("ID", "Motor", "Offset").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			return cellStyle
		}).
		Render()
}
