package main

import (
	"os"

	"github.com/jessevdk/go-flags"
)

type Options struct {
	Setup       SetupCommand       `command:"setup" description:"Scan for arms, identify roles and calibrate them"`
	Calibrate   CalibrateCommand   `command:"calibrate" description:"(Re)calibrate configured arms"`
	Teleoperate TeleoperateCommand `command:"teleoperate" alias:"teleop" description:"Start local teleoperation (leader-follower control)"`
	Leader      LeaderCommand      `command:"leader" description:"Publish leader arm positions to the relay"`
	Follower    FollowerCommand    `command:"follower" description:"Drive follower arms from relay telemetry"`
	Monitor     MonitorCommand     `command:"monitor" description:"Live position/voltage/temperature readout for one arm"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "TeleArm - Leader/follower teleoperation CLI for SO-101 arms"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}
