package robot

import "time"

// RegisterName names an entry in the servo control table.
type RegisterName string

// Control table entries used by this module (STS3215).
const (
	RegMinPositionLimit   RegisterName = "min_position_limit"
	RegMaxPositionLimit   RegisterName = "max_position_limit"
	RegPhase              RegisterName = "phase"
	RegHomingOffset       RegisterName = "homing_offset"
	RegOperatingMode      RegisterName = "operating_mode"
	RegTorqueEnable       RegisterName = "torque_enable"
	RegGoalPosition       RegisterName = "goal_position"
	RegLock               RegisterName = "lock"
	RegPresentPosition    RegisterName = "present_position"
	RegPresentLoad        RegisterName = "present_load"
	RegPresentVoltage     RegisterName = "present_voltage"
	RegPresentTemperature RegisterName = "present_temperature"
)

type registerEntry struct {
	addr uint8
	size int // bytes
}

var registerTable = map[RegisterName]registerEntry{
	RegMinPositionLimit:   {9, 2},
	RegMaxPositionLimit:   {11, 2},
	RegPhase:              {18, 1},
	RegHomingOffset:       {31, 2},
	RegOperatingMode:      {33, 1},
	RegTorqueEnable:       {40, 1},
	RegGoalPosition:       {42, 2},
	RegLock:               {55, 1},
	RegPresentPosition:    {56, 2},
	RegPresentLoad:        {60, 2},
	RegPresentVoltage:     {62, 1},
	RegPresentTemperature: {63, 1},
}

// STS3215 device constants.
const (
	// Resolution is the number of discrete encoder positions.
	Resolution = 4096

	// SignBit is the sign bit index of the homing offset register,
	// which stores sign-magnitude rather than two's complement.
	SignBit = 11

	// ModePosition selects position control in the operating mode
	// register.
	ModePosition = 0

	// Phase register values per role for the SO-101 build. Vendor
	// constants; written verbatim during calibration.
	PhaseLeader   = 12
	PhaseFollower = 76
)

const (
	// DefaultBaudRate is the bus speed the arms ship with.
	DefaultBaudRate = 1_000_000

	defaultTimeout = 100 * time.Millisecond
)
