// Package robot provides the device channel, role identification and
// calibration layers for SO-101 robot arms.
package robot

import "strconv"

// MotorName identifies a motor in the arm.
type MotorName string

// Motor names for the SO-101 arm.
const (
	ShoulderPan  MotorName = "shoulder_pan"
	ShoulderLift MotorName = "shoulder_lift"
	ElbowFlex    MotorName = "elbow_flex"
	WristFlex    MotorName = "wrist_flex"
	WristRoll    MotorName = "wrist_roll"
	Gripper      MotorName = "gripper"
)

// AllMotors returns all motor names in order (matching servo IDs 1-6).
func AllMotors() []MotorName {
	return []MotorName{
		ShoulderPan,
		ShoulderLift,
		ElbowFlex,
		WristFlex,
		WristRoll,
		Gripper,
	}
}

// DefaultMotorIDs returns the servo IDs of a stock SO-101 arm.
func DefaultMotorIDs() []int {
	return []int{1, 2, 3, 4, 5, 6}
}

// NameByID returns the display name for a servo ID. IDs outside the
// stock layout render as "motor_<id>".
func NameByID(id int) string {
	motors := AllMotors()
	if id >= 1 && id <= len(motors) {
		return string(motors[id-1])
	}
	return "motor_" + strconv.Itoa(id)
}
