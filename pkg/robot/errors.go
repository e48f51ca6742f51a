package robot

import "fmt"

// DeviceUnresponsiveError reports motors on a channel that did not
// answer a ping. The channel keeps operating on the remaining motors.
type DeviceUnresponsiveError struct {
	Port string
	IDs  []int
}

func (e *DeviceUnresponsiveError) Error() string {
	return fmt.Sprintf("motors %v on %s did not respond", e.IDs, e.Port)
}

// RoleCountMismatchError is returned when discovery finds a different
// number of leaders or followers than the session expects. It is fatal:
// the session must not start with a partial fleet.
type RoleCountMismatchError struct {
	Role Role
	Want int
	Got  int
}

func (e *RoleCountMismatchError) Error() string {
	return fmt.Sprintf("expected %d %s arm(s), found %d", e.Want, e.Role, e.Got)
}

// CalibrationIncompleteError reports motors without a stored homing
// offset. Teleoperation refuses to start until every configured motor
// is calibrated.
type CalibrationIncompleteError struct {
	Port    string
	Missing []int
}

func (e *CalibrationIncompleteError) Error() string {
	return fmt.Sprintf("calibration on %s is missing offsets for motors %v", e.Port, e.Missing)
}
