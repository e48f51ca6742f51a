package robot

import (
	"context"
	"fmt"
	"time"
)

// ConfirmFunc blocks until the operator has posed the arm at the
// middle of its range of motion. Returning an error aborts the
// calibration with nothing written to the servos.
type ConfirmFunc func(ctx context.Context) error

// calibrationDevice is the slice of Channel the procedure needs.
type calibrationDevice interface {
	Port() string
	Role() Role
	IDs() []int
	Resolution() int
	Positions(ctx context.Context) (map[int]int, error)
	Voltage(ctx context.Context) (float64, error)
	DisableTorque(ctx context.Context) error
	SetRegister(ctx context.Context, id int, name RegisterName, value int) error
}

// Calibrate runs the homing procedure on an arm: release the motors,
// prepare the control table, wait for the operator to pose the arm,
// then write a homing offset per motor so the firmware reports the
// chosen pose as the center of travel. The procedure is safe to rerun;
// offsets are cleared before positions are read, so a second pass over
// an already-calibrated arm measures raw encoder values again.
//
// On partial failure the returned Record holds whatever offsets were
// written alongside the error.
func Calibrate(ctx context.Context, c *Channel, confirm ConfirmFunc) (*Record, error) {
	return calibrate(ctx, c, confirm)
}

func calibrate(ctx context.Context, dev calibrationDevice, confirm ConfirmFunc) (*Record, error) {
	ids := dev.IDs()
	res := dev.Resolution()

	// Limp motors so the operator can pose the arm by hand. This also
	// unlocks the EEPROM for the configuration writes below.
	if err := dev.DisableTorque(ctx); err != nil {
		return nil, fmt.Errorf("release motors: %w", err)
	}

	phase := PhaseFollower
	if dev.Role() == RoleLeader {
		phase = PhaseLeader
	}
	for _, id := range ids {
		if err := dev.SetRegister(ctx, id, RegPhase, phase); err != nil {
			return nil, err
		}
		if err := dev.SetRegister(ctx, id, RegOperatingMode, ModePosition); err != nil {
			return nil, err
		}
		// Clear any previous offset so the read below sees raw
		// encoder values, not values shifted by an old calibration.
		if err := dev.SetRegister(ctx, id, RegHomingOffset, 0); err != nil {
			return nil, err
		}
		if err := dev.SetRegister(ctx, id, RegMinPositionLimit, 0); err != nil {
			return nil, err
		}
		if err := dev.SetRegister(ctx, id, RegMaxPositionLimit, res-1); err != nil {
			return nil, err
		}
	}

	if err := confirm(ctx); err != nil {
		return nil, fmt.Errorf("calibration aborted: %w", err)
	}

	positions, err := dev.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("read middle pose: %w", err)
	}
	voltage, err := dev.Voltage(ctx)
	if err != nil {
		return nil, fmt.Errorf("read voltage: %w", err)
	}

	rec := &Record{
		MotorIDs:      ids,
		HomePositions: make(map[int]int, len(ids)),
		Resolution:    res,
		Timestamp:     time.Now().UTC(),
		Port:          dev.Port(),
		Voltage:       voltage,
		Role:          dev.Role(),
	}

	for _, id := range ids {
		raw, ok := positions[id]
		if !ok {
			continue
		}
		offset := HomingOffset(raw, res)
		encoded, err := EncodeSignMagnitude(offset, SignBit)
		if err != nil {
			return rec, fmt.Errorf("motor %d: %w", id, err)
		}
		if err := dev.SetRegister(ctx, id, RegHomingOffset, encoded); err != nil {
			return rec, err
		}
		rec.HomePositions[id] = offset
	}

	if missing := rec.MissingIDs(); len(missing) > 0 {
		return rec, &CalibrationIncompleteError{Port: dev.Port(), Missing: missing}
	}
	return rec, nil
}
