package robot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Record is the durable result of calibrating one arm. HomePositions
// maps motor id to the homing offset computed from the user's chosen
// middle pose; the offset also lives in the servo's non-volatile
// HomingOffset register, so the record is the recovery copy and the
// audit trail, not the source of truth at runtime.
type Record struct {
	MotorIDs      []int       `json:"motor_ids"`
	HomePositions map[int]int `json:"home_positions"`
	Resolution    int         `json:"resolution"`
	Timestamp     time.Time   `json:"timestamp"`
	Port          string      `json:"port"`
	Voltage       float64     `json:"voltage"`
	Role          Role        `json:"role"`
	Notes         string      `json:"notes,omitempty"`
}

// MissingIDs returns the motor ids the record claims but has no
// offset for. A non-empty result means calibration did not finish.
func (r *Record) MissingIDs() []int {
	var missing []int
	for _, id := range r.MotorIDs {
		if _, ok := r.HomePositions[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// Complete reports whether every claimed motor has an offset.
func (r *Record) Complete() bool {
	return len(r.MissingIDs()) == 0
}

// SaveTo writes the record as indented JSON, creating parent
// directories as needed.
func (r *Record) SaveTo(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create calibration dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode calibration: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write calibration: %w", err)
	}
	return nil
}

// LoadRecord reads a calibration record from disk.
func LoadRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibration: %w", err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse calibration %s: %w", path, err)
	}
	return &r, nil
}

// HomingOffset computes the offset that recenters a raw encoder
// reading onto the middle of the travel. After the offset is written
// the firmware reports the same physical pose as resolution/2.
func HomingOffset(raw, resolution int) int {
	return raw - resolution/2
}

// Canonical converts a raw encoder reading into the frame the
// firmware reports once a homing offset is active.
func Canonical(raw, offset int) int {
	return raw - offset
}

// Decanonicalize converts a canonical position back to the raw
// encoder frame.
func Decanonicalize(canonical, offset int) int {
	return canonical + offset
}

// EncodeSignMagnitude packs a signed offset into the sign-magnitude
// layout the STS3215 uses for its HomingOffset register: the sign
// lives in the given bit, the magnitude below it. Offsets whose
// magnitude does not fit cannot be represented on the device and are
// rejected.
func EncodeSignMagnitude(v, signBit int) (int, error) {
	magnitude := v
	if magnitude < 0 {
		magnitude = -magnitude
	}
	if magnitude >= 1<<signBit {
		return 0, fmt.Errorf("offset %d exceeds %d-bit magnitude", v, signBit)
	}
	if v < 0 {
		return magnitude | 1<<signBit, nil
	}
	return magnitude, nil
}

// DecodeSignMagnitude unpacks a sign-magnitude register value.
func DecodeSignMagnitude(encoded, signBit int) int {
	magnitude := encoded &^ (1 << signBit)
	if encoded&(1<<signBit) != 0 {
		return -magnitude
	}
	return magnitude
}
