package robot

import "testing"

func TestChannel_Clamp(t *testing.T) {
	c := &Channel{resolution: Resolution}

	tests := []struct {
		pos      int
		expected int
	}{
		{2048, 2048},
		{0, 0},
		{4095, 4095},
		{-1, 0},      // under travel
		{4096, 4095}, // over travel
		{9999, 4095},
	}

	for _, tt := range tests {
		if got := c.Clamp(tt.pos); got != tt.expected {
			t.Errorf("Clamp(%d) = %d, want %d", tt.pos, got, tt.expected)
		}
	}
}

func TestIDRange(t *testing.T) {
	tests := []struct {
		ids    []int
		lo, hi int
	}{
		{[]int{1, 2, 3, 4, 5, 6}, 1, 6},
		{[]int{6, 1, 3}, 1, 6},
		{[]int{4}, 4, 4},
	}

	for _, tt := range tests {
		lo, hi := idRange(tt.ids)
		if lo != tt.lo || hi != tt.hi {
			t.Errorf("idRange(%v) = %d..%d, want %d..%d", tt.ids, lo, hi, tt.lo, tt.hi)
		}
	}
}

func TestNameByID(t *testing.T) {
	if got := NameByID(1); got != string(ShoulderPan) {
		t.Errorf("NameByID(1) = %s, want %s", got, ShoulderPan)
	}
	if got := NameByID(6); got != string(Gripper) {
		t.Errorf("NameByID(6) = %s, want %s", got, Gripper)
	}
	if got := NameByID(42); got != "motor_42" {
		t.Errorf("NameByID(42) = %s, want motor_42", got)
	}
}
