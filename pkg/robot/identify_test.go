package robot

import (
	"errors"
	"testing"
)

func TestClassifyVoltage(t *testing.T) {
	tests := []struct {
		voltage  float64
		expected Role
	}{
		{5.0, RoleLeader},
		{4.5, RoleLeader}, // band edges are inclusive
		{5.5, RoleLeader},
		{12.0, RoleFollower},
		{11.0, RoleFollower},
		{13.0, RoleFollower},
		{4.4, RoleUnknown}, // under the leader band
		{5.6, RoleUnknown}, // between bands
		{7.4, RoleUnknown},
		{10.9, RoleUnknown},
		{13.1, RoleUnknown}, // over the follower band
		{0.0, RoleUnknown},
		{24.0, RoleUnknown},
	}

	for _, tt := range tests {
		got := ClassifyVoltage(tt.voltage)
		if got != tt.expected {
			t.Errorf("ClassifyVoltage(%.1f) = %s, want %s", tt.voltage, got, tt.expected)
		}
	}
}

func TestClassifyVoltage_MixedFleet(t *testing.T) {
	// Two leaders and two followers on a shared bench supply rail
	// spread, in the order the ports enumerate.
	voltages := []float64{5.1, 12.2, 4.9, 11.8}
	expected := []Role{RoleLeader, RoleFollower, RoleLeader, RoleFollower}

	leaders, followers := 0, 0
	for i, v := range voltages {
		role := ClassifyVoltage(v)
		if role != expected[i] {
			t.Fatalf("ClassifyVoltage(%.1f) = %s, want %s", v, role, expected[i])
		}
		switch role {
		case RoleLeader:
			leaders++
		case RoleFollower:
			followers++
		}
	}
	if leaders != 2 || followers != 2 {
		t.Errorf("counted %d leaders and %d followers, want 2 and 2", leaders, followers)
	}
}

func TestAssignRole(t *testing.T) {
	c := &Channel{port: "/dev/ttyACM0", role: RoleUnknown, resolution: Resolution}

	c.AssignRole(RoleLeader, "Leader1")
	if c.Role() != RoleLeader {
		t.Errorf("Role() = %s, want %s", c.Role(), RoleLeader)
	}
	if c.Label() != "Leader1" {
		t.Errorf("Label() = %s, want Leader1", c.Label())
	}
}

func TestRoleCountMismatchError(t *testing.T) {
	err := error(&RoleCountMismatchError{Role: RoleLeader, Want: 2, Got: 1})

	var mismatch *RoleCountMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatal("errors.As failed to match RoleCountMismatchError")
	}
	want := "expected 2 leader arm(s), found 1"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
