package teleop

import "testing"

func TestNewMappingTable(t *testing.T) {
	table, err := NewMappingTable(
		[]string{"Leader1", "Leader2"},
		[]string{"Follower1", "Follower2"},
	)
	if err != nil {
		t.Fatalf("NewMappingTable failed: %v", err)
	}

	for _, tt := range []struct{ leader, follower string }{
		{"Leader1", "Follower1"},
		{"Leader2", "Follower2"},
	} {
		got, ok := table.FollowerFor(tt.leader)
		if !ok || got != tt.follower {
			t.Errorf("FollowerFor(%s) = %s, want %s", tt.leader, got, tt.follower)
		}
	}

	if _, ok := table.FollowerFor("Leader9"); ok {
		t.Error("FollowerFor should miss on an unknown leader")
	}
}

func TestNewMappingTable_CountMismatch(t *testing.T) {
	if _, err := NewMappingTable([]string{"Leader1"}, []string{"Follower1", "Follower2"}); err == nil {
		t.Error("expected error for 1 leader and 2 followers")
	}
	if _, err := NewMappingTable(nil, nil); err == nil {
		t.Error("expected error for empty mapping")
	}
}

func TestMappingTable_Swap(t *testing.T) {
	table, err := NewMappingTable(
		[]string{"Leader1", "Leader2"},
		[]string{"Follower1", "Follower2"},
	)
	if err != nil {
		t.Fatalf("NewMappingTable failed: %v", err)
	}

	if err := table.Swap("Leader1", "Leader2"); err != nil {
		t.Fatalf("Swap failed: %v", err)
	}
	assertMapping(t, table, map[string]string{
		"Leader1": "Follower2",
		"Leader2": "Follower1",
	})

	// A second swap restores the original assignment.
	if err := table.Swap("Leader1", "Leader2"); err != nil {
		t.Fatalf("second Swap failed: %v", err)
	}
	assertMapping(t, table, map[string]string{
		"Leader1": "Follower1",
		"Leader2": "Follower2",
	})
}

func TestMappingTable_SwapSelf(t *testing.T) {
	table, _ := NewMappingTable([]string{"Leader1"}, []string{"Follower1"})
	if err := table.Swap("Leader1", "Leader1"); err != nil {
		t.Fatalf("self-swap failed: %v", err)
	}
	assertMapping(t, table, map[string]string{"Leader1": "Follower1"})
}

func TestMappingTable_SwapUnknown(t *testing.T) {
	table, _ := NewMappingTable([]string{"Leader1"}, []string{"Follower1"})
	if err := table.Swap("Leader1", "Leader9"); err == nil {
		t.Error("expected error for unknown leader")
	}
	if err := table.Swap("Leader9", "Leader1"); err == nil {
		t.Error("expected error for unknown leader")
	}
}

func TestMappingTable_StaysBijective(t *testing.T) {
	table, err := NewMappingTable(
		[]string{"Leader1", "Leader2", "Leader3"},
		[]string{"Follower1", "Follower2", "Follower3"},
	)
	if err != nil {
		t.Fatalf("NewMappingTable failed: %v", err)
	}

	swaps := [][2]string{
		{"Leader1", "Leader2"},
		{"Leader2", "Leader3"},
		{"Leader1", "Leader3"},
		{"Leader3", "Leader3"},
		{"Leader2", "Leader1"},
	}
	for _, s := range swaps {
		if err := table.Swap(s[0], s[1]); err != nil {
			t.Fatalf("Swap(%s, %s) failed: %v", s[0], s[1], err)
		}
		seen := make(map[string]bool)
		for _, p := range table.Pairs() {
			if p.Follower == "" {
				t.Fatalf("leader %s lost its follower after swap %v", p.Leader, s)
			}
			if seen[p.Follower] {
				t.Fatalf("follower %s mapped twice after swap %v", p.Follower, s)
			}
			seen[p.Follower] = true
		}
		if len(seen) != 3 {
			t.Fatalf("mapping covers %d followers after swap %v, want 3", len(seen), s)
		}
	}
}

func assertMapping(t *testing.T, table *MappingTable, want map[string]string) {
	t.Helper()
	for leader, follower := range want {
		got, ok := table.FollowerFor(leader)
		if !ok || got != follower {
			t.Errorf("FollowerFor(%s) = %s, want %s", leader, got, follower)
		}
	}
}
