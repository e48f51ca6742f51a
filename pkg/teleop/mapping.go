package teleop

import "fmt"

// Pair is one leader→follower assignment.
type Pair struct {
	Leader   string
	Follower string
}

// MappingTable is a bijection from leader labels to follower labels.
// It is not safe for concurrent use; the control loop is its single
// writer and hands snapshots to everyone else.
type MappingTable struct {
	leaders   []string // stable display order
	followers map[string]string
}

// NewMappingTable pairs leaders and followers by index: Leader1 drives
// Follower1 and so on.
func NewMappingTable(leaders, followers []string) (*MappingTable, error) {
	if len(leaders) != len(followers) {
		return nil, fmt.Errorf("cannot map %d leader(s) onto %d follower(s)", len(leaders), len(followers))
	}
	if len(leaders) == 0 {
		return nil, fmt.Errorf("empty mapping")
	}
	t := &MappingTable{
		leaders:   append([]string(nil), leaders...),
		followers: make(map[string]string, len(leaders)),
	}
	for i, l := range leaders {
		t.followers[l] = followers[i]
	}
	return t, nil
}

// FollowerFor looks up the follower a leader drives.
func (t *MappingTable) FollowerFor(leader string) (string, bool) {
	f, ok := t.followers[leader]
	return f, ok
}

// Swap exchanges the followers of two leaders. Swapping a leader with
// itself is a no-op. The bijection is preserved either way.
func (t *MappingTable) Swap(leaderA, leaderB string) error {
	fa, ok := t.followers[leaderA]
	if !ok {
		return fmt.Errorf("unknown leader %q", leaderA)
	}
	fb, ok := t.followers[leaderB]
	if !ok {
		return fmt.Errorf("unknown leader %q", leaderB)
	}
	t.followers[leaderA], t.followers[leaderB] = fb, fa
	return nil
}

// Pairs returns the current assignments in stable leader order.
func (t *MappingTable) Pairs() []Pair {
	pairs := make([]Pair, 0, len(t.leaders))
	for _, l := range t.leaders {
		pairs = append(pairs, Pair{Leader: l, Follower: t.followers[l]})
	}
	return pairs
}

// Leaders returns the leader labels in stable order.
func (t *MappingTable) Leaders() []string {
	return append([]string(nil), t.leaders...)
}
