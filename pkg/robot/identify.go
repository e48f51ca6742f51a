package robot

import (
	"context"
	"fmt"
	"sort"
)

// Role is the function an arm performs in a teleoperation session,
// derived from its supply voltage. Leader arms run on 5V, follower
// arms on 12V.
type Role string

const (
	RoleLeader   Role = "leader"
	RoleFollower Role = "follower"
	RoleUnknown  Role = "unknown"
)

// Supply voltage bands. Anything outside both bands is a wiring or
// power-supply problem, never a guess.
const (
	LeaderMinVoltage   = 4.5
	LeaderMaxVoltage   = 5.5
	FollowerMinVoltage = 11.0
	FollowerMaxVoltage = 13.0
)

// ClassifyVoltage maps a supply voltage to a role. Voltages outside
// both bands return RoleUnknown.
func ClassifyVoltage(v float64) Role {
	switch {
	case v >= LeaderMinVoltage && v <= LeaderMaxVoltage:
		return RoleLeader
	case v >= FollowerMinVoltage && v <= FollowerMaxVoltage:
		return RoleFollower
	default:
		return RoleUnknown
	}
}

// Identity is the classification result for one channel.
type Identity struct {
	Port    string
	Voltage float64
	Role    Role
}

// Identify reads a channel's supply voltage once and classifies it.
// The channel is not modified; call AssignRole once counts have been
// validated.
func Identify(ctx context.Context, c *Channel) (Identity, error) {
	v, err := c.Voltage(ctx)
	if err != nil {
		return Identity{}, fmt.Errorf("identify %s: %w", c.Port(), err)
	}
	return Identity{Port: c.Port(), Voltage: v, Role: ClassifyVoltage(v)}, nil
}

// IdentifyVoltages classifies every channel by its measured supply
// voltage.
func IdentifyVoltages(ctx context.Context, channels []*Channel) ([]Identity, error) {
	identities := make([]Identity, 0, len(channels))
	for _, c := range channels {
		id, err := Identify(ctx, c)
		if err != nil {
			return nil, err
		}
		identities = append(identities, id)
	}
	return identities, nil
}

// DiscoverConfig controls fleet discovery.
type DiscoverConfig struct {
	Ports         []string
	MotorIDs      []int
	BaudRate      int
	WantLeaders   int // exact leader count required, 0 = any
	WantFollowers int // exact follower count required, 0 = any
	Logf          func(format string, args ...any)
}

// Fleet is the set of identified channels for one session, labeled in
// discovery order: the first leader found is always "Leader1"
// regardless of which port it appeared on.
type Fleet struct {
	Leaders   []*Channel
	Followers []*Channel
}

// All returns every channel in the fleet, leaders first.
func (f *Fleet) All() []*Channel {
	all := make([]*Channel, 0, len(f.Leaders)+len(f.Followers))
	all = append(all, f.Leaders...)
	all = append(all, f.Followers...)
	return all
}

// Close closes every channel in the fleet, returning the first error.
func (f *Fleet) Close() error {
	var first error
	for _, c := range f.All() {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Discover opens every port, classifies each responding arm by supply
// voltage and labels the survivors. Arms with out-of-band voltages are
// closed and skipped with a warning. When WantLeaders or WantFollowers
// is set and the count does not match, every channel is closed and a
// RoleCountMismatchError is returned.
func Discover(ctx context.Context, cfg DiscoverConfig) (*Fleet, error) {
	logf := cfg.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}

	ports := append([]string(nil), cfg.Ports...)
	sort.Strings(ports)

	fleet := &Fleet{}
	fail := func(err error) (*Fleet, error) {
		fleet.Close()
		return nil, err
	}

	for _, port := range ports {
		c, err := Open(ChannelConfig{
			Port:     port,
			MotorIDs: cfg.MotorIDs,
			BaudRate: cfg.BaudRate,
		})
		if err != nil {
			logf("skipping %s: %v", port, err)
			continue
		}
		if missing := c.Missing(); len(missing) > 0 {
			logf("%s: motors %v not responding", port, missing)
		}

		id, err := Identify(ctx, c)
		if err != nil {
			c.Close()
			return fail(err)
		}

		switch id.Role {
		case RoleLeader:
			label := fmt.Sprintf("Leader%d", len(fleet.Leaders)+1)
			c.AssignRole(RoleLeader, label)
			fleet.Leaders = append(fleet.Leaders, c)
			logf("%s: %.1fV, %s", port, id.Voltage, label)
		case RoleFollower:
			label := fmt.Sprintf("Follower%d", len(fleet.Followers)+1)
			c.AssignRole(RoleFollower, label)
			fleet.Followers = append(fleet.Followers, c)
			logf("%s: %.1fV, %s", port, id.Voltage, label)
		default:
			logf("%s: %.1fV is outside both supply bands, skipping", port, id.Voltage)
			c.Close()
		}
	}

	if cfg.WantLeaders > 0 && len(fleet.Leaders) != cfg.WantLeaders {
		return fail(&RoleCountMismatchError{Role: RoleLeader, Want: cfg.WantLeaders, Got: len(fleet.Leaders)})
	}
	if cfg.WantFollowers > 0 && len(fleet.Followers) != cfg.WantFollowers {
		return fail(&RoleCountMismatchError{Role: RoleFollower, Want: cfg.WantFollowers, Got: len(fleet.Followers)})
	}
	return fleet, nil
}
