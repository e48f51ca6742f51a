package robot

import (
	"context"
	"fmt"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
)

// Channel is one serial connection to a multi-motor bus. A channel is
// owned by exactly one role for the life of a session; I/O on it is
// strictly sequential because the bus is half-duplex.
type Channel struct {
	port       string
	role       Role
	label      string
	resolution int

	bus    *feetech.Bus
	group  *feetech.ServoGroup
	servos map[int]*feetech.Servo

	ids     []int // responding motors, in configuration order
	missing []int // configured motors that did not answer the scan
}

// ChannelConfig describes how to open a Channel.
type ChannelConfig struct {
	Port       string
	MotorIDs   []int         // defaults to the SO-101 layout (1-6)
	BaudRate   int           // defaults to 1M baud
	Resolution int           // defaults to the STS3215's 4096
	Timeout    time.Duration // per-operation serial timeout
}

// Open connects to the bus and pings every configured motor. Motors
// that do not answer are excluded from the channel and reported by
// Missing; opening fails only when the port itself is unusable or no
// motor responds at all.
func Open(cfg ChannelConfig) (*Channel, error) {
	if len(cfg.MotorIDs) == 0 {
		cfg.MotorIDs = DefaultMotorIDs()
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.Resolution == 0 {
		cfg.Resolution = Resolution
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     cfg.Port,
		BaudRate: cfg.BaudRate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open bus %s: %w", cfg.Port, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	lo, hi := idRange(cfg.MotorIDs)
	found, err := bus.Scan(ctx, lo, hi)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("scan %s: %w", cfg.Port, err)
	}

	c := &Channel{
		port:       cfg.Port,
		role:       RoleUnknown,
		resolution: cfg.Resolution,
		bus:        bus,
		servos:     make(map[int]*feetech.Servo, len(found)),
	}

	byID := make(map[int]feetech.FoundServo, len(found))
	for _, s := range found {
		byID[s.ID] = s
	}
	for _, id := range cfg.MotorIDs {
		s, ok := byID[id]
		if !ok {
			c.missing = append(c.missing, id)
			continue
		}
		c.servos[id] = feetech.NewServo(bus, s.ID, s.Model)
		c.ids = append(c.ids, id)
	}

	if len(c.ids) == 0 {
		bus.Close()
		return nil, fmt.Errorf("no responding motors on %s", cfg.Port)
	}

	c.group = feetech.NewServoGroupByIDs(bus, c.ids...)
	return c, nil
}

// Close closes the underlying bus.
func (c *Channel) Close() error {
	return c.bus.Close()
}

// Port returns the serial port this channel is bound to.
func (c *Channel) Port() string { return c.port }

// Role returns the role assigned at identification time.
func (c *Channel) Role() Role { return c.role }

// Label returns the sequence-stable identity, e.g. "Leader1".
func (c *Channel) Label() string { return c.label }

// AssignRole stamps the channel's identity for this session.
func (c *Channel) AssignRole(role Role, label string) {
	c.role = role
	c.label = label
}

// IDs returns the responding motor ids in configuration order.
func (c *Channel) IDs() []int {
	return append([]int(nil), c.ids...)
}

// Missing returns configured motor ids that did not answer the scan.
func (c *Channel) Missing() []int {
	return append([]int(nil), c.missing...)
}

// Resolution returns the encoder position count of the servos.
func (c *Channel) Resolution() int { return c.resolution }

// Ping reports whether a single motor answers on the bus.
func (c *Channel) Ping(ctx context.Context, id int) bool {
	found, err := c.bus.Scan(ctx, id, id)
	return err == nil && len(found) == 1
}

// Positions reads the present position of every responding motor.
func (c *Channel) Positions(ctx context.Context) (map[int]int, error) {
	positions, err := c.group.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("read positions on %s: %w", c.port, err)
	}
	return positions, nil
}

// Position reads the present position of one motor.
func (c *Channel) Position(ctx context.Context, id int) (int, error) {
	s, ok := c.servos[id]
	if !ok {
		return 0, &DeviceUnresponsiveError{Port: c.port, IDs: []int{id}}
	}
	pos, err := s.Position(ctx)
	if err != nil {
		return 0, fmt.Errorf("read motor %d on %s: %w", id, c.port, err)
	}
	return pos, nil
}

// SetPositions writes goal positions with one sync write, clamped to
// the encoder range. Ids the channel does not own are skipped.
func (c *Channel) SetPositions(ctx context.Context, positions map[int]int) error {
	goals := make(feetech.PositionMap, len(positions))
	for id, pos := range positions {
		if _, ok := c.servos[id]; !ok {
			continue
		}
		goals[id] = c.Clamp(pos)
	}
	if err := c.group.SetPositions(ctx, goals); err != nil {
		return fmt.Errorf("write positions on %s: %w", c.port, err)
	}
	return nil
}

// Clamp bounds a position to [0, resolution-1].
func (c *Channel) Clamp(pos int) int {
	return clamp(pos, 0, c.resolution-1)
}

// Voltage reads the supply voltage from the first responding motor.
// The device reports tenths of a volt.
func (c *Channel) Voltage(ctx context.Context) (float64, error) {
	raw, err := c.Register(ctx, c.ids[0], RegPresentVoltage)
	if err != nil {
		return 0, err
	}
	return float64(raw) / 10.0, nil
}

// Temperature reads one motor's temperature in degrees Celsius.
func (c *Channel) Temperature(ctx context.Context, id int) (int, error) {
	return c.Register(ctx, id, RegPresentTemperature)
}

// Load reads one motor's present load.
func (c *Channel) Load(ctx context.Context, id int) (int, error) {
	return c.Register(ctx, id, RegPresentLoad)
}

// EnableTorque powers the motors and write-protects their EEPROM.
func (c *Channel) EnableTorque(ctx context.Context) error {
	if err := c.group.EnableAll(ctx); err != nil {
		return fmt.Errorf("enable torque on %s: %w", c.port, err)
	}
	for _, id := range c.ids {
		if err := c.SetRegister(ctx, id, RegLock, 1); err != nil {
			return err
		}
	}
	return nil
}

// DisableTorque releases the motors so the arm can be posed by hand,
// and unlocks the EEPROM for configuration writes.
func (c *Channel) DisableTorque(ctx context.Context) error {
	if err := c.group.DisableAll(ctx); err != nil {
		return fmt.Errorf("disable torque on %s: %w", c.port, err)
	}
	for _, id := range c.ids {
		if err := c.SetRegister(ctx, id, RegLock, 0); err != nil {
			return err
		}
	}
	return nil
}

// SetRegister writes a named control-table register on one motor.
func (c *Channel) SetRegister(ctx context.Context, id int, name RegisterName, value int) error {
	reg, ok := registerTable[name]
	if !ok {
		return fmt.Errorf("unknown register %q", name)
	}
	if err := c.bus.WriteRegister(ctx, id, reg.addr, reg.size, value); err != nil {
		return fmt.Errorf("write %s on motor %d (%s): %w", name, id, c.port, err)
	}
	return nil
}

// Register reads a named control-table register from one motor.
func (c *Channel) Register(ctx context.Context, id int, name RegisterName) (int, error) {
	reg, ok := registerTable[name]
	if !ok {
		return 0, fmt.Errorf("unknown register %q", name)
	}
	value, err := c.bus.ReadRegister(ctx, id, reg.addr, reg.size)
	if err != nil {
		return 0, fmt.Errorf("read %s on motor %d (%s): %w", name, id, c.port, err)
	}
	return value, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func idRange(ids []int) (lo, hi int) {
	lo, hi = ids[0], ids[0]
	for _, id := range ids[1:] {
		if id < lo {
			lo = id
		}
		if id > hi {
			hi = id
		}
	}
	return lo, hi
}
