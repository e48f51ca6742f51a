package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gwillem/telearm/pkg/teleop"
)

// Safety defaults for applying remote telemetry.
const (
	DefaultMaxLatency     = 200 * time.Millisecond
	DefaultMaxStep        = 200
	DefaultAlpha          = 0.8
	DefaultLatencyWarnRun = 10
)

// FollowerConfig configures a follower client.
type FollowerConfig struct {
	Transport      Transport
	Arms           []teleop.Arm
	ID             string        // defaults to "follower-<hostname>"
	FPS            int           // apply rate, defaults to 60
	MaxLatency     time.Duration // frames older than this are dropped
	MaxStep        int           // ticks per motor per cycle
	Alpha          float64       // smoothing weight of the previous value
	StatusEvery    time.Duration
	LatencyWarnRun int // consecutive latency drops before a visible warning
}

// FollowerState is one cycle's snapshot for the UI.
type FollowerState struct {
	Targets         map[string]map[int]int // follower label -> motor -> target
	Pairs           []teleop.Pair
	LastSequence    uint64
	LatencyMillis   float64
	Applied         uint64
	StaleDrops      uint64
	LatencyDrops    uint64
	Missed          uint64
	WriteErrors     int
	PublishErrors   int
	WarnLatency     bool
	LeaderConnected bool
	LeaderRTTMillis float64
	Timestamp       time.Time
}

// Follower subscribes to telemetry and drives local follower arms.
// Frames pass two gates, sequence then latency, and what survives is
// smoothed per motor before it reaches the bus. Which leader drives
// which arm is the follower's own mapping, swappable at runtime.
type Follower struct {
	transport      Transport
	arms           map[string]teleop.Arm
	order          []string // follower labels in config order
	table          *teleop.MappingTable
	smoothers      map[string]*Smoother
	targets        map[string]map[int]int
	id             string
	fps            int
	maxLatencyMs   float64
	statusEvery    time.Duration
	latencyWarnRun int

	mu          sync.Mutex
	running     bool
	leaderRTT   float64 // ms, from leader status
	leaderSeen  time.Time
	publishErrs int

	// Touched only by the loop goroutine.
	lastSeq       uint64
	lastLatencyMs float64
	applied       uint64
	staleDrops    uint64
	latencyDrops  uint64
	missed        uint64
	consecLatency int
	warnLatency   bool
	writeErrs     int

	telemetryCh chan *TelemetryMessage
	remapCh     chan [2]string
	stateCh     chan FollowerState
	logCh       chan string
}

// NewFollower wires a follower client. Arms pair with leader labels
// by index: the first arm follows "Leader1" until remapped.
func NewFollower(cfg FollowerConfig) (*Follower, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if len(cfg.Arms) == 0 {
		return nil, fmt.Errorf("at least one follower arm is required")
	}
	if cfg.ID == "" {
		cfg.ID = PeerID("follower")
	}
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}
	if cfg.MaxLatency <= 0 {
		cfg.MaxLatency = DefaultMaxLatency
	}
	if cfg.MaxStep <= 0 {
		cfg.MaxStep = DefaultMaxStep
	}
	if cfg.Alpha <= 0 || cfg.Alpha >= 1 {
		cfg.Alpha = DefaultAlpha
	}
	if cfg.StatusEvery <= 0 {
		cfg.StatusEvery = DefaultStatusInterval
	}
	if cfg.LatencyWarnRun <= 0 {
		cfg.LatencyWarnRun = DefaultLatencyWarnRun
	}

	leaderLabels := make([]string, len(cfg.Arms))
	followerLabels := make([]string, len(cfg.Arms))
	arms := make(map[string]teleop.Arm, len(cfg.Arms))
	smoothers := make(map[string]*Smoother, len(cfg.Arms))
	for i, arm := range cfg.Arms {
		leaderLabels[i] = fmt.Sprintf("Leader%d", i+1)
		followerLabels[i] = arm.Label()
		arms[arm.Label()] = arm
		smoothers[arm.Label()] = NewSmoother(cfg.Alpha, cfg.MaxStep)
	}
	table, err := teleop.NewMappingTable(leaderLabels, followerLabels)
	if err != nil {
		return nil, err
	}

	return &Follower{
		transport:      cfg.Transport,
		arms:           arms,
		order:          followerLabels,
		table:          table,
		smoothers:      smoothers,
		targets:        make(map[string]map[int]int, len(cfg.Arms)),
		id:             cfg.ID,
		fps:            cfg.FPS,
		maxLatencyMs:   float64(cfg.MaxLatency) / float64(time.Millisecond),
		statusEvery:    cfg.StatusEvery,
		latencyWarnRun: cfg.LatencyWarnRun,
		telemetryCh:    make(chan *TelemetryMessage, 1),
		remapCh:        make(chan [2]string, 1),
		stateCh:        make(chan FollowerState, 1),
		logCh:          make(chan string, 10),
	}, nil
}

// ID returns the identity other peers see.
func (f *Follower) ID() string { return f.id }

// FPS returns the apply frequency.
func (f *Follower) FPS() int { return f.fps }

// States returns a channel that receives state updates.
func (f *Follower) States() <-chan FollowerState { return f.stateCh }

// Logs returns a channel that receives log messages.
func (f *Follower) Logs() <-chan string { return f.logCh }

// RequestRemap queues a swap of two leaders' arms, drained at the top
// of the next apply cycle. Returns false when one is already pending.
func (f *Follower) RequestRemap(leaderA, leaderB string) bool {
	select {
	case f.remapCh <- [2]string{leaderA, leaderB}:
		return true
	default:
		return false
	}
}

// Leaders returns the leader labels the mapping knows about.
func (f *Follower) Leaders() []string {
	return f.table.Leaders()
}

func (f *Follower) log(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	select {
	case f.logCh <- msg:
	default:
		// Drop if channel full
	}
}

// Start seeds smoothing from the arms' actual positions, subscribes
// and applies frames until the context is done. Arms keep their last
// commanded position on the way out.
func (f *Follower) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return fmt.Errorf("already running")
	}
	f.running = true
	f.mu.Unlock()

	for _, label := range f.order {
		arm := f.arms[label]
		positions, err := arm.Positions(ctx)
		if err != nil {
			return fmt.Errorf("read %s start pose: %w", label, err)
		}
		f.smoothers[label].Seed(positions)
		if err := arm.EnableTorque(ctx); err != nil {
			f.log("Warning: failed to enable %s: %v", label, err)
		} else {
			f.log("%s: torque enabled", label)
		}
	}

	unsubTelemetry, err := f.transport.Subscribe(ChannelTelemetry, f.onTelemetry)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", ChannelTelemetry, err)
	}
	defer unsubTelemetry()

	unsubStatus, err := f.transport.Subscribe(ChannelStatus, f.onStatus)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", ChannelStatus, err)
	}
	defer unsubStatus()

	for _, p := range f.table.Pairs() {
		f.log("Mapping %s → %s", p.Leader, p.Follower)
	}
	f.log("Follower %s applying at %d fps", f.id, f.fps)

	ticker := time.NewTicker(time.Second / time.Duration(f.fps))
	defer ticker.Stop()
	statusTicker := time.NewTicker(f.statusEvery)
	defer statusTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.disconnect()
			f.mu.Lock()
			f.running = false
			f.mu.Unlock()
			return ctx.Err()
		case <-statusTicker.C:
			f.publishStatus()
		case <-ticker.C:
			f.step(ctx)
		}
	}
}

// onTelemetry runs on the transport's receive goroutine. The newest
// frame wins; the apply loop never sees a backlog.
func (f *Follower) onTelemetry(payload []byte) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Type != TypeTelemetry {
		return
	}
	var msg TelemetryMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		f.log("Bad telemetry frame: %v", err)
		return
	}
	select {
	case f.telemetryCh <- &msg:
	default:
		select {
		case <-f.telemetryCh:
		default:
		}
		f.telemetryCh <- &msg
	}
}

// onStatus runs on the transport's receive goroutine.
func (f *Follower) onStatus(payload []byte) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return
	}
	switch env.Type {
	case TypeStatus:
		var status StatusMessage
		if err := json.Unmarshal(payload, &status); err != nil || status.LeaderID == "" {
			return // acks and own echoes
		}
		f.mu.Lock()
		f.leaderRTT = status.AvgRTTMillis
		f.leaderSeen = time.Now()
		f.mu.Unlock()
	case TypeDisconnect:
		var d DisconnectMessage
		if err := json.Unmarshal(payload, &d); err != nil || d.LeaderID == "" {
			return
		}
		f.log("Leader %s disconnected", d.LeaderID)
		f.mu.Lock()
		f.leaderSeen = time.Time{}
		f.mu.Unlock()
	}
}

type armWrite struct {
	label string
	arm   teleop.Arm
	goals map[int]int
}

func (f *Follower) step(ctx context.Context) {
	// At most one remap per cycle, before anything moves.
	select {
	case req := <-f.remapCh:
		if err := f.table.Swap(req[0], req[1]); err != nil {
			f.log("Remap failed: %v", err)
		} else {
			fa, _ := f.table.FollowerFor(req[0])
			fb, _ := f.table.FollowerFor(req[1])
			f.log("Remapped: %s → %s, %s → %s", req[0], fa, req[1], fb)
		}
	default:
	}

	select {
	case msg := <-f.telemetryCh:
		f.ingest(msg)
	default:
	}

	// Keep easing toward the current targets even when no new frame
	// arrived this cycle.
	writes := make([]armWrite, 0, len(f.order))
	for _, label := range f.order {
		targets := f.targets[label]
		if len(targets) == 0 {
			continue
		}
		arm := f.arms[label]
		goals := f.smoothers[label].Step(targets)
		limit := arm.Resolution() - 1
		for id, g := range goals {
			if g < 0 {
				goals[id] = 0
			} else if g > limit {
				goals[id] = limit
			}
		}
		writes = append(writes, armWrite{label: label, arm: arm, goals: goals})
	}

	// One writer goroutine per arm, joined before the cycle ends.
	writeErrs := make([]error, len(writes))
	var wg sync.WaitGroup
	for i, w := range writes {
		wg.Add(1)
		go func(i int, w armWrite) {
			defer wg.Done()
			writeErrs[i] = w.arm.SetPositions(ctx, w.goals)
		}(i, w)
	}
	wg.Wait()
	for i, err := range writeErrs {
		if err != nil {
			f.writeErrs++
			f.log("Write error on %s: %v", writes[i].label, err)
		}
	}

	f.mu.Lock()
	publishErrs := f.publishErrs
	leaderRTT := f.leaderRTT
	connected := !f.leaderSeen.IsZero() && time.Since(f.leaderSeen) < livenessTimeout
	f.mu.Unlock()

	targets := make(map[string]map[int]int, len(f.targets))
	for label, t := range f.targets {
		c := make(map[int]int, len(t))
		for id, pos := range t {
			c[id] = pos
		}
		targets[label] = c
	}

	f.sendState(FollowerState{
		Targets:         targets,
		Pairs:           f.table.Pairs(),
		LastSequence:    f.lastSeq,
		LatencyMillis:   f.lastLatencyMs,
		Applied:         f.applied,
		StaleDrops:      f.staleDrops,
		LatencyDrops:    f.latencyDrops,
		Missed:          f.missed,
		WriteErrors:     f.writeErrs,
		PublishErrors:   publishErrs,
		WarnLatency:     f.warnLatency,
		LeaderConnected: connected,
		LeaderRTTMillis: leaderRTT,
		Timestamp:       time.Now(),
	})
}

// ingest applies the gate pipeline to one frame: sequence first, then
// latency. Only frames that pass both retarget the arms and get acked.
func (f *Follower) ingest(msg *TelemetryMessage) {
	if msg.Sequence <= f.lastSeq {
		f.staleDrops++
		return
	}

	latency := f.latencyEstimate(msg.Timestamp)
	if latency > f.maxLatencyMs {
		f.latencyDrops++
		f.consecLatency++
		if f.consecLatency == f.latencyWarnRun {
			f.warnLatency = true
			f.log("High latency: %.0fms over %d consecutive frames", latency, f.consecLatency)
		}
		return
	}
	f.consecLatency = 0
	f.warnLatency = false

	if f.lastSeq != 0 && msg.Sequence > f.lastSeq+1 {
		f.missed += msg.Sequence - f.lastSeq - 1
	}
	f.lastSeq = msg.Sequence
	f.lastLatencyMs = latency

	for leaderLabel, positions := range msg.Positions {
		followerLabel, ok := f.table.FollowerFor(leaderLabel)
		if !ok {
			continue
		}
		targets := make(map[int]int, len(positions))
		for id, pos := range positions {
			targets[id] = pos
		}
		f.targets[followerLabel] = targets
	}
	f.applied++

	f.ack(msg)
}

// latencyEstimate is the frame age in milliseconds. A negative age
// means the two clocks disagree; fall back to half the leader's
// reported round trip, which needs no clock agreement at all.
func (f *Follower) latencyEstimate(capture float64) float64 {
	if capture > 0 {
		if ms := (nowUnix() - capture) * 1000; ms >= 0 {
			return ms
		}
	}
	f.mu.Lock()
	rtt := f.leaderRTT
	f.mu.Unlock()
	if rtt > 0 {
		return rtt / 2
	}
	return 0
}

func (f *Follower) ack(msg *TelemetryMessage) {
	payload, err := json.Marshal(AckMessage{
		Type:       TypeAck,
		Sequence:   msg.Sequence,
		Timestamp:  msg.Timestamp,
		FollowerID: f.id,
	})
	if err != nil {
		return
	}
	go f.publish(ChannelStatus, payload)
}

func (f *Follower) publishStatus() {
	motorsActive := 0
	for _, t := range f.targets {
		motorsActive += len(t)
	}
	payload, err := json.Marshal(StatusMessage{
		Type:               TypeStatus,
		Timestamp:          nowUnix(),
		FollowerID:         f.id,
		MotorsActive:       motorsActive,
		FollowersConnected: 1,
	})
	if err != nil {
		return
	}
	go f.publish(ChannelStatus, payload)
}

func (f *Follower) disconnect() {
	payload, err := json.Marshal(DisconnectMessage{
		Type:       TypeDisconnect,
		Timestamp:  nowUnix(),
		FollowerID: f.id,
	})
	if err == nil {
		if err := f.transport.Publish(ChannelStatus, payload); err != nil {
			f.log("Disconnect publish failed: %v", err)
		}
	}
	f.log("Follower stopped, %d frames applied, positions held", f.applied)
}

func (f *Follower) publish(channel string, payload []byte) {
	if err := f.transport.Publish(channel, payload); err != nil {
		f.mu.Lock()
		f.publishErrs++
		f.mu.Unlock()
		f.log("Publish error: %v", err)
	}
}

func (f *Follower) sendState(s FollowerState) {
	select {
	case f.stateCh <- s:
	default:
		// Drop old state if channel full, replace with new
		select {
		case <-f.stateCh:
		default:
		}
		f.stateCh <- s
	}
}
