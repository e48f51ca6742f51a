package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gwillem/telearm/pkg/teleop"
)

// Relay timing defaults.
const (
	DefaultFPS            = 60
	DefaultStatusInterval = 2 * time.Second

	// A peer silent for this long renders as disconnected. Display
	// only; neither side halts on it.
	livenessTimeout = 5 * time.Second
)

// LeaderConfig configures a leader client.
type LeaderConfig struct {
	Transport   Transport
	Arms        []teleop.Arm
	ID          string        // defaults to "leader-<hostname>"
	FPS         int           // defaults to 60
	StatusEvery time.Duration // defaults to 2s
}

// LeaderState is one cycle's snapshot for the UI.
type LeaderState struct {
	Positions         map[string]map[int]int
	Sequence          uint64
	Sent              uint64
	Acked             uint64
	AvgRTTMillis      float64
	Loss              float64
	ReadErrors        int
	PublishErrors     int
	FollowerConnected bool
	Timestamp         time.Time
}

// Leader samples local leader arms at a fixed rate and publishes
// telemetry frames. Acks and follower status only feed the health
// readout; sampling never stops because a follower looks gone.
type Leader struct {
	transport   Transport
	arms        []teleop.Arm
	id          string
	fps         int
	statusEvery time.Duration
	monitor     *NetMonitor

	mu           sync.Mutex
	running      bool
	followerSeen time.Time
	publishErrs  int

	// Touched only by the loop goroutine.
	seq      uint64
	readErrs int

	stateCh chan LeaderState
	logCh   chan string
}

// NewLeader wires a leader client. It does not touch the transport
// until Start.
func NewLeader(cfg LeaderConfig) (*Leader, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if len(cfg.Arms) == 0 {
		return nil, fmt.Errorf("at least one leader arm is required")
	}
	if cfg.ID == "" {
		cfg.ID = PeerID("leader")
	}
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}
	if cfg.StatusEvery <= 0 {
		cfg.StatusEvery = DefaultStatusInterval
	}
	return &Leader{
		transport:   cfg.Transport,
		arms:        cfg.Arms,
		id:          cfg.ID,
		fps:         cfg.FPS,
		statusEvery: cfg.StatusEvery,
		monitor:     NewNetMonitor(),
		stateCh:     make(chan LeaderState, 1),
		logCh:       make(chan string, 10),
	}, nil
}

// ID returns the identity other peers see.
func (l *Leader) ID() string { return l.id }

// FPS returns the sampling frequency.
func (l *Leader) FPS() int { return l.fps }

// States returns a channel that receives state updates.
func (l *Leader) States() <-chan LeaderState { return l.stateCh }

// Logs returns a channel that receives log messages.
func (l *Leader) Logs() <-chan string { return l.logCh }

// Monitor exposes the delivery health tracker.
func (l *Leader) Monitor() *NetMonitor { return l.monitor }

func (l *Leader) log(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	select {
	case l.logCh <- msg:
	default:
		// Drop if channel full
	}
}

// Start begins sampling and publishing. It blocks until the context
// is done, then announces the disconnect.
func (l *Leader) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("already running")
	}
	l.running = true
	l.mu.Unlock()

	for _, arm := range l.arms {
		if err := arm.DisableTorque(ctx); err != nil {
			l.log("Warning: failed to release %s: %v", arm.Label(), err)
		} else {
			l.log("%s: torque disabled (passive mode)", arm.Label())
		}
	}

	unsubscribe, err := l.transport.Subscribe(ChannelStatus, l.onStatus)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", ChannelStatus, err)
	}
	defer unsubscribe()

	l.log("Leader %s publishing at %d fps", l.id, l.fps)

	ticker := time.NewTicker(time.Second / time.Duration(l.fps))
	defer ticker.Stop()
	statusTicker := time.NewTicker(l.statusEvery)
	defer statusTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.disconnect()
			l.mu.Lock()
			l.running = false
			l.mu.Unlock()
			return ctx.Err()
		case <-statusTicker.C:
			l.publishStatus()
		case <-ticker.C:
			l.step(ctx)
		}
	}
}

type sample struct {
	label     string
	positions map[int]int
	err       error
}

func (l *Leader) step(ctx context.Context) {
	samples := make([]sample, len(l.arms))
	var wg sync.WaitGroup
	for i, arm := range l.arms {
		wg.Add(1)
		go func(i int, arm teleop.Arm) {
			defer wg.Done()
			positions, err := arm.Positions(ctx)
			samples[i] = sample{label: arm.Label(), positions: positions, err: err}
		}(i, arm)
	}
	wg.Wait()

	positions := make(map[string]map[int]int, len(samples))
	for _, s := range samples {
		if s.err != nil {
			l.readErrs++
			l.log("Read error on %s: %v", s.label, s.err)
			continue
		}
		positions[s.label] = s.positions
	}

	if len(positions) > 0 {
		l.seq++
		payload, err := json.Marshal(TelemetryMessage{
			Type:      TypeTelemetry,
			Sequence:  l.seq,
			Timestamp: nowUnix(),
			Positions: positions,
		})
		if err == nil {
			l.monitor.Sent(l.seq, time.Now())
			// Fire and forget; a slow relay must not stall sampling.
			go l.publish(ChannelTelemetry, payload)
		}
	}

	sent, acked := l.monitor.Counts()
	l.mu.Lock()
	publishErrs := l.publishErrs
	connected := !l.followerSeen.IsZero() && time.Since(l.followerSeen) < livenessTimeout
	l.mu.Unlock()

	l.sendState(LeaderState{
		Positions:         positions,
		Sequence:          l.seq,
		Sent:              sent,
		Acked:             acked,
		AvgRTTMillis:      l.monitor.AvgRTT(),
		Loss:              l.monitor.Loss(),
		ReadErrors:        l.readErrs,
		PublishErrors:     publishErrs,
		FollowerConnected: connected,
		Timestamp:         time.Now(),
	})
}

func (l *Leader) publish(channel string, payload []byte) {
	if err := l.transport.Publish(channel, payload); err != nil {
		l.mu.Lock()
		l.publishErrs++
		l.mu.Unlock()
		l.log("Publish error: %v", err)
	}
}

func (l *Leader) publishStatus() {
	payload, err := json.Marshal(StatusMessage{
		Type:         TypeStatus,
		Timestamp:    nowUnix(),
		LeaderID:     l.id,
		AvgRTTMillis: l.monitor.AvgRTT(),
	})
	if err != nil {
		return
	}
	go l.publish(ChannelStatus, payload)
}

func (l *Leader) disconnect() {
	payload, err := json.Marshal(DisconnectMessage{
		Type:      TypeDisconnect,
		Timestamp: nowUnix(),
		LeaderID:  l.id,
	})
	if err == nil {
		if err := l.transport.Publish(ChannelStatus, payload); err != nil {
			l.log("Disconnect publish failed: %v", err)
		}
	}
	l.log("Leader stopped after %d frames", l.seq)
}

// onStatus runs on the transport's receive goroutine.
func (l *Leader) onStatus(payload []byte) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return
	}
	switch env.Type {
	case TypeAck:
		var ack AckMessage
		if err := json.Unmarshal(payload, &ack); err != nil || ack.FollowerID == "" {
			return
		}
		l.monitor.Acked(ack.Sequence, time.Now())
		l.sawFollower()
	case TypeStatus:
		var status StatusMessage
		if err := json.Unmarshal(payload, &status); err != nil || status.FollowerID == "" {
			return // own echo
		}
		l.sawFollower()
	case TypeDisconnect:
		var d DisconnectMessage
		if err := json.Unmarshal(payload, &d); err != nil || d.FollowerID == "" {
			return
		}
		l.log("Follower %s disconnected", d.FollowerID)
		l.mu.Lock()
		l.followerSeen = time.Time{}
		l.mu.Unlock()
	}
}

func (l *Leader) sawFollower() {
	l.mu.Lock()
	l.followerSeen = time.Now()
	l.mu.Unlock()
}

func (l *Leader) sendState(s LeaderState) {
	select {
	case l.stateCh <- s:
	default:
		// Drop old state if channel full, replace with new
		select {
		case <-l.stateCh:
		default:
		}
		l.stateCh <- s
	}
}
