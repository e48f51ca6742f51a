package relay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gwillem/telearm/pkg/teleop"
)

func waitLeaderState(t *testing.T, l *Leader, what string, cond func(LeaderState) bool) LeaderState {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case s := <-l.States():
			if cond(s) {
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func startLeader(t *testing.T, cfg LeaderConfig) (*Leader, context.CancelFunc) {
	t.Helper()
	if cfg.FPS == 0 {
		cfg.FPS = 200
	}
	if cfg.ID == "" {
		cfg.ID = "leader-test"
	}
	l, err := NewLeader(cfg)
	if err != nil {
		t.Fatalf("NewLeader failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go l.Start(ctx)
	t.Cleanup(cancel)

	waitLeaderState(t, l, "leader loop start", func(LeaderState) bool { return true })
	return l, cancel
}

func telemetryIn(t *testing.T, payloads [][]byte) []TelemetryMessage {
	t.Helper()
	var frames []TelemetryMessage
	for _, p := range payloads {
		var msg TelemetryMessage
		if err := json.Unmarshal(p, &msg); err != nil {
			t.Fatalf("bad telemetry payload: %v", err)
		}
		if msg.Type != TypeTelemetry {
			t.Fatalf("unexpected message type %q on telemetry channel", msg.Type)
		}
		frames = append(frames, msg)
	}
	return frames
}

func TestLeader_PublishesTelemetry(t *testing.T) {
	transport := NewMemTransport()
	arm := newTestArm("Leader1", map[int]int{1: 1234, 2: 42})
	frames := collect(t, transport, ChannelTelemetry)

	leader, _ := startLeader(t, LeaderConfig{Transport: transport, Arms: []teleop.Arm{arm}})

	// Frames are published from per-cycle goroutines, so arrival
	// order is not guaranteed and a frame can land after its
	// successor. Sequences must still settle to 1..n with no gaps or
	// repeats; a skipped or doubled sequence never settles.
	var decoded []TelemetryMessage
	waitFor(t, "three contiguous frames", func() bool {
		decoded = telemetryIn(t, frames.all())
		if len(decoded) < 3 {
			return false
		}
		seen := make(map[uint64]bool, len(decoded))
		var max uint64
		for _, msg := range decoded {
			if msg.Sequence == 0 || seen[msg.Sequence] {
				return false
			}
			seen[msg.Sequence] = true
			if msg.Sequence > max {
				max = msg.Sequence
			}
		}
		return int(max) == len(decoded)
	})

	if arm.torque() {
		t.Error("leader arm should be passive while sampling")
	}

	for i, msg := range decoded {
		if msg.Timestamp <= 0 {
			t.Errorf("frame %d has no capture timestamp", i)
		}
		got := msg.Positions["Leader1"]
		if got[1] != 1234 || got[2] != 42 {
			t.Errorf("frame %d positions = %v", i, got)
		}
	}

	state := waitLeaderState(t, leader, "sent count", func(s LeaderState) bool { return s.Sent >= 3 })
	if state.FollowerConnected {
		t.Error("no follower exists, connected should be false")
	}
}

func TestLeader_AcksFeedTheMonitor(t *testing.T) {
	transport := NewMemTransport()
	arm := newTestArm("Leader1", map[int]int{1: 1000})

	// A minimal follower: ack every telemetry frame.
	_, err := transport.Subscribe(ChannelTelemetry, func(payload []byte) {
		var msg TelemetryMessage
		if json.Unmarshal(payload, &msg) != nil {
			return
		}
		ack, _ := json.Marshal(AckMessage{
			Type:       TypeAck,
			Sequence:   msg.Sequence,
			Timestamp:  msg.Timestamp,
			FollowerID: "follower-test",
		})
		transport.Publish(ChannelStatus, ack)
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	leader, _ := startLeader(t, LeaderConfig{Transport: transport, Arms: []teleop.Arm{arm}})

	state := waitLeaderState(t, leader, "acknowledged frames", func(s LeaderState) bool {
		return s.Acked >= 5
	})
	if !state.FollowerConnected {
		t.Error("acks should mark the follower connected")
	}
	if state.Loss >= 1 {
		t.Errorf("loss = %f with every frame acked", state.Loss)
	}
	if state.AvgRTTMillis < 0 {
		t.Errorf("negative rtt %f", state.AvgRTTMillis)
	}

	sent, acked := leader.Monitor().Counts()
	if acked == 0 || acked > sent {
		t.Errorf("counts = %d/%d", sent, acked)
	}
}

func TestLeader_OwnStatusIsIgnored(t *testing.T) {
	transport := NewMemTransport()
	arm := newTestArm("Leader1", map[int]int{1: 1000})

	leader, _ := startLeader(t, LeaderConfig{
		Transport:   transport,
		Arms:        []teleop.Arm{arm},
		StatusEvery: 20 * time.Millisecond,
	})

	// The transport echoes the leader's own heartbeats back at it;
	// they must not count as follower liveness. By 20 frames several
	// heartbeats have come and gone.
	state := waitLeaderState(t, leader, "sampling to settle", func(s LeaderState) bool {
		return s.Sent >= 20
	})
	if state.FollowerConnected {
		t.Error("leader counted its own status echo as a follower")
	}
}

func TestLeader_ReadErrorsDoNotPublish(t *testing.T) {
	transport := NewMemTransport()
	arm := newTestArm("Leader1", map[int]int{1: 1000})
	arm.readErr = errors.New("bus timeout")
	frames := collect(t, transport, ChannelTelemetry)

	leader, _ := startLeader(t, LeaderConfig{Transport: transport, Arms: []teleop.Arm{arm}})

	state := waitLeaderState(t, leader, "read errors counted", func(s LeaderState) bool {
		return s.ReadErrors > 0
	})
	if state.Sequence != 0 {
		t.Errorf("sequence advanced to %d with nothing readable", state.Sequence)
	}
	if frames.count() != 0 {
		t.Errorf("%d frames published with nothing readable", frames.count())
	}
}

func TestLeader_DisconnectOnStop(t *testing.T) {
	transport := NewMemTransport()
	arm := newTestArm("Leader1", map[int]int{1: 1000})
	statusTraffic := collect(t, transport, ChannelStatus)

	_, cancel := startLeader(t, LeaderConfig{Transport: transport, Arms: []teleop.Arm{arm}})
	cancel()

	waitFor(t, "disconnect announcement", func() bool {
		for _, p := range statusTraffic.all() {
			var msg DisconnectMessage
			if json.Unmarshal(p, &msg) == nil && msg.Type == TypeDisconnect && msg.LeaderID == "leader-test" {
				return true
			}
		}
		return false
	})
}
