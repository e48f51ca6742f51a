package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gwillem/telearm/pkg/teleop"
)

func publishFrame(t *testing.T, transport Transport, seq uint64, ts float64, positions map[string]map[int]int) {
	t.Helper()
	payload, err := json.Marshal(TelemetryMessage{
		Type:      TypeTelemetry,
		Sequence:  seq,
		Timestamp: ts,
		Positions: positions,
	})
	if err != nil {
		t.Fatalf("marshal frame failed: %v", err)
	}
	if err := transport.Publish(ChannelTelemetry, payload); err != nil {
		t.Fatalf("publish frame failed: %v", err)
	}
}

func publishLeaderStatus(t *testing.T, transport Transport, rttMillis float64) {
	t.Helper()
	payload, err := json.Marshal(StatusMessage{
		Type:         TypeStatus,
		Timestamp:    nowUnix(),
		LeaderID:     "leader-test",
		AvgRTTMillis: rttMillis,
	})
	if err != nil {
		t.Fatalf("marshal status failed: %v", err)
	}
	if err := transport.Publish(ChannelStatus, payload); err != nil {
		t.Fatalf("publish status failed: %v", err)
	}
}

func waitState(t *testing.T, f *Follower, what string, cond func(FollowerState) bool) FollowerState {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case s := <-f.States():
			if cond(s) {
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func startFollower(t *testing.T, cfg FollowerConfig) (*Follower, context.CancelFunc) {
	t.Helper()
	if cfg.FPS == 0 {
		cfg.FPS = 200
	}
	if cfg.ID == "" {
		cfg.ID = "follower-test"
	}
	f, err := NewFollower(cfg)
	if err != nil {
		t.Fatalf("NewFollower failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go f.Start(ctx)
	t.Cleanup(cancel)

	// The first state means the loop has subscribed and is cycling.
	waitState(t, f, "follower loop start", func(FollowerState) bool { return true })
	return f, cancel
}

func TestFollower_SequenceGate(t *testing.T) {
	transport := NewMemTransport()
	arm := newTestArm("Follower1", map[int]int{1: 2000})
	f, _ := startFollower(t, FollowerConfig{Transport: transport, Arms: []teleop.Arm{arm}})

	frames := []struct {
		seq    uint64
		target int
	}{
		{5, 2100},
		{3, 900}, // stale
		{6, 2200},
		{4, 800}, // stale
		{7, 2300},
	}
	wantSeq := []uint64{5, 5, 6, 6, 7}
	wantStale := []uint64{0, 1, 1, 2, 2}

	for i, fr := range frames {
		publishFrame(t, transport, fr.seq, nowUnix(), map[string]map[int]int{
			"Leader1": {1: fr.target},
		})
		i := i
		waitState(t, f, "frame to be gated", func(s FollowerState) bool {
			return s.LastSequence == wantSeq[i] && s.StaleDrops == wantStale[i]
		})
	}

	state := waitState(t, f, "final counts", func(s FollowerState) bool {
		return s.LastSequence == 7
	})
	if state.Applied != 3 {
		t.Errorf("applied = %d, want 3", state.Applied)
	}
	if state.StaleDrops != 2 {
		t.Errorf("stale drops = %d, want 2", state.StaleDrops)
	}
	if state.Missed != 0 {
		t.Errorf("missed = %d, want 0", state.Missed)
	}

	waitFor(t, "arm to settle on the last accepted target", func() bool {
		w := arm.lastWrite()
		return w != nil && w[1] == 2300
	})

	// The stale frames pointed at 900 and 800; the arm must never
	// have headed there.
	for _, w := range arm.writeHistory() {
		if w[1] < 2000 {
			t.Fatalf("arm moved toward a stale target: %d", w[1])
		}
	}
}

func TestFollower_LatencyGate(t *testing.T) {
	transport := NewMemTransport()
	arm := newTestArm("Follower1", map[int]int{1: 2000})
	f, _ := startFollower(t, FollowerConfig{Transport: transport, Arms: []teleop.Arm{arm}})

	publishFrame(t, transport, 1, nowUnix(), map[string]map[int]int{"Leader1": {1: 2100}})
	waitState(t, f, "fresh frame applied", func(s FollowerState) bool {
		return s.LastSequence == 1
	})

	// 250ms old is past the 200ms bound.
	publishFrame(t, transport, 2, nowUnix()-0.250, map[string]map[int]int{"Leader1": {1: 500}})
	waitState(t, f, "old frame dropped", func(s FollowerState) bool {
		return s.LatencyDrops == 1 && s.LastSequence == 1
	})

	// 50ms old is within the bound.
	publishFrame(t, transport, 3, nowUnix()-0.050, map[string]map[int]int{"Leader1": {1: 2150}})
	waitState(t, f, "recovery frame applied", func(s FollowerState) bool {
		return s.LastSequence == 3
	})

	for _, w := range arm.writeHistory() {
		if w[1] < 2000 {
			t.Fatalf("arm moved toward the dropped target: %d", w[1])
		}
	}
}

func TestFollower_LatencyFallback(t *testing.T) {
	transport := NewMemTransport()
	arm := newTestArm("Follower1", map[int]int{1: 2000})
	f, _ := startFollower(t, FollowerConfig{Transport: transport, Arms: []teleop.Arm{arm}})

	// No capture timestamp and no known round trip: assume fresh.
	publishFrame(t, transport, 1, 0, map[string]map[int]int{"Leader1": {1: 2100}})
	waitState(t, f, "frame without timestamp applied", func(s FollowerState) bool {
		return s.LastSequence == 1
	})

	// Leader reports a 600ms round trip; half of that breaks the
	// 200ms bound, so timestampless frames now drop.
	publishLeaderStatus(t, transport, 600)
	waitState(t, f, "leader rtt known", func(s FollowerState) bool {
		return s.LeaderRTTMillis == 600
	})
	publishFrame(t, transport, 2, 0, map[string]map[int]int{"Leader1": {1: 500}})
	waitState(t, f, "timestampless frame dropped", func(s FollowerState) bool {
		return s.LatencyDrops == 1 && s.LastSequence == 1
	})

	// A frame stamped in the future is clock skew, same fallback.
	publishFrame(t, transport, 3, nowUnix()+10, map[string]map[int]int{"Leader1": {1: 500}})
	waitState(t, f, "future frame dropped", func(s FollowerState) bool {
		return s.LatencyDrops == 2 && s.LastSequence == 1
	})

	// With a healthy round trip the fallback passes again.
	publishLeaderStatus(t, transport, 100)
	waitState(t, f, "leader rtt updated", func(s FollowerState) bool {
		return s.LeaderRTTMillis == 100
	})
	publishFrame(t, transport, 4, 0, map[string]map[int]int{"Leader1": {1: 2150}})
	waitState(t, f, "frame accepted on healthy fallback", func(s FollowerState) bool {
		return s.LastSequence == 4
	})
}

func TestFollower_LatencyWarnAfterRun(t *testing.T) {
	transport := NewMemTransport()
	arm := newTestArm("Follower1", map[int]int{1: 2000})
	f, _ := startFollower(t, FollowerConfig{
		Transport:      transport,
		Arms:           []teleop.Arm{arm},
		LatencyWarnRun: 3,
	})

	for seq := uint64(1); seq <= 3; seq++ {
		publishFrame(t, transport, seq, nowUnix()-1.0, map[string]map[int]int{"Leader1": {1: 500}})
		seq := seq
		waitState(t, f, "frame dropped", func(s FollowerState) bool {
			return s.LatencyDrops == seq
		})
	}

	state := waitState(t, f, "latency warning", func(s FollowerState) bool {
		return s.WarnLatency
	})
	if state.LatencyDrops != 3 {
		t.Errorf("latency drops = %d, want 3", state.LatencyDrops)
	}

	// A fresh frame clears the warning.
	publishFrame(t, transport, 4, nowUnix(), map[string]map[int]int{"Leader1": {1: 2100}})
	waitState(t, f, "warning cleared", func(s FollowerState) bool {
		return s.LastSequence == 4 && !s.WarnLatency
	})
}

func TestFollower_SmoothsFromStartPose(t *testing.T) {
	transport := NewMemTransport()
	arm := newTestArm("Follower1", map[int]int{1: 1000})
	f, _ := startFollower(t, FollowerConfig{Transport: transport, Arms: []teleop.Arm{arm}})

	publishFrame(t, transport, 1, nowUnix(), map[string]map[int]int{"Leader1": {1: 3000}})
	waitState(t, f, "frame applied", func(s FollowerState) bool {
		return s.LastSequence == 1
	})
	waitFor(t, "first write", func() bool { return arm.lastWrite() != nil })

	// Smoothing eases from where the arm actually is, so the very
	// first goal is one clamped step from 1000, not the raw target.
	if first := arm.writeHistory()[0][1]; first != 1200 {
		t.Errorf("first goal = %d, want 1200", first)
	}

	waitFor(t, "arm to reach the target", func() bool {
		w := arm.lastWrite()
		return w != nil && w[1] == 3000
	})
}

func TestFollower_AcksOnlyAccepted(t *testing.T) {
	transport := NewMemTransport()
	arm := newTestArm("Follower1", map[int]int{1: 2000})
	statusTraffic := collect(t, transport, ChannelStatus)
	f, _ := startFollower(t, FollowerConfig{Transport: transport, Arms: []teleop.Arm{arm}})

	capture := nowUnix()
	publishFrame(t, transport, 5, capture, map[string]map[int]int{"Leader1": {1: 2100}})
	waitState(t, f, "frame applied", func(s FollowerState) bool { return s.LastSequence == 5 })

	publishFrame(t, transport, 3, nowUnix(), map[string]map[int]int{"Leader1": {1: 900}})
	waitState(t, f, "stale frame dropped", func(s FollowerState) bool { return s.StaleDrops == 1 })

	waitFor(t, "ack for the accepted frame", func() bool {
		return len(acksIn(t, statusTraffic.all())) > 0
	})

	acks := acksIn(t, statusTraffic.all())
	for _, ack := range acks {
		if ack.Sequence != 5 {
			t.Errorf("ack for sequence %d, want only 5", ack.Sequence)
		}
		if ack.FollowerID != "follower-test" {
			t.Errorf("ack follower id = %q, want follower-test", ack.FollowerID)
		}
		if ack.Timestamp != capture {
			t.Errorf("ack timestamp = %f, want echoed %f", ack.Timestamp, capture)
		}
	}
}

func acksIn(t *testing.T, payloads [][]byte) []AckMessage {
	t.Helper()
	var acks []AckMessage
	for _, p := range payloads {
		var env Envelope
		if err := json.Unmarshal(p, &env); err != nil || env.Type != TypeAck {
			continue
		}
		var ack AckMessage
		if err := json.Unmarshal(p, &ack); err != nil {
			t.Fatalf("bad ack payload: %v", err)
		}
		acks = append(acks, ack)
	}
	return acks
}

func TestFollower_Remap(t *testing.T) {
	transport := NewMemTransport()
	arm1 := newTestArm("Follower1", map[int]int{1: 1000})
	arm2 := newTestArm("Follower2", map[int]int{1: 2000})
	f, _ := startFollower(t, FollowerConfig{Transport: transport, Arms: []teleop.Arm{arm1, arm2}})

	publishFrame(t, transport, 1, nowUnix(), map[string]map[int]int{
		"Leader1": {1: 1100},
		"Leader2": {1: 2100},
	})
	waitFor(t, "identity mapping to settle", func() bool {
		w1, w2 := arm1.lastWrite(), arm2.lastWrite()
		return w1 != nil && w1[1] == 1100 && w2 != nil && w2[1] == 2100
	})

	if !f.RequestRemap("Leader1", "Leader2") {
		t.Fatal("RequestRemap refused with an empty queue")
	}

	publishFrame(t, transport, 2, nowUnix(), map[string]map[int]int{
		"Leader1": {1: 1200},
		"Leader2": {1: 2200},
	})
	waitFor(t, "swapped mapping to settle", func() bool {
		w1, w2 := arm1.lastWrite(), arm2.lastWrite()
		return w1 != nil && w1[1] == 2200 && w2 != nil && w2[1] == 1200
	})
}

func TestFollower_StatusAndDisconnect(t *testing.T) {
	transport := NewMemTransport()
	arm := newTestArm("Follower1", map[int]int{1: 2000})
	statusTraffic := collect(t, transport, ChannelStatus)
	_, cancel := startFollower(t, FollowerConfig{
		Transport:   transport,
		Arms:        []teleop.Arm{arm},
		StatusEvery: 30 * time.Millisecond,
	})

	waitFor(t, "heartbeat", func() bool {
		for _, p := range statusTraffic.all() {
			var msg StatusMessage
			if json.Unmarshal(p, &msg) == nil && msg.Type == TypeStatus && msg.FollowerID == "follower-test" {
				return msg.FollowersConnected == 1
			}
		}
		return false
	})

	cancel()

	waitFor(t, "disconnect announcement", func() bool {
		for _, p := range statusTraffic.all() {
			var msg DisconnectMessage
			if json.Unmarshal(p, &msg) == nil && msg.Type == TypeDisconnect && msg.FollowerID == "follower-test" {
				return true
			}
		}
		return false
	})

	if !arm.torque() {
		t.Error("follower arm torque released on stop")
	}
}
