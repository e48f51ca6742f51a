// Package relay extends teleoperation across machines: a leader
// client samples local leader arms and publishes their positions, a
// follower client subscribes and drives local follower arms with
// latency gating and smoothing.
package relay

import "time"

// Message types on the wire.
const (
	TypeTelemetry  = "telemetry"
	TypeAck        = "ack"
	TypeStatus     = "status"
	TypeDisconnect = "disconnect"
)

// Logical channel names, fixed by the deployed relay service.
const (
	ChannelTelemetry = "robot-telemetry"
	ChannelControl   = "robot-control" // reserved, unused
	ChannelStatus    = "robot-status"
)

// Envelope carries only the discriminator, for dispatch before a full
// decode.
type Envelope struct {
	Type string `json:"type"`
}

// TelemetryMessage is one sampled frame of leader positions.
// Timestamps are unix seconds at capture time; positions are raw
// encoder ticks keyed by leader label, then motor id.
type TelemetryMessage struct {
	Type      string                 `json:"type"`
	Sequence  uint64                 `json:"sequence"`
	Timestamp float64                `json:"timestamp"`
	Positions map[string]map[int]int `json:"positions"`
}

// AckMessage confirms an applied telemetry frame. Timestamp echoes the
// frame's capture time so the leader can compute a round trip.
type AckMessage struct {
	Type       string  `json:"type"`
	Sequence   uint64  `json:"sequence"`
	Timestamp  float64 `json:"timestamp"`
	FollowerID string  `json:"follower_id"`
}

// StatusMessage is the periodic heartbeat both sides publish. Exactly
// one of LeaderID/FollowerID is set, marking the sender.
type StatusMessage struct {
	Type               string  `json:"type"`
	Timestamp          float64 `json:"timestamp"`
	LeaderID           string  `json:"leader_id,omitempty"`
	FollowerID         string  `json:"follower_id,omitempty"`
	MotorsActive       int     `json:"motors_active,omitempty"`
	FollowersConnected int     `json:"followers_connected,omitempty"`
	AvgRTTMillis       float64 `json:"avg_rtt_ms,omitempty"`
}

// DisconnectMessage announces a clean shutdown.
type DisconnectMessage struct {
	Type       string  `json:"type"`
	Timestamp  float64 `json:"timestamp"`
	LeaderID   string  `json:"leader_id,omitempty"`
	FollowerID string  `json:"follower_id,omitempty"`
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
