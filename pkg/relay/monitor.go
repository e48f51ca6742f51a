package relay

import (
	"sync"
	"time"
)

// Health thresholds for the leader's connection readout.
const (
	WarnRTTMillis = 100.0
	WarnLoss      = 0.05

	rttWindow  = 100
	sentWindow = 1000
)

// NetMonitor tracks delivery health on the leader side: how many
// frames went out, how many came back acknowledged, and a sliding
// window of round-trip times. Safe for concurrent use; acks arrive on
// the transport's receive goroutine while the control loop reads the
// aggregates.
type NetMonitor struct {
	mu      sync.Mutex
	sentAt  map[uint64]time.Time
	sent    uint64
	acked   uint64
	samples []float64 // round trips in ms, newest last
}

// NewNetMonitor returns an empty monitor.
func NewNetMonitor() *NetMonitor {
	return &NetMonitor{sentAt: make(map[uint64]time.Time)}
}

// Sent records a published frame. Sequences are monotonic, so the
// entry from sentWindow frames ago can be forgotten; its ack would be
// meaningless by now anyway.
func (m *NetMonitor) Sent(seq uint64, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent++
	m.sentAt[seq] = at
	if seq > sentWindow {
		delete(m.sentAt, seq-sentWindow)
	}
}

// Acked matches an acknowledgment to its frame and returns the round
// trip. Unknown sequences (already pruned, or duplicate acks) report
// ok=false.
func (m *NetMonitor) Acked(seq uint64, at time.Time) (rttMillis float64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sentAt, found := m.sentAt[seq]
	if !found {
		return 0, false
	}
	delete(m.sentAt, seq)
	m.acked++

	rttMillis = float64(at.Sub(sentAt)) / float64(time.Millisecond)
	m.samples = append(m.samples, rttMillis)
	if len(m.samples) > rttWindow {
		m.samples = m.samples[len(m.samples)-rttWindow:]
	}
	return rttMillis, true
}

// AvgRTT returns the mean round trip over the sample window in
// milliseconds, 0 when nothing has been acknowledged yet.
func (m *NetMonitor) AvgRTT() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range m.samples {
		sum += s
	}
	return sum / float64(len(m.samples))
}

// Loss estimates the fraction of frames that never came back. Frames
// still in flight count against it, so the estimate runs slightly
// pessimistic.
func (m *NetMonitor) Loss() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sent == 0 {
		return 0
	}
	return 1 - float64(m.acked)/float64(m.sent)
}

// Counts returns total sent and acknowledged frames.
func (m *NetMonitor) Counts() (sent, acked uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent, m.acked
}
