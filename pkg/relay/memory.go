package relay

import (
	"fmt"
	"sync"
)

// MemTransport is an in-process Transport for tests and single-machine
// demos. Delivery is synchronous: Publish invokes every subscriber on
// the publishing goroutine, including subscribers of the publishing
// peer, which matches the echo behavior of the hosted service.
type MemTransport struct {
	mu     sync.Mutex
	subs   map[string]map[int]func([]byte)
	nextID int
	closed bool
}

// NewMemTransport returns an empty in-process transport.
func NewMemTransport() *MemTransport {
	return &MemTransport{subs: make(map[string]map[int]func([]byte))}
}

// Publish delivers the payload to every current subscriber of the
// channel.
func (t *MemTransport) Publish(channel string, payload []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("transport closed")
	}
	fns := make([]func([]byte), 0, len(t.subs[channel]))
	for _, fn := range t.subs[channel] {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(payload)
	}
	return nil
}

// Subscribe registers a callback for a channel and returns its
// removal func.
func (t *MemTransport) Subscribe(channel string, fn func([]byte)) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, fmt.Errorf("transport closed")
	}
	if t.subs[channel] == nil {
		t.subs[channel] = make(map[int]func([]byte))
	}
	id := t.nextID
	t.nextID++
	t.subs[channel][id] = fn

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs[channel], id)
	}, nil
}

// Close drops all subscriptions.
func (t *MemTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.subs = make(map[string]map[int]func([]byte))
	return nil
}
