package relay

import (
	"encoding/json"
	"fmt"
	"sync"

	pubnub "github.com/pubnub/go/v7"
)

// PubNubTransport is the production Transport on the hosted PubNub
// service. The SDK owns reconnection and backoff; subscribers here
// only ever see decoded channel traffic.
type PubNubTransport struct {
	pn       *pubnub.PubNub
	listener *pubnub.Listener
	logf     func(format string, args ...any)

	mu     sync.Mutex
	subs   map[string]map[int]func([]byte)
	nextID int

	done      chan struct{}
	closeOnce sync.Once
}

// NewPubNub connects a transport to the hosted service. logf, when
// non-nil, receives connection state transitions.
func NewPubNub(creds Credentials, logf func(format string, args ...any)) *PubNubTransport {
	config := pubnub.NewConfigWithUserId(pubnub.UserId(creds.UserID))
	config.PublishKey = creds.PublishKey
	config.SubscribeKey = creds.SubscribeKey

	t := &PubNubTransport{
		pn:       pubnub.NewPubNub(config),
		listener: pubnub.NewListener(),
		logf:     logf,
		subs:     make(map[string]map[int]func([]byte)),
		done:     make(chan struct{}),
	}
	t.pn.AddListener(t.listener)
	go t.dispatch()
	return t
}

func (t *PubNubTransport) log(format string, args ...any) {
	if t.logf != nil {
		t.logf(format, args...)
	}
}

// dispatch pumps the SDK listener into the per-channel callbacks.
func (t *PubNubTransport) dispatch() {
	for {
		select {
		case <-t.done:
			return
		case status := <-t.listener.Status:
			switch status.Category {
			case pubnub.PNConnectedCategory:
				t.log("Relay connected")
			case pubnub.PNReconnectedCategory:
				t.log("Relay reconnected")
			case pubnub.PNDisconnectedCategory:
				t.log("Relay disconnected, SDK will retry")
			}
		case msg := <-t.listener.Message:
			if msg == nil {
				continue
			}
			payload, ok := rawPayload(msg.Message)
			if !ok {
				continue
			}
			t.mu.Lock()
			fns := make([]func([]byte), 0, len(t.subs[msg.Channel]))
			for _, fn := range t.subs[msg.Channel] {
				fns = append(fns, fn)
			}
			t.mu.Unlock()
			for _, fn := range fns {
				fn(payload)
			}
		case <-t.listener.Presence:
		}
	}
}

// rawPayload turns the SDK's decoded message back into JSON bytes.
// Peers publishing pre-encoded JSON strings arrive as string values.
func rawPayload(message any) ([]byte, bool) {
	if s, ok := message.(string); ok {
		return []byte(s), true
	}
	payload, err := json.Marshal(message)
	if err != nil {
		return nil, false
	}
	return payload, true
}

// Publish sends one payload. The call blocks for the service round
// trip; callers that cannot stall run it on their own goroutine.
func (t *PubNubTransport) Publish(channel string, payload []byte) error {
	_, _, err := t.pn.Publish().
		Channel(channel).
		Message(json.RawMessage(payload)).
		Execute()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe registers a callback and joins the channel on first use.
func (t *PubNubTransport) Subscribe(channel string, fn func([]byte)) (func(), error) {
	t.mu.Lock()
	first := len(t.subs[channel]) == 0
	if t.subs[channel] == nil {
		t.subs[channel] = make(map[int]func([]byte))
	}
	id := t.nextID
	t.nextID++
	t.subs[channel][id] = fn
	t.mu.Unlock()

	if first {
		t.pn.Subscribe().Channels([]string{channel}).Execute()
	}

	unsubscribe := func() {
		t.mu.Lock()
		delete(t.subs[channel], id)
		last := len(t.subs[channel]) == 0
		t.mu.Unlock()
		if last {
			t.pn.Unsubscribe().Channels([]string{channel}).Execute()
		}
	}
	return unsubscribe, nil
}

// Close leaves all channels and stops the SDK.
func (t *PubNubTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.pn.UnsubscribeAll()
		t.pn.Destroy()
	})
	return nil
}
