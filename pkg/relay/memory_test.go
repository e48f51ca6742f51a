package relay

import "testing"

func TestMemTransport_PublishSubscribe(t *testing.T) {
	transport := NewMemTransport()
	defer transport.Close()

	var got []string
	unsubscribe, err := transport.Subscribe("ch", func(payload []byte) {
		got = append(got, string(payload))
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := transport.Publish("ch", []byte("one")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := transport.Publish("other", []byte("elsewhere")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if len(got) != 1 || got[0] != "one" {
		t.Errorf("received %v, want [one]", got)
	}

	unsubscribe()
	transport.Publish("ch", []byte("two"))
	if len(got) != 1 {
		t.Errorf("received %v after unsubscribe, want [one]", got)
	}
}

func TestMemTransport_FanOut(t *testing.T) {
	transport := NewMemTransport()
	defer transport.Close()

	counts := make([]int, 3)
	for i := range counts {
		i := i
		if _, err := transport.Subscribe("ch", func([]byte) { counts[i]++ }); err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	}

	transport.Publish("ch", []byte("x"))
	for i, c := range counts {
		if c != 1 {
			t.Errorf("subscriber %d received %d messages, want 1", i, c)
		}
	}
}

func TestMemTransport_Closed(t *testing.T) {
	transport := NewMemTransport()
	transport.Close()

	if err := transport.Publish("ch", []byte("x")); err == nil {
		t.Error("Publish on a closed transport should fail")
	}
	if _, err := transport.Subscribe("ch", func([]byte) {}); err == nil {
		t.Error("Subscribe on a closed transport should fail")
	}
}
