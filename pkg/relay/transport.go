package relay

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Transport is the message boundary between relay peers. Payloads are
// opaque bytes; delivery is at-most-once with no ordering guarantee,
// and reconnecting after a network drop is the transport's own
// business. Subscriber callbacks run on the transport's receive
// goroutine and must not block.
type Transport interface {
	Publish(channel string, payload []byte) error
	Subscribe(channel string, fn func(payload []byte)) (unsubscribe func(), err error)
	Close() error
}

// Credentials configure the hosted pub/sub service.
type Credentials struct {
	PublishKey   string
	SubscribeKey string
	UserID       string
}

// CredentialsFromEnv reads relay credentials from the environment,
// loading a .env file from the working directory first when one
// exists. The PubNub demo keyset is the default so the tooling works
// out of the box; real deployments set PUBNUB_PUBLISH_KEY,
// PUBNUB_SUBSCRIBE_KEY and PUBNUB_USER_ID.
func CredentialsFromEnv() Credentials {
	_ = godotenv.Load()

	creds := Credentials{
		PublishKey:   os.Getenv("PUBNUB_PUBLISH_KEY"),
		SubscribeKey: os.Getenv("PUBNUB_SUBSCRIBE_KEY"),
		UserID:       os.Getenv("PUBNUB_USER_ID"),
	}
	if creds.PublishKey == "" {
		creds.PublishKey = "demo"
	}
	if creds.SubscribeKey == "" {
		creds.SubscribeKey = "demo"
	}
	if creds.UserID == "" {
		creds.UserID = "telearm-" + hostname()
	}
	return creds
}

// PeerID builds the identity other peers see, e.g. "leader-bench1".
func PeerID(role string) string {
	return fmt.Sprintf("%s-%s", role, hostname())
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "anonymous"
	}
	return name
}
