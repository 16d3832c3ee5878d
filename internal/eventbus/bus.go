package eventbus

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	nc "github.com/nats-io/nats.go"
)

// Bus wraps a NATS client connection as the queue.Publisher /
// executor.Publisher sink: every lifecycle event the driver and queue
// manager emit is published as JSON on its subject, fire-and-forget.
type Bus struct {
	conn *nc.Conn
}

// Connect dials the embedded server (or any NATS url) with indefinite
// reconnect, matching the adapter's resilience posture for a long-lived
// in-process broker.
func Connect(url string) (*Bus, error) {
	opts := []nc.Option{
		nc.ReconnectWait(2 * time.Second),
		nc.MaxReconnects(-1),
		nc.DisconnectErrHandler(func(_ *nc.Conn, err error) {
			if err != nil {
				log.Printf("[EVENTBUS] disconnected: %v", err)
			}
		}),
		nc.ReconnectHandler(func(c *nc.Conn) {
			log.Printf("[EVENTBUS] reconnected to %s", c.ConnectedUrl())
		}),
	}
	conn, err := nc.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("eventbus: connect: %w", err)
	}
	return &Bus{conn: conn}, nil
}

// Publish implements queue.Publisher and executor.Publisher. A payload
// that fails to marshal or a publish that fails is logged, never
// returned — the event bus is an observability sink, not control flow.
func (b *Bus) Publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[EVENTBUS] marshal failed for %s: %v", subject, err)
		return
	}
	if err := b.conn.Publish(subject, data); err != nil {
		log.Printf("[EVENTBUS] publish failed for %s: %v", subject, err)
	}
}

// Subscribe registers an async handler for subject, used by the WebSocket
// bridge to fan events out to connected UI clients.
func (b *Bus) Subscribe(subject string, handler func(data []byte)) (*nc.Subscription, error) {
	return b.conn.Subscribe(subject, func(msg *nc.Msg) {
		handler(msg.Data)
	})
}

// Close closes the underlying connection.
func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}
