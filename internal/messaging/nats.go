// Package messaging provides a NATS client wrapper and a room event stream
// carried over NATS subjects, as an alternative to the WebSocket transport
// for deployments that bridge room events onto a NATS cluster.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns for room streams.
const (
	SubjectRoom       = "room"    // + .<room_id>.<kind>
	SubjectKindEvents = "events"  // server -> client events
	SubjectKindSend   = "send"    // client -> server messages
	HeaderUser        = "User-Id" // identity of the publishing user
)

// EventsSubject returns the subject carrying roomID's inbound events.
func EventsSubject(roomID string) string {
	return SubjectRoom + "." + roomID + "." + SubjectKindEvents
}

// SendSubject returns the subject the client publishes roomID's outbound
// messages to.
func SendSubject(roomID string) string {
	return SubjectRoom + "." + roomID + "." + SubjectKindSend
}

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	Token         string        // optional auth token
	UserID        string        // stamped on outbound messages under HeaderUser
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults. Reconnects are disabled: a
// lost connection closes the room stream and the session decides whether to
// enter the room again.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "roomsync",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: 0,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. extra options are applied after the defaults and may replace the
// logging handlers. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig, extra ...nats.Option) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}
	if config.Token != "" {
		opts = append(opts, nats.Token(config.Token))
	}
	opts = append(opts, extra...)

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// PublishMsg sends a message with headers.
func (c *NATSClient) PublishMsg(msg *nats.Msg) error {
	return c.conn.PublishMsg(msg)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup. The subscription is flushed to
// the server before Subscribe returns.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	if err := c.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("nats flush %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// Unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) Unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}

// Close unsubscribes everything and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			log.Printf("[nats] unsubscribe %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	c.conn.Close()
	log.Printf("[nats] client closed")
}
