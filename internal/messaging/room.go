package messaging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/whisper/roomsync/internal/metrics"
	"github.com/whisper/roomsync/internal/protocol"
	"github.com/whisper/roomsync/internal/stream"
)

// errConnectionLost is reported when NATS closes the connection underneath
// an open room stream.
var errConnectionLost = errors.New("[nats] connection lost")

// Opener opens room streams over NATS. Each room stream owns its own NATS
// connection. It implements stream.Opener.
type Opener struct {
	config NATSConfig
}

// NewOpener creates an Opener with the given configuration.
func NewOpener(config NATSConfig) *Opener {
	return &Opener{config: config}
}

// Open connects in the background and returns the stream in
// StateConnecting. Cancelling ctx closes the stream.
func (o *Opener) Open(ctx context.Context, roomID string, cb stream.Callbacks) stream.Conn {
	c := &RoomConn{
		RoomID: roomID,
		config: o.config,
		cb:     cb,
		done:   make(chan struct{}),
	}
	go c.run(ctx)
	return c
}

// RoomConn is one room event stream: it subscribes to the room's events
// subject and publishes outbound messages to its send subject.
type RoomConn struct {
	RoomID string

	config    NATSConfig
	cb        stream.Callbacks
	state     atomic.Int32
	mu        sync.Mutex // guards client
	client    *NATSClient
	done      chan struct{}
	closeOnce sync.Once
}

// State returns the stream's lifecycle state.
func (c *RoomConn) State() stream.State {
	return stream.State(c.state.Load())
}

// Send publishes payload as msgType on the room's send subject. It fails
// with stream.ErrNotOpen unless the stream is Open.
func (c *RoomConn) Send(msgType string, payload interface{}) error {
	if c.State() != stream.StateOpen {
		return stream.ErrNotOpen
	}
	data, err := protocol.NewClientMessage(msgType, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return stream.ErrNotOpen
	}

	msg := nats.NewMsg(SendSubject(c.RoomID))
	msg.Data = data
	if c.config.UserID != "" {
		msg.Header.Set(HeaderUser, c.config.UserID)
	}
	if err := client.PublishMsg(msg); err != nil {
		return fmt.Errorf("[nats] send %s room=%s: %w", msgType, c.RoomID, err)
	}
	return nil
}

// Close moves the stream to Closed and releases the NATS connection.
func (c *RoomConn) Close() error {
	c.finish(nil)
	return nil
}

func (c *RoomConn) run(ctx context.Context) {
	client, err := NewNATSClient(c.config,
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.finish(errConnectionLost)
		}),
	)
	if err != nil {
		c.finish(err)
		return
	}

	if err := client.Subscribe(EventsSubject(c.RoomID), c.handleMsg); err != nil {
		client.Close()
		c.finish(err)
		return
	}

	c.mu.Lock()
	if c.State() == stream.StateClosed {
		c.mu.Unlock()
		client.Close()
		return
	}
	c.client = client
	c.state.Store(int32(stream.StateOpen))
	c.mu.Unlock()

	metrics.ConnectionsOpen.Inc()
	log.Printf("[nats] room stream open room=%s subject=%s", c.RoomID, EventsSubject(c.RoomID))
	if c.cb.OnOpen != nil {
		c.cb.OnOpen()
	}

	select {
	case <-ctx.Done():
		c.finish(nil)
	case <-c.done:
	}
}

// handleMsg decodes one inbound event. NATS delivers messages of one
// subscription sequentially, so events reach OnEvent in publish order.
func (c *RoomConn) handleMsg(msg *nats.Msg) {
	if c.State() == stream.StateClosed {
		return
	}
	ev, ok := stream.Decode(c.RoomID, msg.Data)
	if !ok || c.cb.OnEvent == nil {
		return
	}
	c.cb.OnEvent(ev)
}

func (c *RoomConn) finish(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		prev := stream.State(c.state.Swap(int32(stream.StateClosed)))
		client := c.client
		c.client = nil
		c.mu.Unlock()

		close(c.done)
		if client != nil {
			// A lost connection has no subscription left to remove.
			if err == nil {
				if uerr := client.Unsubscribe(EventsSubject(c.RoomID)); uerr != nil {
					log.Printf("[nats] room=%s: %v", c.RoomID, uerr)
				}
			}
			client.Close()
		}
		if prev == stream.StateOpen {
			metrics.ConnectionsOpen.Dec()
		}

		if err != nil {
			log.Printf("[nats] room stream closed room=%s state=%s: %v", c.RoomID, prev, err)
		} else {
			log.Printf("[nats] room stream closed room=%s state=%s", c.RoomID, prev)
		}
		if c.cb.OnClose != nil {
			c.cb.OnClose(err)
		}
	})
}
