// Package ws implements the room event stream over a WebSocket connection
// using gobwas/ws. One Conn serves one room and is never reused after it
// closes.
package ws

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/whisper/roomsync/internal/metrics"
	"github.com/whisper/roomsync/internal/protocol"
	"github.com/whisper/roomsync/internal/stream"
)

// Config holds tunable parameters for room stream connections.
type Config struct {
	BaseURL      string        // room id is appended as the last path segment
	Header       http.Header   // extra handshake headers, e.g. Authorization
	DialTimeout  time.Duration // timeout for the TCP dial and upgrade
	WriteTimeout time.Duration // deadline for each outbound frame
	Heartbeat    HeartbeatConfig
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:      "ws://localhost:8080/api/v1/rooms/ws",
		DialTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Heartbeat:    DefaultHeartbeatConfig(),
	}
}

// RoomURL returns the stream address of roomID.
func (c Config) RoomURL(roomID string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + url.PathEscape(roomID)
}

// Dialer opens room connections. It implements stream.Opener.
type Dialer struct {
	config Config
}

// NewDialer creates a Dialer with the given configuration.
func NewDialer(config Config) *Dialer {
	return &Dialer{config: config}
}

// Open starts connecting to roomID in the background and returns the
// connection in StateConnecting. Cancelling ctx closes the connection.
func (d *Dialer) Open(ctx context.Context, roomID string, cb stream.Callbacks) stream.Conn {
	ctx, cancel := context.WithCancel(ctx)
	c := &Conn{
		RoomID: roomID,
		URL:    d.config.RoomURL(roomID),
		config: d.config,
		cb:     cb,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.run(ctx)
	return c
}

// Conn is a single client WebSocket connection to a room stream. Outbound
// frames are serialized by a write mutex so heartbeat pings, control replies
// and application messages never interleave.
type Conn struct {
	RoomID string
	URL    string

	config    Config
	cb        stream.Callbacks
	state     atomic.Int32
	mu        sync.Mutex // guards conn
	conn      net.Conn
	writeMu   sync.Mutex // serializes writes to conn
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// State returns the connection's lifecycle state.
func (c *Conn) State() stream.State {
	return stream.State(c.state.Load())
}

// Send encodes payload as msgType and writes it as one text frame. It fails
// with stream.ErrNotOpen unless the connection is Open.
func (c *Conn) Send(msgType string, payload interface{}) error {
	if c.State() != stream.StateOpen {
		return stream.ErrNotOpen
	}
	data, err := protocol.NewClientMessage(msgType, payload)
	if err != nil {
		return err
	}
	if err := c.writeFrame(ws.NewTextFrame(data)); err != nil {
		return fmt.Errorf("ws: send %s room=%s: %w", msgType, c.RoomID, err)
	}
	return nil
}

// Close moves the connection to Closed and releases the socket. OnClose is
// invoked with a nil error if this call performed the transition.
func (c *Conn) Close() error {
	c.finish(nil)
	return nil
}

// run dials, reports OnOpen, then reads frames until the stream ends.
func (c *Conn) run(ctx context.Context) {
	dialer := ws.Dialer{
		Timeout: c.config.DialTimeout,
		Header:  ws.HandshakeHeaderHTTP(c.config.Header),
	}

	conn, br, _, err := dialer.Dial(ctx, c.URL)
	if err != nil {
		c.finish(fmt.Errorf("ws: dial %s: %w", c.URL, err))
		return
	}

	c.mu.Lock()
	if c.State() == stream.StateClosed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state.Store(int32(stream.StateOpen))
	c.mu.Unlock()

	metrics.ConnectionsOpen.Inc()
	log.Printf("ws: connected room=%s url=%s", c.RoomID, c.URL)
	if c.cb.OnOpen != nil {
		c.cb.OnOpen()
	}

	go c.heartbeat(c.config.Heartbeat)
	go func() {
		select {
		case <-ctx.Done():
			c.finish(nil)
		case <-c.done:
		}
	}()

	// br holds bytes buffered past the handshake response, if any, and keeps
	// reading from conn once drained.
	var src io.Reader = conn
	if br != nil {
		src = br
	}
	c.finish(c.readLoop(src))
}

// readLoop reads server frames until an error or a close frame. Text frames
// are decoded and dispatched; malformed payloads are dropped individually.
func (c *Conn) readLoop(src io.Reader) error {
	rd := &wsutil.Reader{
		Source:         src,
		State:          ws.StateClientSide,
		CheckUTF8:      true,
		OnIntermediate: c.handleControl,
	}

	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return err
		}
		if hdr.OpCode.IsControl() {
			if err := c.handleControl(hdr, rd); err != nil {
				return err
			}
			continue
		}
		if hdr.OpCode != ws.OpText {
			if err := rd.Discard(); err != nil {
				return err
			}
			continue
		}

		data, err := io.ReadAll(rd)
		if err != nil {
			return err
		}
		if ev, ok := stream.Decode(c.RoomID, data); ok && c.cb.OnEvent != nil {
			c.cb.OnEvent(ev)
		}
	}
}

// handleControl answers pings, ignores pongs and completes the closing
// handshake. It returns wsutil.ClosedError once the server closes.
func (c *Conn) handleControl(hdr ws.Header, r io.Reader) error {
	payload := make([]byte, hdr.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return err
	}

	switch hdr.OpCode {
	case ws.OpPing:
		return c.writeFrame(ws.NewPongFrame(payload))
	case ws.OpClose:
		code, reason := ws.ParseCloseFrameData(payload)
		reply := code
		if reply == 0 || reply == ws.StatusNoStatusRcvd {
			reply = ws.StatusNormalClosure
		}
		_ = c.writeFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(reply, "")))
		return wsutil.ClosedError{Code: code, Reason: reason}
	}
	return nil
}

// writeFrame masks and compiles f, then writes it with a single Write call.
func (c *Conn) writeFrame(f ws.Frame) error {
	b, err := ws.CompileFrame(ws.MaskFrameInPlace(f))
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return stream.ErrNotOpen
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.config.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	_, err = conn.Write(b)
	return err
}

// finish performs the single transition into Closed.
func (c *Conn) finish(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		prev := stream.State(c.state.Swap(int32(stream.StateClosed)))
		conn := c.conn
		c.mu.Unlock()

		close(c.done)
		c.cancel()
		if conn != nil {
			conn.Close()
		}
		if prev == stream.StateOpen {
			metrics.ConnectionsOpen.Dec()
		}

		if err != nil {
			log.Printf("ws: connection closed room=%s state=%s: %v", c.RoomID, prev, err)
		} else {
			log.Printf("ws: connection closed room=%s state=%s", c.RoomID, prev)
		}
		if c.cb.OnClose != nil {
			c.cb.OnClose(err)
		}
	})
}
