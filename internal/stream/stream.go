// Package stream defines the contract shared by room event-stream
// transports: a per-room duplex connection with a Connecting -> Open ->
// Closed lifecycle that delivers decoded server events.
package stream

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotOpen is returned by Send while the connection is Connecting or
// Closed.
var ErrNotOpen = errors.New("stream: connection is not open")

// State is the lifecycle state of one connection instance. Closed is
// terminal; reconnecting requires a new instance.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Event is one decoded inbound server message. Msg holds the concrete
// protocol struct for Type.
type Event struct {
	Type string
	Msg  interface{}
}

// Callbacks receives lifecycle and event notifications from a connection.
// Implementations invoke them from their own goroutines; receivers are
// responsible for moving the work onto their execution context. Any field
// may be nil.
type Callbacks struct {
	OnOpen  func()
	OnEvent func(ev Event)
	// OnClose fires exactly once when the connection enters Closed. err is
	// nil for an explicit Close.
	OnClose func(err error)
}

// Conn is one room event-stream connection.
type Conn interface {
	// Send transmits an outbound message. It returns ErrNotOpen unless the
	// connection is Open.
	Send(msgType string, payload interface{}) error
	// State returns the current lifecycle state.
	State() State
	// Close moves the connection to Closed. It is safe to call repeatedly.
	Close() error
}

// Opener starts connecting to the stream of roomID and returns immediately
// with a connection in StateConnecting.
type Opener interface {
	Open(ctx context.Context, roomID string, cb Callbacks) Conn
}
