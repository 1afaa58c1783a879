package stream

import (
	"log"

	"github.com/whisper/roomsync/internal/metrics"
	"github.com/whisper/roomsync/internal/protocol"
)

// Decode parses one inbound frame. Malformed frames are logged, counted and
// reported as not ok; they never terminate the connection. label identifies
// the connection in logs.
func Decode(label string, data []byte) (Event, bool) {
	msgType, msg, err := protocol.ParseServerMessage(data)
	if err != nil {
		metrics.EventsMalformed.Inc()
		log.Printf("stream: discarding malformed event conn=%s: %v", label, err)
		return Event{}, false
	}
	metrics.EventsTotal.WithLabelValues(msgType).Inc()
	return Event{Type: msgType, Msg: msg}, true
}

// Handler handles one decoded event. msg is the concrete protocol struct
// (e.g., protocol.MessageNewMsg, protocol.PresenceMsg).
type Handler func(msg interface{})

// Dispatcher routes decoded events to handlers registered per message type.
type Dispatcher struct {
	handlers map[string]Handler
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register associates a Handler with a message type. If a handler was
// already registered for the given type, it is silently replaced.
func (d *Dispatcher) Register(msgType string, handler Handler) {
	d.handlers[msgType] = handler
}

// Dispatch invokes the handler for ev.Type. It reports false, after logging,
// when no handler is registered.
func (d *Dispatcher) Dispatch(ev Event) bool {
	handler, ok := d.handlers[ev.Type]
	if !ok {
		log.Printf("stream: unhandled event type=%q", ev.Type)
		return false
	}
	handler(ev.Msg)
	return true
}
