// Package protocol defines the room event-stream message types and the REST
// history record shape exchanged with the chat backend. All messages are JSON
// and follow one envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeMessageSend = "message.send"
	TypeTypingPing  = "room.typing"
)

// Server -> Client message types.
const (
	TypeMessageNew  = "message.new"
	TypeUserJoined  = "room.user_joined"
	TypeUserLeft    = "room.user_left"
	TypeUserTyping  = "room.typing"
	TypeUserOnline  = "user.online"
	TypeUserOffline = "user.offline"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct. Raw has already had legacy field spellings
// rewritten onto the canonical keys.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It canonicalizes
// the payload keys and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	raw, err := Canonicalize(data)
	if err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	e.Raw = raw

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// SendMessageMsg asks the server to post content to the connection's room.
type SendMessageMsg struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// TypingPingMsg tells the room the sender is composing a message. It carries
// no payload.
type TypingPingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// MessageNewMsg is a server-confirmed chat message broadcast to the room.
type MessageNewMsg struct {
	Type      string    `json:"type"`
	MessageID Ident     `json:"message_id"`
	ID        Ident     `json:"id"` // older servers send "id" instead of "message_id"
	RoomID    Ident     `json:"room_id"`
	UserID    Ident     `json:"user_id"`
	UserName  string    `json:"user_name"`
	Content   string    `json:"content"`
	SentAt    Timestamp `json:"sent_at"`
}

// Identity returns the message identity, preferring message_id.
func (m MessageNewMsg) Identity() Ident {
	if m.MessageID != "" {
		return m.MessageID
	}
	return m.ID
}

// PresenceMsg covers room.user_joined, room.user_left, user.online and
// user.offline. Only UserID is guaranteed.
type PresenceMsg struct {
	Type     string `json:"type"`
	UserID   Ident  `json:"user_id"`
	UserName string `json:"user_name"`
	RoomID   Ident  `json:"room_id"`
}

// TypingMsg relays another participant's typing indicator.
type TypingMsg struct {
	Type     string `json:"type"`
	UserID   Ident  `json:"user_id"`
	UserName string `json:"user_name"`
	RoomID   Ident  `json:"room_id"`
}

// HistoryRecord is one confirmed message as returned by the REST history
// endpoint.
type HistoryRecord struct {
	ID        Ident     `json:"id"`
	RoomID    Ident     `json:"room_id"`
	UserID    Ident     `json:"user_id"`
	UserName  string    `json:"user_name"`
	Content   string    `json:"content"`
	CreatedAt Timestamp `json:"created_at"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseServerMessage parses raw WebSocket bytes into a typed server message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// client-only message types.
func ParseServerMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeMessageNew:
		var m MessageNewMsg
		err = json.Unmarshal(env.Raw, &m)
		if err == nil && m.Identity() == "" {
			err = fmt.Errorf("missing message identity")
		}
		msg = m
	case TypeUserJoined, TypeUserLeft, TypeUserOnline, TypeUserOffline:
		var m PresenceMsg
		err = json.Unmarshal(env.Raw, &m)
		if err == nil && m.UserID == "" {
			err = fmt.Errorf("missing user_id")
		}
		msg = m
	case TypeUserTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		if err == nil && m.UserID == "" {
			err = fmt.Errorf("missing user_id")
		}
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown server message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// ParseHistoryRecord decodes one REST history entry, accepting the legacy
// field spellings handled by Canonicalize.
func ParseHistoryRecord(data []byte) (HistoryRecord, error) {
	var rec HistoryRecord
	raw, err := Canonicalize(data)
	if err != nil {
		return rec, fmt.Errorf("protocol: failed to parse history record: %w", err)
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, fmt.Errorf("protocol: failed to decode history record: %w", err)
	}
	if rec.ID == "" {
		return rec, fmt.Errorf("protocol: history record without id")
	}
	return rec, nil
}

// NewClientMessage creates a JSON-encoded byte slice for a client message.
// The msgType is injected into the payload under the "type" key, overriding
// whatever the payload struct carried.
func NewClientMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}
	if m == nil {
		m = make(map[string]interface{})
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal client message: %w", err)
	}
	return out, nil
}
