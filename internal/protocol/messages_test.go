package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid message.new event
// ---------------------------------------------------------------------------

func TestParseServerMessage_MessageNew(t *testing.T) {
	input := []byte(`{"type":"message.new","message_id":42,"room_id":7,"user_id":3,"user_name":"ana","content":"hi there","sent_at":"2025-03-01T10:00:00Z"}`)

	msgType, msg, err := ParseServerMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeMessageNew {
		t.Fatalf("expected type %q, got %q", TypeMessageNew, msgType)
	}

	m, ok := msg.(MessageNewMsg)
	if !ok {
		t.Fatalf("expected MessageNewMsg, got %T", msg)
	}
	if m.Identity() != "42" {
		t.Errorf("expected identity %q, got %q", "42", m.Identity())
	}
	if m.UserID != "3" || m.RoomID != "7" {
		t.Errorf("unexpected ids user=%q room=%q", m.UserID, m.RoomID)
	}
	if m.Content != "hi there" {
		t.Errorf("expected content %q, got %q", "hi there", m.Content)
	}
	want := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	if !m.SentAt.Equal(want) {
		t.Errorf("expected sent_at %v, got %v", want, m.SentAt.Time)
	}
}

// ---------------------------------------------------------------------------
// Test: Legacy field spellings are rewritten to canonical keys
// ---------------------------------------------------------------------------

func TestParseServerMessage_LegacyFields(t *testing.T) {
	input := []byte(`{"type":"message.new","ID":"9","UserID":5,"UserName":"bo","Content":" yo ","SentAt":1700000000}`)

	_, msg, err := ParseServerMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := msg.(MessageNewMsg)
	if m.Identity() != "9" {
		t.Errorf("expected identity 9 from legacy ID, got %q", m.Identity())
	}
	if m.UserID != "5" || m.UserName != "bo" {
		t.Errorf("unexpected author %q/%q", m.UserID, m.UserName)
	}
	if m.Content != " yo " {
		t.Errorf("content must not be trimmed on decode, got %q", m.Content)
	}
	if m.SentAt.Unix() != 1700000000 {
		t.Errorf("expected unix 1700000000, got %d", m.SentAt.Unix())
	}
}

func TestParseServerMessage_Presence(t *testing.T) {
	tests := []struct {
		name  string
		input string
		typ   string
	}{
		{"joined", `{"type":"room.user_joined","user_id":1,"user_name":"a","room_id":2}`, TypeUserJoined},
		{"left", `{"type":"room.user_left","user_id":1}`, TypeUserLeft},
		{"online", `{"type":"user.online","userId":"1"}`, TypeUserOnline},
		{"offline", `{"type":"user.offline","user_id":"1"}`, TypeUserOffline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgType, msg, err := ParseServerMessage([]byte(tt.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msgType != tt.typ {
				t.Fatalf("expected type %q, got %q", tt.typ, msgType)
			}
			p, ok := msg.(PresenceMsg)
			if !ok {
				t.Fatalf("expected PresenceMsg, got %T", msg)
			}
			if p.UserID != "1" {
				t.Errorf("expected user_id 1, got %q", p.UserID)
			}
		})
	}
}

func TestParseServerMessage_Typing(t *testing.T) {
	_, msg, err := ParseServerMessage([]byte(`{"type":"room.typing","user_id":8,"user_name":"cy"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tm, ok := msg.(TypingMsg)
	if !ok {
		t.Fatalf("expected TypingMsg, got %T", msg)
	}
	if tm.UserID != "8" || tm.UserName != "cy" {
		t.Errorf("unexpected typing payload %+v", tm)
	}
}

// ---------------------------------------------------------------------------
// Test: Malformed and unknown payloads
// ---------------------------------------------------------------------------

func TestParseServerMessage_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", `{{{`},
		{"array", `[1,2]`},
		{"missing type", `{"user_id":1}`},
		{"unknown type", `{"type":"room.exploded"}`},
		{"message without id", `{"type":"message.new","content":"x"}`},
		{"presence without user", `{"type":"user.online"}`},
		{"bad identity", `{"type":"user.online","user_id":true}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseServerMessage([]byte(tt.input)); err == nil {
				t.Fatalf("expected error for %s", tt.input)
			}
		})
	}
}

func TestParseHistoryRecord(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"canonical", `{"id":1,"room_id":4,"user_id":2,"user_name":"a","content":"x","created_at":"2025-01-01T00:00:00Z"}`},
		{"pascal", `{"ID":1,"RoomID":4,"UserID":2,"UserName":"a","Content":"x","CreatedAt":"2025-01-01T00:00:00Z"}`},
		{"camel", `{"id":"1","roomId":4,"userId":"2","userName":"a","content":"x","timestamp":1735689600000}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := ParseHistoryRecord([]byte(tt.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.ID != "1" || rec.UserID != "2" || rec.RoomID != "4" {
				t.Errorf("unexpected ids %+v", rec)
			}
			if rec.UserName != "a" || rec.Content != "x" {
				t.Errorf("unexpected body %+v", rec)
			}
			if rec.CreatedAt.Unix() != 1735689600 {
				t.Errorf("expected created_at 1735689600, got %d", rec.CreatedAt.Unix())
			}
		})
	}
}

func TestCanonicalize_CanonicalWins(t *testing.T) {
	raw, err := Canonicalize([]byte(`{"id":1,"ID":2}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var m map[string]int
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m["id"] != 1 {
		t.Errorf("expected canonical id 1 to win, got %d", m["id"])
	}
	if _, ok := m["ID"]; ok {
		t.Errorf("legacy key should have been removed")
	}
}

func TestCanonicalize_LegacyPrecedenceIsStable(t *testing.T) {
	for i := 0; i < 50; i++ {
		raw, err := Canonicalize([]byte(`{"timestamp":"2024-01-01T00:00:00Z","CreatedAt":"2025-06-01T00:00:00Z","userId":4,"UserID":3}`))
		if err != nil {
			t.Fatalf("canonicalize: %v", err)
		}
		var got map[string]interface{}
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got["created_at"] != "2025-06-01T00:00:00Z" {
			t.Fatalf("run %d: expected CreatedAt to win, got %v", i, got["created_at"])
		}
		if got["user_id"] != float64(3) {
			t.Fatalf("run %d: expected UserID to win, got %v", i, got["user_id"])
		}
	}
}

func TestIdent_NumberAndStringAgree(t *testing.T) {
	var a, b, c Ident
	if err := json.Unmarshal([]byte(`42`), &a); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(`"42"`), &b); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(`42.0`), &c); err != nil {
		t.Fatal(err)
	}
	if a != b || b != c {
		t.Errorf("expected identical identities, got %q %q %q", a, b, c)
	}
}

// ---------------------------------------------------------------------------
// Test: Creating client messages
// ---------------------------------------------------------------------------

func TestNewClientMessage_Send(t *testing.T) {
	data, err := NewClientMessage(TypeMessageSend, SendMessageMsg{Content: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if m["type"] != TypeMessageSend {
		t.Errorf("expected type %q, got %v", TypeMessageSend, m["type"])
	}
	if m["content"] != "hello" {
		t.Errorf("expected content %q, got %v", "hello", m["content"])
	}
}

func TestNewClientMessage_TypingPing(t *testing.T) {
	data, err := NewClientMessage(TypeTypingPing, TypingPingMsg{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"type":"room.typing"}` {
		t.Errorf("unexpected payload %s", data)
	}
}
