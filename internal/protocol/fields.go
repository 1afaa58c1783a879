package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// legacyKeys maps field spellings emitted by older backend builds onto the
// canonical snake_case keys. Canonical keys always win when both are present;
// among legacy spellings of one field, the earlier entry wins.
var legacyKeys = []struct{ legacy, canonical string }{
	{"Type", "type"},
	{"ID", "id"},
	{"Id", "id"},
	{"MessageID", "message_id"},
	{"messageId", "message_id"},
	{"messageID", "message_id"},
	{"RoomID", "room_id"},
	{"roomId", "room_id"},
	{"roomID", "room_id"},
	{"UserID", "user_id"},
	{"userId", "user_id"},
	{"userID", "user_id"},
	{"UserName", "user_name"},
	{"userName", "user_name"},
	{"username", "user_name"},
	{"Content", "content"},
	{"CreatedAt", "created_at"},
	{"createdAt", "created_at"},
	{"timestamp", "created_at"},
	{"Timestamp", "created_at"},
	{"SentAt", "sent_at"},
	{"sentAt", "sent_at"},
}

// Canonicalize rewrites the top-level keys of a JSON object from their legacy
// spellings to the canonical ones. The input must be a JSON object.
func Canonicalize(data []byte) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, fmt.Errorf("expected a JSON object")
	}

	renamed := false
	for _, k := range legacyKeys {
		v, ok := fields[k.legacy]
		if !ok {
			continue
		}
		delete(fields, k.legacy)
		renamed = true
		if _, exists := fields[k.canonical]; !exists {
			fields[k.canonical] = v
		}
	}
	if !renamed {
		out := make(json.RawMessage, len(data))
		copy(out, data)
		return out, nil
	}
	return json.Marshal(fields)
}

// Ident is an identity in its stable string form. Server identities arrive as
// JSON numbers or strings; both decode to the same Ident.
type Ident string

// UnmarshalJSON accepts a JSON string, number or null.
func (id *Ident) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*id = ""
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = Ident(strings.TrimSpace(s))
		return nil
	}

	lit := string(data)
	if n, err := strconv.ParseInt(lit, 10, 64); err == nil {
		*id = Ident(strconv.FormatInt(n, 10))
		return nil
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return fmt.Errorf("invalid identity %s", lit)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		*id = Ident(strconv.FormatInt(int64(f), 10))
		return nil
	}
	*id = Ident(lit)
	return nil
}

// String returns the identity as a plain string.
func (id Ident) String() string { return string(id) }

// Timestamp decodes RFC 3339 strings and unix seconds or milliseconds.
type Timestamp struct {
	time.Time
}

// layouts tried in order for string timestamps.
var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			t.Time = time.Time{}
			return nil
		}
		for _, layout := range layouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				t.Time = parsed
				return nil
			}
		}
		return fmt.Errorf("invalid timestamp %q", s)
	}

	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s", data)
	}
	if n >= 1e12 {
		t.Time = time.UnixMilli(n)
	} else {
		t.Time = time.Unix(n, 0)
	}
	return nil
}

// MarshalJSON encodes the timestamp as RFC 3339, or null when zero.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}
