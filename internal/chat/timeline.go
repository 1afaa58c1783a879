package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultEchoWindow is how many trailing entries are checked for an already
// confirmed copy of the acting user's own message.
const DefaultEchoWindow = 5

// ErrPendingDuplicate is returned when an optimistic message with the same
// trimmed content is still waiting for confirmation.
var ErrPendingDuplicate = errors.New("chat: identical message is still pending")

// Outcome reports what ApplyIncoming did with a confirmed message.
type Outcome int

const (
	Appended    Outcome = iota // new entry at the tail
	Promoted                   // replaced a pending optimistic entry in place
	Duplicate                  // identity already present
	EchoDropped                // late confirmation of an own message already shown
)

func (o Outcome) String() string {
	switch o {
	case Appended:
		return "appended"
	case Promoted:
		return "promoted"
	case Duplicate:
		return "duplicate"
	case EchoDropped:
		return "echo_dropped"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// NoticeKind names the presence transition a system notice describes.
type NoticeKind string

const (
	NoticeJoined  NoticeKind = "joined"
	NoticeOnline  NoticeKind = "online"
	NoticeLeft    NoticeKind = "left"
	NoticeOffline NoticeKind = "offline"
)

// Timeline is the reconciled message sequence of one room. It merges history
// pages, live confirmed messages and local optimistic sends into one
// insertion-ordered, duplicate-free list.
//
// A Timeline is not safe for concurrent use; its owner serializes access.
type Timeline struct {
	roomID     string
	self       Participant
	echoWindow int
	msgs       []Message
	now        func() time.Time
}

// NewTimeline creates an empty timeline for roomID acting as self.
func NewTimeline(roomID string, self Participant) *Timeline {
	return &Timeline{
		roomID:     roomID,
		self:       self,
		echoWindow: DefaultEchoWindow,
		now:        time.Now,
	}
}

// SetEchoWindow overrides DefaultEchoWindow. Values below 1 disable the check.
func (t *Timeline) SetEchoWindow(n int) {
	t.echoWindow = n
}

// Len returns the number of entries.
func (t *Timeline) Len() int {
	return len(t.msgs)
}

// Messages returns a copy of the sequence in display order.
func (t *Timeline) Messages() []Message {
	out := make([]Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// LoadHistory merges an ascending history batch in front of whatever is
// already in the sequence. Entries already present whose identity also
// appears in the batch are dropped, so the batch copy keeps its history
// position. Relative order inside each source is preserved.
func (t *Timeline) LoadHistory(batch []Message) {
	if len(batch) == 0 {
		return
	}

	seen := make(map[string]struct{}, len(batch))
	merged := make([]Message, 0, len(batch)+len(t.msgs))
	for _, m := range batch {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		m.IsOptimistic = false
		merged = append(merged, m)
	}
	for _, m := range t.msgs {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		merged = append(merged, m)
	}
	t.msgs = merged
}

// ApplyIncoming applies one server-confirmed live message.
func (t *Timeline) ApplyIncoming(m Message) Outcome {
	m.IsOptimistic = false
	m.IsSystem = false

	for _, e := range t.msgs {
		if !e.IsOptimistic && e.ID == m.ID {
			return Duplicate
		}
	}

	content := m.trimmedContent()
	for i, e := range t.msgs {
		if e.IsOptimistic && !e.IsSystem && e.UserID == m.UserID && e.trimmedContent() == content {
			t.msgs[i] = m
			return Promoted
		}
	}

	if t.isOwnEcho(m, content) {
		return EchoDropped
	}

	t.msgs = append(t.msgs, m)
	return Appended
}

// isOwnEcho reports whether m is the acting user's message and one of the
// last few entries is an already confirmed copy of it.
func (t *Timeline) isOwnEcho(m Message, content string) bool {
	if m.UserID == "" || m.UserID != t.self.ID || t.echoWindow < 1 {
		return false
	}
	start := len(t.msgs) - t.echoWindow
	if start < 0 {
		start = 0
	}
	for _, e := range t.msgs[start:] {
		if !e.IsOptimistic && !e.IsSystem && e.UserID == t.self.ID && e.trimmedContent() == content {
			return true
		}
	}
	return false
}

// AppendNotice appends a synthesized system message describing a presence
// transition of who. Callers decide whether the transition deserves one.
func (t *Timeline) AppendNotice(kind NoticeKind, who Participant) Message {
	name := who.Name
	if name == "" {
		name = "A user"
	}

	var text string
	switch kind {
	case NoticeJoined:
		text = name + " joined the room"
	case NoticeOnline:
		text = name + " is now online"
	case NoticeLeft:
		text = name + " left the room"
	case NoticeOffline:
		text = name + " went offline"
	default:
		text = name + " " + string(kind)
	}

	m := Message{
		ID:        newSystemID(kind, who.ID),
		RoomID:    t.roomID,
		UserName:  "System",
		Content:   text,
		CreatedAt: t.now(),
		IsSystem:  true,
	}
	t.msgs = append(t.msgs, m)
	return m
}

// SendOptimistic appends an unconfirmed local message and returns it. The
// returned ID is temporary and is what Rollback expects.
func (t *Timeline) SendOptimistic(content string) (Message, error) {
	if err := ValidateMessage(content); err != nil {
		return Message{}, err
	}
	content = strings.TrimSpace(content)

	for _, e := range t.msgs {
		if e.IsOptimistic && e.UserID == t.self.ID && e.trimmedContent() == content {
			return Message{}, ErrPendingDuplicate
		}
	}

	m := Message{
		ID:           NewTempID(),
		RoomID:       t.roomID,
		UserID:       t.self.ID,
		UserName:     t.self.Name,
		Content:      content,
		CreatedAt:    t.now(),
		IsOptimistic: true,
	}
	t.msgs = append(t.msgs, m)
	return m, nil
}

// Rollback removes the optimistic entry tempID and returns its content so it
// can be put back into the input. It reports false when no such pending entry
// exists, for instance because it was already confirmed.
func (t *Timeline) Rollback(tempID string) (string, bool) {
	for i, e := range t.msgs {
		if e.IsOptimistic && e.ID == tempID {
			t.msgs = append(t.msgs[:i], t.msgs[i+1:]...)
			return e.Content, true
		}
	}
	return "", false
}

// Replace discards the whole sequence, pending optimistic entries included,
// and installs batch. It backs manual refresh.
func (t *Timeline) Replace(batch []Message) {
	t.msgs = nil
	t.LoadHistory(batch)
}

// Pending returns the number of unconfirmed optimistic entries.
func (t *Timeline) Pending() int {
	n := 0
	for _, e := range t.msgs {
		if e.IsOptimistic {
			n++
		}
	}
	return n
}
