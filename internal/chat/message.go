package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/whisper/roomsync/internal/protocol"
)

const (
	optimisticPrefix = "optimistic-"
	systemPrefix     = "system-"
)

// Participant identifies a room member by stable identity and display name.
type Participant struct {
	ID   string
	Name string
}

// Message is one entry of a room timeline. Identities are compared in their
// stable string form: server identities are decimal integers, temporary ones
// carry a non-numeric prefix, so the two can never collide.
type Message struct {
	ID           string
	RoomID       string
	UserID       string // empty for system notices
	UserName     string
	Content      string
	CreatedAt    time.Time
	IsSystem     bool
	IsOptimistic bool
}

// trimmedContent is the form used for optimistic matching.
func (m Message) trimmedContent() string {
	return strings.TrimSpace(m.Content)
}

// FromHistory converts a REST history record to a confirmed Message.
func FromHistory(rec protocol.HistoryRecord) Message {
	return Message{
		ID:        rec.ID.String(),
		RoomID:    rec.RoomID.String(),
		UserID:    rec.UserID.String(),
		UserName:  rec.UserName,
		Content:   rec.Content,
		CreatedAt: rec.CreatedAt.Time,
	}
}

// FromEvent converts a live message.new event to a confirmed Message.
func FromEvent(ev protocol.MessageNewMsg) Message {
	return Message{
		ID:        ev.Identity().String(),
		RoomID:    ev.RoomID.String(),
		UserID:    ev.UserID.String(),
		UserName:  ev.UserName,
		Content:   ev.Content,
		CreatedAt: ev.SentAt.Time,
	}
}

// NewTempID returns a temporary identity for an unconfirmed local message.
func NewTempID() string {
	return optimisticPrefix + uuid.NewString()
}

// IsTempID reports whether id was produced by NewTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, optimisticPrefix)
}

func newSystemID(kind NoticeKind, userID string) string {
	return systemPrefix + string(kind) + "-" + userID + "-" + uuid.NewString()
}
