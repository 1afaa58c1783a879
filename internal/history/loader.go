// Package history loads pages of confirmed room messages from the REST
// backend and normalizes them into chronological chat.Messages.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/whisper/roomsync/internal/api"
	"github.com/whisper/roomsync/internal/chat"
	"github.com/whisper/roomsync/internal/metrics"
	"github.com/whisper/roomsync/internal/protocol"
)

// DefaultPageSize is the number of messages requested per page.
const DefaultPageSize = 50

// Loader fetches history pages.
type Loader struct {
	client *api.Client
}

// NewLoader creates a Loader on top of client.
func NewLoader(client *api.Client) *Loader {
	return &Loader{client: client}
}

// Fetch returns page (1-based) of roomID's history in ascending order. The
// backend delivers newest-first; the page is reversed before it is returned.
// Any transport or decode failure yields a nil slice and an error.
func (l *Loader) Fetch(ctx context.Context, roomID string, limit, page int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if page <= 0 {
		page = 1
	}

	path := "/rooms/" + url.PathEscape(roomID) + "/messages"
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("page", strconv.Itoa(page))

	var raw []json.RawMessage
	start := time.Now()
	err := l.client.Do(ctx, http.MethodGet, path, query, nil, &raw)
	metrics.HistoryLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.HistoryErrors.Inc()
		return nil, fmt.Errorf("history: fetch room=%s page=%d: %w", roomID, page, err)
	}

	msgs, err := Normalize(roomID, raw)
	if err != nil {
		metrics.HistoryErrors.Inc()
		return nil, fmt.Errorf("history: room=%s page=%d: %w", roomID, page, err)
	}
	return msgs, nil
}

// Normalize decodes a newest-first page into ascending confirmed messages.
// Records without a room identity are attributed to roomID.
func Normalize(roomID string, newestFirst []json.RawMessage) ([]chat.Message, error) {
	msgs := make([]chat.Message, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		rec, err := protocol.ParseHistoryRecord(newestFirst[i])
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		m := chat.FromHistory(rec)
		if m.RoomID == "" {
			m.RoomID = roomID
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
