// Package rooms talks to the membership service: joining and leaving rooms,
// fetching room details, and reading the server-side online count that is
// used as a floor for the locally tracked presence.
package rooms

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/whisper/roomsync/internal/api"
	"github.com/whisper/roomsync/internal/protocol"
)

// Room is the room detail returned by GET /rooms/{id}.
type Room struct {
	ID          protocol.Ident `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Topic       string         `json:"topic"`
	IsPrivate   bool           `json:"is_private"`
	MaxMembers  int            `json:"max_members"`
	OnlineCount int            `json:"online_count"`
}

// OnlineHinter reports a server-side online count for a room.
type OnlineHinter interface {
	OnlineHint(ctx context.Context, roomID string) (int, error)
}

// Service is the membership collaborator.
type Service interface {
	Join(ctx context.Context, roomID string) error
	Leave(ctx context.Context, roomID string) error
	Get(ctx context.Context, roomID string) (Room, error)
}

// Client implements Service and OnlineHinter over the REST API.
type Client struct {
	api *api.Client
}

// NewClient creates a membership client.
func NewClient(c *api.Client) *Client {
	return &Client{api: c}
}

// Join adds the acting user to roomID.
func (c *Client) Join(ctx context.Context, roomID string) error {
	if err := c.api.Do(ctx, http.MethodPost, "/rooms/join/"+url.PathEscape(roomID), nil, nil, nil); err != nil {
		return fmt.Errorf("rooms: join %s: %w", roomID, err)
	}
	return nil
}

// Leave removes the acting user from roomID.
func (c *Client) Leave(ctx context.Context, roomID string) error {
	if err := c.api.Do(ctx, http.MethodDelete, "/rooms/leave/"+url.PathEscape(roomID), nil, nil, nil); err != nil {
		return fmt.Errorf("rooms: leave %s: %w", roomID, err)
	}
	return nil
}

// Get fetches room details.
func (c *Client) Get(ctx context.Context, roomID string) (Room, error) {
	var room Room
	if err := c.api.Do(ctx, http.MethodGet, "/rooms/"+url.PathEscape(roomID), nil, nil, &room); err != nil {
		return Room{}, fmt.Errorf("rooms: get %s: %w", roomID, err)
	}
	return room, nil
}

// OnlineHint returns the online_count of the room detail.
func (c *Client) OnlineHint(ctx context.Context, roomID string) (int, error) {
	room, err := c.Get(ctx, roomID)
	if err != nil {
		return 0, err
	}
	return room.OnlineCount, nil
}
