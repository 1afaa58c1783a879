package rooms

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// OnlinePrefix and OnlineSuffix frame the Redis set the backend maintains
// with the identities online in a room: room:<id>:online.
const (
	OnlinePrefix = "room:"
	OnlineSuffix = ":online"
)

// OnlineKey returns the Redis key holding roomID's online set.
func OnlineKey(roomID string) string {
	return OnlinePrefix + roomID + OnlineSuffix
}

// RedisHint reads the online count straight from the backend's Redis.
type RedisHint struct {
	client *redis.Client
}

// NewRedisHint creates a RedisHint using an existing Redis client.
func NewRedisHint(client *redis.Client) *RedisHint {
	return &RedisHint{client: client}
}

// OnlineHint returns the cardinality of the room's online set. A missing key
// counts as zero.
func (h *RedisHint) OnlineHint(ctx context.Context, roomID string) (int, error) {
	n, err := h.client.SCard(ctx, OnlineKey(roomID)).Result()
	if err != nil {
		return 0, fmt.Errorf("rooms: online count %s: %w", roomID, err)
	}
	return int(n), nil
}

// Close closes the underlying Redis connection.
func (h *RedisHint) Close() error {
	return h.client.Close()
}
