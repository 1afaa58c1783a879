package ws

import (
	"fmt"
	"log"
	"time"

	"github.com/gobwas/ws"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping (default: 30s); zero disables
}

// DefaultHeartbeatConfig returns sensible defaults for heartbeat monitoring.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
	}
}

// heartbeat periodically sends a WebSocket protocol-level ping frame (opcode
// 0x9) so idle proxies keep the connection alive. A failed ping means the
// socket is gone and closes the connection. It exits when the connection
// closes.
func (c *Conn) heartbeat(config HeartbeatConfig) {
	if config.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.writeFrame(ws.NewPingFrame(nil)); err != nil {
				log.Printf("ws: heartbeat ping failed room=%s: %v", c.RoomID, err)
				c.finish(fmt.Errorf("ws: heartbeat: %w", err))
				return
			}
		}
	}
}
