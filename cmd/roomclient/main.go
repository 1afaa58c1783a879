package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/whisper/roomsync/internal/api"
	"github.com/whisper/roomsync/internal/chat"
	"github.com/whisper/roomsync/internal/history"
	"github.com/whisper/roomsync/internal/messaging"
	"github.com/whisper/roomsync/internal/metrics"
	"github.com/whisper/roomsync/internal/rooms"
	"github.com/whisper/roomsync/internal/session"
	"github.com/whisper/roomsync/internal/stream"
	"github.com/whisper/roomsync/internal/ws"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("failed to load .env file: %v", err)
	}

	roomID := os.Getenv("ROOM_ID")
	if len(os.Args) > 1 {
		roomID = os.Args[1]
	}
	if roomID == "" {
		log.Fatalf("usage: roomclient <room-id> (or set ROOM_ID)")
	}

	self := chat.Participant{ID: os.Getenv("USER_ID"), Name: os.Getenv("USER_NAME")}
	if self.ID == "" {
		log.Fatalf("USER_ID is required")
	}
	token := os.Getenv("AUTH_TOKEN")

	// --- REST ---
	apiConfig := api.DefaultConfig()
	if v := os.Getenv("API_BASE_URL"); v != "" {
		apiConfig.BaseURL = v
	}
	apiConfig.Token = token
	apiClient := api.NewClient(apiConfig)
	roomsClient := rooms.NewClient(apiClient)

	// --- Session ---
	config := session.DefaultConfig()
	if v := os.Getenv("PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.PageSize = n
		}
	}
	if v := os.Getenv("TYPING_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.TypingTTL = d
		}
	}

	// --- Transport ---
	transport := strings.ToLower(os.Getenv("TRANSPORT"))
	if transport == "" {
		transport = "ws"
	}
	var opener stream.Opener
	switch transport {
	case "ws":
		wsConfig := ws.DefaultConfig()
		if v := os.Getenv("WS_BASE_URL"); v != "" {
			wsConfig.BaseURL = v
		}
		if token != "" {
			wsConfig.Header = http.Header{"Authorization": []string{"Bearer " + token}}
		}
		opener = ws.NewDialer(wsConfig)
	case "nats":
		natsConfig := messaging.DefaultNATSConfig()
		if v := os.Getenv("NATS_URL"); v != "" {
			natsConfig.URL = v
		}
		natsConfig.Token = token
		natsConfig.UserID = self.ID
		opener = messaging.NewOpener(natsConfig)
	default:
		log.Fatalf("unknown TRANSPORT %q (want ws or nats)", transport)
	}

	// --- Online hint: Redis when configured, otherwise the room detail ---
	var hint rooms.OnlineHinter = roomsClient
	var redisHint *rooms.RedisHint
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			log.Printf("redis unavailable at %s, using room detail for online count: %v", addr, err)
			client.Close()
		} else {
			redisHint = rooms.NewRedisHint(client)
			hint = redisHint
		}
	}

	controller := session.NewController(config, session.Deps{
		Self:       self,
		History:    history.NewLoader(apiClient),
		Opener:     opener,
		Hint:       hint,
		Membership: roomsClient,
	})

	log.Printf("roomclient starting")
	log.Printf("  room:       %s", roomID)
	log.Printf("  user:       %s (%s)", self.ID, self.Name)
	log.Printf("  api:        %s", apiConfig.BaseURL)
	log.Printf("  transport:  %s", transport)
	log.Printf("  page_size:  %d", config.PageSize)
	log.Printf("  typing_ttl: %s", config.TypingTTL)

	// --- Metrics ---
	var metricsServer *metrics.Server
	if addr := os.Getenv("METRICS_ADDR"); addr != "" {
		metricsServer = metrics.NewServer(addr, func() metrics.Health {
			v, err := controller.Snapshot()
			if err != nil {
				return metrics.Health{Status: "stopped"}
			}
			return metrics.Health{
				Room:      v.RoomID,
				State:     v.State.String(),
				Connected: v.Connected,
				Messages:  len(v.Messages),
			}
		})
		go func() {
			if err := metricsServer.Start(); err != nil {
				log.Printf("metrics server error: %v", err)
			}
		}()
	}

	ctx := context.Background()
	if os.Getenv("JOIN") == "true" {
		if err := controller.JoinRoom(ctx, roomID); err != nil {
			log.Fatalf("join room %s: %v", roomID, err)
		}
	} else if err := controller.Enter(roomID); err != nil {
		log.Fatalf("enter room %s: %v", roomID, err)
	}

	r := newRenderer(os.Stdout)
	go func() {
		for range controller.Updates() {
			v, err := controller.Snapshot()
			if err != nil {
				return
			}
			r.render(v)
		}
	}()

	shutdown := func() {
		controller.Stop()
		if metricsServer != nil {
			if err := metricsServer.Shutdown(); err != nil {
				log.Printf("shutdown error: %v", err)
			}
		}
		if redisHint != nil {
			if err := redisHint.Close(); err != nil {
				log.Printf("redis close error: %v", err)
			}
		}
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down...", sig)
		shutdown()
		os.Exit(0)
	}()

	readInput(ctx, controller, os.Stdin)
	shutdown()
}

// readInput sends every stdin line to the room until EOF or /quit.
func readInput(ctx context.Context, c *session.Controller, in io.Reader) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 4096), chat.MaxMessageBytes*2)

	for scanner.Scan() {
		line := scanner.Text()
		switch strings.TrimSpace(line) {
		case "/quit":
			return
		case "/refresh":
			if err := c.Refresh(); err != nil {
				log.Printf("refresh: %v", err)
			}
			continue
		case "/older":
			if err := c.LoadOlder(); err != nil {
				log.Printf("older: %v", err)
			}
			continue
		case "/leave":
			if err := c.LeaveRoom(ctx); err != nil {
				log.Printf("leave: %v", err)
			}
			return
		case "":
			continue
		}

		// Line input has no keystrokes to watch; announce typing right
		// before the send so peers still see the indicator.
		_, _ = c.Typing()
		if _, err := c.Send(line); err != nil {
			if content, ok := session.IsSendError(err); ok {
				fmt.Printf("! not sent, try again: %s\n", content)
				continue
			}
			log.Printf("send: %v", err)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("stdin: %v", err)
	}
}
