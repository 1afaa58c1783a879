package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Health is the body of the /health endpoint.
type Health struct {
	Status    string `json:"status"`
	Room      string `json:"room,omitempty"`
	State     string `json:"state"`
	Connected bool   `json:"connected"`
	Messages  int    `json:"messages"`
	Uptime    string `json:"uptime"`
}

// Server exposes /metrics and /health for a running client.
type Server struct {
	addr       string
	health     func() Health
	httpServer *http.Server
	startedAt  time.Time
}

// NewServer creates a Server listening on addr. health is called per
// request to fill in the session fields of the response.
func NewServer(addr string, health func() Health) *Server {
	s := &Server{addr: addr, health: health, startedAt: time.Now()}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	log.Printf("metrics: listening on %s", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics: http server error: %w", err)
	}
	return nil
}

// handleHealth responds with the client's session status as JSON.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var resp Health
	if s.health != nil {
		resp = s.health()
	}
	if resp.Status == "" {
		resp.Status = "ok"
	}
	resp.Uptime = time.Since(s.startedAt).Round(time.Second).String()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// Shutdown stops accepting requests with a deadline.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics: http shutdown: %w", err)
	}
	return nil
}
