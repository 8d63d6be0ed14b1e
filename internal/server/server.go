// Package server exposes the offline queue and streak state over a local
// HTTP API with a WebSocket event stream.
package server

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"time"

	"github.com/destinyhacking/app/backend/internal/logging"
	"github.com/destinyhacking/app/backend/internal/services"
	"github.com/destinyhacking/app/backend/internal/sync/queue"
	"github.com/destinyhacking/app/backend/internal/sync/scheduler"
)

// Server is the local status server.
type Server struct {
	queue     *queue.Queue
	scheduler *scheduler.Scheduler
	cycles    *services.CycleService
	hub       *WSHub
	addr      string
}

// Config holds server dependencies.
type Config struct {
	Addr      string
	Queue     *queue.Queue
	Scheduler *scheduler.Scheduler
	Cycles    *services.CycleService
	Hub       *WSHub
}

// New creates a new Server. A nil Hub gets a fresh one.
func New(config Config) *Server {
	hub := config.Hub
	if hub == nil {
		hub = NewWSHub()
	}
	return &Server{
		queue:     config.Queue,
		scheduler: config.Scheduler,
		cycles:    config.Cycles,
		hub:       hub,
		addr:      config.Addr,
	}
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *WSHub {
	return s.hub
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/queue", s.handleQueue)
	mux.HandleFunc("/api/queue/drain", s.handleDrain)
	mux.HandleFunc("/api/connectivity", s.handleConnectivity)
	mux.HandleFunc("/api/cycles", s.handleCycles)
	mux.HandleFunc("/api/streak", s.handleStreak)
	mux.HandleFunc("/api/grace", s.handleGrace)
	mux.HandleFunc("/ws", HandleWebSocket(s.hub))
	return withRequestLog(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Local API listening", map[string]interface{}{"addr": ln.Addr().String()})
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.hub.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	s.hub.Close()
	err := srv.Shutdown(shutdownCtx)
	if serveErr := <-errCh; serveErr != nil && !stderrors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return err
}

func withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.Debug("HTTP request", map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}
