// Package api is the HTTP control surface: session lifecycle, signal
// injection and state inspection, plus a WebSocket stream of live events.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"polymarket-taker/internal/config"
	"polymarket-taker/internal/engine"
)

// Server runs the control API.
type Server struct {
	cfg      config.ServerConfig
	engine   *engine.Engine
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires routes and the event hub around the engine.
func NewServer(cfg config.ServerConfig, eng *engine.Engine, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(eng, hub, cfg, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/api/status", handlers.HandleStatus)
	mux.HandleFunc("/api/events", handlers.HandleEvents)
	mux.HandleFunc("/api/inventory", handlers.HandleInventory)
	mux.HandleFunc("/api/session/start", handlers.HandleSessionStart)
	mux.HandleFunc("/api/session/stop", handlers.HandleSessionStop)
	mux.HandleFunc("/api/signal", handlers.HandleSignal)
	mux.HandleFunc("/api/cancel-all", handlers.HandleCancelAll)
	mux.HandleFunc("/api/reset", handlers.HandleReset)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		engine:   eng,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start runs the hub, the event forwarder and the HTTP listener. Blocks
// until the server shuts down.
func (s *Server) Start() error {
	go s.hub.Run()
	go s.forwardEvents()

	s.logger.Info("control api listening", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.logger.Info("stopping control api")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// forwardEvents pushes engine events to every connected WebSocket client.
func (s *Server) forwardEvents() {
	for entry := range s.engine.EventStream() {
		s.hub.BroadcastEvent(entry)
	}
}
