// Package server exposes a session over HTTP: a WebSocket endpoint that
// streams output and accepts lifecycle commands, plus a JSON status
// endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Server serves one bridged session.
type Server struct {
	bridge  *Bridge
	started time.Time
	srv     *http.Server
}

// New creates a server for bridge.
func New(bridge *Bridge) *Server {
	return &Server{bridge: bridge, started: time.Now()}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.bridge.HandleWS)
	mux.HandleFunc("GET /status", s.handleStatus)
	return mux
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0, // WebSocket needs no write timeout
		IdleTimeout:       120 * time.Second,
	}

	// Shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP server shutdown error", "error", err)
		}
	}()

	slog.Info("starting HTTP server", "addr", addr)
	if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Status    string `json:"status"`
	Uptime    string `json:"uptime"`
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	Entries   int    `json:"entries"`
	Clients   int    `json:"clients"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:  "running",
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Clients: s.bridge.ClientCount(),
	}
	if sess := s.bridge.current(); sess != nil {
		resp.SessionID = sess.ID()
		resp.State = sess.State().String()
		resp.Entries = len(sess.History())
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
