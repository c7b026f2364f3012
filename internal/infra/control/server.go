// Package control exposes the toggle command and session status over HTTP.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"voice-code/internal/domain"
)

// Controller is the slice of the session controller the server drives.
type Controller interface {
	Toggle(ctx context.Context) error
	Status() domain.Session
}

type Server struct {
	addr       string
	controller Controller
	logger     *slog.Logger
	mux        *http.ServeMux

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	baseCtx  context.Context
}

// NewServer serves metrics at /metrics when metrics is not nil.
func NewServer(addr string, controller Controller, metrics http.Handler, logger *slog.Logger) *Server {
	s := &Server{
		addr:       addr,
		controller: controller,
		logger:     logger,
		mux:        http.NewServeMux(),
		baseCtx:    context.Background(),
	}
	s.mux.HandleFunc("POST /toggle", s.handleToggle)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if metrics != nil {
		s.mux.Handle("GET /metrics", metrics)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens in the background. Sessions started through /toggle live
// as long as ctx, not as long as the request.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}

	s.baseCtx = ctx
	s.listener = ln
	s.server = &http.Server{
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func(srv *http.Server) {
		s.logger.Info("control server starting", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control server error", "error", err)
		}
	}(s.server)

	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("graceful shutdown failed, forcing close", "error", err)
		if err := s.server.Close(); err != nil {
			return fmt.Errorf("closing control server: %w", err)
		}
	}
	s.server = nil
	s.listener = nil
	return nil
}

type statusResponse struct {
	State           domain.SessionState `json:"state"`
	StartedAt       *time.Time          `json:"started_at,omitempty"`
	ActiveRequestID string              `json:"active_request_id,omitempty"`
	Error           string              `json:"error,omitempty"`
}

func toResponse(session domain.Session) statusResponse {
	resp := statusResponse{State: session.State, ActiveRequestID: session.ActiveRequestID}
	if session.State != domain.SessionIdle && !session.StartedAt.IsZero() {
		started := session.StartedAt
		resp.StartedAt = &started
	}
	return resp
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	err := s.controller.Toggle(ctx)
	resp := toResponse(s.controller.Status())

	status := http.StatusOK
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrPermissionDenied):
		status = http.StatusForbidden
		resp.Error = "microphone access denied"
	case errors.Is(err, domain.ErrDeviceUnavailable):
		status = http.StatusServiceUnavailable
		resp.Error = "no audio input available"
	default:
		status = http.StatusInternalServerError
		resp.Error = "toggle failed"
	}
	if err != nil {
		s.logger.Warn("toggle via control server failed", "error", err)
	}

	writeJSON(w, status, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toResponse(s.controller.Status()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
