package audio

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"voice-code/internal/application"
	"voice-code/internal/domain"
)

const maxAudioBody = 10 * 1024 * 1024

// HTTPSource receives audio from a remote client. While a stream is open,
// POST /audio accepts a WAV file or raw little-endian PCM16 at the configured
// sample rate and feeds it to the stream frame by frame.
type HTTPSource struct {
	addr         string
	sampleRate   int
	frameSamples int
	server       *http.Server
	logger       *slog.Logger
	mux          *http.ServeMux
	rateLimiter  *RateLimiter
	authToken    string

	mu      sync.Mutex
	running bool
	current *frameStream
}

func NewHTTPSource(addr string, sampleRate int, authToken string, logger *slog.Logger) *HTTPSource {
	h := &HTTPSource{
		addr:         addr,
		sampleRate:   sampleRate,
		frameSamples: DefaultFrameSamples,
		logger:       logger,
		mux:          http.NewServeMux(),
		rateLimiter:  NewRateLimiter(30, time.Minute), // 30 requests per minute per IP
		authToken:    authToken,
	}
	h.mux.HandleFunc("POST /audio", h.rateLimiter.Middleware(h.handleAudio))
	// No rate limiting on health check
	h.mux.HandleFunc("GET /health", h.handleHealth)
	return h
}

func (h *HTTPSource) Name() string {
	return "http"
}

func (h *HTTPSource) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return nil
	}

	h.server = &http.Server{
		Addr:         h.addr,
		Handler:      h.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		h.logger.Info("HTTP audio server starting", "addr", h.addr)
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", "error", err)
		}
	}()

	h.running = true
	return nil
}

func (h *HTTPSource) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return nil
	}

	if h.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.server.Shutdown(ctx); err != nil {
			h.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			if err := h.server.Close(); err != nil {
				return fmt.Errorf("closing server: %w", err)
			}
		}
	}

	h.running = false
	return nil
}

// Open fails with domain.ErrDeviceUnavailable until Start has been called.
func (h *HTTPSource) Open(_ context.Context) (application.AudioStream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return nil, fmt.Errorf("http audio server not running: %w", domain.ErrDeviceUnavailable)
	}

	var stream *frameStream
	stream = newFrameStream(h.sampleRate, 16, func() error {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.current == stream {
			h.current = nil
		}
		return nil
	})
	h.current = stream
	return stream, nil
}

func (h *HTTPSource) Handler() http.Handler {
	return h.mux
}

// Feed pushes samples into the open stream and reports whether one was open.
func (h *HTTPSource) Feed(ctx context.Context, samples []int16) bool {
	h.mu.Lock()
	stream := h.current
	h.mu.Unlock()

	if stream == nil {
		return false
	}

	return stream.pushBatch(ctx, chunk(samples, h.frameSamples))
}

func (h *HTTPSource) authorized(r *http.Request) bool {
	if h.authToken == "" {
		return true
	}
	token := r.Header.Get("X-Auth-Token")
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.authToken)) == 1
}

func (h *HTTPSource) handleAudio(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		h.logger.Warn("unauthorized audio request", "remote_addr", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxAudioBody))
	if err != nil {
		h.logger.Error("reading audio body", "error", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if len(data) == 0 {
		http.Error(w, "empty audio", http.StatusBadRequest)
		return
	}

	var samples []int16
	if bytes.HasPrefix(data, []byte("RIFF")) {
		var sampleRate int
		samples, sampleRate, err = decodeWAV(data)
		if err != nil {
			h.logger.Warn("rejecting audio body", "bytes", len(data), "error", err)
			http.Error(w, "unsupported WAV encoding, want PCM16", http.StatusUnsupportedMediaType)
			return
		}
		if sampleRate != h.sampleRate {
			http.Error(w, fmt.Sprintf("sample rate %d, want %d", sampleRate, h.sampleRate), http.StatusUnprocessableEntity)
			return
		}
	} else {
		// No RIFF header: raw PCM16 at the configured rate.
		samples = pcm16(data)
	}

	if !h.Feed(r.Context(), samples) {
		http.Error(w, "not listening", http.StatusConflict)
		return
	}

	h.logger.Debug("received audio via HTTP", "samples", len(samples))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{"status": "received", "samples": len(samples)})
}

func (h *HTTPSource) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	running := h.running
	listening := h.current != nil
	h.mu.Unlock()

	status := "ok"
	statusCode := http.StatusOK

	if !running {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]any{"status": status, "running": running, "listening": listening})
}
