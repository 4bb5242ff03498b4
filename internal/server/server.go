package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/rickgao/roomcast/internal/chat"
	"github.com/rickgao/roomcast/internal/hub"
	"github.com/rickgao/roomcast/internal/stream"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Config holds HTTP surface settings.
type Config struct {
	AllowOrigin string // Empty disables CORS headers
	Stream      stream.Config
}

// Server routes HTTP requests to the chat service.
type Server struct {
	cfg    Config
	svc    *chat.Service
	hub    *hub.Hub
	logger *slog.Logger

	checks      map[string]HealthCheck
	metricsPath string
	metrics     http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithHealthCheck adds a named dependency check to /health.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) {
		s.checks[name] = check
	}
}

// WithMetrics serves h at path.
func WithMetrics(path string, h http.Handler) Option {
	return func(s *Server) {
		s.metricsPath = path
		s.metrics = h
	}
}

// New creates a Server. h is the hub behind svc; it is read for health.
func New(cfg Config, svc *chat.Service, h *hub.Hub, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		svc:    svc,
		hub:    h,
		logger: slog.Default(),
		checks: make(map[string]HealthCheck),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/ws", s.handleWebSocket)
	mux.HandleFunc("POST /api/send", s.handleSend)
	mux.HandleFunc("GET /api/online", s.handleOnline)
	mux.HandleFunc("POST /api/ping", s.handlePing)
	mux.HandleFunc("POST /api/leave", s.handleLeave)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)

	if s.metrics != nil {
		mux.Handle("GET "+s.metricsPath, s.metrics)
	}

	return s.cors(mux)
}

// cors sets the allow-origin headers and answers preflight requests.
func (s *Server) cors(next http.Handler) http.Handler {
	if s.cfg.AllowOrigin == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", s.cfg.AllowOrigin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
