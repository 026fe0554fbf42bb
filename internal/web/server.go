// Package web is the thin HTTP/WebSocket translator in front of the
// session-lifecycle core: it turns requests into internal/registry calls
// and carries none of the session-lifecycle semantics itself.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/flowshift/mt5bridge/internal/logging"
	"github.com/flowshift/mt5bridge/internal/registry"
)

// Config defines runtime options for the bridge's HTTP server.
type Config struct {
	ListenAddr string
	Token      string
	// CreateSessionRPS and CreateSessionBurst bound the rate of
	// create_session calls. Rate limiting is a router-level concern, not
	// something the session-lifecycle core enforces itself.
	CreateSessionRPS   float64
	CreateSessionBurst int
}

// Server wraps an HTTP server exposing the Registry's operations.
type Server struct {
	cfg        Config
	registry   *registry.Registry
	httpServer *http.Server
	limiter    *rate.Limiter

	baseCtx    context.Context
	cancelBase context.CancelFunc

	eventsMu sync.Mutex
	events   map[string]map[chan lifecycleEvent]struct{}
}

// NewServer creates a server wired to registry with base routes and
// middleware.
func NewServer(cfg Config, reg *registry.Registry) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:8787"
	}
	if cfg.CreateSessionRPS <= 0 {
		cfg.CreateSessionRPS = 2
	}
	if cfg.CreateSessionBurst <= 0 {
		cfg.CreateSessionBurst = 5
	}

	s := &Server{
		cfg:      cfg,
		registry: reg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.CreateSessionRPS), cfg.CreateSessionBurst),
		events:   make(map[string]map[chan lifecycleEvent]struct{}),
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionByID)
	mux.HandleFunc("/ws/sessions/", s.handleSessionWS)

	handler := withRecover(mux)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		BaseContext:       func(_ net.Listener) context.Context { return s.baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler returns the configured HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start starts the HTTP server and blocks until shutdown or error.
func (s *Server) Start() error {
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server and drains the registry.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelBase()

	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			if closeErr := s.httpServer.Close(); closeErr != nil {
				return fmt.Errorf("graceful shutdown timed out and force close failed: %w", closeErr)
			}
		} else {
			return err
		}
	}

	s.registry.CloseAllSessions(context.Background())
	return nil
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.ForComponent(logging.CompWeb).Error("panic",
					slog.String("recover", fmt.Sprintf("%v", rec)),
					slog.String("path", r.URL.Path))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"sessions": s.registry.Len(),
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}
