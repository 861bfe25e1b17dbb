// Package api is the offsync reference server: the HTTP API that clients
// load forms and records from and replay their offline writes against.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/marcus/offsync/internal/serverdb"
)

// Server is the HTTP API server for offsync-server.
type Server struct {
	config      Config
	http        *http.Server
	store       *serverdb.ServerDB
	metrics     *Metrics
	rateLimiter *RateLimiter
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewServer creates a new Server with the given config and store.
func NewServer(cfg Config, store *serverdb.ServerDB) (*Server, error) {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:      cfg,
		store:       store,
		metrics:     NewMetrics(),
		rateLimiter: NewRateLimiter(ctx),
		ctx:         ctx,
		cancel:      cancel,
	}

	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()

	// Periodically drop expired API keys
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("cleanup panic", "panic", r)
			}
		}()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				n, err := s.store.CleanupExpiredAPIKeys()
				if err != nil {
					slog.Error("cleanup expired api keys", "err", err)
				} else if n > 0 {
					slog.Info("cleaned up expired api keys", "count", n)
				}
			}
		}
	}()

	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.http.Shutdown(ctx)
}

// Handler returns the routed handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// routes builds the HTTP handler with all routes and middleware.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health & metrics
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metricz", s.handleMetrics)

	mux.HandleFunc("GET /v1/me", s.authed(s.handleMe))

	// Forms and records
	mux.HandleFunc("GET /v1/forms/{id}", s.authed(s.handleGetForm))
	mux.HandleFunc("PUT /v1/forms/{id}", s.authed(s.handlePutForm))
	mux.HandleFunc("GET /v1/records/{id}", s.authed(s.handleGetRecord))
	mux.HandleFunc("POST /v1/records", s.authed(s.handleCreateRecord))
	mux.HandleFunc("PUT /v1/records/{id}", s.authed(s.handleUpdateRecord))

	// Documents
	mux.HandleFunc("POST /v1/documents", s.authed(s.handleUploadDocument))
	mux.HandleFunc("GET /v1/documents/{id}", s.authed(s.handleGetDocument))

	// Portraits
	mux.HandleFunc("GET /v1/users/{id}/portrait", s.authed(s.handleGetPortrait))
	mux.HandleFunc("PUT /v1/users/{id}/portrait", s.authed(s.handlePutPortrait))

	return chain(mux, observe(s.metrics), s.CORSMiddleware, limitBody(s.config.MaxBodyBytes))
}

// authed requires a valid API key and applies the per-key rate limit.
func (s *Server) authed(handler http.HandlerFunc) http.HandlerFunc {
	return s.requireAuth(s.withRateLimit(handler))
}

// handleHealth returns a health check response, pinging the server DB.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "detail": "db unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMetrics returns a snapshot of server metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}
