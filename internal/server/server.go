// Package server exposes the HTTP control surface of the daemon.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/wnt/battled/internal/monitor"
	"github.com/wnt/battled/internal/rpc"
	chain "github.com/wnt/battled/internal/solana"
)

// Monitor is the daemon control the server drives
type Monitor interface {
	Start() error
	Stop()
	ForceCheck(ctx context.Context) error
	Status() monitor.Status
}

// EndpointStats reports RPC endpoint health
type EndpointStats interface {
	Stats() rpc.Stats
}

// Pinger checks a backing service
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds the HTTP server configuration
type Config struct {
	Port   string
	APIKey string // empty disables authentication
}

// Server serves health, daemon control and metrics endpoints
type Server struct {
	httpServer *http.Server
	monitor    Monitor
	chain      chain.Reader
	wallet     solana.PublicKey
	endpoints  EndpointStats
	redis      Pinger
	now        func() time.Time
	logger     zerolog.Logger
}

// Option configures a Server
type Option func(*Server)

// WithEndpointStats adds RPC endpoint health to /health/solana
func WithEndpointStats(stats EndpointStats) Option {
	return func(s *Server) {
		s.endpoints = stats
	}
}

// WithRedis adds the Redis connection to /health
func WithRedis(p Pinger) Option {
	return func(s *Server) {
		s.redis = p
	}
}

// New creates a server reporting on the given chain client and settlement wallet
func New(cfg Config, mon Monitor, client chain.Reader, wallet solana.PublicKey, logger zerolog.Logger, options ...Option) *Server {
	s := &Server{
		monitor: mon,
		chain:   client,
		wallet:  wallet,
		now:     time.Now,
		logger:  logger.With().Str("component", "http").Logger(),
	}
	for _, option := range options {
		option(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("GET /health/solana", s.solanaHealth)
	mux.HandleFunc("GET /api/daemon/status", s.daemonStatus)
	mux.HandleFunc("POST /api/daemon/start", s.daemonStart)
	mux.HandleFunc("POST /api/daemon/stop", s.daemonStop)
	mux.HandleFunc("POST /api/daemon/check", s.daemonCheck)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("/", s.notFound)

	var h http.Handler = mux
	h = apiKeyAuth(cfg.APIKey)(h)
	h = accessLog(s.logger)(h)
	h = requestID(h)

	s.httpServer = &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     h,
		ReadTimeout: 15 * time.Second,
		// A forced check answers once the whole pass has run
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the root handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until the server is shut down
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve HTTP: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx is done
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("HTTP server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return nil
}
