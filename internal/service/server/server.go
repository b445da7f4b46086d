package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/streamcache/internal/port"
	"github.com/vertextoedge/streamcache/internal/rangeset"
	"github.com/vertextoedge/streamcache/internal/service/stream"
)

// Config contains HTTP server configuration
type Config struct {
	BindAddr      string
	AdminUsername string
	AdminPassword string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		BindAddr:    "127.0.0.1:8090",
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
}

// ProviderSource opens progressive providers
type ProviderSource interface {
	Open(ctx context.Context, key string, opts ...stream.OpenOption) (*stream.Provider, error)
	Lookup(key string) (*stream.Provider, bool)
}

// CacheAdmin inspects and purges cached resources
type CacheAdmin interface {
	Peek(key string) (*rangeset.Set, error)
	Purge(ctx context.Context, key string) error
	InUse(key string) int
	List(ctx context.Context) ([]*port.ResourceRecord, error)
}

// HealthChecker reports whether a dependency is usable
type HealthChecker interface {
	Ping() error
}

// KeyChecker reports whether a resource key can be fetched
type KeyChecker interface {
	Supports(key string) bool
}

// Option configures optional server collaborators
type Option func(*Server)

// WithHealthCheck makes /health report the state of hc
func WithHealthCheck(hc HealthChecker) Option {
	return func(s *Server) { s.health = hc }
}

// WithKeyChecker rejects resource keys kc cannot fetch
func WithKeyChecker(kc KeyChecker) Option {
	return func(s *Server) { s.keys = kc }
}

// Server represents the HTTP proxy server
type Server struct {
	config        *Config
	health        HealthChecker
	keys          KeyChecker
	logger        *zap.Logger
	server        *http.Server
	streamHandler *StreamHandler
	adminHandler  *AdminHandler
}

// New creates a new HTTP server
func New(cfg *Config, providers ProviderSource, cache CacheAdmin, logger *zap.Logger, opts ...Option) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	s := &Server{
		config: cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.streamHandler = NewStreamHandler(providers, cache, s.keys, logger)
	s.adminHandler = NewAdminHandler(cache, logger)

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	// Streaming endpoints
	mux.HandleFunc("/stream", s.streamHandler.HandleStream)
	mux.HandleFunc("/status", s.streamHandler.HandleStatus)

	// Cache administration
	purge := s.adminHandler.HandlePurge
	list := s.adminHandler.HandleList
	if cfg.AdminPassword != "" {
		adminAuth := BasicAuthMiddleware(cfg.AdminUsername, cfg.AdminPassword, logger)
		purge = adminAuth(purge)
		list = adminAuth(list)
	}
	mux.HandleFunc("/cache", purge)
	mux.HandleFunc("/debug/resources", list)

	s.server = &http.Server{
		Addr:         cfg.BindAddr,
		Handler:      LoggingMiddleware(logger)(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Serve serves on an existing listener
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("starting HTTP server", zap.String("addr", l.Addr().String()))
	if err := s.server.Serve(l); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.health != nil {
		if err := s.health.Ping(); err != nil {
			s.logger.Error("health check failed", zap.Error(err))
			http.Error(w, "Database connection failed", http.StatusServiceUnavailable)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"healthy","time":"` + time.Now().Format(time.RFC3339) + `"}`))
}
