package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/embedgen/internal/cache"
	"github.com/raaihank/embedgen/internal/config"
	"github.com/raaihank/embedgen/internal/events"
	"github.com/raaihank/embedgen/internal/logger"
	"github.com/raaihank/embedgen/internal/pipeline"
	"github.com/raaihank/embedgen/internal/store"
)

// Server exposes the embedding pipeline over HTTP: an embeddings API, a
// similarity search against the store, stats, and a live event stream.
type Server struct {
	config   *config.Config
	logger   *logger.Logger
	pipeline *pipeline.Pipeline
	store    *store.Store
	cache    *cache.EmbeddingCache
	hub      *events.Hub
	limiter  *clientLimiter
	router   *mux.Router
	server   *http.Server
	stats    *serverStats
}

// New creates the HTTP server. store and embeddingCache may be nil when
// persistence or caching is disabled.
func New(cfg *config.Config, pipe *pipeline.Pipeline, st *store.Store, ec *cache.EmbeddingCache, log *logger.Logger) (*Server, error) {
	if pipe == nil {
		return nil, fmt.Errorf("server requires a pipeline")
	}

	ws := cfg.Server.WebSocket
	hub := events.NewHub(&events.HubConfig{
		BroadcastJobs:        ws.BroadcastJobs,
		BroadcastRequests:    ws.BroadcastRequests,
		BroadcastConnections: ws.BroadcastConnections,
		WriteTimeout:         ws.WriteTimeout,
		PingInterval:         ws.PingInterval,
		PongTimeout:          ws.PongTimeout,
		MaxMessageSize:       ws.MaxMessageSize,
		ReadBufferSize:       ws.ReadBufferSize,
		WriteBufferSize:      ws.WriteBufferSize,
	}, log.WithComponent("events").Logger)

	var limiter *clientLimiter
	if cfg.Server.RateLimit.Enabled {
		limiter = newClientLimiter(cfg.Server.RateLimit.RequestsPerSecond, cfg.Server.RateLimit.Burst)
	}

	server := &Server{
		config:   cfg,
		logger:   log.WithComponent("server"),
		pipeline: pipe,
		store:    st,
		cache:    ec,
		hub:      hub,
		limiter:  limiter,
		router:   mux.NewRouter(),
		stats:    &serverStats{},
	}

	server.setupRoutes()

	server.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return server, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// WebSocket endpoint registers before the /v1 subrouter so the prefix
	// match does not swallow it.
	if s.config.Server.WebSocket.Enabled {
		path := s.config.Server.WebSocket.Path
		if path == "" {
			path = "/v1/events"
		}
		s.router.HandleFunc(path, s.handleWebSocket).Methods("GET")
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/embeddings", s.handleEmbeddings).Methods("POST")
	api.HandleFunc("/similar", s.handleSimilar).Methods("POST")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
}

// Start starts the HTTP server and the event hub. Blocks until the
// listener stops.
func (s *Server) Start() error {
	s.logger.Info("Starting embedding server",
		zap.Int("port", s.config.Server.Port),
		zap.String("pooling", s.pipeline.Strategy().Name()),
		zap.Bool("store_enabled", s.store != nil),
		zap.Bool("cache_enabled", s.cache != nil),
		zap.Bool("rate_limit_enabled", s.limiter != nil))

	go s.hub.Run()

	if s.limiter != nil {
		go s.sweepLimiters()
	}

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping embedding server")
	return s.server.Shutdown(ctx)
}

// Hub returns the event hub for broadcasting from outside the server.
func (s *Server) Hub() *events.Hub {
	return s.hub
}

// Router returns the HTTP handler, used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// sweepLimiters periodically drops idle per-client rate limiters.
func (s *Server) sweepLimiters() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		s.limiter.cleanup(15 * time.Minute)
	}
}
