package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/embedgen/internal/cache"
	"github.com/raaihank/embedgen/internal/config"
	"github.com/raaihank/embedgen/internal/engine"
	"github.com/raaihank/embedgen/internal/logger"
	"github.com/raaihank/embedgen/internal/pipeline"
	"github.com/raaihank/embedgen/internal/server"
	"github.com/raaihank/embedgen/internal/store"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	// Parse command line flags
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
	)
	flag.Parse()

	// Show version and exit
	if *showVersion {
		fmt.Printf("embedgend %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	// Perform health check and exit
	if *healthCheck {
		performHealthCheck(*configPath)
		return
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}

	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting embedgend",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.String("engine", cfg.Engine.Type),
		zap.Uint64("seed", cfg.Engine.Seed),
		zap.Int("port", cfg.Server.Port),
	)

	// Create inference engine
	eng, err := engine.New(engine.Config{
		Type:            cfg.Engine.Type,
		ModelPath:       cfg.Engine.ModelPath,
		VocabPath:       cfg.Engine.VocabPath,
		EmbeddingSize:   cfg.Engine.EmbeddingSize,
		ContextSize:     cfg.Engine.ContextSize,
		Seed:            cfg.Engine.Seed,
		SequencePooling: cfg.Engine.SequencePooling,
	}, log.Logger)
	if err != nil {
		log.Fatal("Failed to create engine", zap.Error(err))
	}
	defer eng.Close()

	// Create embedding pipeline
	pipe, err := pipeline.New(pipeline.Config{
		BatchCapacity: cfg.Pipeline.BatchCapacity,
		Pooling:       cfg.Pipeline.Pooling,
		MissingPolicy: cfg.Pipeline.MissingPolicy,
		VerbosePrompt: cfg.Pipeline.VerbosePrompt,
	}, eng, log.Logger)
	if err != nil {
		log.Fatal("Failed to create pipeline", zap.Error(err))
	}

	// Optional pgvector persistence
	var st *store.Store
	if cfg.Store.Enabled {
		st, err = store.NewStore(&store.Config{
			DatabaseURL:     cfg.Store.DatabaseURL,
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
			InsertBatchSize: cfg.Store.InsertBatchSize,
		}, eng.EmbeddingSize(), log.Logger)
		if err != nil {
			log.Fatal("Failed to connect embedding store", zap.Error(err))
		}
		defer st.Close()
	}

	// Optional Redis embedding cache
	var ec *cache.EmbeddingCache
	if cfg.Cache.Enabled {
		ec, err = cache.NewEmbeddingCache(&cache.Config{
			RedisURL:       cfg.Cache.RedisURL,
			MaxConnections: cfg.Cache.MaxConnections,
			MinIdleConns:   cfg.Cache.MinIdleConns,
			DefaultTTL:     cfg.Cache.DefaultTTL,
			KeyPrefix:      cfg.Cache.KeyPrefix,
		}, log.Logger)
		if err != nil {
			log.Fatal("Failed to connect embedding cache", zap.Error(err))
		}
		defer ec.Close()
	}

	// Create HTTP server
	srv, err := server.New(cfg, pipe, st, ec, log)
	if err != nil {
		log.Fatal("Failed to create server", zap.Error(err))
	}

	// Reload the log level when the config file changes; everything else
	// requires a restart.
	currentLevel := cfg.Logging.Level
	if err := config.Watch(cfg, func(newCfg *config.Config) {
		if newCfg.Logging.Level == currentLevel {
			return
		}
		if err := log.SetLevel(newCfg.Logging.Level); err != nil {
			log.Warn("Invalid log level in updated config",
				zap.String("level", newCfg.Logging.Level), zap.Error(err))
			return
		}
		currentLevel = newCfg.Logging.Level
		log.Info("Log level updated", zap.String("level", currentLevel))
	}); err != nil {
		log.Warn("Config watch unavailable", zap.Error(err))
	}

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- srv.Start()
	}()

	// Setup graceful shutdown
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErrors:
		log.Error("Server error", zap.Error(err))
	case <-shutdownCtx.Done():
		stop()
		log.Info("Shutdown signal received")

		// Give outstanding requests 30 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Stop(ctx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			os.Exit(1)
		}

		log.Info("Server shutdown complete")
	}
}

// performHealthCheck performs a health check against the running server
func performHealthCheck(configPath string) {
	port := 8080
	if cfg, err := config.Load(configPath); err == nil {
		port = cfg.Server.Port
	}

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/health", port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
