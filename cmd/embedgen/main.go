package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/raaihank/embedgen/internal/cache"
	"github.com/raaihank/embedgen/internal/config"
	"github.com/raaihank/embedgen/internal/engine"
	"github.com/raaihank/embedgen/internal/logger"
	"github.com/raaihank/embedgen/internal/output"
	"github.com/raaihank/embedgen/internal/pipeline"
	"github.com/raaihank/embedgen/internal/prompt"
	"github.com/raaihank/embedgen/internal/store"
)

func main() {
	var (
		configPath    = flag.String("config", "", "Configuration file path")
		text          = flag.String("text", "", "Inline prompt text, one prompt per line")
		file          = flag.String("file", "", "Prompt file (text, CSV, Parquet, or JSON lines)")
		column        = flag.String("column", "", "Text column for CSV/Parquet/JSON input (default \"text\")")
		maxPrompts    = flag.Int("max-prompts", 0, "Maximum number of prompts to load (0 = no limit)")
		outputPath    = flag.String("output", "", "Binary output file (empty = print a sample)")
		pooling       = flag.String("pooling", "", "Pooling strategy: pooled or manual")
		batchSize     = flag.Int("batch-size", 0, "Batch capacity in tokens")
		seed          = flag.Uint64("seed", 0, "Engine seed")
		verbosePrompt = flag.Bool("verbose-prompt", false, "Log tokens for each prompt")
		persist       = flag.Bool("store", false, "Persist embeddings to the vector store")
		similar       = flag.String("similar", "", "Embed one prompt and print nearest stored neighbors")
		limit         = flag.Int("limit", 5, "Number of neighbors for --similar")
		showStats     = flag.Bool("stats", false, "Show store statistics and exit")
	)
	flag.Parse()

	if *text == "" && *file == "" && *similar == "" && !*showStats {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --text \"hello world\" --output embeddings.bin\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --file prompts.txt --pooling manual\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --file dataset.csv --column text --store\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --similar \"query text\" --limit 10\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --stats\n", os.Args[0])
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Flags set on the command line override the config file.
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["pooling"] {
		cfg.Pipeline.Pooling = *pooling
	}
	if set["batch-size"] {
		cfg.Pipeline.BatchCapacity = *batchSize
	}
	if set["seed"] {
		cfg.Engine.Seed = *seed
	}
	if set["verbose-prompt"] {
		cfg.Pipeline.VerbosePrompt = *verbosePrompt
	}
	if set["output"] {
		cfg.Output.Path = *outputPath
	}
	if *persist {
		cfg.Store.Enabled = true
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling operations...")
		cancel()
	}()

	// Initialize services
	services, err := initializeServices(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.cleanup()

	// Handle different operations
	switch {
	case *showStats:
		if err := showStoreStats(ctx, services); err != nil {
			log.Fatal("Failed to show stats", zap.Error(err))
		}
	case *similar != "":
		if err := findSimilar(ctx, services, *similar, *limit); err != nil {
			log.Fatal("Similarity search failed", zap.Error(err))
		}
	default:
		prompts, err := collectPrompts(cfg, *text, *file, *column, *maxPrompts, log)
		if err != nil {
			log.Fatal("Failed to load prompts", zap.Error(err))
		}
		if err := embedPrompts(ctx, services, cfg, prompts, log); err != nil {
			log.Fatal("Embedding run failed", zap.Error(err))
		}
	}
}

// services holds all initialized services
type services struct {
	engine   engine.Engine
	pipeline *pipeline.Pipeline
	store    *store.Store
	cache    *cache.EmbeddingCache
	logger   *logger.Logger
}

func (s *services) cleanup() {
	if s.cache != nil {
		s.cache.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
	if s.engine != nil {
		s.engine.Close()
	}
}

// initializeServices initializes the engine, pipeline and optional backends
func initializeServices(cfg *config.Config, log *logger.Logger) (*services, error) {
	services := &services{logger: log}

	log.Info("Initializing engine",
		zap.String("type", cfg.Engine.Type),
		zap.Uint64("seed", cfg.Engine.Seed))
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
		return nil, fmt.Errorf("failed to initialize engine: %w", err)
	}
	services.engine = eng

	pipe, err := pipeline.New(pipeline.Config{
		BatchCapacity: cfg.Pipeline.BatchCapacity,
		Pooling:       cfg.Pipeline.Pooling,
		MissingPolicy: cfg.Pipeline.MissingPolicy,
		VerbosePrompt: cfg.Pipeline.VerbosePrompt,
	}, eng, log.Logger)
	if err != nil {
		services.cleanup()
		return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	services.pipeline = pipe

	if cfg.Store.Enabled {
		log.Info("Connecting embedding store...")
		st, err := store.NewStore(&store.Config{
			DatabaseURL:     cfg.Store.DatabaseURL,
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
			InsertBatchSize: cfg.Store.InsertBatchSize,
		}, eng.EmbeddingSize(), log.Logger)
		if err != nil {
			services.cleanup()
			return nil, fmt.Errorf("failed to connect embedding store: %w", err)
		}
		services.store = st
	}

	if cfg.Cache.Enabled {
		log.Info("Connecting embedding cache...")
		ec, err := cache.NewEmbeddingCache(&cache.Config{
			RedisURL:       cfg.Cache.RedisURL,
			MaxConnections: cfg.Cache.MaxConnections,
			MinIdleConns:   cfg.Cache.MinIdleConns,
			DefaultTTL:     cfg.Cache.DefaultTTL,
			KeyPrefix:      cfg.Cache.KeyPrefix,
		}, log.Logger)
		if err != nil {
			services.cleanup()
			return nil, fmt.Errorf("failed to connect embedding cache: %w", err)
		}
		services.cache = ec
	}

	return services, nil
}

// collectPrompts gathers prompts from the inline text and the input file
func collectPrompts(cfg *config.Config, text, file, column string, maxPrompts int, log *logger.Logger) ([]string, error) {
	var prompts []string

	if text != "" {
		prompts = append(prompts, prompt.SplitLines(text)...)
	}

	if file != "" {
		if _, err := os.Stat(file); os.IsNotExist(err) {
			return nil, fmt.Errorf("input file does not exist: %s", file)
		}
		loader := prompt.NewLoader(column, maxPrompts, log.Logger)
		loaded, err := loader.Load(file)
		if err != nil {
			return nil, err
		}
		prompts = append(prompts, loaded...)
	}

	if len(prompts) == 0 {
		return nil, fmt.Errorf("no prompts to embed")
	}

	if maxPrompts > 0 && len(prompts) > maxPrompts {
		prompts = prompts[:maxPrompts]
	}

	return prompts, nil
}

// embedPrompts runs the pipeline and writes the resulting matrix
func embedPrompts(ctx context.Context, services *services, cfg *config.Config, prompts []string, log *logger.Logger) error {
	matrix, stats, err := services.pipeline.Run(ctx, prompts)
	if err != nil {
		return err
	}

	writer := output.NewWriter(cfg.Output.SampleRows, log.Logger)
	if cfg.Output.Path != "" {
		if err := writer.WriteBinary(cfg.Output.Path, matrix); err != nil {
			return err
		}
	} else {
		if err := writer.WriteSample(os.Stderr, matrix); err != nil {
			return err
		}
	}

	pooling := services.pipeline.Strategy().Name()

	if services.store != nil {
		result, err := services.store.SaveMatrix(ctx, prompts, matrix, pooling)
		if err != nil {
			return fmt.Errorf("failed to persist embeddings: %w", err)
		}
		log.Info("Embeddings persisted",
			zap.Int64("inserted", result.Inserted),
			zap.Int64("skipped", result.Skipped),
			zap.Int64("failed", result.Failed),
			zap.Duration("duration", result.Duration))

		if err := services.store.CreateIndex(ctx); err != nil {
			log.Warn("Failed to create vector index", zap.Error(err))
		}
	}

	if services.cache != nil {
		rows := make([][]float32, matrix.Rows())
		for i := range rows {
			rows[i] = matrix.Row(i)
		}
		if err := services.cache.SetBatch(ctx, prompts, pooling, rows); err != nil {
			log.Warn("Failed to cache embeddings", zap.Error(err))
		}
	}

	log.Info("Embedding run finished",
		zap.Int("prompts", stats.Prompts),
		zap.Int("tokens", stats.TotalTokens),
		zap.Int("batches", stats.Batches),
		zap.Int("decode_failures", stats.DecodeFailures),
		zap.Int("missing_embeddings", stats.MissingEmbeddings),
		zap.Duration("tokenize_time", stats.TokenizeTime),
		zap.Duration("decode_time", stats.DecodeTime),
		zap.Duration("extract_time", stats.ExtractTime),
		zap.Duration("total_time", stats.TotalTime),
		zap.Float64("prompts_per_second", float64(stats.Prompts)/stats.TotalTime.Seconds()))

	return nil
}

// findSimilar embeds the query and prints its nearest stored neighbors
func findSimilar(ctx context.Context, services *services, query string, limit int) error {
	if services.store == nil {
		return fmt.Errorf("similarity search requires the store; enable it in config or pass --store")
	}

	matrix, _, err := services.pipeline.Run(ctx, []string{query})
	if err != nil {
		return err
	}

	results, err := services.store.FindSimilar(ctx, matrix.Row(0), &store.SearchOptions{
		Limit:         limit,
		PoolingFilter: services.pipeline.Strategy().Name(),
	})
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("No similar prompts found")
		return nil
	}

	fmt.Printf("\n=== Similar Prompts ===\n")
	for i, result := range results {
		text := result.Embedding.Text
		if len(text) > 80 {
			text = text[:77] + "..."
		}
		fmt.Printf("%2d. %.4f  %s\n", i+1, result.Similarity, text)
	}

	return nil
}

// showStoreStats displays store and cache statistics
func showStoreStats(ctx context.Context, services *services) error {
	if services.store == nil {
		return fmt.Errorf("statistics require the store; enable it in config or pass --store")
	}

	stats, err := services.store.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get store stats: %w", err)
	}

	fmt.Printf("\n=== Embedding Store Statistics ===\n")
	fmt.Printf("Total Embeddings:   %d\n", stats.TotalEmbeddings)
	fmt.Printf("Pooled Rows:        %d\n", stats.PooledCount)
	fmt.Printf("Manual Rows:        %d\n", stats.ManualCount)

	if services.cache != nil {
		cacheStats, err := services.cache.GetStats(ctx)
		if err == nil {
			fmt.Printf("\n=== Cache Statistics ===\n")
			fmt.Printf("Cache Hits:         %d\n", cacheStats.Hits)
			fmt.Printf("Cache Misses:       %d\n", cacheStats.Misses)
			fmt.Printf("Hit Rate:           %.1f%%\n", cacheStats.HitRate)
			fmt.Printf("Total Keys:         %d\n", cacheStats.TotalKeys)
			fmt.Printf("Memory Usage:       %.2f MB\n", float64(cacheStats.MemoryUsage)/1024/1024)
		}
	}

	return nil
}
