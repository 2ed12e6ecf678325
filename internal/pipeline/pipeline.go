package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/embedgen/internal/engine"
)

// Config controls batching and embedding extraction
type Config struct {
	BatchCapacity int    `yaml:"batch_capacity" mapstructure:"batch_capacity"`
	Pooling       string `yaml:"pooling" mapstructure:"pooling"`               // pooled or manual
	MissingPolicy string `yaml:"missing_policy" mapstructure:"missing_policy"` // skip or zero
	VerbosePrompt bool   `yaml:"verbose_prompt" mapstructure:"verbose_prompt"`
}

// Pipeline turns a prompt list into an embedding matrix: tokenize, pack
// into capacity-bounded batches, decode, extract one row per prompt. Runs
// are serialized; the engine's decode state is not shareable.
type Pipeline struct {
	engine   engine.Engine
	strategy PoolingStrategy
	capacity int
	verbose  bool
	logger   *zap.Logger
	mu       sync.Mutex
}

// New creates a pipeline over an engine.
func New(config Config, eng engine.Engine, logger *zap.Logger) (*Pipeline, error) {
	if config.BatchCapacity <= 0 {
		return nil, fmt.Errorf("%w: batch capacity %d", ErrInvalidConfig, config.BatchCapacity)
	}

	// A full-context sequence must fit a single batch.
	if ctxSize := eng.ContextSize(); ctxSize > 0 && config.BatchCapacity < ctxSize {
		return nil, fmt.Errorf("%w: batch capacity %d is smaller than engine context size %d",
			ErrInvalidConfig, config.BatchCapacity, ctxSize)
	}

	strategy, err := NewStrategy(config, eng.EmbeddingSize(), logger)
	if err != nil {
		return nil, err
	}

	logger.Info("Pipeline initialized",
		zap.Int("batch_capacity", config.BatchCapacity),
		zap.String("pooling", strategy.Name()),
		zap.Int("embedding_size", eng.EmbeddingSize()))

	return &Pipeline{
		engine:   eng,
		strategy: strategy,
		capacity: config.BatchCapacity,
		verbose:  config.VerbosePrompt,
		logger:   logger,
	}, nil
}

// Strategy returns the resolved pooling strategy.
func (p *Pipeline) Strategy() PoolingStrategy {
	return p.strategy
}

// EmbeddingSize returns the engine's embedding width.
func (p *Pipeline) EmbeddingSize() int {
	return p.engine.EmbeddingSize()
}

// Run embeds all prompts and returns the matrix with row i holding prompt
// i's embedding. Token-limit violations abort before any decode; decode
// failures are logged and leave the affected rows zeroed.
func (p *Pipeline) Run(ctx context.Context, prompts []string) (*EmbeddingMatrix, *Stats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := &Stats{Prompts: len(prompts)}
	runStart := time.Now()

	tokStart := time.Now()
	sequences, total, err := p.tokenizeAll(prompts)
	if err != nil {
		return nil, nil, err
	}
	stats.TotalTokens = total
	stats.TokenizeTime = time.Since(tokStart)

	matrix := NewEmbeddingMatrix(len(prompts), p.engine.EmbeddingSize())

	// One rolling batch buffer, refilled after every flush. done counts the
	// prompts already flushed, so batch rows land at [done, done+seqs).
	batch := engine.NewBatch(p.capacity)
	done := 0

	for _, seq := range sequences {
		if batch.Len()+len(seq) > p.capacity {
			if err := p.flush(ctx, batch, matrix, done, stats); err != nil {
				return nil, nil, err
			}
			done += batch.SeqCount()
			batch.Clear()
		}

		start := batch.AddSequence(seq, batch.SeqCount())
		p.strategy.MarkOutputs(batch, start, len(seq))
	}

	if batch.SeqCount() > 0 {
		if err := p.flush(ctx, batch, matrix, done, stats); err != nil {
			return nil, nil, err
		}
	}

	stats.TotalTime = time.Since(runStart)
	p.logger.Info("Embedding run complete",
		zap.Int("prompts", stats.Prompts),
		zap.Int("tokens", stats.TotalTokens),
		zap.Int("batches", stats.Batches),
		zap.Int("decode_failures", stats.DecodeFailures),
		zap.Int("missing_embeddings", stats.MissingEmbeddings),
		zap.Duration("total_time", stats.TotalTime))

	return matrix, stats, nil
}

// flush decodes the batch and extracts its rows into the matrix starting at
// row base. A decode failure is not fatal: extraction still runs and rows
// without embeddings stay zero. Context cancellation aborts the run.
func (p *Pipeline) flush(ctx context.Context, batch *engine.Batch, matrix *EmbeddingMatrix, base int, stats *Stats) error {
	stats.Batches++

	decodeStart := time.Now()
	p.engine.ClearCache()
	if err := p.engine.Decode(ctx, batch); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		stats.DecodeFailures++
		p.logger.Warn("Batch decode failed",
			zap.Int("batch", stats.Batches),
			zap.Int("tokens", batch.Len()),
			zap.Int("sequences", batch.SeqCount()),
			zap.Error(err))
	}
	stats.DecodeTime += time.Since(decodeStart)

	extractStart := time.Now()
	missing, err := p.strategy.ExtractRows(p.engine, batch, matrix, base)
	stats.MissingEmbeddings += missing
	stats.ExtractTime += time.Since(extractStart)
	if err != nil {
		return err
	}

	return nil
}
