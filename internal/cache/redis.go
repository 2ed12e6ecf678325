package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// EmbeddingCache is a Redis-backed cache of prompt embeddings keyed by
// exact text. It lets callers skip decoding for prompts already embedded.
type EmbeddingCache struct {
	client *redis.Client
	config *Config
	logger *zap.Logger
	stats  *cacheStats
}

// cacheStats tracks cache performance metrics. Counters are updated
// atomically; lookups run from concurrent request handlers.
type cacheStats struct {
	hits   int64
	misses int64
}

// NewEmbeddingCache creates a new Redis-based embedding cache
func NewEmbeddingCache(config *Config, logger *zap.Logger) (*EmbeddingCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pool
	opts.PoolSize = config.MaxConnections
	opts.MinIdleConns = config.MinIdleConns

	client := redis.NewClient(opts)

	cache := &EmbeddingCache{
		client: client,
		config: config,
		logger: logger,
		stats:  &cacheStats{},
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cache.ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Embedding cache initialized successfully",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("max_connections", config.MaxConnections),
		zap.Duration("default_ttl", config.DefaultTTL))

	return cache, nil
}

// ping tests the Redis connection
func (ec *EmbeddingCache) ping(ctx context.Context) error {
	_, err := ec.client.Ping(ctx).Result()
	return err
}

// Get returns the cached embedding for a prompt, or nil on a miss.
func (ec *EmbeddingCache) Get(ctx context.Context, text string) (*CachedEmbedding, error) {
	cacheKey := ec.textKey(text)

	cachedData, err := ec.client.Get(ctx, cacheKey).Result()
	if err == redis.Nil {
		atomic.AddInt64(&ec.stats.misses, 1)
		ec.logger.Debug("Cache miss", zap.String("key", cacheKey))
		return nil, nil
	} else if err != nil {
		ec.logger.Error("Cache lookup failed", zap.Error(err))
		return nil, nil
	}

	var cached CachedEmbedding
	if err := json.Unmarshal([]byte(cachedData), &cached); err != nil {
		ec.logger.Error("Failed to unmarshal cached embedding", zap.Error(err))
		// Delete corrupted cache entry
		ec.client.Del(ctx, cacheKey)
		return nil, nil
	}

	atomic.AddInt64(&ec.stats.hits, 1)
	ec.logger.Debug("Cache hit", zap.String("key", cacheKey))
	return &cached, nil
}

// GetBatch looks up many prompts in one round trip. The result has one
// entry per input text; misses are nil.
func (ec *EmbeddingCache) GetBatch(ctx context.Context, texts []string) ([]*CachedEmbedding, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = ec.textKey(text)
	}

	values, err := ec.client.MGet(ctx, keys...).Result()
	if err != nil {
		ec.logger.Error("Batch cache lookup failed", zap.Error(err))
		return make([]*CachedEmbedding, len(texts)), nil
	}

	results := make([]*CachedEmbedding, len(texts))
	for i, value := range values {
		data, ok := value.(string)
		if !ok {
			atomic.AddInt64(&ec.stats.misses, 1)
			continue
		}
		var cached CachedEmbedding
		if err := json.Unmarshal([]byte(data), &cached); err != nil {
			ec.logger.Error("Failed to unmarshal cached embedding", zap.Error(err))
			atomic.AddInt64(&ec.stats.misses, 1)
			continue
		}
		atomic.AddInt64(&ec.stats.hits, 1)
		results[i] = &cached
	}

	return results, nil
}

// Set caches an embedding for a prompt with the default TTL.
func (ec *EmbeddingCache) Set(ctx context.Context, text, pooling string, embedding []float32) error {
	cached := &CachedEmbedding{
		Text:      text,
		Pooling:   pooling,
		Embedding: embedding,
		CachedAt:  time.Now(),
		TTL:       int64(ec.config.DefaultTTL.Seconds()),
	}

	data, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding for caching: %w", err)
	}

	if err := ec.client.Set(ctx, ec.textKey(text), data, ec.config.DefaultTTL).Err(); err != nil {
		ec.logger.Error("Failed to cache embedding", zap.Error(err))
		return fmt.Errorf("failed to cache embedding: %w", err)
	}

	return nil
}

// SetBatch caches multiple embeddings efficiently using a Redis pipeline
func (ec *EmbeddingCache) SetBatch(ctx context.Context, texts []string, pooling string, embeddings [][]float32) error {
	if len(texts) != len(embeddings) {
		return fmt.Errorf("texts and embeddings length mismatch")
	}
	if len(texts) == 0 {
		return nil
	}

	pipe := ec.client.Pipeline()
	now := time.Now()

	for i, text := range texts {
		cached := &CachedEmbedding{
			Text:      text,
			Pooling:   pooling,
			Embedding: embeddings[i],
			CachedAt:  now,
			TTL:       int64(ec.config.DefaultTTL.Seconds()),
		}

		data, err := json.Marshal(cached)
		if err != nil {
			ec.logger.Error("Failed to marshal embedding for batch caching", zap.Error(err))
			continue
		}

		pipe.Set(ctx, ec.textKey(text), data, ec.config.DefaultTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		ec.logger.Error("Batch cache operation failed", zap.Error(err))
		return fmt.Errorf("batch cache operation failed: %w", err)
	}

	ec.logger.Debug("Batch cache operation completed",
		zap.Int("cached_embeddings", len(texts)))

	return nil
}

// GetStats returns cache performance statistics
func (ec *EmbeddingCache) GetStats(ctx context.Context) (*CacheStats, error) {
	info, err := ec.client.Info(ctx, "memory", "stats").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}

	stats := &CacheStats{
		Hits:   atomic.LoadInt64(&ec.stats.hits),
		Misses: atomic.LoadInt64(&ec.stats.misses),
	}

	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	// Parse memory usage from Redis info
	lines := strings.Split(info, "\r\n")
	for _, line := range lines {
		if strings.HasPrefix(line, "used_memory:") {
			if memStr := strings.TrimPrefix(line, "used_memory:"); memStr != "" {
				if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
					stats.MemoryUsage = mem
				}
			}
		}
	}

	keys, err := ec.client.DBSize(ctx).Result()
	if err == nil {
		stats.TotalKeys = keys
	}

	return stats, nil
}

// Clear removes all cached embeddings
func (ec *EmbeddingCache) Clear(ctx context.Context) error {
	pattern := ec.config.KeyPrefix + "*"

	// Use SCAN to find all keys with our prefix
	iter := ec.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	// Delete keys in batches
	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}

		if err := ec.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			ec.logger.Error("Failed to delete cache keys", zap.Error(err))
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	ec.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection
func (ec *EmbeddingCache) Close() error {
	if ec.client != nil {
		return ec.client.Close()
	}
	return nil
}

// textKey creates a cache key from the prompt text hash
func (ec *EmbeddingCache) textKey(text string) string {
	hash := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%s:text:%s", ec.config.KeyPrefix, hex.EncodeToString(hash[:])[:16])
}

// maskRedisURL masks sensitive information in Redis URL for logging
func maskRedisURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
