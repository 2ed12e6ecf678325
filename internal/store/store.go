package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/raaihank/embedgen/internal/pipeline"
)

// Store persists prompt embeddings in PostgreSQL + pgvector
type Store struct {
	db        *sqlx.DB
	dim       int
	batchSize int
	logger    *zap.Logger
}

// NewStore connects to the database and ensures the schema. dim is the
// embedding width the vector column is declared with.
func NewStore(config *Config, dim int, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	batchSize := config.InsertBatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	store := &Store{
		db:        db,
		dim:       dim,
		batchSize: batchSize,
		logger:    logger,
	}

	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Embedding store initialized successfully",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.Int("dim", dim),
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Int("insert_batch_size", batchSize))

	return store, nil
}

// initialize checks the connection, the pgvector extension, and the table.
func (s *Store) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var extensionExists bool
	query := "SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'vector')"
	if err := s.db.GetContext(ctx, &extensionExists, query); err != nil {
		return fmt.Errorf("failed to check pgvector extension: %w", err)
	}
	if !extensionExists {
		return fmt.Errorf("pgvector extension is not installed")
	}

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS prompt_embeddings (
			id BIGSERIAL PRIMARY KEY,
			text TEXT NOT NULL,
			text_hash VARCHAR(64) NOT NULL UNIQUE,
			pooling VARCHAR(16) NOT NULL,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, s.dim)
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure prompt_embeddings table: %w", err)
	}

	s.logger.Info("Database initialized with pgvector extension")
	return nil
}

// Insert adds a single prompt embedding.
func (s *Store) Insert(ctx context.Context, emb *PromptEmbedding) error {
	query := `
		INSERT INTO prompt_embeddings (text, text_hash, pooling, embedding)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	err := s.db.QueryRowContext(ctx, query,
		emb.Text,
		emb.TextHash,
		emb.Pooling,
		formatEmbedding(emb.Embedding),
	).Scan(&emb.ID, &emb.CreatedAt, &emb.UpdatedAt)

	if err != nil {
		s.logger.Error("Failed to insert embedding",
			zap.Error(err),
			zap.String("text_hash", emb.TextHash))
		return fmt.Errorf("failed to insert embedding: %w", err)
	}

	s.logger.Debug("Embedding inserted successfully",
		zap.Int64("id", emb.ID),
		zap.String("text_hash", emb.TextHash))

	return nil
}

// BatchInsert adds multiple embeddings in one statement. Rows whose
// text_hash already exists are skipped.
func (s *Store) BatchInsert(ctx context.Context, embs []*PromptEmbedding) (*BatchInsertResult, error) {
	if len(embs) == 0 {
		return &BatchInsertResult{}, nil
	}

	start := time.Now()
	result := &BatchInsertResult{}

	valueStrings := make([]string, 0, len(embs))
	valueArgs := make([]interface{}, 0, len(embs)*4)

	for i, emb := range embs {
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d)", i*4+1, i*4+2, i*4+3, i*4+4))
		valueArgs = append(valueArgs,
			emb.Text,
			emb.TextHash,
			emb.Pooling,
			formatEmbedding(emb.Embedding),
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO prompt_embeddings (text, text_hash, pooling, embedding)
		VALUES %s
		ON CONFLICT (text_hash) DO NOTHING`,
		strings.Join(valueStrings, ","))

	res, err := s.db.ExecContext(ctx, query, valueArgs...)
	if err != nil {
		result.Failed = int64(len(embs))
		result.Errors = []error{err}
		s.logger.Error("Batch insert failed", zap.Error(err))
		return result, fmt.Errorf("batch insert failed: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		s.logger.Warn("Could not get rows affected", zap.Error(err))
		inserted = int64(len(embs))
	}

	result.Inserted = inserted
	result.Skipped = int64(len(embs)) - inserted
	result.Duration = time.Since(start)

	s.logger.Info("Batch insert completed",
		zap.Int64("inserted", result.Inserted),
		zap.Int64("duplicates_skipped", result.Skipped),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// SaveMatrix stores one embedding per prompt, batched by insert_batch_size.
// prompts[i] pairs with matrix row i.
func (s *Store) SaveMatrix(ctx context.Context, prompts []string, matrix *pipeline.EmbeddingMatrix, pooling string) (*BatchInsertResult, error) {
	if len(prompts) != matrix.Rows() {
		return nil, fmt.Errorf("prompt count %d does not match matrix rows %d", len(prompts), matrix.Rows())
	}

	total := &BatchInsertResult{}
	start := time.Now()

	for base := 0; base < len(prompts); base += s.batchSize {
		end := base + s.batchSize
		if end > len(prompts) {
			end = len(prompts)
		}

		chunk := make([]*PromptEmbedding, 0, end-base)
		for i := base; i < end; i++ {
			chunk = append(chunk, &PromptEmbedding{
				Text:      prompts[i],
				TextHash:  TextHash(prompts[i]),
				Pooling:   pooling,
				Embedding: matrix.Row(i),
			})
		}

		result, err := s.BatchInsert(ctx, chunk)
		total.Inserted += result.Inserted
		total.Skipped += result.Skipped
		total.Failed += result.Failed
		total.Errors = append(total.Errors, result.Errors...)
		if err != nil {
			total.Duration = time.Since(start)
			return total, err
		}
	}

	total.Duration = time.Since(start)
	return total, nil
}

// FindSimilar returns the stored embeddings closest to the given one by
// cosine similarity.
func (s *Store) FindSimilar(ctx context.Context, embedding []float32, options *SearchOptions) ([]*SimilarityResult, error) {
	if options == nil {
		options = &SearchOptions{
			Limit:         5,
			MinSimilarity: 0.7,
		}
	}

	embeddingStr := formatEmbedding(embedding)

	whereClause := "WHERE (1 - (embedding <=> $1)) >= $2"
	args := []interface{}{embeddingStr, options.MinSimilarity}
	argIndex := 3

	if options.PoolingFilter != "" {
		whereClause += fmt.Sprintf(" AND pooling = $%d", argIndex)
		args = append(args, options.PoolingFilter)
		argIndex++
	}

	query := fmt.Sprintf(`
		SELECT
			id, text, text_hash, pooling, embedding,
			created_at, updated_at,
			(1 - (embedding <=> $1)) as similarity,
			(embedding <=> $1) as distance
		FROM prompt_embeddings
		%s
		ORDER BY embedding <=> $1
		LIMIT $%d`, whereClause, argIndex)

	args = append(args, options.Limit)

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("Similarity search failed", zap.Error(err))
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	defer rows.Close()

	var results []*SimilarityResult
	for rows.Next() {
		var result SimilarityResult
		var emb PromptEmbedding
		var embeddingStr string

		err := rows.Scan(
			&emb.ID,
			&emb.Text,
			&emb.TextHash,
			&emb.Pooling,
			&embeddingStr,
			&emb.CreatedAt,
			&emb.UpdatedAt,
			&result.Similarity,
			&result.Distance,
		)
		if err != nil {
			s.logger.Error("Failed to scan similarity result", zap.Error(err))
			continue
		}

		emb.Embedding, err = parseEmbedding(embeddingStr)
		if err != nil {
			s.logger.Error("Failed to parse embedding", zap.Error(err))
			continue
		}

		result.Embedding = &emb
		results = append(results, &result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}

	s.logger.Debug("Similarity search completed",
		zap.Int("results", len(results)),
		zap.Duration("duration", time.Since(start)),
		zap.Float32("min_similarity", options.MinSimilarity))

	return results, nil
}

// GetStats returns database statistics
func (s *Store) GetStats(ctx context.Context) (*StoreStats, error) {
	stats := &StoreStats{}

	query := `
		SELECT
			COUNT(*) as total,
			COUNT(CASE WHEN pooling = 'pooled' THEN 1 END) as pooled,
			COUNT(CASE WHEN pooling = 'manual' THEN 1 END) as manual
		FROM prompt_embeddings`

	err := s.db.QueryRowContext(ctx, query).Scan(
		&stats.TotalEmbeddings,
		&stats.PooledCount,
		&stats.ManualCount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get embedding stats: %w", err)
	}

	return stats, nil
}

// CreateIndex creates the vector similarity index for better performance
func (s *Store) CreateIndex(ctx context.Context) error {
	// Only create index if we have enough vectors
	var count int64
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM prompt_embeddings"); err != nil {
		return fmt.Errorf("failed to count embeddings: %w", err)
	}

	if count < 1000 {
		s.logger.Info("Skipping index creation, not enough embeddings", zap.Int64("count", count))
		return nil
	}

	s.logger.Info("Creating vector similarity index...", zap.Int64("embedding_count", count))

	query := `
		CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_prompt_embeddings_embedding
		ON prompt_embeddings USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`

	_, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}

	s.logger.Info("Vector similarity index created successfully")
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// TextHash computes the SHA-256 hash of a prompt, the dedup key.
func TextHash(text string) string {
	hash := sha256.Sum256([]byte(text))
	return hex.EncodeToString(hash[:])
}

// formatEmbedding converts float32 slice to PostgreSQL vector format
func formatEmbedding(embedding []float32) string {
	if len(embedding) == 0 {
		return "[]"
	}

	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// parseEmbedding converts PostgreSQL vector format back to float32 slice
func parseEmbedding(embeddingStr string) ([]float32, error) {
	embeddingStr = strings.Trim(embeddingStr, "[]")
	if embeddingStr == "" {
		return []float32{}, nil
	}

	parts := strings.Split(embeddingStr, ",")
	embedding := make([]float32, len(parts))

	for i, part := range parts {
		var val float32
		if _, err := fmt.Sscanf(strings.TrimSpace(part), "%g", &val); err != nil {
			return nil, fmt.Errorf("failed to parse embedding value: %w", err)
		}
		embedding[i] = val
	}

	return embedding, nil
}

// maskDatabaseURL masks sensitive information in database URL for logging
func maskDatabaseURL(url string) string {
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
