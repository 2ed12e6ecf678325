package store

import (
	"time"
)

// PromptEmbedding is a stored prompt with its embedding row.
type PromptEmbedding struct {
	ID        int64     `db:"id" json:"id"`
	Text      string    `db:"text" json:"text"`
	TextHash  string    `db:"text_hash" json:"text_hash"`
	Pooling   string    `db:"pooling" json:"pooling"`
	Embedding []float32 `db:"-" json:"embedding"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// BatchInsertResult reports the outcome of a batched insert.
type BatchInsertResult struct {
	Inserted int64         `json:"inserted"`
	Skipped  int64         `json:"skipped"` // duplicate text_hash
	Failed   int64         `json:"failed"`
	Duration time.Duration `json:"duration"`
	Errors   []error       `json:"-"`
}

// SimilarityResult is one row of a similarity search.
type SimilarityResult struct {
	Embedding  *PromptEmbedding `json:"embedding"`
	Similarity float32          `json:"similarity"`
	Distance   float32          `json:"distance"`
}

// SearchOptions contains options for similarity search
type SearchOptions struct {
	Limit         int     `json:"limit"`
	MinSimilarity float32 `json:"min_similarity"`
	PoolingFilter string  `json:"pooling_filter,omitempty"`
}

// StoreStats represents database statistics
type StoreStats struct {
	TotalEmbeddings int64 `json:"total_embeddings"`
	PooledCount     int64 `json:"pooled_count"`
	ManualCount     int64 `json:"manual_count"`
}

// Config contains database configuration
type Config struct {
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
	InsertBatchSize int           `yaml:"insert_batch_size" mapstructure:"insert_batch_size"`
}
