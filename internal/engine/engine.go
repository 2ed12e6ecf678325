package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Engine is the inference contract the embedding pipeline consumes. Decode
// output buffers are owned by the engine and remain valid until the next
// Decode or ClearCache call.
type Engine interface {
	// ClearCache drops all state carried over from previous decodes. It must
	// be called immediately before each Decode; batches are independent.
	ClearCache()

	// Decode runs inference over the batch. A failure is reported through the
	// returned error; embeddings for the batch may be partially or wholly
	// unavailable afterwards.
	Decode(ctx context.Context, batch *Batch) error

	// SequenceEmbedding returns the engine-pooled embedding for a local
	// sequence id of the last decoded batch. Only available when the engine
	// is configured for sequence pooling.
	SequenceEmbedding(seq int) ([]float32, bool)

	// SlotEmbedding returns the raw embedding of a single batch slot. Only
	// slots whose output flag was set during decode have embeddings.
	SlotEmbedding(i int) ([]float32, bool)

	// Tokenize converts text to token ids with a leading begin-of-sequence
	// marker. No separator token is appended.
	Tokenize(text string) ([]int32, error)

	// SeparatorToken returns the id that terminates every sequence.
	SeparatorToken() int32

	// EmbeddingSize returns the width of produced embedding vectors.
	EmbeddingSize() int

	// ContextSize returns the engine's maximum sequence length, 0 when
	// unconstrained.
	ContextSize() int

	Close() error
}

// Config parameterizes engine construction.
type Config struct {
	Type            string `yaml:"type" mapstructure:"type"` // hash or onnx
	ModelPath       string `yaml:"model_path" mapstructure:"model_path"`
	VocabPath       string `yaml:"vocab_path" mapstructure:"vocab_path"`
	EmbeddingSize   int    `yaml:"embedding_size" mapstructure:"embedding_size"`
	ContextSize     int    `yaml:"context_size" mapstructure:"context_size"`
	Seed            uint64 `yaml:"seed" mapstructure:"seed"`
	SequencePooling bool   `yaml:"sequence_pooling" mapstructure:"sequence_pooling"`
}

// New creates an engine based on the configuration.
func New(config Config, logger *zap.Logger) (Engine, error) {
	switch config.Type {
	case "hash":
		return NewHashEngine(config, logger)
	case "onnx":
		return newOnnxEngine(config, logger)
	default:
		return nil, fmt.Errorf("%w: unknown engine type %q", ErrConfigError, config.Type)
	}
}
