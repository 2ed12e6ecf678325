package engine

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"

	"go.uber.org/zap"
)

const (
	// hashWordBase keeps hashed word ids clear of the special token range.
	hashWordBase  = 1000
	hashWordRange = 29522
)

// HashEngine is a deterministic, model-free engine. Token embeddings are
// derived from (seed, token, position) hashes, so identical runs produce
// identical output bytes. Not safe for concurrent decodes.
type HashEngine struct {
	logger  *zap.Logger
	size    int
	ctxSize int
	seed    uint64
	pooling bool

	slotEmb map[int][]float32
	seqEmb  map[int][]float32
	closed  bool
}

// NewHashEngine creates a hash-based engine from the configuration.
func NewHashEngine(config Config, logger *zap.Logger) (*HashEngine, error) {
	size := config.EmbeddingSize
	if size <= 0 {
		size = DefaultEmbeddingSize
	}

	e := &HashEngine{
		logger:  logger,
		size:    size,
		ctxSize: config.ContextSize,
		seed:    config.Seed,
		pooling: config.SequencePooling,
	}

	logger.Info("Hash engine initialized",
		zap.Uint64("seed", e.seed),
		zap.Int("embedding_size", e.size),
		zap.Bool("sequence_pooling", e.pooling))

	return e, nil
}

// ClearCache drops all outputs of the previous decode.
func (e *HashEngine) ClearCache() {
	e.slotEmb = nil
	e.seqEmb = nil
}

// Decode computes embeddings for all output-marked slots, and pooled
// per-sequence embeddings when sequence pooling is enabled.
func (e *HashEngine) Decode(ctx context.Context, batch *Batch) error {
	if e.closed {
		return ErrEngineClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if batch.Len() == 0 {
		return fmt.Errorf("%w: empty batch", ErrDecodeFailed)
	}

	slotEmb := make(map[int][]float32)
	var sums map[int][]float32
	var counts map[int]int
	if e.pooling {
		sums = make(map[int][]float32, batch.SeqCount())
		counts = make(map[int]int, batch.SeqCount())
	}

	for i := 0; i < batch.Len(); i++ {
		vec := e.tokenVector(batch.Tokens[i], batch.Positions[i])
		if batch.Outputs[i] {
			slotEmb[i] = vec
		}
		if e.pooling {
			seq := batch.Sequences[i]
			sum, ok := sums[seq]
			if !ok {
				sum = make([]float32, e.size)
				sums[seq] = sum
			}
			for d, v := range vec {
				sum[d] += v
			}
			counts[seq]++
		}
	}

	e.slotEmb = slotEmb
	if e.pooling {
		seqEmb := make(map[int][]float32, len(sums))
		for seq, sum := range sums {
			inv := 1.0 / float32(counts[seq])
			for d := range sum {
				sum[d] *= inv
			}
			seqEmb[seq] = sum
		}
		e.seqEmb = seqEmb
	}

	return nil
}

// SequenceEmbedding returns the engine-pooled embedding for a local sequence id.
func (e *HashEngine) SequenceEmbedding(seq int) ([]float32, bool) {
	if !e.pooling {
		return nil, false
	}
	vec, ok := e.seqEmb[seq]
	return vec, ok
}

// SlotEmbedding returns the raw embedding of an output-marked slot.
func (e *HashEngine) SlotEmbedding(i int) ([]float32, bool) {
	vec, ok := e.slotEmb[i]
	return vec, ok
}

// Tokenize maps text to a begin-of-sequence marker followed by one hashed id
// per whitespace-separated word.
func (e *HashEngine) Tokenize(text string) ([]int32, error) {
	words := strings.Fields(strings.ToLower(text))
	tokens := make([]int32, 0, len(words)+1)
	tokens = append(tokens, TokenCls)
	for _, word := range words {
		tokens = append(tokens, hashWordID(word))
	}
	return tokens, nil
}

// SeparatorToken returns the sequence terminator id.
func (e *HashEngine) SeparatorToken() int32 {
	return TokenSep
}

// EmbeddingSize returns the embedding width.
func (e *HashEngine) EmbeddingSize() int {
	return e.size
}

// ContextSize returns the configured maximum sequence length, 0 when unset.
func (e *HashEngine) ContextSize() int {
	return e.ctxSize
}

// Close marks the engine closed.
func (e *HashEngine) Close() error {
	e.closed = true
	e.ClearCache()
	return nil
}

// tokenVector derives a deterministic embedding from the run seed, token id
// and position, in the same way for every run.
func (e *HashEngine) tokenVector(token, pos int32) []float32 {
	var key [16]byte
	binary.BigEndian.PutUint64(key[0:8], e.seed)
	binary.BigEndian.PutUint32(key[8:12], uint32(token))
	binary.BigEndian.PutUint32(key[12:16], uint32(pos))
	hash := sha256.Sum256(key[:])

	// Use multiple seeds from different parts of the hash for variety
	seeds := []int64{
		int64(binary.BigEndian.Uint64(hash[0:8])),
		int64(binary.BigEndian.Uint64(hash[8:16])),
		int64(binary.BigEndian.Uint64(hash[16:24])),
		int64(binary.BigEndian.Uint64(hash[24:32])),
	}

	vec := make([]float32, e.size)
	segmentSize := len(vec) / len(seeds)
	for i, seed := range seeds {
		rng := rand.New(rand.NewSource(seed))
		start := i * segmentSize
		end := start + segmentSize
		if i == len(seeds)-1 {
			end = len(vec) // Handle remainder
		}

		for j := start; j < end; j++ {
			vec[j] = float32(rng.NormFloat64())
		}
	}
	return vec
}

// hashWordID maps a word into the non-special token id range.
func hashWordID(word string) int32 {
	h := fnv.New32a()
	h.Write([]byte(word))
	return hashWordBase + int32(h.Sum32()%hashWordRange)
}
