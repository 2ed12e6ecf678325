package pipeline

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/raaihank/embedgen/internal/engine"
)

// PoolingStrategy decides which batch slots emit embeddings and how raw
// engine outputs become one row per sequence. Resolved once at startup.
type PoolingStrategy interface {
	Name() string

	// MarkOutputs flags the emit-output slots of a sequence just appended to
	// the batch. start is its first slot index, n its token count.
	MarkOutputs(batch *engine.Batch, start, n int)

	// ExtractRows writes one embedding per sequence of the decoded batch
	// into matrix rows [base, base+batch.SeqCount()). It returns the number
	// of slots or sequences whose embeddings the engine could not provide.
	ExtractRows(eng engine.Engine, batch *engine.Batch, matrix *EmbeddingMatrix, base int) (int, error)
}

// NewStrategy builds the strategy named by the configuration.
func NewStrategy(config Config, dim int, logger *zap.Logger) (PoolingStrategy, error) {
	switch config.Pooling {
	case "pooled":
		return NewSequencePooling(logger), nil
	case "manual":
		return NewMeanPooling(config.MissingPolicy, config.BatchCapacity, dim, logger)
	default:
		return nil, fmt.Errorf("%w: unknown pooling strategy %q", ErrInvalidConfig, config.Pooling)
	}
}

// SequencePooling relies on the engine's own per-sequence pooling. Only the
// last slot of each sequence is marked, and rows are L2-normalized.
type SequencePooling struct {
	logger *zap.Logger
}

// NewSequencePooling creates the engine-native pooling strategy.
func NewSequencePooling(logger *zap.Logger) *SequencePooling {
	return &SequencePooling{logger: logger}
}

func (s *SequencePooling) Name() string {
	return "pooled"
}

// MarkOutputs marks only the sequence's last slot.
func (s *SequencePooling) MarkOutputs(batch *engine.Batch, start, n int) {
	batch.MarkOutput(start + n - 1)
}

// ExtractRows fetches the engine-pooled embedding per sequence, falling
// back to the marked slot's raw embedding, then normalizes into the row.
func (s *SequencePooling) ExtractRows(eng engine.Engine, batch *engine.Batch, matrix *EmbeddingMatrix, base int) (int, error) {
	if base+batch.SeqCount() > matrix.Rows() {
		return 0, fmt.Errorf("%w: rows [%d,%d) in a %d-row matrix", ErrRowRange, base, base+batch.SeqCount(), matrix.Rows())
	}

	missing := 0
	for i := 0; i < batch.Len(); i++ {
		if !batch.Outputs[i] {
			continue
		}
		seq := batch.Sequences[i]
		row := matrix.Row(base + seq)

		vec, ok := eng.SequenceEmbedding(seq)
		if !ok {
			vec, ok = eng.SlotEmbedding(i)
		}
		if !ok {
			missing++
			s.logger.Warn("No embedding available for sequence",
				zap.Int("sequence", seq),
				zap.Int("row", base+seq),
				zap.Int("slot", i))
			continue
		}

		copy(row, vec)
		normalizeRow(row)
	}
	return missing, nil
}

// MeanPooling averages every token embedding of a sequence outside the
// engine. All slots are marked, and rows are written unnormalized.
type MeanPooling struct {
	policy  string // skip or zero
	scratch sync.Pool
	logger  *zap.Logger
}

// NewMeanPooling creates the manual pooling strategy. The scratch pool
// holds per-batch buffers of capacity x dim collected token embeddings.
func NewMeanPooling(policy string, capacity, dim int, logger *zap.Logger) (*MeanPooling, error) {
	if policy != "skip" && policy != "zero" {
		return nil, fmt.Errorf("%w: unknown missing policy %q", ErrInvalidConfig, policy)
	}

	m := &MeanPooling{
		policy: policy,
		logger: logger,
	}
	m.scratch.New = func() interface{} {
		buf := make([]float32, capacity*dim)
		return &buf
	}
	return m, nil
}

func (m *MeanPooling) Name() string {
	return "manual"
}

// MarkOutputs marks every slot; the mean needs each token's embedding.
func (m *MeanPooling) MarkOutputs(batch *engine.Batch, start, n int) {
	for i := start; i < start+n; i++ {
		batch.MarkOutput(i)
	}
}

// ExtractRows collects the raw embedding of every slot into a scratch
// buffer, detects sequence boundaries where a slot's position resets to 0,
// and writes the component-wise mean of each completed sequence. The final
// sequence is flushed after the slot loop. The scratch buffer is returned
// to the pool on every exit path.
func (m *MeanPooling) ExtractRows(eng engine.Engine, batch *engine.Batch, matrix *EmbeddingMatrix, base int) (int, error) {
	if base+batch.SeqCount() > matrix.Rows() {
		return 0, fmt.Errorf("%w: rows [%d,%d) in a %d-row matrix", ErrRowRange, base, base+batch.SeqCount(), matrix.Rows())
	}

	dim := matrix.Dim()
	bufp := m.scratch.Get().(*[]float32)
	defer m.scratch.Put(bufp)
	buf := *bufp

	collected := make([]bool, batch.Len())
	missing := 0
	segStart := 0

	for i := 0; i < batch.Len(); i++ {
		// A position reset marks the start of the next sequence; the
		// finished one is everything since the previous boundary.
		if batch.Positions[i] == 0 && i != 0 {
			m.meanInto(matrix.Row(base+batch.Sequences[i-1]), buf, collected, segStart, i, dim)
			segStart = i
		}

		vec, ok := eng.SlotEmbedding(i)
		if !ok {
			missing++
			m.logger.Warn("No embedding available for slot",
				zap.Int("slot", i),
				zap.Int("sequence", batch.Sequences[i]),
				zap.String("policy", m.policy))
			continue
		}
		copy(buf[i*dim:(i+1)*dim], vec)
		collected[i] = true
	}

	if batch.Len() > 0 {
		last := batch.Len() - 1
		m.meanInto(matrix.Row(base+batch.Sequences[last]), buf, collected, segStart, batch.Len(), dim)
	}
	return missing, nil
}

// meanInto averages the collected slots of [from, to) into row. Under the
// skip policy missing slots leave the divisor; under zero they count as
// zero vectors.
func (m *MeanPooling) meanInto(row, buf []float32, collected []bool, from, to, dim int) {
	count := 0
	for i := from; i < to; i++ {
		if collected[i] {
			for d := 0; d < dim; d++ {
				row[d] += buf[i*dim+d]
			}
			count++
		} else if m.policy == "zero" {
			count++
		}
	}
	if count == 0 {
		return
	}

	inv := 1.0 / float32(count)
	for d := 0; d < dim; d++ {
		row[d] *= inv
	}
}
