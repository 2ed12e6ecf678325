package engine

// Batch is the unit of work submitted to a single engine decode call. Slots
// hold one token each; slots of the same sequence are contiguous, with
// positions counting up from 0 and local sequence ids dense within the batch.
// A batch is a rolling buffer: filled, decoded, cleared, refilled.
type Batch struct {
	Tokens    []int32
	Positions []int32
	Sequences []int
	Outputs   []bool

	capacity int
	seqs     int
}

// NewBatch creates an empty batch able to hold capacity token slots.
func NewBatch(capacity int) *Batch {
	return &Batch{
		Tokens:    make([]int32, 0, capacity),
		Positions: make([]int32, 0, capacity),
		Sequences: make([]int, 0, capacity),
		Outputs:   make([]bool, 0, capacity),
		capacity:  capacity,
	}
}

// AddSequence appends all tokens of one sequence under the given local
// sequence id and returns the index of its first slot. Output flags start
// false; the pooling strategy decides which slots emit embeddings. The caller
// is responsible for ensuring the sequence fits the remaining capacity.
func (b *Batch) AddSequence(tokens []int32, seq int) int {
	start := len(b.Tokens)
	for pos, token := range tokens {
		b.Tokens = append(b.Tokens, token)
		b.Positions = append(b.Positions, int32(pos))
		b.Sequences = append(b.Sequences, seq)
		b.Outputs = append(b.Outputs, false)
	}
	if seq >= b.seqs {
		b.seqs = seq + 1
	}
	return start
}

// MarkOutput flags slot i to emit an embedding during decode.
func (b *Batch) MarkOutput(i int) {
	b.Outputs[i] = true
}

// Len returns the number of filled token slots.
func (b *Batch) Len() int {
	return len(b.Tokens)
}

// SeqCount returns the number of sequences currently in the batch.
func (b *Batch) SeqCount() int {
	return b.seqs
}

// Capacity returns the maximum number of token slots.
func (b *Batch) Capacity() int {
	return b.capacity
}

// Clear empties the batch for reuse, keeping the allocated capacity.
func (b *Batch) Clear() {
	b.Tokens = b.Tokens[:0]
	b.Positions = b.Positions[:0]
	b.Sequences = b.Sequences[:0]
	b.Outputs = b.Outputs[:0]
	b.seqs = 0
}
