package pipeline

import "math"

// EmbeddingMatrix holds one embedding row per prompt in original input
// order, as a dense row-major float32 block. Rows start zeroed and are
// written at most once.
type EmbeddingMatrix struct {
	rows int
	dim  int
	data []float32
}

// NewEmbeddingMatrix allocates a zeroed rows x dim matrix.
func NewEmbeddingMatrix(rows, dim int) *EmbeddingMatrix {
	return &EmbeddingMatrix{
		rows: rows,
		dim:  dim,
		data: make([]float32, rows*dim),
	}
}

// Rows returns the number of rows.
func (m *EmbeddingMatrix) Rows() int {
	return m.rows
}

// Dim returns the embedding width.
func (m *EmbeddingMatrix) Dim() int {
	return m.dim
}

// Row returns row i as a slice into the underlying block.
func (m *EmbeddingMatrix) Row(i int) []float32 {
	return m.data[i*m.dim : (i+1)*m.dim]
}

// Data returns the full row-major block.
func (m *EmbeddingMatrix) Data() []float32 {
	return m.data
}

// normalizeRow scales a row to unit Euclidean length in place. A zero row
// is left unchanged.
func normalizeRow(row []float32) {
	var norm float32
	for _, val := range row {
		norm += val * val
	}
	norm = float32(math.Sqrt(float64(norm)))

	if norm == 0 {
		return
	}

	for i, val := range row {
		row[i] = val / norm
	}
}
