package output

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/raaihank/embedgen/internal/pipeline"
)

// Writer emits a finished embedding matrix, either as a raw binary file or
// as a console sample of the first rows.
type Writer struct {
	sampleRows int
	logger     *zap.Logger
}

// NewWriter creates a writer. sampleRows bounds how many rows WriteSample
// prints.
func NewWriter(sampleRows int, logger *zap.Logger) *Writer {
	return &Writer{
		sampleRows: sampleRows,
		logger:     logger,
	}
}

// WriteBinary writes the matrix to path as rows x dim float32 values in
// native byte order, row-major with no header. Consumers load it with the
// matching dtype and reshape.
func (w *Writer) WriteBinary(path string, matrix *pipeline.EmbeddingMatrix) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	buf := bufio.NewWriter(file)
	if err := binary.Write(buf, binary.NativeEndian, matrix.Data()); err != nil {
		return fmt.Errorf("failed to write embeddings: %w", err)
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush output file: %w", err)
	}

	w.logger.Info("Embeddings written",
		zap.String("path", path),
		zap.Int("rows", matrix.Rows()),
		zap.Int("dim", matrix.Dim()),
		zap.Int("bytes", len(matrix.Data())*4))

	return nil
}

// WriteSample prints the first min(sampleRows, rows) embeddings to out,
// one row per line.
func (w *Writer) WriteSample(out io.Writer, matrix *pipeline.EmbeddingMatrix) error {
	n := w.sampleRows
	if n > matrix.Rows() {
		n = matrix.Rows()
	}

	for i := 0; i < n; i++ {
		if _, err := fmt.Fprintf(out, "embedding %d: ", i); err != nil {
			return fmt.Errorf("failed to write sample: %w", err)
		}
		for _, v := range matrix.Row(i) {
			if _, err := fmt.Fprintf(out, "%9.6f ", v); err != nil {
				return fmt.Errorf("failed to write sample: %w", err)
			}
		}
		if _, err := fmt.Fprintln(out); err != nil {
			return fmt.Errorf("failed to write sample: %w", err)
		}
	}

	return nil
}
