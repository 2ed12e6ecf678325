package output

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/raaihank/embedgen/internal/pipeline"
)

func testMatrix(t *testing.T, rows, dim int) *pipeline.EmbeddingMatrix {
	t.Helper()
	m := pipeline.NewEmbeddingMatrix(rows, dim)
	for i := 0; i < rows; i++ {
		row := m.Row(i)
		for d := range row {
			row[d] = float32(i*dim + d)
		}
	}
	return m
}

func TestWriteBinary(t *testing.T) {
	logger := zap.NewNop()

	t.Run("RoundTrip", func(t *testing.T) {
		m := testMatrix(t, 3, 4)
		path := filepath.Join(t.TempDir(), "embeddings.bin")

		if err := NewWriter(3, logger).WriteBinary(path, m); err != nil {
			t.Fatalf("WriteBinary failed: %v", err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("Failed to read output: %v", err)
		}
		if len(data) != 3*4*4 {
			t.Fatalf("File is %d bytes, want %d", len(data), 3*4*4)
		}

		got := make([]float32, 3*4)
		if err := binary.Read(bytes.NewReader(data), binary.NativeEndian, got); err != nil {
			t.Fatalf("Failed to decode output: %v", err)
		}
		for i, v := range m.Data() {
			if got[i] != v {
				t.Fatalf("Value %d = %f, want %f", i, got[i], v)
			}
		}
	})

	t.Run("EmptyMatrix", func(t *testing.T) {
		m := pipeline.NewEmbeddingMatrix(0, 8)
		path := filepath.Join(t.TempDir(), "empty.bin")

		if err := NewWriter(3, logger).WriteBinary(path, m); err != nil {
			t.Fatalf("WriteBinary failed: %v", err)
		}
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("Stat failed: %v", err)
		}
		if info.Size() != 0 {
			t.Errorf("Empty matrix produced %d bytes", info.Size())
		}
	})

	t.Run("BadPath", func(t *testing.T) {
		m := testMatrix(t, 1, 2)
		err := NewWriter(3, logger).WriteBinary(filepath.Join(t.TempDir(), "no", "such", "dir.bin"), m)
		if err == nil {
			t.Error("Expected error for unwritable path")
		}
	})
}

func TestWriteSample(t *testing.T) {
	logger := zap.NewNop()

	t.Run("FirstRowsOnly", func(t *testing.T) {
		m := testMatrix(t, 5, 2)
		var buf bytes.Buffer

		if err := NewWriter(3, logger).WriteSample(&buf, m); err != nil {
			t.Fatalf("WriteSample failed: %v", err)
		}

		lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
		if len(lines) != 3 {
			t.Fatalf("Sample has %d lines, want 3", len(lines))
		}
		if !strings.HasPrefix(lines[0], "embedding 0: ") {
			t.Errorf("Line 0 = %q", lines[0])
		}
		if !strings.Contains(lines[1], "2.000000") || !strings.Contains(lines[1], "3.000000") {
			t.Errorf("Line 1 missing row values: %q", lines[1])
		}
	})

	t.Run("FewerRowsThanSample", func(t *testing.T) {
		m := testMatrix(t, 1, 2)
		var buf bytes.Buffer

		if err := NewWriter(3, logger).WriteSample(&buf, m); err != nil {
			t.Fatalf("WriteSample failed: %v", err)
		}
		lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
		if len(lines) != 1 {
			t.Errorf("Sample has %d lines, want 1", len(lines))
		}
	})
}
