package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	return path
}

func TestDetectFileFormat(t *testing.T) {
	tests := []struct {
		filename string
		want     FileFormat
	}{
		{"prompts.csv", FormatCSV},
		{"prompts.parquet", FormatParquet},
		{"prompts.json", FormatJSON},
		{"prompts.jsonl", FormatJSON},
		{"prompts.txt", FormatText},
		{"prompts", FormatText},
	}

	for _, tt := range tests {
		if got := DetectFileFormat(tt.filename); got != tt.want {
			t.Errorf("DetectFileFormat(%q) = %s, want %s", tt.filename, got, tt.want)
		}
	}
}

func TestLoader(t *testing.T) {
	logger := zap.NewNop()

	t.Run("PlainText", func(t *testing.T) {
		path := writeTestFile(t, "prompts.txt", "first prompt\n\nthird prompt\n")
		loader := NewLoader("", 0, logger)

		prompts, err := loader.Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		want := []string{"first prompt", "", "third prompt"}
		if len(prompts) != len(want) {
			t.Fatalf("Got %d prompts, want %d", len(prompts), len(want))
		}
		for i := range want {
			if prompts[i] != want[i] {
				t.Errorf("Prompt %d = %q, want %q", i, prompts[i], want[i])
			}
		}
	})

	t.Run("CSVWithTextColumn", func(t *testing.T) {
		path := writeTestFile(t, "prompts.csv", "id,text,label\n1,hello world,0\n2,embed this,1\n")
		loader := NewLoader("text", 0, logger)

		prompts, err := loader.Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		want := []string{"hello world", "embed this"}
		if len(prompts) != len(want) {
			t.Fatalf("Got %d prompts, want %d", len(prompts), len(want))
		}
		for i := range want {
			if prompts[i] != want[i] {
				t.Errorf("Prompt %d = %q, want %q", i, prompts[i], want[i])
			}
		}
	})

	t.Run("CSVMissingColumnFallsBackToFirst", func(t *testing.T) {
		path := writeTestFile(t, "prompts.csv", "content,label\nfirst,0\nsecond,1\n")
		loader := NewLoader("text", 0, logger)

		prompts, err := loader.Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if len(prompts) != 2 || prompts[0] != "first" || prompts[1] != "second" {
			t.Errorf("Got %v, want first column values", prompts)
		}
	})

	t.Run("CSVSkipsEmptyText", func(t *testing.T) {
		path := writeTestFile(t, "prompts.csv", "text\nkeep\n\"\"\nalso keep\n")
		loader := NewLoader("text", 0, logger)

		prompts, err := loader.Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if len(prompts) != 2 {
			t.Errorf("Got %d prompts, want 2", len(prompts))
		}
	})

	t.Run("JSONLines", func(t *testing.T) {
		path := writeTestFile(t, "prompts.jsonl",
			`{"text":"first prompt"}`+"\n"+`{"text":"second prompt"}`+"\n")
		loader := NewLoader("", 0, logger)

		prompts, err := loader.Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if len(prompts) != 2 || prompts[0] != "first prompt" || prompts[1] != "second prompt" {
			t.Errorf("Got %v", prompts)
		}
	})

	t.Run("MaxPromptsBound", func(t *testing.T) {
		path := writeTestFile(t, "prompts.txt", "one\ntwo\nthree\nfour\n")
		loader := NewLoader("", 2, logger)

		prompts, err := loader.Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if len(prompts) != 2 {
			t.Errorf("Got %d prompts, want 2", len(prompts))
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		loader := NewLoader("", 0, logger)
		if _, err := loader.Load(filepath.Join(t.TempDir(), "absent.txt")); err == nil {
			t.Error("Expected error for missing file")
		}
	})
}
