package prompt

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"
)

// Record is a single prompt row from a dataset file.
type Record struct {
	Text string `csv:"text" parquet:"text" json:"text"`
}

// FileFormat represents supported prompt file formats
type FileFormat string

const (
	FormatText    FileFormat = "text"
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) FileFormat {
	switch {
	case strings.HasSuffix(filename, ".csv"):
		return FormatCSV
	case strings.HasSuffix(filename, ".parquet"):
		return FormatParquet
	case strings.HasSuffix(filename, ".json") || strings.HasSuffix(filename, ".jsonl"):
		return FormatJSON
	default:
		return FormatText // Default to plain text, one prompt per line
	}
}

// Loader reads prompt lists from files. Dataset formats carry a text
// column; plain text files split one prompt per line.
type Loader struct {
	column     string
	maxPrompts int
	logger     *zap.Logger
}

// NewLoader creates a prompt loader. column names the text column for CSV
// files, maxPrompts bounds the number of prompts read (0 = unlimited).
func NewLoader(column string, maxPrompts int, logger *zap.Logger) *Loader {
	if column == "" {
		column = "text"
	}
	return &Loader{
		column:     column,
		maxPrompts: maxPrompts,
		logger:     logger,
	}
}

// Load reads prompts from a file, dispatching on the detected format.
func (l *Loader) Load(filePath string) ([]string, error) {
	format := DetectFileFormat(filePath)
	l.logger.Debug("Detected prompt file format",
		zap.String("file", filePath),
		zap.String("format", string(format)))

	switch format {
	case FormatCSV:
		return l.loadCSV(filePath)
	case FormatParquet:
		return l.loadParquet(filePath)
	case FormatJSON:
		return l.loadJSON(filePath)
	default:
		return l.loadText(filePath)
	}
}

// loadText reads a plain text file, one prompt per line.
func (l *Loader) loadText(filePath string) ([]string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt file: %w", err)
	}
	return l.truncate(SplitLines(string(data))), nil
}

// loadCSV reads prompts from the configured text column of a CSV file.
func (l *Loader) loadCSV(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	column := 0
	found := false
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), l.column) {
			column = i
			found = true
			break
		}
	}
	if !found {
		l.logger.Warn("Text column not found in CSV header, using first column",
			zap.String("column", l.column),
			zap.Strings("header", header))
	}

	var prompts []string
	for !l.full(len(prompts)) {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			l.logger.Warn("Failed to read CSV record", zap.Error(err))
			continue
		}
		if column >= len(record) {
			l.logger.Warn("CSV record too short", zap.Int("fields", len(record)))
			continue
		}

		text := strings.TrimSpace(record[column])
		if text == "" {
			continue
		}
		prompts = append(prompts, text)
	}

	return prompts, nil
}

// loadParquet reads prompts from the text column of a Parquet file.
func (l *Loader) loadParquet(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Parquet file: %w", err)
	}
	defer file.Close()

	reader := parquet.NewReader(file)
	defer reader.Close()

	var prompts []string
	for !l.full(len(prompts)) {
		var record Record
		err := reader.Read(&record)
		if err == io.EOF {
			break
		}
		if err != nil {
			l.logger.Warn("Failed to read Parquet record", zap.Error(err))
			continue
		}

		text := strings.TrimSpace(record.Text)
		if text == "" {
			continue
		}
		prompts = append(prompts, text)
	}

	return prompts, nil
}

// loadJSON reads prompts from a JSON file, one object per line.
func (l *Loader) loadJSON(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSON file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)

	var prompts []string
	for !l.full(len(prompts)) {
		var record Record
		err := decoder.Decode(&record)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read JSON record: %w", err)
		}

		text := strings.TrimSpace(record.Text)
		if text == "" {
			continue
		}
		prompts = append(prompts, text)
	}

	return prompts, nil
}

func (l *Loader) full(count int) bool {
	if l.maxPrompts > 0 && count >= l.maxPrompts {
		l.logger.Warn("Prompt limit reached, remaining records skipped",
			zap.Int("max_prompts", l.maxPrompts))
		return true
	}
	return false
}

func (l *Loader) truncate(prompts []string) []string {
	if l.maxPrompts > 0 && len(prompts) > l.maxPrompts {
		l.logger.Warn("Prompt limit reached, remaining lines skipped",
			zap.Int("max_prompts", l.maxPrompts),
			zap.Int("lines", len(prompts)))
		return prompts[:l.maxPrompts]
	}
	return prompts
}
