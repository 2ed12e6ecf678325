package pipeline

import "time"

// Stats aggregates counters and timings for one pipeline run.
type Stats struct {
	Prompts           int           `json:"prompts"`
	TotalTokens       int           `json:"total_tokens"`
	Batches           int           `json:"batches"`
	DecodeFailures    int           `json:"decode_failures"`
	MissingEmbeddings int           `json:"missing_embeddings"`
	TokenizeTime      time.Duration `json:"tokenize_time_ns"`
	DecodeTime        time.Duration `json:"decode_time_ns"`
	ExtractTime       time.Duration `json:"extract_time_ns"`
	TotalTime         time.Duration `json:"total_time_ns"`
}
