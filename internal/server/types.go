package server

import (
	"sync"

	"github.com/raaihank/embedgen/internal/cache"
	"github.com/raaihank/embedgen/internal/events"
	"github.com/raaihank/embedgen/internal/store"
)

// embeddingsRequest is the POST /v1/embeddings body. Input accepts a
// single string or an array of strings.
type embeddingsRequest struct {
	Input interface{} `json:"input"`
	Model string      `json:"model,omitempty"`
}

// embeddingObject is one row of an embeddings response
type embeddingObject struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

// usageInfo reports token accounting for a request
type usageInfo struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// embeddingsResponse is the POST /v1/embeddings response
type embeddingsResponse struct {
	Object string            `json:"object"`
	Data   []embeddingObject `json:"data"`
	Model  string            `json:"model"`
	Usage  usageInfo         `json:"usage"`
}

// similarRequest is the POST /v1/similar body
type similarRequest struct {
	Text          string  `json:"text"`
	Limit         int     `json:"limit,omitempty"`
	MinSimilarity float32 `json:"min_similarity,omitempty"`
	Pooling       string  `json:"pooling,omitempty"`
}

// similarResponse is the POST /v1/similar response
type similarResponse struct {
	Object string                    `json:"object"`
	Data   []*store.SimilarityResult `json:"data"`
}

// errorBody is the error response envelope
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// statsResponse is the GET /v1/stats response
type statsResponse struct {
	Server serverStatsSnapshot `json:"server"`
	Hub    events.HubStats     `json:"websocket"`
	Cache  *cache.CacheStats   `json:"cache,omitempty"`
	Store  *store.StoreStats   `json:"store,omitempty"`
}

// serverStats tracks cumulative request counters
type serverStats struct {
	mu             sync.Mutex
	totalRequests  int64
	totalPrompts   int64
	totalTokens    int64
	cacheHits      int64
	decodeFailures int64
}

// serverStatsSnapshot is the JSON view of serverStats
type serverStatsSnapshot struct {
	TotalRequests  int64 `json:"total_requests"`
	TotalPrompts   int64 `json:"total_prompts"`
	TotalTokens    int64 `json:"total_tokens"`
	CacheHits      int64 `json:"cache_hits"`
	DecodeFailures int64 `json:"decode_failures"`
}

func (s *serverStats) record(prompts, tokens, hits, failures int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalRequests++
	s.totalPrompts += int64(prompts)
	s.totalTokens += int64(tokens)
	s.cacheHits += int64(hits)
	s.decodeFailures += int64(failures)
}

func (s *serverStats) snapshot() serverStatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return serverStatsSnapshot{
		TotalRequests:  s.totalRequests,
		TotalPrompts:   s.totalPrompts,
		TotalTokens:    s.totalTokens,
		CacheHits:      s.cacheHits,
		DecodeFailures: s.decodeFailures,
	}
}
