package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/embedgen/internal/events"
	"github.com/raaihank/embedgen/internal/pipeline"
	"github.com/raaihank/embedgen/internal/store"
)

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{
		"engine": "ok",
		"store":  "disabled",
		"cache":  "disabled",
	}
	if s.store != nil {
		components["store"] = "ok"
	}
	if s.cache != nil {
		components["cache"] = "ok"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "healthy",
		"timestamp":  time.Now().Format(time.RFC3339),
		"components": components,
	})
}

// handleEmbeddings embeds the request inputs and returns one embedding per
// input, in input order. Cached prompts skip the engine entirely.
func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r.Context())
	logger := s.logger.WithRequestID(requestID)

	var req embeddingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON body")
		return
	}

	inputs, err := parseInputs(req.Input)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	if len(inputs) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "input must not be empty")
		return
	}
	if s.config.Server.MaxInputs > 0 && len(inputs) > s.config.Server.MaxInputs {
		writeError(w, http.StatusBadRequest, "invalid_request_error",
			fmt.Sprintf("too many inputs: %d exceeds the limit of %d", len(inputs), s.config.Server.MaxInputs))
		return
	}

	pooling := s.pipeline.Strategy().Name()
	start := time.Now()

	s.hub.BroadcastEvent(events.Event{
		Type:      events.EventTypeJobStarted,
		Timestamp: start,
		RequestID: requestID,
		Data: events.JobStartedEvent{
			RequestID: requestID,
			Prompts:   len(inputs),
			Pooling:   pooling,
			Source:    "api",
		},
	})

	// Serve cached embeddings and collect the prompts still to embed.
	embeddings := make([][]float32, len(inputs))
	pendingIdx := make([]int, 0, len(inputs))
	pendingTexts := make([]string, 0, len(inputs))
	cacheHits := 0

	if s.cache != nil {
		cached, _ := s.cache.GetBatch(r.Context(), inputs)
		for i, entry := range cached {
			if entry != nil && entry.Pooling == pooling {
				embeddings[i] = entry.Embedding
				cacheHits++
				continue
			}
			pendingIdx = append(pendingIdx, i)
			pendingTexts = append(pendingTexts, inputs[i])
		}
	} else {
		for i := range inputs {
			pendingIdx = append(pendingIdx, i)
			pendingTexts = append(pendingTexts, inputs[i])
		}
	}

	var runStats *pipeline.Stats
	if len(pendingTexts) > 0 {
		matrix, stats, err := s.pipeline.Run(r.Context(), pendingTexts)
		if err != nil {
			if errors.Is(err, pipeline.ErrTokenLimitExceeded) {
				writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
				return
			}
			logger.Error("Embedding run failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error", "embedding generation failed")
			return
		}
		runStats = stats

		rows := make([][]float32, len(pendingTexts))
		for j := range pendingTexts {
			rows[j] = matrix.Row(j)
			embeddings[pendingIdx[j]] = rows[j]
		}

		if s.cache != nil {
			if err := s.cache.SetBatch(r.Context(), pendingTexts, pooling, rows); err != nil {
				logger.Warn("Failed to cache embeddings", zap.Error(err))
			}
		}
		if s.store != nil {
			if _, err := s.store.SaveMatrix(r.Context(), pendingTexts, matrix, pooling); err != nil {
				logger.Warn("Failed to persist embeddings", zap.Error(err))
			}
		}
	}

	data := make([]embeddingObject, len(inputs))
	for i := range inputs {
		data[i] = embeddingObject{
			Object:    "embedding",
			Index:     i,
			Embedding: embeddings[i],
		}
	}

	model := req.Model
	if model == "" {
		model = "embedgen-" + s.config.Engine.Type
	}

	tokens, failures := 0, 0
	if runStats != nil {
		tokens = runStats.TotalTokens
		failures = runStats.DecodeFailures
	}
	s.stats.record(len(inputs), tokens, cacheHits, failures)

	duration := time.Since(start)
	completed := events.JobCompletedEvent{
		RequestID:   requestID,
		Prompts:     len(inputs),
		TotalTokens: tokens,
		CacheHits:   cacheHits,
		DurationMS:  float64(duration.Nanoseconds()) / 1e6,
	}
	if runStats != nil {
		completed.Batches = runStats.Batches
		completed.DecodeFailures = runStats.DecodeFailures
		completed.MissingEmbeddings = runStats.MissingEmbeddings
	}
	s.hub.BroadcastEvent(events.Event{
		Type:      events.EventTypeJobCompleted,
		Timestamp: time.Now(),
		RequestID: requestID,
		Data:      completed,
	})

	logger.Info("Embeddings served",
		zap.Int("inputs", len(inputs)),
		zap.Int("cache_hits", cacheHits),
		zap.Int("computed", len(pendingTexts)),
		zap.Duration("duration", duration))

	writeJSON(w, http.StatusOK, embeddingsResponse{
		Object: "list",
		Data:   data,
		Model:  model,
		Usage: usageInfo{
			PromptTokens: tokens,
			TotalTokens:  tokens,
		},
	})
}

// handleSimilar embeds the query text and searches the store for the
// closest persisted embeddings.
func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r.Context())
	logger := s.logger.WithRequestID(requestID)

	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store_disabled", "similarity search requires the embedding store")
		return
	}

	var req similarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
		return
	}

	matrix, _, err := s.pipeline.Run(r.Context(), []string{req.Text})
	if err != nil {
		if errors.Is(err, pipeline.ErrTokenLimitExceeded) {
			writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
			return
		}
		logger.Error("Embedding run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "embedding generation failed")
		return
	}

	options := &store.SearchOptions{
		Limit:         req.Limit,
		MinSimilarity: req.MinSimilarity,
		PoolingFilter: req.Pooling,
	}
	if options.Limit <= 0 {
		options.Limit = 5
	}

	results, err := s.store.FindSimilar(r.Context(), matrix.Row(0), options)
	if err != nil {
		logger.Error("Similarity search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "similarity search failed")
		return
	}

	writeJSON(w, http.StatusOK, similarResponse{
		Object: "list",
		Data:   results,
	})
}

// handleStats reports server, hub, cache and store statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	response := statsResponse{
		Server: s.stats.snapshot(),
		Hub:    s.hub.GetStats(),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.cache != nil {
		if cacheStats, err := s.cache.GetStats(ctx); err == nil {
			response.Cache = cacheStats
		} else {
			s.logger.Warn("Failed to get cache stats", zap.Error(err))
		}
	}
	if s.store != nil {
		if storeStats, err := s.store.GetStats(ctx); err == nil {
			response.Store = storeStats
		} else {
			s.logger.Warn("Failed to get store stats", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, response)
}

// handleWebSocket hands the connection to the event hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.hub.HandleWebSocket(w, r)
}

// parseInputs coerces the request input field into a prompt list.
func parseInputs(input interface{}) ([]string, error) {
	switch v := input.(type) {
	case string:
		return []string{v}, nil
	case []interface{}:
		inputs := make([]string, 0, len(v))
		for _, item := range v {
			text, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("input array must contain only strings")
			}
			inputs = append(inputs, text)
		}
		return inputs, nil
	case nil:
		return nil, fmt.Errorf("input is required")
	default:
		return nil, fmt.Errorf("input must be a string or an array of strings")
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, errorBody{
		Error: errorDetail{
			Message: message,
			Type:    errType,
		},
	})
}
