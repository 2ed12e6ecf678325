package server

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/raaihank/embedgen/internal/config"
	"github.com/raaihank/embedgen/internal/engine"
	"github.com/raaihank/embedgen/internal/logger"
	"github.com/raaihank/embedgen/internal/pipeline"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()

	cfg := config.GetDefaults()
	cfg.Engine.EmbeddingSize = 32
	cfg.Engine.Seed = 1
	cfg.Pipeline.BatchCapacity = 64
	cfg.Server.RateLimit.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}

	log := logger.NewNop()

	eng, err := engine.New(engine.Config{
		Type:            cfg.Engine.Type,
		EmbeddingSize:   cfg.Engine.EmbeddingSize,
		Seed:            cfg.Engine.Seed,
		SequencePooling: cfg.Engine.SequencePooling,
	}, log.Logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	pipe, err := pipeline.New(pipeline.Config{
		BatchCapacity: cfg.Pipeline.BatchCapacity,
		Pooling:       cfg.Pipeline.Pooling,
		MissingPolicy: cfg.Pipeline.MissingPolicy,
	}, eng, log.Logger)
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	srv, err := New(cfg, pipe, nil, nil, log)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	r := httptest.NewRequest(method, path, reader)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	return w
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t, nil)

	w := doJSON(t, srv, "GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}

	var body struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid health JSON: %v", err)
	}
	if body.Status != "healthy" {
		t.Errorf("status = %q, want healthy", body.Status)
	}
	if body.Components["engine"] != "ok" {
		t.Errorf("engine component = %q, want ok", body.Components["engine"])
	}
	if body.Components["store"] != "disabled" || body.Components["cache"] != "disabled" {
		t.Errorf("optional components = %v, want disabled without backends", body.Components)
	}
}

func TestHandleEmbeddings(t *testing.T) {
	t.Run("SingleString", func(t *testing.T) {
		srv := newTestServer(t, nil)

		w := doJSON(t, srv, "POST", "/v1/embeddings", map[string]interface{}{"input": "hello world"})
		if w.Code != http.StatusOK {
			t.Fatalf("Status = %d, body %s", w.Code, w.Body.String())
		}

		var resp embeddingsResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Invalid response JSON: %v", err)
		}
		if resp.Object != "list" || len(resp.Data) != 1 {
			t.Fatalf("Object = %q with %d rows, want list with 1", resp.Object, len(resp.Data))
		}
		if resp.Data[0].Index != 0 || len(resp.Data[0].Embedding) != 32 {
			t.Errorf("Row 0: index %d dim %d, want 0 and 32", resp.Data[0].Index, len(resp.Data[0].Embedding))
		}
		if resp.Usage.TotalTokens == 0 {
			t.Error("Usage.TotalTokens not reported")
		}

		// Pooled rows come back L2-normalized.
		var norm float64
		for _, v := range resp.Data[0].Embedding {
			norm += float64(v) * float64(v)
		}
		if math.Abs(math.Sqrt(norm)-1.0) > 1e-4 {
			t.Errorf("Row norm = %f, want 1", math.Sqrt(norm))
		}
	})

	t.Run("ArrayOfStrings", func(t *testing.T) {
		srv := newTestServer(t, nil)

		w := doJSON(t, srv, "POST", "/v1/embeddings", map[string]interface{}{
			"input": []string{"first prompt", "second prompt", "third prompt"},
		})
		if w.Code != http.StatusOK {
			t.Fatalf("Status = %d, body %s", w.Code, w.Body.String())
		}

		var resp embeddingsResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Invalid response JSON: %v", err)
		}
		if len(resp.Data) != 3 {
			t.Fatalf("Got %d rows, want 3", len(resp.Data))
		}
		for i, row := range resp.Data {
			if row.Index != i {
				t.Errorf("Row %d has index %d", i, row.Index)
			}
		}

		// Distinct prompts embed to distinct rows.
		same := true
		for d := range resp.Data[0].Embedding {
			if resp.Data[0].Embedding[d] != resp.Data[1].Embedding[d] {
				same = false
				break
			}
		}
		if same {
			t.Error("Different prompts produced identical embeddings")
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		srv := newTestServer(t, nil)

		first := doJSON(t, srv, "POST", "/v1/embeddings", map[string]interface{}{"input": "stable"})
		second := doJSON(t, srv, "POST", "/v1/embeddings", map[string]interface{}{"input": "stable"})
		if !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
			t.Error("Same input produced different responses")
		}
	})

	t.Run("InvalidRequests", func(t *testing.T) {
		srv := newTestServer(t, nil)

		cases := []struct {
			name string
			body interface{}
		}{
			{"MissingInput", map[string]interface{}{}},
			{"EmptyArray", map[string]interface{}{"input": []string{}}},
			{"NonStringArray", map[string]interface{}{"input": []interface{}{1, 2}}},
			{"WrongType", map[string]interface{}{"input": 42}},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				w := doJSON(t, srv, "POST", "/v1/embeddings", tc.body)
				if w.Code != http.StatusBadRequest {
					t.Errorf("Status = %d, want 400", w.Code)
				}
				var body errorBody
				if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
					t.Fatalf("Invalid error JSON: %v", err)
				}
				if body.Error.Type != "invalid_request_error" {
					t.Errorf("Error type = %q", body.Error.Type)
				}
			})
		}
	})

	t.Run("TooManyInputs", func(t *testing.T) {
		srv := newTestServer(t, func(cfg *config.Config) {
			cfg.Server.MaxInputs = 2
		})

		w := doJSON(t, srv, "POST", "/v1/embeddings", map[string]interface{}{
			"input": []string{"a", "b", "c"},
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("Status = %d, want 400", w.Code)
		}
	})

	t.Run("PromptOverCapacity", func(t *testing.T) {
		srv := newTestServer(t, func(cfg *config.Config) {
			cfg.Pipeline.BatchCapacity = 4
		})

		w := doJSON(t, srv, "POST", "/v1/embeddings", map[string]interface{}{
			"input": "far too many words to fit the batch",
		})
		if w.Code != http.StatusBadRequest {
			t.Fatalf("Status = %d, want 400", w.Code)
		}
		var body errorBody
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("Invalid error JSON: %v", err)
		}
		if body.Error.Type != "invalid_request_error" {
			t.Errorf("Error type = %q", body.Error.Type)
		}
	})

	t.Run("MethodNotAllowed", func(t *testing.T) {
		srv := newTestServer(t, nil)

		w := doJSON(t, srv, "GET", "/v1/embeddings", nil)
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("Status = %d, want 405", w.Code)
		}
	})
}

func TestHandleSimilarWithoutStore(t *testing.T) {
	srv := newTestServer(t, nil)

	w := doJSON(t, srv, "POST", "/v1/similar", map[string]interface{}{"text": "anything"})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Status = %d, want 503", w.Code)
	}
}

func TestHandleStats(t *testing.T) {
	srv := newTestServer(t, nil)

	doJSON(t, srv, "POST", "/v1/embeddings", map[string]interface{}{"input": "count me"})

	w := doJSON(t, srv, "GET", "/v1/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}

	var resp statsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid stats JSON: %v", err)
	}
	if resp.Server.TotalRequests != 1 {
		t.Errorf("TotalRequests = %d, want 1", resp.Server.TotalRequests)
	}
	if resp.Server.TotalPrompts != 1 {
		t.Errorf("TotalPrompts = %d, want 1", resp.Server.TotalPrompts)
	}
	if resp.Server.TotalTokens == 0 {
		t.Error("TotalTokens not recorded")
	}
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.RateLimit.Enabled = true
		cfg.Server.RateLimit.RequestsPerSecond = 1
		cfg.Server.RateLimit.Burst = 1
	})

	first := doJSON(t, srv, "POST", "/v1/embeddings", map[string]interface{}{"input": "one"})
	if first.Code != http.StatusOK {
		t.Fatalf("First request status = %d, want 200", first.Code)
	}

	second := doJSON(t, srv, "POST", "/v1/embeddings", map[string]interface{}{"input": "two"})
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("Second request status = %d, want 429", second.Code)
	}

	var body errorBody
	if err := json.Unmarshal(second.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid error JSON: %v", err)
	}
	if body.Error.Type != "rate_limit_error" {
		t.Errorf("Error type = %q", body.Error.Type)
	}
}

func TestParseInputs(t *testing.T) {
	t.Run("String", func(t *testing.T) {
		inputs, err := parseInputs("hello")
		if err != nil || len(inputs) != 1 || inputs[0] != "hello" {
			t.Errorf("parseInputs(string) = %v, %v", inputs, err)
		}
	})

	t.Run("Array", func(t *testing.T) {
		inputs, err := parseInputs([]interface{}{"a", "b"})
		if err != nil || len(inputs) != 2 {
			t.Errorf("parseInputs(array) = %v, %v", inputs, err)
		}
	})

	t.Run("Nil", func(t *testing.T) {
		if _, err := parseInputs(nil); err == nil {
			t.Error("Expected error for nil input")
		}
	})

	t.Run("MixedArray", func(t *testing.T) {
		if _, err := parseInputs([]interface{}{"a", 1}); err == nil {
			t.Error("Expected error for non-string element")
		}
	})
}
