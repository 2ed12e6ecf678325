package events

import (
	"time"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeJobStarted fires when an embedding job begins
	EventTypeJobStarted EventType = "job_started"
	// EventTypeJobCompleted fires when an embedding job finishes
	EventTypeJobCompleted EventType = "job_completed"
	// EventTypeRequestLog represents a request logging event
	EventTypeRequestLog EventType = "request_log"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// JobStartedEvent announces a new embedding job
type JobStartedEvent struct {
	RequestID string `json:"request_id"`
	Prompts   int    `json:"prompts"`
	Pooling   string `json:"pooling"`
	Source    string `json:"source,omitempty"`
}

// JobCompletedEvent carries the outcome of an embedding job
type JobCompletedEvent struct {
	RequestID         string  `json:"request_id"`
	Prompts           int     `json:"prompts"`
	TotalTokens       int     `json:"total_tokens"`
	Batches           int     `json:"batches"`
	DecodeFailures    int     `json:"decode_failures"`
	MissingEmbeddings int     `json:"missing_embeddings"`
	CacheHits         int     `json:"cache_hits"`
	DurationMS        float64 `json:"duration_ms"`
}

// RequestLogEvent represents a request logging event
type RequestLogEvent struct {
	RequestID    string        `json:"request_id"`
	Method       string        `json:"method"`
	Path         string        `json:"path"`
	StatusCode   int           `json:"status_code"`
	ClientIP     string        `json:"client_ip"`
	UserAgent    string        `json:"user_agent,omitempty"`
	Duration     time.Duration `json:"duration"`
	RequestSize  int64         `json:"request_size"`
	ResponseSize int64         `json:"response_size"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest represents a client subscription request
type SubscriptionRequest struct {
	Events []EventType `json:"events"`
}
