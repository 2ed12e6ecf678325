package engine

// DefaultEmbeddingSize is the embedding width used when none is configured.
const DefaultEmbeddingSize = 384

// BERT-style special token ids shared by all engines.
const (
	TokenPad int32 = 0
	TokenUnk int32 = 1
	TokenCls int32 = 101
	TokenSep int32 = 102
)

// EngineError defines custom error types
type EngineError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (e *EngineError) Error() string {
	return e.Message
}

// Common error types
var (
	ErrModelLoad          = &EngineError{Type: "model_load_failed", Message: "model load failed", Code: 2001}
	ErrDecodeFailed       = &EngineError{Type: "decode_failed", Message: "decode failed", Code: 2002}
	ErrEngineClosed       = &EngineError{Type: "engine_closed", Message: "engine is closed", Code: 2003}
	ErrBackendUnavailable = &EngineError{Type: "backend_unavailable", Message: "backend not available in this build", Code: 2004}
	ErrConfigError        = &EngineError{Type: "config_error", Message: "configuration error", Code: 2005}
)
