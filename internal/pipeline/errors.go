package pipeline

// PipelineError defines custom error types
type PipelineError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (e *PipelineError) Error() string {
	return e.Message
}

// Common error types
var (
	// ErrTokenLimitExceeded is fatal: a single prompt tokenizes to more
	// tokens than one batch can hold, so it can never be decoded.
	ErrTokenLimitExceeded = &PipelineError{Type: "token_limit_exceeded", Message: "prompt exceeds batch capacity", Code: 3001}
	ErrInvalidConfig      = &PipelineError{Type: "invalid_config", Message: "invalid pipeline configuration", Code: 3002}
	ErrRowRange           = &PipelineError{Type: "row_range", Message: "output row out of range", Code: 3003}
	ErrTokenizeFailed     = &PipelineError{Type: "tokenize_failed", Message: "tokenization failed", Code: 3004}
)
