//go:build !onnx
// +build !onnx

package engine

import (
	"fmt"

	"go.uber.org/zap"
)

// Stub used when the 'onnx' build tag is not set.
func newOnnxEngine(config Config, logger *zap.Logger) (Engine, error) {
	return nil, fmt.Errorf("%w: rebuild with -tags onnx to enable the onnx engine", ErrBackendUnavailable)
}
