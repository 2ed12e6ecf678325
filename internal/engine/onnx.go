//go:build onnx
// +build onnx

package engine

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// OnnxEngine runs a transformer model through ONNX Runtime. Each decode
// groups the batch's sequences into one padded model invocation. Requires
// the 'onnx' build tag.
type OnnxEngine struct {
	session    *ort.DynamicAdvancedSession
	inputNames []string
	outputName string
	tokenizer  *Tokenizer
	logger     *zap.Logger
	size       int
	ctxSize    int
	pooling    bool

	slotEmb map[int][]float32
	seqEmb  map[int][]float32
	closed  bool
}

func newOnnxEngine(config Config, logger *zap.Logger) (Engine, error) {
	// Allow user to provide shared library path via environment variable.
	if shlib := os.Getenv("ONNXRUNTIME_SHARED_LIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	} else if shlib := os.Getenv("ORT_SHLIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("%w: environment init: %v", ErrModelLoad, err)
	}

	// Inspect model IO to determine names
	inputsInfo, outputsInfo, err := ort.GetInputOutputInfo(config.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: model io inspection: %v", ErrModelLoad, err)
	}

	// Prefer common transformer inputs order
	preferredInputs := []string{"input_ids", "attention_mask", "token_type_ids"}
	available := map[string]bool{}
	for _, ii := range inputsInfo {
		available[strings.ToLower(ii.Name)] = true
	}
	var inputNames []string
	for _, name := range preferredInputs {
		if available[name] {
			inputNames = append(inputNames, name)
		}
	}
	// If no preferred names matched, fall back to model-declared order
	if len(inputNames) == 0 && len(inputsInfo) > 0 {
		sorted := make([]string, 0, len(inputsInfo))
		for _, ii := range inputsInfo {
			sorted = append(sorted, ii.Name)
		}
		sort.Strings(sorted)
		inputNames = sorted
	}

	if len(outputsInfo) == 0 {
		return nil, fmt.Errorf("%w: model reports no outputs", ErrModelLoad)
	}
	outputName := outputsInfo[0].Name

	sess, err := ort.NewDynamicAdvancedSession(config.ModelPath, inputNames, []string{outputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: session creation: %v", ErrModelLoad, err)
	}

	tokenizer, err := NewTokenizer(config.VocabPath)
	if err != nil {
		sess.Destroy()
		return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}

	size := config.EmbeddingSize
	if size <= 0 {
		size = DefaultEmbeddingSize
	}

	logger.Info("ONNX engine ready",
		zap.String("model", config.ModelPath),
		zap.Strings("inputs", inputNames),
		zap.String("output", outputName),
		zap.Int("embedding_size", size),
		zap.Bool("sequence_pooling", config.SequencePooling))

	return &OnnxEngine{
		session:    sess,
		inputNames: inputNames,
		outputName: outputName,
		tokenizer:  tokenizer,
		logger:     logger,
		size:       size,
		ctxSize:    config.ContextSize,
		pooling:    config.SequencePooling,
	}, nil
}

// ClearCache drops all outputs of the previous decode.
func (e *OnnxEngine) ClearCache() {
	e.slotEmb = nil
	e.seqEmb = nil
}

// Decode runs one padded model invocation over the batch's sequences.
func (e *OnnxEngine) Decode(ctx context.Context, batch *Batch) error {
	if e.closed {
		return ErrEngineClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if batch.Len() == 0 {
		return fmt.Errorf("%w: empty batch", ErrDecodeFailed)
	}

	// Group slot indices by local sequence id; positions within a sequence
	// are contiguous from 0, so a slot's position is its row offset.
	nseq := batch.SeqCount()
	seqLens := make([]int, nseq)
	for i := 0; i < batch.Len(); i++ {
		seqLens[batch.Sequences[i]]++
	}
	maxLen := 0
	for _, l := range seqLens {
		if l > maxLen {
			maxLen = l
		}
	}

	inputIDs := make([]int64, nseq*maxLen)
	attention := make([]int64, nseq*maxLen)
	for i := 0; i < batch.Len(); i++ {
		row := batch.Sequences[i]*maxLen + int(batch.Positions[i])
		inputIDs[row] = int64(batch.Tokens[i])
		attention[row] = 1
	}

	shape := ort.NewShape(int64(nseq), int64(maxLen))
	idsTensor, err := ort.NewTensor[int64](shape, inputIDs)
	if err != nil {
		return fmt.Errorf("%w: input_ids tensor: %v", ErrDecodeFailed, err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor[int64](shape, attention)
	if err != nil {
		return fmt.Errorf("%w: attention_mask tensor: %v", ErrDecodeFailed, err)
	}
	defer maskTensor.Destroy()

	inputs := make([]ort.Value, 0, len(e.inputNames))
	for _, rawName := range e.inputNames {
		name := strings.ToLower(rawName)
		switch {
		case strings.Contains(name, "mask") || strings.Contains(name, "attention"):
			inputs = append(inputs, maskTensor)
		case strings.Contains(name, "token_type") || strings.Contains(name, "segment"):
			typeTensor, terr := ort.NewTensor[int64](shape, make([]int64, nseq*maxLen))
			if terr != nil {
				return fmt.Errorf("%w: token_type_ids tensor: %v", ErrDecodeFailed, terr)
			}
			defer typeTensor.Destroy()
			inputs = append(inputs, typeTensor)
		default:
			inputs = append(inputs, idsTensor)
		}
	}

	outputs := make([]ort.Value, 1)
	if err := e.session.Run(inputs, outputs); err != nil {
		return fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	if outputs[0] == nil {
		return fmt.Errorf("%w: no outputs returned", ErrDecodeFailed)
	}
	defer outputs[0].Destroy()

	outTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return fmt.Errorf("%w: unexpected output type (want float32 tensor)", ErrDecodeFailed)
	}
	data := outTensor.GetData()
	outShape := outTensor.GetShape()

	switch len(outShape) {
	case 3:
		// [nseq, maxLen, dims]: per-token hidden states
		seq := int(outShape[1])
		dims := int(outShape[2])
		if dims != e.size {
			return fmt.Errorf("%w: hidden dims %d (want %d)", ErrDecodeFailed, dims, e.size)
		}
		if len(data) != nseq*seq*dims {
			return fmt.Errorf("%w: flat data length %d for shape %v", ErrDecodeFailed, len(data), outShape)
		}

		slotEmb := make(map[int][]float32)
		for i := 0; i < batch.Len(); i++ {
			if !batch.Outputs[i] {
				continue
			}
			offset := (batch.Sequences[i]*seq + int(batch.Positions[i])) * dims
			vec := make([]float32, dims)
			copy(vec, data[offset:offset+dims])
			slotEmb[i] = vec
		}
		e.slotEmb = slotEmb

		if e.pooling {
			seqEmb := make(map[int][]float32, nseq)
			for s := 0; s < nseq; s++ {
				pooled := make([]float32, dims)
				for p := 0; p < seqLens[s]; p++ {
					offset := (s*seq + p) * dims
					for d := 0; d < dims; d++ {
						pooled[d] += data[offset+d]
					}
				}
				inv := 1.0 / float32(seqLens[s])
				for d := 0; d < dims; d++ {
					pooled[d] *= inv
				}
				seqEmb[s] = pooled
			}
			e.seqEmb = seqEmb
		}
	case 2:
		// [nseq, dims]: the model pools internally
		dims := int(outShape[1])
		if dims != e.size {
			return fmt.Errorf("%w: output dims %d (want %d)", ErrDecodeFailed, dims, e.size)
		}
		if len(data) != nseq*dims {
			return fmt.Errorf("%w: flat data length %d for shape %v", ErrDecodeFailed, len(data), outShape)
		}
		seqEmb := make(map[int][]float32, nseq)
		for s := 0; s < nseq; s++ {
			vec := make([]float32, dims)
			copy(vec, data[s*dims:(s+1)*dims])
			seqEmb[s] = vec
		}
		e.seqEmb = seqEmb
		e.slotEmb = nil
	default:
		return fmt.Errorf("%w: unsupported output shape %v", ErrDecodeFailed, outShape)
	}

	return nil
}

// SequenceEmbedding returns the pooled embedding for a local sequence id.
func (e *OnnxEngine) SequenceEmbedding(seq int) ([]float32, bool) {
	vec, ok := e.seqEmb[seq]
	return vec, ok
}

// SlotEmbedding returns the raw embedding of an output-marked slot.
func (e *OnnxEngine) SlotEmbedding(i int) ([]float32, bool) {
	vec, ok := e.slotEmb[i]
	return vec, ok
}

// Tokenize converts text through the vocabulary tokenizer.
func (e *OnnxEngine) Tokenize(text string) ([]int32, error) {
	return e.tokenizer.Encode(text), nil
}

// SeparatorToken returns the sequence terminator id.
func (e *OnnxEngine) SeparatorToken() int32 {
	return e.tokenizer.Separator()
}

// EmbeddingSize returns the embedding width.
func (e *OnnxEngine) EmbeddingSize() int {
	return e.size
}

// ContextSize returns the model's maximum sequence length, 0 when unset.
func (e *OnnxEngine) ContextSize() int {
	return e.ctxSize
}

// Close releases session and environment resources.
func (e *OnnxEngine) Close() error {
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	ort.DestroyEnvironment()
	e.closed = true
	e.ClearCache()
	return nil
}
