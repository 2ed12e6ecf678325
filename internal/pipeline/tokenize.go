package pipeline

import (
	"fmt"

	"go.uber.org/zap"
)

// tokenizeAll converts prompts to token sequences, terminating each with
// the engine's separator token. Any sequence longer than the batch capacity
// aborts the run: a sequence is never split across batches, so one that
// cannot fit a whole batch can never be decoded.
func (p *Pipeline) tokenizeAll(prompts []string) ([][]int32, int, error) {
	sep := p.engine.SeparatorToken()
	sequences := make([][]int32, 0, len(prompts))
	total := 0

	for i, text := range prompts {
		tokens, err := p.engine.Tokenize(text)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: prompt %d: %v", ErrTokenizeFailed, i, err)
		}

		if len(tokens) == 0 || tokens[len(tokens)-1] != sep {
			tokens = append(tokens, sep)
		}

		if len(tokens) > p.capacity {
			return nil, 0, fmt.Errorf("%w: prompt %d is %d tokens, batch capacity is %d",
				ErrTokenLimitExceeded, i, len(tokens), p.capacity)
		}

		if p.verbose {
			p.logger.Debug("Prompt tokenized",
				zap.Int("prompt", i),
				zap.Int("tokens", len(tokens)),
				zap.Int32s("ids", tokens))
		}

		total += len(tokens)
		sequences = append(sequences, tokens)
	}

	return sequences, total, nil
}
