package engine

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Tokenizer converts text to token ids using a BERT-style vocabulary file
// (one token per line, id = line number). Words missing from the vocabulary
// fall back to a hashed id so distinct words keep distinct embeddings.
type Tokenizer struct {
	vocab map[string]int32
	cls   int32
	sep   int32
}

// NewTokenizer loads a vocabulary file. An empty path yields a tokenizer
// that hashes every word.
func NewTokenizer(vocabPath string) (*Tokenizer, error) {
	t := &Tokenizer{
		vocab: make(map[string]int32),
		cls:   TokenCls,
		sep:   TokenSep,
	}

	if vocabPath == "" {
		return t, nil
	}

	file, err := os.Open(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocab file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	id := int32(0)
	for scanner.Scan() {
		t.vocab[scanner.Text()] = id
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vocab file: %w", err)
	}

	if cls, ok := t.vocab["[CLS]"]; ok {
		t.cls = cls
	}
	if sep, ok := t.vocab["[SEP]"]; ok {
		t.sep = sep
	}

	return t, nil
}

// Encode converts text to token ids with a leading class token. The
// separator token is not appended here.
func (t *Tokenizer) Encode(text string) []int32 {
	words := strings.Fields(strings.ToLower(text))
	tokens := make([]int32, 0, len(words)+1)
	tokens = append(tokens, t.cls)
	for _, word := range words {
		if id, ok := t.vocab[word]; ok {
			tokens = append(tokens, id)
		} else {
			tokens = append(tokens, hashWordID(word))
		}
	}
	return tokens
}

// Separator returns the sequence terminator id.
func (t *Tokenizer) Separator() int32 {
	return t.sep
}
