package prompt

import "strings"

// SplitLines splits raw input text into one prompt per line. A trailing
// newline does not produce an empty final prompt, but empty lines between
// prompts are kept: each still embeds as a separator-only sequence, so row
// positions stay aligned with the input.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}

	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}
