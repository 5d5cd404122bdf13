package providers

import "strings"

// EstimateTokens approximates token counts without a model tokenizer:
// one token per ~4 characters, floored at the word count so short texts
// with many small words are not undercounted.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	byChars := len(text) / 4
	byWords := len(strings.Fields(text))
	if byWords > byChars {
		return byWords
	}
	if byChars == 0 {
		return 1
	}
	return byChars
}
