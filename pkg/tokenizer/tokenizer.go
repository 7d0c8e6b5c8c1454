package tokenizer

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer provides token counting functionality
type Tokenizer struct {
	encoding     *tiktoken.Tiktoken
	encodingName string
}

// NewTokenizer creates a new tokenizer for the given model
func NewTokenizer(model string) (*Tokenizer, error) {
	var encodingName string

	// Map model names to appropriate encodings
	switch {
	case strings.Contains(model, "gpt-4o"), strings.Contains(model, "o1"):
		encodingName = "o200k_base"
	case strings.Contains(model, "gpt-4"), strings.Contains(model, "gpt-3.5"):
		encodingName = "cl100k_base"
	default:
		// Reasonable default for OpenAI-compatible local models
		encodingName = "cl100k_base"
	}

	encoding, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("failed to get encoding %s: %w", encodingName, err)
	}

	return &Tokenizer{
		encoding:     encoding,
		encodingName: encodingName,
	}, nil
}

// CountTokens counts tokens in a text string
func (t *Tokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}

	tokens := t.encoding.Encode(text, nil, nil)
	return len(tokens)
}

// CountTurnTokens counts tokens for one chat turn, including the role and
// the per-message formatting overhead the chat API adds (~4 tokens).
func (t *Tokenizer) CountTurnTokens(role, content string) int {
	const formatOverhead = 4
	return t.CountTokens(content) + t.CountTokens(role) + formatOverhead
}

// TruncateToTokenLimit truncates text to fit within a token limit
func (t *Tokenizer) TruncateToTokenLimit(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}

	tokens := t.encoding.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}

	return t.encoding.Decode(tokens[:maxTokens])
}

// EncodingName returns the tiktoken encoding in use
func (t *Tokenizer) EncodingName() string {
	return t.encodingName
}
