package provider

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter wraps a cached tiktoken encoding, giving providers a real
// tokenizer-backed CountTokens instead of the char/3 estimate the
// token-budget prefilter uses.
type TokenCounter struct {
	mu       sync.Mutex
	encoding *tiktoken.Tiktoken
}

// NewTokenCounter loads the named tiktoken encoding (e.g. "cl100k_base").
// Falls back to nil (triggering the char-based estimate) if the encoding
// cannot be loaded, since tokenizer data may be unavailable offline.
func NewTokenCounter(encodingName string) *TokenCounter {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return &TokenCounter{}
	}
	return &TokenCounter{encoding: enc}
}

// Count returns the tokenizer-backed token count for messages, falling
// back to the char/3 + per-message-overhead estimate when no encoding
// loaded.
func (c *TokenCounter) Count(messages []Message) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.encoding == nil {
		return estimateTotal(messages)
	}

	total := 0
	for _, m := range messages {
		total += len(c.encoding.Encode(m.Content, nil, nil)) + perMessageOverhead
	}
	return total
}
