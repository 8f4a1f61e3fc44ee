// Package tokens estimates token usage for transcripts. Counts are
// approximate: providers tokenize differently and report their own usage.
package tokens

import (
	"math"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// wordFactor approximates tokens per whitespace separated word when no codec is usable.
const wordFactor = 1.3

// Counter counts tokens with the tiktoken codec matching a model, falling
// back to cl100k_base and finally to a word-count estimate.
type Counter struct {
	mu     sync.Mutex
	codecs map[string]tokenizer.Codec
}

func NewCounter() *Counter {
	return &Counter{codecs: make(map[string]tokenizer.Codec)}
}

// Count returns the approximate number of tokens in text for modelID.
func (c *Counter) Count(modelID, text string) int {
	if text == "" {
		return 0
	}
	codec := c.codecFor(modelID)
	if codec != nil {
		ids, _, err := codec.Encode(text)
		if err == nil {
			return len(ids)
		}
	}
	return Estimate(text)
}

// Estimate is the codec-free approximation: words x 1.3, rounded up.
func Estimate(text string) int {
	words := len(strings.Fields(text))
	return int(math.Ceil(float64(words) * wordFactor))
}

func (c *Counter) codecFor(modelID string) tokenizer.Codec {
	c.mu.Lock()
	defer c.mu.Unlock()

	if codec, ok := c.codecs[modelID]; ok {
		return codec
	}
	codec, err := tokenizer.ForModel(tokenizer.Model(modelID))
	if err != nil {
		codec, err = tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			codec = nil
		}
	}
	c.codecs[modelID] = codec
	return codec
}
