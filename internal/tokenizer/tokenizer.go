// Package tokenizer counts and truncates text in model tokens.
package tokenizer

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const fallbackEncoding = "o200k_base"

// Counter measures text in model tokens.
type Counter interface {
	Count(text string) int
}

// Truncator cuts text down to at most max tokens.
type Truncator interface {
	Counter
	Truncate(text string, max int) string
}

// Tiktoken counts with the BPE encoding of a model. When no encoding can be
// loaded it falls back to a len/4 estimate.
type Tiktoken struct {
	model string
	once  sync.Once
	enc   *tiktoken.Tiktoken
}

func NewTiktoken(model string) *Tiktoken {
	return &Tiktoken{model: model}
}

func (t *Tiktoken) encoding() *tiktoken.Tiktoken {
	t.once.Do(func() {
		enc, err := tiktoken.EncodingForModel(t.model)
		if err != nil {
			enc, err = tiktoken.GetEncoding(fallbackEncoding)
		}
		if err == nil {
			t.enc = enc
		}
	})
	return t.enc
}

func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	enc := t.encoding()
	if enc == nil {
		return Estimate(text)
	}
	return len(enc.Encode(text, nil, nil))
}

func (t *Tiktoken) Truncate(text string, max int) string {
	if max <= 0 {
		return ""
	}
	enc := t.encoding()
	if enc == nil {
		return truncateEstimate(text, max)
	}
	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= max {
		return text
	}
	return enc.Decode(tokens[:max])
}

// Estimate is the conservative len/4 approximation used without an encoding.
func Estimate(text string) int {
	return (len(text) + 3) / 4
}

func truncateEstimate(text string, max int) string {
	limit := max * 4
	if len(text) <= limit {
		return text
	}
	// back off to a rune boundary
	for limit > 0 && !isRuneStart(text[limit]) {
		limit--
	}
	return text[:limit]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// Func adapts a plain function to Counter; tests use it to count words.
type Func func(string) int

func (f Func) Count(text string) int { return f(text) }
