// Package tokenizer counts tokens the way the downstream LLM sees them.
package tokenizer

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding matches the cl100k family used by the extraction backend.
const DefaultEncoding = "cl100k_base"

// Counter counts tokens in a text. Count never fails: when the BPE encoding
// cannot be loaded (offline hosts), an estimate based on rune classes is
// used instead.
type Counter struct {
	enc *tiktoken.Tiktoken
}

// New loads the named encoding, falling back to the estimator when the
// encoding data is unavailable.
func New(encoding string, log *slog.Logger) *Counter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		if log != nil {
			log.Warn("tiktoken encoding unavailable, using estimate", "encoding", encoding, "error", err)
		}
		return &Counter{}
	}
	return &Counter{enc: enc}
}

// Count returns the token count of text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c.enc == nil {
		return Estimate(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// Estimate approximates a BPE token count from rune classes: CJK ideographs
// run roughly 1.5 tokens each, everything else roughly a quarter token.
func Estimate(text string) int {
	var cjk, other int
	for _, r := range text {
		if r >= 0x4e00 && r <= 0x9fff {
			cjk++
		} else {
			other++
		}
	}
	return int(float64(cjk)*1.5 + float64(other)*0.25)
}
