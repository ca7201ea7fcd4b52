// Package tokenizer estimates token counts for stored messages.
package tokenizer

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const encodingName = "cl100k_base"

// Tiktoken counts tokens with the cl100k_base BPE encoding.
type Tiktoken struct {
	encoding *tiktoken.Tiktoken
}

func NewTiktoken() (*Tiktoken, error) {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, err
	}
	return &Tiktoken{encoding: enc}, nil
}

func (t *Tiktoken) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(t.encoding.Encode(text, nil, nil))
}

// Approx assumes roughly four characters per token. It needs no encoding
// files, so it serves when tiktoken cannot load its ranks.
type Approx struct{}

func (Approx) CountTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
