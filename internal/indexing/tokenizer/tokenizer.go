// Package tokenizer wraps the BPE tokenizer used for chunk token budgets.
package tokenizer

import (
	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts and windows tokens for the chunker.
type Tokenizer interface {
	Encode(text string) []int
	Decode(ids []int) string
	CountTokens(text string) int
}

// Tiktoken is a Tokenizer backed by a tiktoken BPE encoding.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// New resolves an encoding by model name, falling back to treating the name
// as an encoding name. Use "cl100k_base" when unsure.
func New(name string) (*Tiktoken, error) {
	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		enc, err = tiktoken.GetEncoding(name)
		if err != nil {
			return nil, err
		}
	}
	return &Tiktoken{enc: enc}, nil
}

// Encode returns the token ids for text.
func (t *Tiktoken) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

// Decode converts token ids back to text.
func (t *Tiktoken) Decode(ids []int) string {
	return t.enc.Decode(ids)
}

// CountTokens returns the number of tokens in text.
func (t *Tiktoken) CountTokens(text string) int {
	return len(t.Encode(text))
}
