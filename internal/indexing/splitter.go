package indexing

import (
	"strings"

	"github.com/lodestar-kb/lodestar/internal/indexing/tokenizer"
)

// sentenceSplitter windows text into token-budgeted pieces on sentence
// boundaries. Only a single sentence that itself exceeds the budget may
// produce a piece over the budget limit, and that case is handled by falling
// back to raw token windows.
type sentenceSplitter struct {
	tok       tokenizer.Tokenizer
	chunkSize int
	overlap   int
}

// Split returns ordered pieces of text, each at most chunkSize tokens unless
// derived from an irreducible over-budget sentence. Consecutive pieces share
// up to overlap tokens of trailing sentences.
func (s *sentenceSplitter) Split(text string) []string {
	sentences := splitSentences(text)

	var out []string
	var cur []string
	curTokens := 0

	flush := func() {
		if len(cur) == 0 {
			return
		}
		piece := strings.TrimSpace(strings.Join(cur, ""))
		if piece != "" {
			out = append(out, piece)
		}
	}

	for _, sentence := range sentences {
		n := s.tok.CountTokens(sentence)

		if n > s.chunkSize {
			// Irreducible sentence: emit what we have, then window by tokens.
			flush()
			cur, curTokens = nil, 0
			for _, w := range s.splitTokenWindows(sentence) {
				w = strings.TrimSpace(w)
				if w != "" {
					out = append(out, w)
				}
			}
			continue
		}

		if curTokens+n > s.chunkSize {
			flush()
			// The carry budget shrinks when the incoming sentence is large, so
			// carry plus sentence never exceeds the chunk size.
			budget := s.overlap
			if max := s.chunkSize - n; max < budget {
				budget = max
			}
			cur, curTokens = s.overlapTail(cur, budget)
		}
		cur = append(cur, sentence)
		curTokens += n
	}
	flush()

	return out
}

// overlapTail returns the trailing sentences of the previous window whose
// combined token count fits in budget.
func (s *sentenceSplitter) overlapTail(prev []string, budget int) ([]string, int) {
	if budget <= 0 {
		return nil, 0
	}
	tail := 0
	tokens := 0
	for i := len(prev) - 1; i >= 0; i-- {
		n := s.tok.CountTokens(prev[i])
		if tokens+n > budget {
			break
		}
		tokens += n
		tail++
	}
	if tail == 0 {
		return nil, 0
	}
	carry := make([]string, tail)
	copy(carry, prev[len(prev)-tail:])
	return carry, tokens
}

// splitTokenWindows slices a sentence into fixed token windows with overlap.
func (s *sentenceSplitter) splitTokenWindows(sentence string) []string {
	ids := s.tok.Encode(sentence)
	step := s.chunkSize - s.overlap
	if step < 1 {
		step = s.chunkSize
	}

	var windows []string
	for start := 0; start < len(ids); start += step {
		end := start + s.chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		windows = append(windows, s.tok.Decode(ids[start:end]))
		if end == len(ids) {
			break
		}
	}
	return windows
}

// splitSentences slices text at sentence boundaries, preserving the original
// bytes: concatenating the returned slices reproduces text exactly.
func splitSentences(text string) []string {
	var sentences []string
	runes := []rune(text)
	start := 0

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' && r != '\n' {
			continue
		}
		// Consume trailing whitespace so it stays attached to this sentence.
		end := i + 1
		for end < len(runes) && (runes[end] == ' ' || runes[end] == '\t' || runes[end] == '\n') {
			end++
		}
		if end < len(runes) && end == i+1 && r != '\n' {
			// Punctuation not followed by whitespace (for example a decimal
			// point) is not a boundary.
			continue
		}
		sentences = append(sentences, string(runes[start:end]))
		start = end
		i = end - 1
	}
	if start < len(runes) {
		sentences = append(sentences, string(runes[start:]))
	}
	return sentences
}
