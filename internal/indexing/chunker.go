package indexing

import (
	"github.com/lodestar-kb/lodestar/internal/indexing/tokenizer"
)

// SectionSeparator joins sections accumulated into one chunk.
const SectionSeparator = "\n\n"

// ChunkerConfig holds token budgets for the section chunker.
type ChunkerConfig struct {
	ChunkSize     int
	ChunkOverlap  int
	BlurbSize     int
	MiniChunkSize int
}

// SectionChunker accumulates document sections into chunks under a token
// budget, tracking the link of every section by its byte offset within the
// chunk content.
type SectionChunker struct {
	tok      tokenizer.Tokenizer
	cfg      ChunkerConfig
	splitter *sentenceSplitter
	blurber  *sentenceSplitter
	minier   *sentenceSplitter
}

// NewSectionChunker creates a chunker over the given tokenizer.
func NewSectionChunker(tok tokenizer.Tokenizer, cfg ChunkerConfig) *SectionChunker {
	return &SectionChunker{
		tok:      tok,
		cfg:      cfg,
		splitter: &sentenceSplitter{tok: tok, chunkSize: cfg.ChunkSize, overlap: cfg.ChunkOverlap},
		blurber:  &sentenceSplitter{tok: tok, chunkSize: cfg.BlurbSize},
		minier:   &sentenceSplitter{tok: tok, chunkSize: cfg.MiniChunkSize},
	}
}

// Chunk splits a document into ordered chunks. Empty sections are skipped; a
// document with no sections produces no chunks.
func (c *SectionChunker) Chunk(doc *Document) ([]Chunk, error) {
	var chunks []Chunk
	linkOffsets := map[int]string{}
	chunkText := ""

	flush := func() {
		if chunkText == "" {
			return
		}
		chunks = append(chunks, Chunk{
			Source:              doc,
			ChunkID:             len(chunks),
			Blurb:               c.extractBlurb(chunkText),
			Content:             chunkText,
			SourceLinks:         linkOffsets,
			SectionContinuation: false,
		})
		linkOffsets = map[int]string{}
		chunkText = ""
	}

	for _, section := range doc.Sections {
		if section.Text == "" {
			continue
		}

		sectionTokens := c.tok.CountTokens(section.Text)

		// Over-budget sections are self-contained: they never share a chunk
		// with neighbors and are split alone, sentence-aware.
		if sectionTokens > c.cfg.ChunkSize {
			flush()
			blurb := c.extractBlurb(section.Text)
			for i, piece := range c.splitter.Split(section.Text) {
				chunks = append(chunks, Chunk{
					Source:              doc,
					ChunkID:             len(chunks),
					Blurb:               blurb,
					Content:             piece,
					SourceLinks:         map[int]string{0: section.Link},
					SectionContinuation: i != 0,
				})
			}
			continue
		}

		currentTokens := c.tok.CountTokens(chunkText)
		separatorTokens := c.tok.CountTokens(SectionSeparator)

		if currentTokens+separatorTokens+sectionTokens <= c.cfg.ChunkSize {
			offset := 0
			if chunkText != "" {
				offset = len(chunkText) + len(SectionSeparator)
				chunkText += SectionSeparator + section.Text
			} else {
				chunkText = section.Text
			}
			linkOffsets[offset] = section.Link
		} else {
			flush()
			linkOffsets = map[int]string{0: section.Link}
			chunkText = section.Text
		}
	}

	flush()
	return chunks, nil
}

// SplitMiniChunks windows chunk content into mini-chunk texts for finer
// within-chunk vector matching. Returns nil when mini-chunks are disabled.
func (c *SectionChunker) SplitMiniChunks(content string) []string {
	if c.cfg.MiniChunkSize <= 0 {
		return nil
	}
	return c.minier.Split(content)
}

func (c *SectionChunker) extractBlurb(text string) string {
	pieces := c.blurber.Split(text)
	if len(pieces) == 0 {
		return ""
	}
	return pieces[0]
}
