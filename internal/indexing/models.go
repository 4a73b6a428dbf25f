// Package indexing holds the document model and the ingestion pipeline that
// turns connector documents into engine-ready chunks.
package indexing

import (
	"fmt"
	"time"
)

// ACLPublic is the sentinel access entry meaning the chunk is visible to everyone.
const ACLPublic = "__public__"

// SourceType identifies the connector a document came from.
type SourceType string

const (
	SourceWeb        SourceType = "web"
	SourceSlack      SourceType = "slack"
	SourceGitHub     SourceType = "github"
	SourceConfluence SourceType = "confluence"
	SourceJira       SourceType = "jira"
	SourceFile       SourceType = "file"
)

// Section is one ordered span of a document. Order is semantically significant.
type Section struct {
	Text string
	Link string
}

// Document is a logical source record emitted by a connector.
type Document struct {
	ID                 string
	SemanticIdentifier string
	SourceType         SourceType
	Sections           []Section
	Metadata           map[string]string
	PrimaryOwners      []string
	SecondaryOwners    []string
	// DocUpdatedAt must be UTC when set. Connectors providing mixed-zone
	// timestamps are rejected at ingestion.
	DocUpdatedAt *time.Time
}

// Validate rejects documents that violate ingestion preconditions.
func (d *Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("document has no id")
	}
	if d.DocUpdatedAt != nil && d.DocUpdatedAt.Location() != time.UTC {
		return fmt.Errorf("document %s: connectors must provide update time in UTC", d.ID)
	}
	return nil
}

// Title returns the label stored in the engine's title field.
func (d *Document) Title() string {
	return d.SemanticIdentifier
}

// FirstLink returns the first non-empty section link, or "".
func (d *Document) FirstLink() string {
	for _, s := range d.Sections {
		if s.Link != "" {
			return s.Link
		}
	}
	return ""
}

// Chunk is a bounded segment of a document, the unit of retrieval. It carries
// a non-owning back-reference to its source document; decoration and the
// engine adapter look document fields up through it.
type Chunk struct {
	Source  *Document
	ChunkID int
	Blurb   string
	Content string
	// SourceLinks maps the byte offset of each section start within Content
	// to that section's link. Offset 0 is always present for non-empty chunks.
	SourceLinks map[int]string
	// SectionContinuation is true iff this chunk continues a section that was
	// split across chunks.
	SectionContinuation bool
}

// ShortDescriptor identifies a chunk in logs.
func (c *Chunk) ShortDescriptor() string {
	return fmt.Sprintf("%s chunk %d", c.Source.ID, c.ChunkID)
}

// ChunkEmbeddings holds the vectors attached to one chunk. Mini-chunk vectors
// live in the parent chunk's named-vector map; there are no separate
// mini-chunk records in the engine.
type ChunkEmbeddings struct {
	FullEmbedding       []float32
	MiniChunkEmbeddings [][]float32
}

// EmbeddedChunk is a chunk with its vectors attached.
type EmbeddedChunk struct {
	Chunk
	Embeddings ChunkEmbeddings
}

// MetadataAwareChunk is an embedded chunk decorated with the latest access and
// document-set state from the record-of-truth store.
type MetadataAwareChunk struct {
	EmbeddedChunk
	Access       []string
	DocumentSets []string
}

// IndexAttemptMetadata identifies the connector/credential pair an indexing
// batch runs under.
type IndexAttemptMetadata struct {
	ConnectorID  int
	CredentialID int
}
