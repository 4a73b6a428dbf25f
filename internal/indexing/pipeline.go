package indexing

import (
	"context"
	"fmt"

	"github.com/lodestar-kb/lodestar/internal/observability"
)

// DocumentMetadata is the record-of-truth row upserted for one document on
// every successful indexing run.
type DocumentMetadata struct {
	ConnectorID        int
	CredentialID       int
	DocumentID         string
	SemanticIdentifier string
	FirstLink          string
	PrimaryOwners      []string
	SecondaryOwners    []string
}

// RecordTx is one record-of-truth transaction. Advisory locks taken through
// LockDocuments are held until Commit or Rollback.
type RecordTx interface {
	LockDocuments(ctx context.Context, documentIDs []string) error
	UpsertDocuments(ctx context.Context, batch []DocumentMetadata) error
	AccessForDocuments(ctx context.Context, documentIDs []string) (map[string][]string, error)
	DocumentSetsForDocuments(ctx context.Context, documentIDs []string) (map[string][]string, error)
	Commit() error
	Rollback() error
}

// RecordStore opens record-of-truth transactions.
type RecordStore interface {
	Begin(ctx context.Context) (RecordTx, error)
}

// Pipeline drives one batch of documents from connector output to searchable
// chunks: lock, upsert metadata, chunk, embed, decorate with access and
// document-set state, and write to the engine.
type Pipeline struct {
	logger   *observability.Logger
	store    RecordStore
	chunker  Chunker
	embedder Embedder
	index    DocumentIndex
}

// NewPipeline wires a pipeline from its stages.
func NewPipeline(logger *observability.Logger, store RecordStore, chunker Chunker, embedder Embedder, index DocumentIndex) *Pipeline {
	return &Pipeline{
		logger:   logger,
		store:    store,
		chunker:  chunker,
		embedder: embedder,
		index:    index,
	}
}

// Result summarizes one pipeline run.
type Result struct {
	NewDocuments int
	TotalChunks  int
}

// Run indexes a batch of documents under one record-of-truth transaction.
// Documents are locked for the whole run so concurrent runs over overlapping
// batches serialize; the transaction commits only after the engine write
// succeeds, and every early return releases the locks via rollback.
func (p *Pipeline) Run(ctx context.Context, docs []*Document, attempt IndexAttemptMetadata) (Result, error) {
	for _, doc := range docs {
		if err := doc.Validate(); err != nil {
			return Result{}, fmt.Errorf("invalid document: %w", err)
		}
	}
	if len(docs) == 0 {
		return Result{}, nil
	}

	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
	}

	tx, err := p.store.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("begin indexing tx: %w", err)
	}
	defer tx.Rollback()

	if err := tx.LockDocuments(ctx, ids); err != nil {
		return Result{}, fmt.Errorf("lock documents: %w", err)
	}

	metadata := make([]DocumentMetadata, len(docs))
	for i, doc := range docs {
		metadata[i] = DocumentMetadata{
			ConnectorID:        attempt.ConnectorID,
			CredentialID:       attempt.CredentialID,
			DocumentID:         doc.ID,
			SemanticIdentifier: doc.SemanticIdentifier,
			FirstLink:          doc.FirstLink(),
			PrimaryOwners:      doc.PrimaryOwners,
			SecondaryOwners:    doc.SecondaryOwners,
		}
	}
	if err := tx.UpsertDocuments(ctx, metadata); err != nil {
		return Result{}, fmt.Errorf("upsert document metadata: %w", err)
	}

	// Chunk in document order so each document's chunks land contiguously
	// with ascending ids, which the engine's replace protocol requires.
	var chunks []Chunk
	for _, doc := range docs {
		docChunks, err := p.chunker.Chunk(doc)
		if err != nil {
			return Result{}, fmt.Errorf("chunk document %s: %w", doc.ID, err)
		}
		chunks = append(chunks, docChunks...)
	}
	if len(chunks) == 0 {
		p.logger.Warn().Int("documents", len(docs)).Msg("batch produced no chunks")
		if err := tx.Commit(); err != nil {
			return Result{}, fmt.Errorf("commit indexing tx: %w", err)
		}
		return Result{}, nil
	}

	embedded, err := p.embedder.Embed(ctx, chunks)
	if err != nil {
		return Result{}, fmt.Errorf("embed chunks: %w", err)
	}

	access, err := tx.AccessForDocuments(ctx, ids)
	if err != nil {
		return Result{}, fmt.Errorf("fetch access: %w", err)
	}
	sets, err := tx.DocumentSetsForDocuments(ctx, ids)
	if err != nil {
		return Result{}, fmt.Errorf("fetch document sets: %w", err)
	}

	decorated := make([]MetadataAwareChunk, len(embedded))
	for i, chunk := range embedded {
		decorated[i] = MetadataAwareChunk{
			EmbeddedChunk: chunk,
			Access:        access[chunk.Source.ID],
			DocumentSets:  sets[chunk.Source.ID],
		}
	}

	records, err := p.index.Index(ctx, decorated)
	if err != nil {
		return Result{}, fmt.Errorf("write chunks to engine: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("commit indexing tx: %w", err)
	}

	result := Result{TotalChunks: len(decorated)}
	for _, rec := range records {
		if !rec.AlreadyExisted {
			result.NewDocuments++
		}
	}

	p.logger.Info().
		Int("documents", len(docs)).
		Int("new_documents", result.NewDocuments).
		Int("chunks", result.TotalChunks).
		Msg("indexed batch")

	return result, nil
}
