package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lodestar-kb/lodestar/internal/indexing"
	"github.com/lodestar-kb/lodestar/internal/storage"
)

// batchSection mirrors the connector JSON shape for one document section.
type batchSection struct {
	Text string `json:"text"`
	Link string `json:"link"`
}

// batchDocument mirrors the connector JSON shape for one document.
type batchDocument struct {
	ID                 string            `json:"id"`
	SemanticIdentifier string            `json:"semantic_identifier"`
	SourceType         string            `json:"source_type"`
	Sections           []batchSection    `json:"sections"`
	Metadata           map[string]string `json:"metadata"`
	PrimaryOwners      []string          `json:"primary_owners"`
	SecondaryOwners    []string          `json:"secondary_owners"`
	DocUpdatedAt       *time.Time        `json:"doc_updated_at"`
}

// newIndexCmd creates the index subcommand.
func newIndexCmd() *cobra.Command {
	var (
		batchFile    string
		connectorID  int
		credentialID int
	)

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index a batch of documents from a JSON file",
		Long: `Index runs the full pipeline on a JSON array of documents: lock,
metadata upsert, chunking, embedding, access decoration, and engine write.
Re-indexed documents are replaced, never appended to.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			data, err := os.ReadFile(batchFile)
			if err != nil {
				return fmt.Errorf("read batch file: %w", err)
			}
			var batch []batchDocument
			if err := json.Unmarshal(data, &batch); err != nil {
				return fmt.Errorf("parse batch file: %w", err)
			}

			docs := make([]*indexing.Document, len(batch))
			for i, d := range batch {
				sections := make([]indexing.Section, len(d.Sections))
				for j, s := range d.Sections {
					sections[j] = indexing.Section{Text: s.Text, Link: s.Link}
				}
				docs[i] = &indexing.Document{
					ID:                 d.ID,
					SemanticIdentifier: d.SemanticIdentifier,
					SourceType:         indexing.SourceType(d.SourceType),
					Sections:           sections,
					Metadata:           d.Metadata,
					PrimaryOwners:      d.PrimaryOwners,
					SecondaryOwners:    d.SecondaryOwners,
					DocUpdatedAt:       d.DocUpdatedAt,
				}
			}

			store, err := storage.Open(ctx, storage.Config{
				DSN:             cfg.Database.DSN,
				MaxOpenConns:    cfg.Database.MaxOpenConns,
				MaxIdleConns:    cfg.Database.MaxIdleConns,
				ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			})
			if err != nil {
				return err
			}
			defer store.Close()

			chunker, err := buildChunker()
			if err != nil {
				return err
			}

			pipeline := indexing.NewPipeline(logger, store, chunker, buildEmbedder(chunker), buildEngineIndex())
			result, err := pipeline.Run(ctx, docs, indexing.IndexAttemptMetadata{
				ConnectorID:  connectorID,
				CredentialID: credentialID,
			})
			if err != nil {
				return err
			}

			if outputJSON {
				return json.NewEncoder(os.Stdout).Encode(map[string]int{
					"new_documents": result.NewDocuments,
					"total_chunks":  result.TotalChunks,
				})
			}
			fmt.Printf("indexed %d documents (%d new), %d chunks\n",
				len(docs), result.NewDocuments, result.TotalChunks)
			return nil
		},
	}

	cmd.Flags().StringVarP(&batchFile, "file", "f", "", "JSON file with the document batch (required)")
	cmd.Flags().IntVar(&connectorID, "connector-id", 0, "connector id for this indexing attempt")
	cmd.Flags().IntVar(&credentialID, "credential-id", 0, "credential id for this indexing attempt")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
