package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lodestar-kb/lodestar/internal/indexing"
	"github.com/lodestar-kb/lodestar/internal/retrieval"
)

// newSearchCmd creates the search subcommand.
func newSearchCmd() *cobra.Command {
	var (
		modeName     string
		favorRecent  bool
		limit        int
		sources      []string
		documentSets []string
		acl          []string
		cutoffDays   int
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search indexed documents",
		Long: `Search runs one retrieval query against the engine.

Modes: keyword, semantic, hybrid, admin. Admin mode includes hidden chunks
and skips keyword editing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			query := args[0]

			mode, ok := indexing.ParseSearchMode(modeName)
			if !ok {
				return fmt.Errorf("unknown search mode %q", modeName)
			}

			filters := indexing.IndexFilters{
				AccessControlList: acl,
				SourceType:        sources,
				DocumentSet:       documentSets,
			}
			if cutoffDays > 0 {
				cutoff := time.Now().UTC().AddDate(0, 0, -cutoffDays)
				filters.TimeCutoff = &cutoff
			}

			cacheClient, err := buildCache()
			if err != nil {
				return err
			}
			defer cacheClient.Close()

			chunker, err := buildChunker()
			if err != nil {
				return err
			}

			service := retrieval.NewSearchService(
				buildEngineIndex(),
				buildEmbedder(chunker),
				cacheClient,
				logger,
				retrieval.ServiceConfig{
					EditKeywordQuery: cfg.Search.EditKeywordQuery,
					NumReturnedHits:  cfg.Search.NumReturnedHits,
					DistanceCutoff:   cfg.Search.DistanceCutoff,
					CacheTTL:         cfg.Cache.TTL,
					CacheEnabled:     true,
				},
			)

			chunks, err := service.Search(ctx, mode, query, filters, favorRecent, limit)
			if err != nil {
				return err
			}
			docs := retrieval.ChunksToSearchDocs(chunks)

			if outputJSON {
				return json.NewEncoder(os.Stdout).Encode(docs)
			}
			printSearchDocs(docs)
			return nil
		},
	}

	cmd.Flags().StringVarP(&modeName, "mode", "m", "hybrid", "search mode (keyword, semantic, hybrid, admin)")
	cmd.Flags().BoolVar(&favorRecent, "favor-recent", false, "boost recent documents")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum hits to return (default from config)")
	cmd.Flags().StringSliceVar(&sources, "source", nil, "restrict to source types")
	cmd.Flags().StringSliceVar(&documentSets, "document-set", nil, "restrict to document sets")
	cmd.Flags().StringSliceVar(&acl, "acl", nil, "access control entries of the caller")
	cmd.Flags().IntVar(&cutoffDays, "since-days", 0, "only documents updated in the last N days")

	return cmd
}

func printSearchDocs(docs []retrieval.SearchDoc) {
	if len(docs) == 0 {
		fmt.Println("no results")
		return
	}

	title := color.New(color.FgCyan, color.Bold)
	dim := color.New(color.Faint)
	score := color.New(color.FgGreen)

	for i, doc := range docs {
		title.Printf("%d. %s", i+1, doc.SemanticIdentifier)
		score.Printf("  (%.3f)\n", doc.Score)
		if doc.Link != "" {
			dim.Printf("   %s\n", doc.Link)
		}
		dim.Printf("   [%s] %s\n", doc.SourceType, doc.DocumentID)
		if doc.Blurb != "" {
			fmt.Printf("   %s\n", doc.Blurb)
		}
		for _, highlight := range doc.MatchHighlights {
			fmt.Printf("   > %s\n", highlight)
		}
		fmt.Println()
	}
}
