// Package main provides the lodestar CLI entrypoint.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lodestar-kb/lodestar/internal/cache"
	"github.com/lodestar-kb/lodestar/internal/config"
	"github.com/lodestar-kb/lodestar/internal/indexing"
	"github.com/lodestar-kb/lodestar/internal/indexing/tokenizer"
	"github.com/lodestar-kb/lodestar/internal/observability"
	"github.com/lodestar-kb/lodestar/internal/vespa"
)

// tokenizer encoding used for chunk token budgets
const tokenEncoding = "cl100k_base"

var (
	// Global flags
	cfgFile    string
	envFile    string
	outputJSON bool

	// Configuration and logger
	cfg    *config.Config
	logger *observability.Logger
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "lodestar",
	Short: "Lodestar CLI for document indexing and retrieval",
	Long: `Lodestar manages the indexing pipeline between document connectors
and the search engine.

Use this tool to:
- Deploy the engine schema bundle
- Index connector documents from a JSON batch file
- Run keyword, semantic, hybrid, and admin searches
- Update chunk metadata (boost, hidden, access, document sets) in place
- Delete documents and all their chunks
- Serve the search HTTP API`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("load env file: %w", err)
			}
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logFormat := cfg.Observability.LogFormat
		if outputJSON {
			logFormat = "json"
		}

		logger = observability.NewLogger(observability.LogConfig{
			Level:       cfg.Observability.LogLevel,
			Format:      logFormat,
			ServiceName: "lodestar",
		})

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: uses env vars)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "dotenv file to load before config")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	rootCmd.AddCommand(newDeployCmd())
	rootCmd.AddCommand(newIndexCmd())
	rootCmd.AddCommand(newSearchCmd())
	rootCmd.AddCommand(newUpdateCmd())
	rootCmd.AddCommand(newDeleteCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildEngineIndex wires the engine adapter from config.
func buildEngineIndex() *vespa.Index {
	return vespa.NewIndex(vespa.Config{
		Host:                  cfg.Engine.Host,
		Port:                  cfg.Engine.Port,
		TenantPort:            cfg.Engine.TenantPort,
		IndexName:             cfg.Engine.IndexName,
		DeploymentZipPath:     cfg.Engine.DeploymentZipPath,
		DocTimeDecay:          cfg.Search.DocTimeDecay,
		FavorRecentMultiplier: cfg.Search.FavorRecentMultiplier,
		NumReturnedHits:       cfg.Search.NumReturnedHits,
		BatchSize:             cfg.Indexing.BatchSize,
		NumWorkers:            cfg.Indexing.NumWorkers,
		UntimedDocCutoff:      time.Duration(cfg.Search.UntimedDocCutoffDays) * 24 * time.Hour,
		MaxSummaryLength:      cfg.Search.MaxSummaryLength,
	}, logger)
}

// buildChunker wires the section chunker from config.
func buildChunker() (*indexing.SectionChunker, error) {
	tok, err := tokenizer.New(tokenEncoding)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	return indexing.NewSectionChunker(tok, indexing.ChunkerConfig{
		ChunkSize:     cfg.Chunking.ChunkSize,
		ChunkOverlap:  cfg.Chunking.ChunkOverlap,
		BlurbSize:     cfg.Chunking.BlurbSize,
		MiniChunkSize: cfg.Chunking.MiniChunkSize,
	}), nil
}

// buildEmbedder wires the embedding client, with mini-chunk splitting from
// the chunker when enabled.
func buildEmbedder(chunker *indexing.SectionChunker) *indexing.APIEmbedder {
	var miniSplit func(string) []string
	if cfg.Chunking.MiniChunkSize > 0 {
		miniSplit = chunker.SplitMiniChunks
	}
	return indexing.NewAPIEmbedder(indexing.EmbedderConfig{
		BaseURL:     cfg.Embedding.BaseURL,
		APIKey:      cfg.Embedding.APIKey,
		Model:       cfg.Embedding.Model,
		QueryPrefix: cfg.Embedding.QueryPrefix,
		Timeout:     cfg.Embedding.Timeout,
	}, miniSplit)
}

// buildCache wires the configured cache driver.
func buildCache() (cache.Client, error) {
	switch cfg.Cache.Driver {
	case "redis":
		return cache.NewRedisClient(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			PoolSize: cfg.Cache.Redis.PoolSize,
		})
	default:
		return cache.NewMemoryClient(cfg.Cache.MaxEntries), nil
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the lodestar version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("lodestar v0.3.0")
		},
	}
}
