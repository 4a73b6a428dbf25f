package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/lodestar-kb/lodestar/internal/indexing"
	"github.com/lodestar-kb/lodestar/internal/observability"
	"github.com/lodestar-kb/lodestar/internal/retrieval"
)

// newServeCmd creates the serve subcommand.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the search HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
			server := &http.Server{
				Addr:         addr,
				Handler:      newRouter(service, logger),
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
			}

			logger.Info().Str("addr", addr).Msg("search API listening")
			return server.ListenAndServe()
		},
	}
}

// newRouter creates the search API router.
func newRouter(service *retrieval.SearchService, logger *observability.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"lodestar"}`))
	})

	r.Get("/search", searchHandler(service, logger))

	return r
}

// searchHandler runs one retrieval request from query parameters.
//
//	GET /search?q=…&mode=hybrid&limit=20&favor_recent=true
//	    &source=slack&document_set=eng&acl=u:alice&since_days=30
func searchHandler(service *retrieval.SearchService, logger *observability.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		query := q.Get("q")
		if query == "" {
			writeError(w, http.StatusBadRequest, "missing query parameter q")
			return
		}

		modeName := q.Get("mode")
		if modeName == "" {
			modeName = "hybrid"
		}
		mode, ok := indexing.ParseSearchMode(modeName)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown search mode %q", modeName))
			return
		}

		limit := 0
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}

		filters := indexing.IndexFilters{
			AccessControlList: q["acl"],
			SourceType:        q["source"],
			DocumentSet:       q["document_set"],
		}
		if v := q.Get("since_days"); v != "" {
			days, err := strconv.Atoi(v)
			if err != nil || days < 1 {
				writeError(w, http.StatusBadRequest, "since_days must be a positive integer")
				return
			}
			cutoff := time.Now().UTC().AddDate(0, 0, -days)
			filters.TimeCutoff = &cutoff
		}

		favorRecent := q.Get("favor_recent") == "true"

		chunks, err := service.Search(r.Context(), mode, query, filters, favorRecent, limit)
		if err != nil {
			logger.Error().Err(err).Str("query", query).Msg("search failed")
			writeError(w, http.StatusInternalServerError, "search failed")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"results": retrieval.ChunksToSearchDocs(chunks),
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
