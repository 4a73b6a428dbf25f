package vespa

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lodestar-kb/lodestar/internal/observability"
)

const testIndexName = "lodestar_chunk"

// fakeEngine is an in-memory stand-in for the engine's document and search
// APIs, covering exactly what the adapter exercises.
type fakeEngine struct {
	t *testing.T

	mu   sync.Mutex
	docs map[string]map[string]any // engine id -> fields

	// rejectContent, when non-empty, makes writes whose content contains it
	// fail with 400.
	rejectContent string

	postCount   int
	scanCount   int
	putBodies   []string
	queryParams []url.Values
	queryHits   []searchHit
}

func newFakeEngine(t *testing.T) *fakeEngine {
	return &fakeEngine{t: t, docs: map[string]map[string]any{}}
}

func (e *fakeEngine) server() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(e.handle))
}

func (e *fakeEngine) handle(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasPrefix(r.URL.Path, "/document/v1/default/"+testIndexName+"/docid/"):
		e.handleDocument(w, r)
	case r.URL.Path == "/search/":
		e.handleSearch(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (e *fakeEngine) handleDocument(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/document/v1/default/"+testIndexName+"/docid/")

	e.mu.Lock()
	defer e.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		if _, ok := e.docs[id]; !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `{"id":"id:default:%s::%s"}`, testIndexName, id)

	case http.MethodPost:
		e.postCount++
		var payload struct {
			Fields map[string]any `json:"fields"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if e.rejectContent != "" {
			if content, _ := payload.Fields[fieldContent].(string); strings.Contains(content, e.rejectContent) {
				http.Error(w, "bad content", http.StatusBadRequest)
				return
			}
		}
		e.docs[id] = payload.Fields

	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, ok := e.docs[id]; !ok {
			http.NotFound(w, r)
			return
		}
		e.putBodies = append(e.putBodies, string(body))

	case http.MethodDelete:
		delete(e.docs, id)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (e *fakeEngine) handleSearch(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	yql := params.Get("yql")

	e.mu.Lock()
	defer e.mu.Unlock()

	// chunk id scans project only documentid
	if strings.HasPrefix(yql, "select documentid from") {
		e.scanCount++
		docID := extractScanDocumentID(yql)
		offset, _ := strconv.Atoi(params.Get("offset"))
		hits, _ := strconv.Atoi(params.Get("hits"))

		var matching []string
		for id, fields := range e.docs {
			if fields[fieldDocumentID] == docID {
				matching = append(matching, id)
			}
		}

		var children []searchHit
		for i := offset; i < len(matching) && i < offset+hits; i++ {
			children = append(children, searchHit{
				Fields: map[string]any{
					"documentid": fmt.Sprintf("id:default:%s::%s", testIndexName, matching[i]),
				},
			})
		}
		writeSearchResponse(w, children)
		return
	}

	// retrieval queries return canned hits
	e.queryParams = append(e.queryParams, params)
	writeSearchResponse(w, e.queryHits)
}

func extractScanDocumentID(yql string) string {
	start := strings.Index(yql, "contains '")
	if start < 0 {
		return ""
	}
	rest := yql[start+len("contains '"):]
	return rest[:strings.Index(rest, "'")]
}

func writeSearchResponse(w http.ResponseWriter, children []searchHit) {
	var resp searchResponse
	resp.Root.Children = children
	json.NewEncoder(w).Encode(resp)
}

// chunkCount returns how many records a document holds.
func (e *fakeEngine) chunkCount(docID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, fields := range e.docs {
		if fields[fieldDocumentID] == docID {
			n++
		}
	}
	return n
}

// seedChunks plants pre-existing records for a document.
func (e *fakeEngine) seedChunks(docID string, count int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := 0; i < count; i++ {
		e.docs[ChunkUUID(docID, i).String()] = map[string]any{
			fieldDocumentID: docID,
			fieldChunkID:    i,
			fieldContent:    fmt.Sprintf("old content %d", i),
		}
	}
}

// newTestIndex points an adapter at the fake engine.
func newTestIndex(t *testing.T, serverURL string) *Index {
	t.Helper()

	u, err := url.Parse(serverURL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return NewIndex(Config{
		Host:                  host,
		Port:                  port,
		TenantPort:            port,
		IndexName:             testIndexName,
		DocTimeDecay:          0.5,
		FavorRecentMultiplier: 2.0,
		NumReturnedHits:       50,
		BatchSize:             128,
		NumWorkers:            8,
		UntimedDocCutoff:      92 * 24 * time.Hour,
		MaxSummaryLength:      400,
	}, observability.NopLogger())
}
