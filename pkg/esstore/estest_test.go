package esstore_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fathomlabs/ragstore/pkg/esstore"
)

// newBackend starts a fake Elasticsearch endpoint. The product header is
// required or the client rejects every response.
func newBackend(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newManager(t *testing.T, url string) *esstore.ConnManager {
	t.Helper()
	cfg := esstore.Config{Elasticsearch: esstore.ElasticsearchConfig{URL: url}}
	mgr, err := esstore.NewConnManager(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return mgr
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, body any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(body))
}

// indexExists answers the existence probe issued during store construction
// and reports whether it handled the request.
func indexExists(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return true
	}
	return false
}

// searchPage is one scroll page of _source documents keyed by id.
func searchPage(scrollID string, total int, docs []map[string]any) map[string]any {
	hits := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		id, _ := d["_id"].(string)
		src := make(map[string]any, len(d))
		for k, v := range d {
			if k != "_id" {
				src[k] = v
			}
		}
		hits = append(hits, map[string]any{"_id": id, "_source": src})
	}
	return map[string]any{
		"_scroll_id": scrollID,
		"hits": map[string]any{
			"total": map[string]any{"value": total},
			"hits":  hits,
		},
	}
}

// mgetDocs builds an _mget response for the requested ids from available.
func mgetDocs(t *testing.T, r *http.Request, available map[string]map[string]any) map[string]any {
	t.Helper()
	var req struct {
		IDs []string `json:"ids"`
	}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

	docs := make([]map[string]any, 0, len(req.IDs))
	for _, id := range req.IDs {
		if src, ok := available[id]; ok {
			docs = append(docs, map[string]any{"_id": id, "found": true, "_source": src})
		} else {
			docs = append(docs, map[string]any{"_id": id, "found": false})
		}
	}
	return map[string]any{"docs": docs}
}

// bulkOK acknowledges every action in an NDJSON bulk body.
func bulkOK(t *testing.T, r *http.Request, w http.ResponseWriter) []string {
	t.Helper()
	raw, err := io.ReadAll(r.Body)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	items := make([]map[string]any, 0)
	expectDoc := false
	for _, line := range lines {
		// An index action is followed by a document line with arbitrary
		// scalar fields; only action lines are inspected.
		if expectDoc {
			expectDoc = false
			continue
		}
		var action map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &action))
		switch {
		case action["index"] != nil:
			items = append(items, map[string]any{"index": map[string]any{"status": 200}})
			expectDoc = true
		case action["delete"] != nil:
			items = append(items, map[string]any{"delete": map[string]any{"status": 200}})
		default:
			t.Errorf("unexpected bulk action line %q", line)
		}
	}
	writeJSON(t, w, http.StatusOK, map[string]any{"errors": false, "items": items})
	return lines
}
