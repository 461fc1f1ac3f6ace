package esstore_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomlabs/ragstore/pkg/esstore"
)

func newStatusStore(t *testing.T, url string) *esstore.DocStatusStore {
	t.Helper()
	mgr := newManager(t, url)
	st, err := esstore.NewDocStatusStore(context.Background(), mgr, "doc_status", esstore.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestDocStatusUpsertNormalizes(t *testing.T) {
	var bulkLines []string
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if indexExists(w, r) {
			return
		}
		bulkLines = bulkOK(t, r, w)
	})

	st := newStatusStore(t, srv.URL)
	err := st.Upsert(context.Background(), map[string]map[string]any{
		"doc-1": {
			"status":  "PENDING",
			"content": "raw text that must not be stored here",
		},
	})
	require.NoError(t, err)
	require.Len(t, bulkLines, 2)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(bulkLines[1]), &doc))

	assert.NotContains(t, doc, "content", "non-schema fields are stripped")
	assert.Equal(t, map[string]any{}, doc["metadata"])
	assert.Equal(t, []any{}, doc["chunks_list"])
	assert.Equal(t, "", doc["content_summary"])
	assert.Equal(t, float64(0), doc["content_length"])
	assert.Equal(t, float64(0), doc["chunks_count"])
	assert.NotEmpty(t, doc["track_id"])
	assert.NotEmpty(t, doc["created_at"])
	assert.Equal(t, doc["created_at"], doc["updated_at"])
}

func TestDocStatusUpsertMigratesLegacyError(t *testing.T) {
	var bulkLines []string
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if indexExists(w, r) {
			return
		}
		bulkLines = bulkOK(t, r, w)
	})

	st := newStatusStore(t, srv.URL)
	err := st.Upsert(context.Background(), map[string]map[string]any{
		"legacy": {"status": "FAILED", "error": "boom"},
		"both":   {"status": "FAILED", "error": "old", "error_msg": "new"},
	})
	require.NoError(t, err)
	require.Len(t, bulkLines, 4)

	docs := map[string]map[string]any{}
	for i := 0; i < len(bulkLines); i += 2 {
		var meta map[string]struct {
			ID string `json:"_id"`
		}
		require.NoError(t, json.Unmarshal([]byte(bulkLines[i]), &meta))
		var doc map[string]any
		require.NoError(t, json.Unmarshal([]byte(bulkLines[i+1]), &doc))
		docs[meta["index"].ID] = doc
	}

	assert.Equal(t, "boom", docs["legacy"]["error_msg"])
	assert.NotContains(t, docs["legacy"], "error")

	assert.Equal(t, "new", docs["both"]["error_msg"], "existing error_msg must not be clobbered")
	assert.NotContains(t, docs["both"], "error")
}

func TestDocStatusGetByIDAppliesReadDefaults(t *testing.T) {
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if indexExists(w, r) {
			return
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"_id":   "doc-1",
			"found": true,
			"_source": map[string]any{
				"status": "COMPLETED",
				"error":  "stored by an old writer",
			},
		})
	})

	st := newStatusStore(t, srv.URL)
	status, err := st.GetByID(context.Background(), "doc-1")
	require.NoError(t, err)
	require.NotNil(t, status)

	assert.Equal(t, esstore.DocStatusCompleted, status.Status)
	assert.Equal(t, "no-file-path", status.FilePath)
	assert.NotNil(t, status.Metadata)
	assert.Equal(t, "stored by an old writer", status.ErrorMsg)
}

func TestDocStatusGetByIDs(t *testing.T) {
	available := map[string]map[string]any{
		"a": {"status": "PENDING", "file_path": "a.txt"},
		"c": {"status": "FAILED", "file_path": "c.txt"},
	}
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if indexExists(w, r) {
			return
		}
		writeJSON(t, w, http.StatusOK, mgetDocs(t, r, available))
	})

	st := newStatusStore(t, srv.URL)
	statuses, err := st.GetByIDs(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, statuses, 3)
	assert.Equal(t, esstore.DocStatusPending, statuses[0].Status)
	assert.Nil(t, statuses[1])
	assert.Equal(t, esstore.DocStatusFailed, statuses[2].Status)
}

func TestDocStatusFilterPending(t *testing.T) {
	available := map[string]map[string]any{
		"done":    {"status": "COMPLETED"},
		"working": {"status": "PROCESSING"},
		"failed":  {"status": "FAILED"},
	}
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if indexExists(w, r) {
			return
		}
		writeJSON(t, w, http.StatusOK, mgetDocs(t, r, available))
	})

	st := newStatusStore(t, srv.URL)
	pending, err := st.FilterPending(context.Background(), []string{"done", "working", "failed", "unseen"})
	require.NoError(t, err)
	assert.Equal(t, []string{"working", "failed", "unseen"}, pending)
}

func TestDocStatusCounts(t *testing.T) {
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if indexExists(w, r) {
			return
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"hits": map[string]any{"total": map[string]any{"value": 10}, "hits": []any{}},
			"aggregations": map[string]any{
				"status_counts": map[string]any{
					"buckets": []map[string]any{
						{"key": "COMPLETED", "doc_count": 7},
						{"key": "FAILED", "doc_count": 3},
					},
				},
			},
		})
	})

	st := newStatusStore(t, srv.URL)
	counts, err := st.StatusCounts(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 7, counts["COMPLETED"])
	assert.Equal(t, 3, counts["FAILED"])
	assert.Equal(t, 0, counts["PENDING"])
	assert.Equal(t, 0, counts["PROCESSING"])
	assert.Equal(t, 10, counts[esstore.StatusCountsAll])

	sum := 0
	for k, v := range counts {
		if k != esstore.StatusCountsAll {
			sum += v
		}
	}
	assert.Equal(t, counts[esstore.StatusCountsAll], sum)
}

// statusBackend serves a fixed corpus through search and scroll.
func statusBackend(t *testing.T, corpus []map[string]any) *esstore.DocStatusStore {
	t.Helper()
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if indexExists(w, r) {
			return
		}
		switch {
		case strings.HasSuffix(r.URL.Path, "/_search"):
			var req struct {
				Query json.RawMessage `json:"query"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

			matched := filterCorpus(t, corpus, req.Query)
			writeJSON(t, w, http.StatusOK, searchPage("cursor", len(matched), matched))
		case r.Method == http.MethodDelete && strings.Contains(r.URL.Path, "/_search/scroll"):
			writeJSON(t, w, http.StatusOK, map[string]any{"succeeded": true})
		case strings.HasSuffix(r.URL.Path, "/_search/scroll"):
			writeJSON(t, w, http.StatusOK, searchPage("cursor", 0, nil))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})
	return newStatusStore(t, srv.URL)
}

// filterCorpus applies a match_all or single-field term query.
func filterCorpus(t *testing.T, corpus []map[string]any, raw json.RawMessage) []map[string]any {
	t.Helper()
	var q struct {
		Term map[string]any `json:"term"`
	}
	require.NoError(t, json.Unmarshal(raw, &q))
	if len(q.Term) == 0 {
		return corpus
	}

	out := []map[string]any{}
	for field, want := range q.Term {
		for _, doc := range corpus {
			if doc[field] == want {
				out = append(out, doc)
			}
		}
	}
	return out
}

func TestDocStatusByStatusAndTrackID(t *testing.T) {
	corpus := []map[string]any{
		{"_id": "a", "status": "PENDING", "track_id": "t1"},
		{"_id": "b", "status": "COMPLETED", "track_id": "t1"},
		{"_id": "c", "status": "PENDING", "track_id": "t2"},
	}
	st := statusBackend(t, corpus)

	pending, err := st.ByStatus(context.Background(), esstore.DocStatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
	assert.Contains(t, pending, "a")
	assert.Contains(t, pending, "c")

	tracked, err := st.ByTrackID(context.Background(), "t1")
	require.NoError(t, err)
	assert.Len(t, tracked, 2)

	all, err := st.AllStatuses(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDocStatusPaginated(t *testing.T) {
	corpus := make([]map[string]any, 0, 25)
	for i := 0; i < 25; i++ {
		corpus = append(corpus, map[string]any{
			"_id":        fmt.Sprintf("doc-%02d", i),
			"status":     "COMPLETED",
			"updated_at": fmt.Sprintf("2026-01-%02dT00:00:00Z", i+1),
		})
	}
	st := statusBackend(t, corpus)

	// Concatenated ascending pages reproduce the full set in order.
	var seen []string
	for page := 1; ; page++ {
		entries, total, err := st.Paginated(context.Background(), nil, page, 10, "updated_at", "asc")
		require.NoError(t, err)
		assert.Equal(t, 25, total)
		if len(entries) == 0 {
			break
		}
		for _, e := range entries {
			seen = append(seen, e.ID)
		}
	}
	require.Len(t, seen, 25)
	for i, id := range seen {
		assert.Equal(t, fmt.Sprintf("doc-%02d", i), id)
	}

	// Descending puts the newest first.
	entries, total, err := st.Paginated(context.Background(), nil, 1, 10, "updated_at", "desc")
	require.NoError(t, err)
	assert.Equal(t, 25, total)
	require.NotEmpty(t, entries)
	assert.Equal(t, "doc-24", entries[0].ID)

	// Out-of-range pages are clamped or empty, never an error.
	entries, total, err = st.Paginated(context.Background(), nil, 99, 10, "updated_at", "asc")
	require.NoError(t, err)
	assert.Equal(t, 25, total)
	assert.Empty(t, entries)

	entries, _, err = st.Paginated(context.Background(), nil, -3, 5, "bogus_field", "asc")
	require.NoError(t, err)
	assert.Len(t, entries, 10, "page and page size are clamped")
}

func TestDocStatusPaginatedStatusFilter(t *testing.T) {
	corpus := []map[string]any{
		{"_id": "a", "status": "FAILED", "updated_at": "2026-01-01T00:00:00Z"},
		{"_id": "b", "status": "COMPLETED", "updated_at": "2026-01-02T00:00:00Z"},
		{"_id": "c", "status": "FAILED", "updated_at": "2026-01-03T00:00:00Z"},
	}
	st := statusBackend(t, corpus)

	failed := esstore.DocStatusFailed
	entries, total, err := st.Paginated(context.Background(), &failed, 1, 10, "updated_at", "desc")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, entries, 2)
	assert.Equal(t, "c", entries[0].ID)
	assert.Equal(t, "a", entries[1].ID)
}

func TestDocStatusByFilePath(t *testing.T) {
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if indexExists(w, r) {
			return
		}
		var req struct {
			Query struct {
				Term map[string]string `json:"term"`
			} `json:"query"`
			Size int `json:"size"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 1, req.Size)

		if req.Query.Term["file_path"] == "docs/readme.md" {
			writeJSON(t, w, http.StatusOK, searchPage("", 1, []map[string]any{
				{"_id": "doc-1", "status": "COMPLETED", "file_path": "docs/readme.md"},
			}))
			return
		}
		writeJSON(t, w, http.StatusOK, searchPage("", 0, nil))
	})

	st := newStatusStore(t, srv.URL)

	entry, err := st.ByFilePath(context.Background(), "docs/readme.md")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "doc-1", entry.ID)
	assert.Equal(t, "docs/readme.md", entry.FilePath)

	entry, err = st.ByFilePath(context.Background(), "nope.md")
	require.NoError(t, err)
	assert.Nil(t, entry)
}
