package esstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Paginated listing bounds.
const (
	minPageSize = 10
	maxPageSize = 200
)

// statusSchemaFields is the full doc_status schema. Fields outside this set
// (for example raw document content) are stripped on write.
var statusSchemaFields = map[string]struct{}{
	"file_path":           {},
	"status":              {},
	"content_summary":     {},
	"content_length":      {},
	"track_id":            {},
	"chunks_count":        {},
	"chunks_list":         {},
	"metadata":            {},
	"error_msg":           {},
	"created_at":          {},
	"updated_at":          {},
	"accreditation_level": {},
	"service":             {},
}

// DocStatusStore tracks per-document ingestion lifecycle in a dedicated
// index. It specializes the key-value primitives with input normalization,
// status aggregation, filtered retrieval, and paginated listing.
type DocStatusStore struct {
	*store
}

// NewDocStatusStore binds a status store to (namespace, workspace). Callers
// must Close the store to release the connection lease.
func NewDocStatusStore(ctx context.Context, mgr *ConnManager, namespace string, opts Options) (*DocStatusStore, error) {
	st, err := newStore(ctx, mgr, namespace, IndexKindDocStatus, opts)
	if err != nil {
		return nil, err
	}
	st.log.Debug("doc status store ready")
	return &DocStatusStore{store: st}, nil
}

// Upsert writes status records in one best-effort bulk request. Input is
// normalized first: absent fields get defaults (empty metadata, empty chunk
// list, empty summary, zero length, current ISO-8601 timestamps, generated
// track id), fields outside the status schema are stripped, and a legacy
// "error" field migrates to "error_msg" without clobbering an existing
// non-empty value.
func (s *DocStatusStore) Upsert(ctx context.Context, data map[string]map[string]any) error {
	if len(data) == 0 {
		return nil
	}
	s.log.Debug("upserting doc statuses", zap.Int("count", len(data)))

	now := time.Now().UTC().Format(time.RFC3339)
	ops := make([]bulkOp, 0, len(data))
	for id, fields := range data {
		ops = append(ops, bulkOp{action: "index", id: id, doc: normalizeStatusWrite(fields, now)})
	}

	failed, err := s.bulk(ctx, ops)
	if err != nil {
		s.log.Error("bulk status upsert failed", zap.Error(err))
		return err
	}
	if failed > 0 {
		s.log.Warn("failed to index doc statuses", zap.Int("failed", failed), zap.Int("total", len(ops)))
	}
	return nil
}

// GetByID returns the processing status stored under id, or nil when absent.
func (s *DocStatusStore) GetByID(ctx context.Context, id string) (*DocProcessingStatus, error) {
	ctx, cancel := s.reqCtx(ctx)
	defer cancel()

	res, err := s.client.Get(s.index, id, s.client.Get.WithContext(ctx))
	if err != nil {
		s.log.Error("status get failed", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("%w: get %s: %v", ErrBackendRequest, id, err)
	}
	if res.StatusCode == http.StatusNotFound {
		drainBody(res.Body)
		return nil, nil
	}

	var out getResponse
	if err := decodeResponse(res, &out); err != nil {
		s.log.Error("status get failed", zap.String("id", id), zap.Error(err))
		return nil, err
	}
	st, err := decodeStatusSource(out.Source)
	if err != nil {
		s.log.Error("status get failed", zap.String("id", id), zap.Error(err))
		return nil, err
	}
	return st, nil
}

// GetByIDs returns statuses positionally aligned with ids, nil for missing
// ones, in a single batched lookup.
func (s *DocStatusStore) GetByIDs(ctx context.Context, ids []string) ([]*DocProcessingStatus, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	res, err := s.mget(ctx, ids, nil, true)
	if err != nil {
		s.log.Error("status mget failed", zap.Error(err))
		return make([]*DocProcessingStatus, len(ids)), err
	}

	byID := make(map[string]*DocProcessingStatus, len(res.Docs))
	for _, d := range res.Docs {
		if !d.Found {
			continue
		}
		st, derr := decodeStatusSource(d.Source)
		if derr != nil {
			s.log.Warn("skipping undecodable status", zap.String("id", d.ID), zap.Error(derr))
			continue
		}
		byID[d.ID] = st
	}

	ordered := make([]*DocProcessingStatus, len(ids))
	for i, id := range ids {
		ordered[i] = byID[id]
	}
	return ordered, nil
}

// FilterPending returns the keys that still need processing: absent from
// storage or stored with a status other than COMPLETED. On backend failure
// every key is returned.
func (s *DocStatusStore) FilterPending(ctx context.Context, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	res, err := s.mget(ctx, keys, []string{"status"}, true)
	if err != nil {
		s.log.Error("filter pending failed", zap.Error(err))
		return keys, err
	}

	done := make(map[string]struct{}, len(res.Docs))
	for _, d := range res.Docs {
		if !d.Found {
			continue
		}
		var src struct {
			Status DocStatus `json:"status"`
		}
		if json.Unmarshal(d.Source, &src) == nil && src.Status == DocStatusCompleted {
			done[d.ID] = struct{}{}
		}
	}

	pending := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := done[k]; !ok {
			pending = append(pending, k)
		}
	}
	return pending, nil
}

// AllStatuses returns every status record keyed by document id.
func (s *DocStatusStore) AllStatuses(ctx context.Context) (map[string]DocProcessingStatus, error) {
	return s.listBy(ctx, map[string]any{"match_all": map[string]any{}})
}

// ByStatus returns the statuses of all documents in the given lifecycle state.
func (s *DocStatusStore) ByStatus(ctx context.Context, status DocStatus) (map[string]DocProcessingStatus, error) {
	return s.listBy(ctx, map[string]any{"term": map[string]any{"status": string(status)}})
}

// ByTrackID returns the statuses of all documents sharing an ingestion
// track id.
func (s *DocStatusStore) ByTrackID(ctx context.Context, trackID string) (map[string]DocProcessingStatus, error) {
	return s.listBy(ctx, map[string]any{"term": map[string]any{"track_id": trackID}})
}

// listBy pages through every record matching an equality filter. On failure
// the records read so far are returned.
func (s *DocStatusStore) listBy(ctx context.Context, query map[string]any) (map[string]DocProcessingStatus, error) {
	result := make(map[string]DocProcessingStatus)
	err := s.scan(ctx, query, func(h hit) error {
		st, derr := decodeStatusSource(h.Source)
		if derr != nil {
			return derr
		}
		result[h.ID] = *st
		return nil
	})
	if err != nil {
		s.log.Error("status listing failed", zap.Error(err))
	}
	return result, err
}

// StatusCounts returns the number of documents per lifecycle state,
// zero-filled for every known status, plus an "all" total.
func (s *DocStatusStore) StatusCounts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int, len(KnownStatuses())+1)
	for _, st := range KnownStatuses() {
		counts[string(st)] = 0
	}
	counts[StatusCountsAll] = 0

	ctx, cancel := s.reqCtx(ctx)
	defer cancel()

	body := map[string]any{
		"size": 0,
		"aggs": map[string]any{
			"status_counts": map[string]any{
				"terms": map[string]any{"field": "status", "size": 10},
			},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return counts, fmt.Errorf("encoding aggregation: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		s.log.Error("status counts failed", zap.Error(err))
		return counts, fmt.Errorf("%w: status counts: %v", ErrBackendRequest, err)
	}
	var out searchResponse
	if err := decodeResponse(res, &out); err != nil {
		s.log.Error("status counts failed", zap.Error(err))
		return counts, err
	}

	var agg termsAggregation
	if raw, ok := out.Aggregations["status_counts"]; ok {
		if err := json.Unmarshal(raw, &agg); err != nil {
			s.log.Error("status counts failed", zap.Error(err))
			return counts, fmt.Errorf("%w: decoding aggregation: %v", ErrBackendRequest, err)
		}
	}

	total := 0
	for _, b := range agg.Buckets {
		counts[b.Key] = b.DocCount
		total += b.DocCount
	}
	counts[StatusCountsAll] = total
	return counts, nil
}

// Paginated returns one page of status records plus the total matching
// count. page is clamped to >= 1 and pageSize to [10, 200]; an unrecognized
// sortField falls back to updated_at; missing sort keys sort lowest.
//
// The full filtered set is fetched and sorted in memory, which keeps
// tie-breaking deterministic but puts a scalability ceiling on very large
// corpora.
func (s *DocStatusStore) Paginated(ctx context.Context, statusFilter *DocStatus, page, pageSize int, sortField, sortDirection string) ([]DocStatusEntry, int, error) {
	ctx, span := tracer.Start(ctx, "DocStatusStore.Paginated")
	defer span.End()
	span.SetAttributes(attribute.String("index", s.index), attribute.Int("page", page))

	if page < 1 {
		page = 1
	}
	if pageSize < minPageSize {
		pageSize = minPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	switch sortField {
	case "created_at", "updated_at", "id":
	default:
		sortField = "updated_at"
	}
	ascending := sortDirection == "asc"

	query := map[string]any{"match_all": map[string]any{}}
	if statusFilter != nil {
		query = map[string]any{"term": map[string]any{"status": string(*statusFilter)}}
	}

	byID, err := s.listBy(ctx, query)
	if err != nil {
		return nil, 0, err
	}

	entries := make([]DocStatusEntry, 0, len(byID))
	for id, st := range byID {
		entries = append(entries, DocStatusEntry{ID: id, DocProcessingStatus: st})
	}

	sort.Slice(entries, func(i, j int) bool {
		ki, kj := statusSortKey(entries[i], sortField), statusSortKey(entries[j], sortField)
		if ki != kj {
			if ascending {
				return ki < kj
			}
			return ki > kj
		}
		// Deterministic total order so concatenated pages have no
		// duplicates or gaps.
		if ascending {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].ID > entries[j].ID
	})

	total := len(entries)
	start := (page - 1) * pageSize
	if start >= total {
		return []DocStatusEntry{}, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return entries[start:end], total, nil
}

// statusSortKey extracts the requested sort key from an entry. Records
// missing the field yield the empty string, which sorts lowest.
func statusSortKey(e DocStatusEntry, field string) string {
	switch field {
	case "created_at":
		return e.CreatedAt
	case "id":
		return e.ID
	default:
		return e.UpdatedAt
	}
}

// ByFilePath returns the single status record matching an exact file path,
// or nil when no document has that path.
func (s *DocStatusStore) ByFilePath(ctx context.Context, path string) (*DocStatusEntry, error) {
	ctx, cancel := s.reqCtx(ctx)
	defer cancel()

	body := map[string]any{
		"query": map[string]any{"term": map[string]any{"file_path": path}},
		"size":  1,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		s.log.Error("file path lookup failed", zap.String("file_path", path), zap.Error(err))
		return nil, fmt.Errorf("%w: file path lookup: %v", ErrBackendRequest, err)
	}
	var out searchResponse
	if err := decodeResponse(res, &out); err != nil {
		s.log.Error("file path lookup failed", zap.String("file_path", path), zap.Error(err))
		return nil, err
	}
	if len(out.Hits.Hits) == 0 {
		return nil, nil
	}

	h := out.Hits.Hits[0]
	st, err := decodeStatusSource(h.Source)
	if err != nil {
		return nil, err
	}
	return &DocStatusEntry{ID: h.ID, DocProcessingStatus: *st}, nil
}

// Delete removes status records by id. Missing ids are not errors.
func (s *DocStatusStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	ops := make([]bulkOp, 0, len(ids))
	for _, id := range ids {
		ops = append(ops, bulkOp{action: "delete", id: id})
	}
	failed, err := s.bulk(ctx, ops)
	if err != nil {
		s.log.Error("bulk status delete failed", zap.Error(err))
		return err
	}
	if failed > 0 {
		s.log.Warn("failed to delete doc statuses", zap.Int("failed", failed))
	}
	return nil
}

// Drop deletes all status records in the index.
func (s *DocStatusStore) Drop(ctx context.Context) DropResult {
	return s.dropAll(ctx, "doc statuses")
}

// Refresh makes recent writes visible to search.
func (s *DocStatusStore) Refresh(ctx context.Context) {
	s.refresh(ctx)
}

// normalizeStatusWrite prepares one status payload for indexing.
func normalizeStatusWrite(fields map[string]any, now string) map[string]any {
	doc := make(map[string]any, len(statusSchemaFields))
	for k, v := range fields {
		if _, ok := statusSchemaFields[k]; ok {
			doc[k] = v
		}
	}
	migrateLegacyError(doc, fields)

	if _, ok := doc["metadata"]; !ok {
		doc["metadata"] = map[string]any{}
	}
	if _, ok := doc["chunks_list"]; !ok {
		doc["chunks_list"] = []string{}
	}
	if _, ok := doc["content_summary"]; !ok {
		doc["content_summary"] = ""
	}
	if _, ok := doc["content_length"]; !ok {
		doc["content_length"] = 0
	}
	if _, ok := doc["chunks_count"]; !ok {
		doc["chunks_count"] = 0
	}
	if v, ok := doc["track_id"]; !ok || v == "" {
		doc["track_id"] = uuid.NewString()
	}
	if v, ok := doc["created_at"]; !ok || v == "" {
		doc["created_at"] = now
	}
	doc["updated_at"] = now
	return doc
}

// decodeStatusSource normalizes a raw stored document and decodes it.
func decodeStatusSource(raw json.RawMessage) (*DocProcessingStatus, error) {
	doc, err := decodeSource(raw)
	if err != nil {
		return nil, err
	}

	if _, ok := doc["file_path"]; !ok {
		doc["file_path"] = "no-file-path"
	}
	if _, ok := doc["metadata"]; !ok {
		doc["metadata"] = map[string]any{}
	}
	migrateLegacyError(doc, doc)

	buf, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: re-encoding status: %v", ErrBackendRequest, err)
	}
	var st DocProcessingStatus
	if err := json.Unmarshal(buf, &st); err != nil {
		return nil, fmt.Errorf("%w: decoding status: %v", ErrBackendRequest, err)
	}
	return &st, nil
}

// migrateLegacyError moves a legacy "error" field into "error_msg" unless a
// non-empty "error_msg" already exists. The legacy field never survives.
func migrateLegacyError(doc, src map[string]any) {
	legacy, ok := src["error"]
	if ok {
		if cur, exists := doc["error_msg"]; !exists || cur == nil || cur == "" {
			doc["error_msg"] = legacy
		}
	}
	delete(doc, "error")
}
