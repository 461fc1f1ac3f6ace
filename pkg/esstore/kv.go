package esstore

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// KVStore is a generic namespaced document store backed by one Elasticsearch
// index. Read operations convert backend faults into safe defaults (absent
// record, empty collection, unmodified key set) alongside the returned error,
// so one failing call never aborts the caller.
type KVStore struct {
	*store
}

// NewKVStore binds a key-value store to (namespace, workspace), acquiring a
// lease on the shared connection and provisioning the backing index. Callers
// must Close the store to release the lease.
func NewKVStore(ctx context.Context, mgr *ConnManager, namespace string, opts Options) (*KVStore, error) {
	st, err := newStore(ctx, mgr, namespace, IndexKindKV, opts)
	if err != nil {
		return nil, err
	}
	st.log.Debug("kv store ready")
	return &KVStore{store: st}, nil
}

// Get returns the record stored under id, or nil when absent.
func (s *KVStore) Get(ctx context.Context, id string) (map[string]any, error) {
	ctx, cancel := s.reqCtx(ctx)
	defer cancel()

	res, err := s.client.Get(s.index, id, s.client.Get.WithContext(ctx))
	if err != nil {
		s.log.Error("get failed", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("%w: get %s: %v", ErrBackendRequest, id, err)
	}
	if res.StatusCode == http.StatusNotFound {
		drainBody(res.Body)
		return nil, nil
	}

	var out getResponse
	if err := decodeResponse(res, &out); err != nil {
		s.log.Error("get failed", zap.String("id", id), zap.Error(err))
		return nil, err
	}
	doc, err := decodeSource(out.Source)
	if err != nil {
		s.log.Error("get failed", zap.String("id", id), zap.Error(err))
		return nil, err
	}
	applyTimeDefaults(doc)
	return doc, nil
}

// GetMany returns records positionally aligned with ids, with a nil
// placeholder for every missing id. The lookup is a single batched request.
func (s *KVStore) GetMany(ctx context.Context, ids []string) ([]map[string]any, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	res, err := s.mget(ctx, ids, nil, true)
	if err != nil {
		s.log.Error("mget failed", zap.Int("ids", len(ids)), zap.Error(err))
		return make([]map[string]any, len(ids)), err
	}

	byID := make(map[string]map[string]any, len(res.Docs))
	for _, d := range res.Docs {
		if !d.Found {
			continue
		}
		doc, derr := decodeSource(d.Source)
		if derr != nil {
			s.log.Warn("skipping undecodable record", zap.String("id", d.ID), zap.Error(derr))
			continue
		}
		applyTimeDefaults(doc)
		byID[d.ID] = doc
	}

	ordered := make([]map[string]any, len(ids))
	for i, id := range ids {
		ordered[i] = byID[id]
	}
	return ordered, nil
}

// FilterMissing returns the subset of keys not present in storage, preserving
// input order. On backend failure the whole key set is returned so callers
// never skip work they still need to do.
func (s *KVStore) FilterMissing(ctx context.Context, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	res, err := s.mget(ctx, keys, nil, false)
	if err != nil {
		s.log.Error("filter keys failed", zap.Error(err))
		return keys, err
	}

	existing := make(map[string]struct{}, len(res.Docs))
	for _, d := range res.Docs {
		if d.Found {
			existing[d.ID] = struct{}{}
		}
	}

	missing := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := existing[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing, nil
}

// GetAll returns every record in the index keyed by id, retrieved through a
// paging cursor. On failure the records read so far are returned.
func (s *KVStore) GetAll(ctx context.Context) (map[string]map[string]any, error) {
	result := make(map[string]map[string]any)
	err := s.scan(ctx, map[string]any{"match_all": map[string]any{}}, func(h hit) error {
		doc, derr := decodeSource(h.Source)
		if derr != nil {
			return derr
		}
		applyTimeDefaults(doc)
		result[h.ID] = doc
		return nil
	})
	if err != nil {
		s.log.Error("get all failed", zap.Error(err))
	}
	return result, err
}

// Upsert writes records in one best-effort bulk request, overwriting by id.
// update_time is set to now on every write; create_time is set to now only
// when the payload omits it. Note that the store never reads the existing
// record first, so omitting create_time on an update resets it — callers
// that care must resupply the original value.
//
// Per-item failures are logged and skipped, never returned as errors.
func (s *KVStore) Upsert(ctx context.Context, data map[string]map[string]any) error {
	if len(data) == 0 {
		return nil
	}
	s.log.Debug("upserting records", zap.Int("count", len(data)))

	now := time.Now().Unix()
	ops := make([]bulkOp, 0, len(data))
	for id, fields := range data {
		doc := make(map[string]any, len(fields)+2)
		maps.Copy(doc, fields)

		// Text-chunk records carry a cache-list field even when empty.
		if strings.HasSuffix(s.namespace, "text_chunks") {
			if _, ok := doc["llm_cache_list"]; !ok {
				doc["llm_cache_list"] = []string{}
			}
		}

		doc["update_time"] = now
		if _, ok := doc["create_time"]; !ok {
			doc["create_time"] = now
		}
		ops = append(ops, bulkOp{action: "index", id: id, doc: doc})
	}

	failed, err := s.bulk(ctx, ops)
	if err != nil {
		s.log.Error("bulk upsert failed", zap.Error(err))
		return err
	}
	if failed > 0 {
		s.log.Warn("failed to index documents", zap.Int("failed", failed), zap.Int("total", len(ops)))
	}
	return nil
}

// Delete removes the given ids in one bulk request. Missing ids are not
// errors.
func (s *KVStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	ops := make([]bulkOp, 0, len(ids))
	for _, id := range ids {
		ops = append(ops, bulkOp{action: "delete", id: id})
	}

	failed, err := s.bulk(ctx, ops)
	if err != nil {
		s.log.Error("bulk delete failed", zap.Error(err))
		return err
	}
	if failed > 0 {
		s.log.Warn("failed to delete documents", zap.Int("failed", failed), zap.Int("total", len(ops)))
	}
	s.log.Info("deleted documents", zap.Int("count", len(ids)-failed))
	return nil
}

// Drop deletes all documents in the index, not the index itself.
func (s *KVStore) Drop(ctx context.Context) DropResult {
	return s.dropAll(ctx, "documents")
}

// Refresh makes recent writes visible to search. Errors are non-critical
// and only logged.
func (s *KVStore) Refresh(ctx context.Context) {
	s.refresh(ctx)
}

func decodeSource(raw json.RawMessage) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: decoding document: %v", ErrBackendRequest, err)
	}
	return doc, nil
}

// applyTimeDefaults backfills zero timestamps on records written before the
// timestamp fields existed.
func applyTimeDefaults(doc map[string]any) {
	if _, ok := doc["create_time"]; !ok {
		doc["create_time"] = int64(0)
	}
	if _, ok := doc["update_time"]; !ok {
		doc["update_time"] = int64(0)
	}
}
