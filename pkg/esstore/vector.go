package esstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Hybrid retrieval tuning. Candidates are oversampled relative to the
// requested result count before reciprocal rank fusion merges the lexical
// and vector rankings.
const (
	knnCandidateFactor = 10
	rrfWindowFactor    = 2
	rrfRankConstant    = 60
	lexicalBoost       = 0.5
)

// VectorStore persists text records alongside their embedding vectors and
// answers hybrid similarity queries that fuse approximate kNN with BM25
// full-text scoring.
type VectorStore struct {
	*store

	embed      EmbeddingFunc
	metaFields map[string]struct{}
}

// NewVectorStore binds a vector store to (namespace, workspace). embed is
// invoked to vectorize content on write and query text on read. metaFields
// is the allow-list of payload fields persisted next to content and
// embedding; everything else in an upsert payload is dropped.
func NewVectorStore(ctx context.Context, mgr *ConnManager, namespace string, embed EmbeddingFunc, metaFields []string, opts Options) (*VectorStore, error) {
	if embed == nil {
		return nil, fmt.Errorf("%w: nil embedding function", ErrInvalidConfig)
	}

	st, err := newStore(ctx, mgr, namespace, IndexKindVector, opts)
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]struct{}, len(metaFields))
	for _, f := range metaFields {
		allowed[f] = struct{}{}
	}

	st.log.Debug("vector store ready", zap.Int("meta_fields", len(metaFields)))
	return &VectorStore{store: st, embed: embed, metaFields: allowed}, nil
}

// Upsert embeds the "content" field of every record and writes content,
// embedding, and allow-listed metadata in one bulk request. Embedding runs
// in configured-size batches concurrently; any batch failure aborts the
// whole upsert before anything is written.
func (s *VectorStore) Upsert(ctx context.Context, data map[string]map[string]any) error {
	if len(data) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "VectorStore.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("index", s.index), attribute.Int("records", len(data)))

	s.log.Debug("upserting vectors", zap.Int("count", len(data)))

	// Fix iteration order once so ids, texts, and vectors stay aligned.
	type item struct {
		id     string
		fields map[string]any
	}
	items := make([]item, 0, len(data))
	texts := make([]string, 0, len(data))
	for id, fields := range data {
		content, _ := fields["content"].(string)
		items = append(items, item{id: id, fields: fields})
		texts = append(texts, content)
	}

	vectors, err := s.embedBatches(ctx, texts)
	if err != nil {
		s.log.Error("embedding failed", zap.Error(err))
		return err
	}

	now := time.Now().Unix()
	ops := make([]bulkOp, 0, len(items))
	for i, it := range items {
		doc := make(map[string]any, len(s.metaFields)+4)
		for k, v := range it.fields {
			if _, ok := s.metaFields[k]; ok {
				doc[k] = v
			}
		}
		doc["content"] = texts[i]
		doc["embedding"] = vectors[i]
		doc["update_time"] = now
		if _, ok := doc["create_time"]; !ok {
			doc["create_time"] = now
		}
		ops = append(ops, bulkOp{action: "index", id: it.id, doc: doc})
	}

	failed, err := s.bulk(ctx, ops)
	if err != nil {
		s.log.Error("bulk vector upsert failed", zap.Error(err))
		return err
	}
	if failed > 0 {
		s.log.Warn("failed to index vectors", zap.Int("failed", failed), zap.Int("total", len(ops)))
	}
	return nil
}

// embedBatches vectorizes texts in concurrent fixed-size batches, preserving
// input order in the result.
func (s *VectorStore) embedBatches(ctx context.Context, texts []string) ([][]float32, error) {
	batchSize := s.cfg.Embedding.BatchSize
	if batchSize <= 0 {
		batchSize = len(texts)
	}

	vectors := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end
		g.Go(func() error {
			batch, err := s.embed(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
			}
			if len(batch) != end-start {
				return fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(batch), end-start)
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// Query runs a hybrid similarity search: approximate kNN over embeddings
// fused with a BM25 match on content via reciprocal rank fusion. When
// queryEmbedding is nil the query text is embedded first. On failure an
// empty result set is returned alongside the error.
func (s *VectorStore) Query(ctx context.Context, query string, topK int, queryEmbedding []float32) ([]QueryResult, error) {
	ctx, span := tracer.Start(ctx, "VectorStore.Query")
	defer span.End()
	span.SetAttributes(attribute.String("index", s.index), attribute.Int("top_k", topK))

	if topK <= 0 {
		return []QueryResult{}, nil
	}

	if queryEmbedding == nil {
		vecs, err := s.embed(ctx, []string{query})
		if err != nil || len(vecs) != 1 {
			if err == nil {
				err = fmt.Errorf("got %d vectors for 1 text", len(vecs))
			}
			s.log.Error("query embedding failed", zap.Error(err))
			return []QueryResult{}, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		}
		queryEmbedding = vecs[0]
	}

	body := map[string]any{
		"knn": map[string]any{
			"field":          "embedding",
			"query_vector":   queryEmbedding,
			"k":              topK,
			"num_candidates": knnCandidateFactor * topK,
		},
		"query": map[string]any{
			"match": map[string]any{
				"content": map[string]any{
					"query": query,
					"boost": lexicalBoost,
				},
			},
		},
		"rank": map[string]any{
			"rrf": map[string]any{
				"rank_window_size": rrfWindowFactor * topK,
				"rank_constant":    rrfRankConstant,
			},
		},
		"size": topK,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return []QueryResult{}, fmt.Errorf("encoding query: %w", err)
	}

	reqctx, cancel := s.reqCtx(ctx)
	defer cancel()
	res, err := s.client.Search(
		s.client.Search.WithContext(reqctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		s.log.Error("hybrid query failed", zap.Error(err))
		return []QueryResult{}, fmt.Errorf("%w: query: %v", ErrBackendRequest, err)
	}
	var out searchResponse
	if err := decodeResponse(res, &out); err != nil {
		s.log.Error("hybrid query failed", zap.Error(err))
		return []QueryResult{}, err
	}

	results := make([]QueryResult, 0, len(out.Hits.Hits))
	for _, h := range out.Hits.Hits {
		doc, derr := decodeSource(h.Source)
		if derr != nil {
			s.log.Warn("skipping undecodable hit", zap.String("id", h.ID), zap.Error(derr))
			continue
		}

		r := QueryResult{ID: h.ID}
		if h.Score != nil {
			r.Score = *h.Score
		}
		if content, ok := doc["content"].(string); ok {
			r.Content = content
		}

		meta := make(map[string]any, len(doc))
		for k, v := range doc {
			if k == "content" || k == "embedding" {
				continue
			}
			meta[k] = v
		}
		r.Metadata = meta
		results = append(results, r)
	}

	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

// Get returns the record stored under id with the embedding stripped, or
// nil when absent. The id is injected into the returned map.
func (s *VectorStore) Get(ctx context.Context, id string) (map[string]any, error) {
	many, err := s.GetMany(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	return many[0], nil
}

// GetMany returns records positionally aligned with ids, embeddings
// stripped and ids injected, nil for missing ones.
func (s *VectorStore) GetMany(ctx context.Context, ids []string) ([]map[string]any, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	res, err := s.mget(ctx, ids, nil, true)
	if err != nil {
		s.log.Error("vector mget failed", zap.Error(err))
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
		delete(doc, "embedding")
		doc["id"] = d.ID
		applyTimeDefaults(doc)
		byID[d.ID] = doc
	}

	ordered := make([]map[string]any, len(ids))
	for i, id := range ids {
		ordered[i] = byID[id]
	}
	return ordered, nil
}

// GetVectors returns the raw embedding for each found id, keyed by id.
// Missing ids and records without an embedding are skipped.
func (s *VectorStore) GetVectors(ctx context.Context, ids []string) (map[string][]float32, error) {
	if len(ids) == 0 {
		return map[string][]float32{}, nil
	}

	res, err := s.mget(ctx, ids, []string{"embedding"}, true)
	if err != nil {
		s.log.Error("vector fetch failed", zap.Error(err))
		return map[string][]float32{}, err
	}

	vectors := make(map[string][]float32, len(res.Docs))
	for _, d := range res.Docs {
		if !d.Found {
			continue
		}
		var src struct {
			Embedding []float32 `json:"embedding"`
		}
		if json.Unmarshal(d.Source, &src) != nil || src.Embedding == nil {
			continue
		}
		vectors[d.ID] = src.Embedding
	}
	return vectors, nil
}

// Delete removes vector records by id. Missing ids are not errors.
func (s *VectorStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	ops := make([]bulkOp, 0, len(ids))
	for _, id := range ids {
		ops = append(ops, bulkOp{action: "delete", id: id})
	}
	failed, err := s.bulk(ctx, ops)
	if err != nil {
		s.log.Error("bulk vector delete failed", zap.Error(err))
		return err
	}
	if failed > 0 {
		s.log.Warn("failed to delete vectors", zap.Int("failed", failed))
	}
	return nil
}

// DeleteByEntity removes every record whose entity_name equals name.
func (s *VectorStore) DeleteByEntity(ctx context.Context, name string) error {
	deleted, err := s.deleteByQuery(ctx, map[string]any{
		"term": map[string]any{"entity_name": name},
	})
	if err != nil {
		s.log.Error("entity delete failed", zap.String("entity", name), zap.Error(err))
		return err
	}
	s.log.Debug("deleted entity records", zap.String("entity", name), zap.Int64("deleted", deleted))
	return nil
}

// DeleteByRelationEndpoint removes every record where name appears as
// either endpoint of a relation.
func (s *VectorStore) DeleteByRelationEndpoint(ctx context.Context, name string) error {
	deleted, err := s.deleteByQuery(ctx, map[string]any{
		"bool": map[string]any{
			"should": []any{
				map[string]any{"term": map[string]any{"src_id": name}},
				map[string]any{"term": map[string]any{"tgt_id": name}},
			},
			"minimum_should_match": 1,
		},
	})
	if err != nil {
		s.log.Error("relation delete failed", zap.String("entity", name), zap.Error(err))
		return err
	}
	s.log.Debug("deleted relation records", zap.String("entity", name), zap.Int64("deleted", deleted))
	return nil
}

// Drop deletes all vector records in the index.
func (s *VectorStore) Drop(ctx context.Context) DropResult {
	return s.dropAll(ctx, "vectors")
}

// Refresh makes recent writes visible to search.
func (s *VectorStore) Refresh(ctx context.Context) {
	s.refresh(ctx)
}
