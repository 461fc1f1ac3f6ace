package esstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Provisioner idempotently ensures backing indexes exist with the schema
// matching their kind. Existing indexes are never migrated.
//
// Provisioning is serialized per index via singleflight so concurrent
// first-time initializers never race to create the same index twice, and a
// cache of known indexes skips repeated existence checks.
type Provisioner struct {
	client *elasticsearch.Client
	cfg    Config
	log    *zap.Logger

	group singleflight.Group
	known sync.Map
}

func newProvisioner(client *elasticsearch.Client, cfg Config, log *zap.Logger) *Provisioner {
	return &Provisioner{client: client, cfg: cfg, log: log.Named("provision")}
}

// Ensure creates the named index with a kind-specific schema unless it
// already exists.
func (p *Provisioner) Ensure(ctx context.Context, name string, kind IndexKind) error {
	if err := ValidateIndexName(name); err != nil {
		return err
	}
	if _, ok := p.known.Load(name); ok {
		return nil
	}

	_, err, _ := p.group.Do(name, func() (any, error) {
		return nil, p.ensure(ctx, name, kind)
	})
	if err != nil {
		return err
	}

	p.known.Store(name, struct{}{})
	return nil
}

func (p *Provisioner) ensure(ctx context.Context, name string, kind IndexKind) error {
	res, err := p.client.Indices.Exists([]string{name},
		p.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: checking index %s: %v", ErrBackendRequest, name, err)
	}
	drainBody(res.Body)
	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		// fall through to create
	default:
		return fmt.Errorf("%w: checking index %s: %s", ErrBackendRequest, name, res.Status())
	}

	mappings, err := p.mappings(kind)
	if err != nil {
		return err
	}

	body := map[string]any{
		"settings": map[string]any{
			"number_of_shards":   p.cfg.Elasticsearch.Shards,
			"number_of_replicas": p.cfg.Elasticsearch.Replicas,
			"refresh_interval":   p.cfg.Elasticsearch.RefreshInterval,
		},
		"mappings": mappings,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding index body: %w", err)
	}

	cres, err := p.client.Indices.Create(name,
		p.client.Indices.Create.WithBody(bytes.NewReader(payload)),
		p.client.Indices.Create.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: creating index %s: %v", ErrBackendRequest, name, err)
	}
	defer cres.Body.Close()
	if cres.IsError() {
		raw, _ := io.ReadAll(cres.Body)
		// Another process may have created the index between the existence
		// check and the create call.
		if strings.Contains(string(raw), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("%w: creating index %s: %s", ErrBackendRequest, name, string(raw))
	}

	p.log.Info("created index",
		zap.String("index", name),
		zap.String("kind", string(kind)))
	return nil
}

// mappings returns the kind-specific field mappings.
func (p *Provisioner) mappings(kind IndexKind) (map[string]any, error) {
	switch kind {
	case IndexKindKV:
		return map[string]any{
			"properties": map[string]any{
				// Bulk content is stored, not indexed.
				"content":             map[string]any{"type": "text", "index": false},
				"tokens":              map[string]any{"type": "integer"},
				"full_doc_id":         map[string]any{"type": "keyword"},
				"chunk_order_index":   map[string]any{"type": "integer"},
				"file_path":           map[string]any{"type": "keyword"},
				"accreditation_level": map[string]any{"type": "integer"},
				"service":             map[string]any{"type": "keyword"},
				"llm_cache_list":      map[string]any{"type": "keyword"},
				"create_time":         map[string]any{"type": "long"},
				"update_time":         map[string]any{"type": "long"},
			},
		}, nil

	case IndexKindVector:
		return map[string]any{
			"properties": map[string]any{
				"content": map[string]any{"type": "text", "analyzer": "standard"},
				"embedding": map[string]any{
					"type":       "dense_vector",
					"dims":       p.cfg.Embedding.Dim,
					"index":      true,
					"similarity": "cosine",
					"index_options": map[string]any{
						"type":            "hnsw",
						"m":               16,
						"ef_construction": 100,
					},
				},
				"entity_name":         map[string]any{"type": "keyword"},
				"source_id":           map[string]any{"type": "keyword"},
				"src_id":              map[string]any{"type": "keyword"},
				"tgt_id":              map[string]any{"type": "keyword"},
				"description":         map[string]any{"type": "text"},
				"keywords":            map[string]any{"type": "keyword"},
				"weight":              map[string]any{"type": "float"},
				"full_doc_id":         map[string]any{"type": "keyword"},
				"chunk_order_index":   map[string]any{"type": "integer"},
				"file_path":           map[string]any{"type": "keyword"},
				"accreditation_level": map[string]any{"type": "integer"},
				"service":             map[string]any{"type": "keyword"},
				"create_time":         map[string]any{"type": "long"},
				"update_time":         map[string]any{"type": "long"},
			},
		}, nil

	case IndexKindDocStatus:
		return map[string]any{
			"properties": map[string]any{
				"file_path":           map[string]any{"type": "keyword"},
				"status":              map[string]any{"type": "keyword"},
				"track_id":            map[string]any{"type": "keyword"},
				"content_summary":     map[string]any{"type": "text", "index": false},
				"content_length":      map[string]any{"type": "integer"},
				"chunks_count":        map[string]any{"type": "integer"},
				"chunks_list":         map[string]any{"type": "keyword"},
				"metadata":            map[string]any{"type": "object", "enabled": true},
				"error_msg":           map[string]any{"type": "text"},
				"accreditation_level": map[string]any{"type": "integer"},
				"service":             map[string]any{"type": "keyword"},
				"created_at":          map[string]any{"type": "date_nanos"},
				"updated_at":          map[string]any{"type": "date_nanos"},
			},
		}, nil
	}
	return nil, fmt.Errorf("%w: unknown index kind %q", ErrInvalidConfig, kind)
}
