package esstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("github.com/fathomlabs/ragstore/pkg/esstore")

// scrollKeepAlive is how long the backend keeps a paging cursor open
// between batches.
const scrollKeepAlive = 2 * time.Minute

// scrollPageSize is the batch size for full-scan paging.
const scrollPageSize = 1000

// Options are common store construction options.
type Options struct {
	// Workspace is the logical tenant prefix. A non-blank
	// ElasticsearchConfig.Workspace takes precedence over this value.
	Workspace string

	// Logger for store operations. Defaults to a no-op logger.
	Logger *zap.Logger
}

// store carries the plumbing shared by all store kinds: the connection
// lease, the derived index name, and bulk/scroll/mget helpers.
type store struct {
	lease     *Lease
	client    *elasticsearch.Client
	cfg       Config
	namespace string
	workspace string
	index     string
	log       *zap.Logger

	// dropMu serializes destructive whole-index operations per store.
	dropMu sync.Mutex
}

func newStore(ctx context.Context, mgr *ConnManager, namespace string, kind IndexKind, opts Options) (*store, error) {
	if mgr == nil {
		return nil, fmt.Errorf("%w: nil connection manager", ErrInvalidConfig)
	}
	if namespace == "" {
		return nil, fmt.Errorf("%w: empty namespace", ErrInvalidConfig)
	}

	ws := ResolveWorkspace(mgr.cfg.Elasticsearch.Workspace, opts.Workspace)
	index := IndexName(ws, namespace)
	if err := ValidateIndexName(index); err != nil {
		return nil, err
	}

	lease, err := mgr.Acquire()
	if err != nil {
		return nil, err
	}
	if err := lease.Provisioner().Ensure(ctx, index, kind); err != nil {
		lease.Release()
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("esstore").With(
		zap.String("workspace", workspaceLabel(ws)),
		zap.String("index", index))

	return &store{
		lease:     lease,
		client:    lease.Client(),
		cfg:       mgr.cfg,
		namespace: namespace,
		workspace: ws,
		index:     index,
		log:       log,
	}, nil
}

// Namespace returns the logical namespace the store is bound to.
func (s *store) Namespace() string { return s.namespace }

// Workspace returns the resolved workspace, which may be empty.
func (s *store) Workspace() string { return s.workspace }

// Index returns the derived backing index name.
func (s *store) Index() string { return s.index }

// Close releases the store's lease on the shared connection. Idempotent.
func (s *store) Close() error {
	s.lease.Release()
	return nil
}

// reqCtx bounds a single backend request by the configured timeout.
func (s *store) reqCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Elasticsearch.Timeout > 0 {
		return context.WithTimeout(ctx, s.cfg.Elasticsearch.Timeout)
	}
	return ctx, func() {}
}

// mget performs a single batched lookup. includes narrows _source to the
// named fields; withSource=false fetches only existence information.
func (s *store) mget(ctx context.Context, ids []string, includes []string, withSource bool) (*mgetResponse, error) {
	ctx, cancel := s.reqCtx(ctx)
	defer cancel()

	body, err := json.Marshal(map[string]any{"ids": ids})
	if err != nil {
		return nil, fmt.Errorf("encoding mget body: %w", err)
	}

	mg := s.client.Mget
	reqOpts := []func(*esapi.MgetRequest){
		mg.WithContext(ctx),
		mg.WithIndex(s.index),
	}
	if !withSource {
		reqOpts = append(reqOpts, mg.WithSource("false"))
	} else if len(includes) > 0 {
		reqOpts = append(reqOpts, mg.WithSourceIncludes(includes...))
	}

	res, err := mg(bytes.NewReader(body), reqOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: mget: %v", ErrBackendRequest, err)
	}
	var out mgetResponse
	if err := decodeResponse(res, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// bulkOp is a single action in a bulk request. doc is nil for deletes.
type bulkOp struct {
	action string // "index" or "delete"
	id     string
	doc    any
}

// bulk executes a best-effort bulk request and returns the number of items
// that failed. A non-nil error means the whole request failed.
func (s *store) bulk(ctx context.Context, ops []bulkOp) (int, error) {
	if len(ops) == 0 {
		return 0, nil
	}

	ctx, cancel := s.reqCtx(ctx)
	defer cancel()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, op := range ops {
		meta := map[string]map[string]string{
			op.action: {"_index": s.index, "_id": op.id},
		}
		if err := enc.Encode(meta); err != nil {
			return 0, fmt.Errorf("encoding bulk action: %w", err)
		}
		if op.doc != nil {
			if err := enc.Encode(op.doc); err != nil {
				return 0, fmt.Errorf("encoding bulk document: %w", err)
			}
		}
	}

	res, err := s.client.Bulk(bytes.NewReader(buf.Bytes()),
		s.client.Bulk.WithContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("%w: bulk: %v", ErrBackendRequest, err)
	}
	var out bulkResponse
	if err := decodeResponse(res, &out); err != nil {
		return 0, err
	}
	return out.failed(), nil
}

// scan pages through every document matching query using a scroll cursor,
// invoking fn per hit. The cursor is advanced until exhausted and explicitly
// released afterward, including on error.
func (s *store) scan(ctx context.Context, query map[string]any, fn func(h hit) error) error {
	ctx, span := tracer.Start(ctx, "esstore.scan")
	defer span.End()
	span.SetAttributes(attribute.String("index", s.index))

	body, err := json.Marshal(map[string]any{"query": query})
	if err != nil {
		return fmt.Errorf("encoding scan query: %w", err)
	}

	reqctx, cancel := s.reqCtx(ctx)
	res, err := s.client.Search(
		s.client.Search.WithContext(reqctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(bytes.NewReader(body)),
		s.client.Search.WithScroll(scrollKeepAlive),
		s.client.Search.WithSize(scrollPageSize),
	)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: scan open: %v", ErrBackendRequest, err)
	}
	var page searchResponse
	if err := decodeResponse(res, &page); err != nil {
		return err
	}

	scrollID := page.ScrollID
	defer func() {
		if scrollID == "" {
			return
		}
		cres, cerr := s.client.ClearScroll(
			s.client.ClearScroll.WithScrollID(scrollID))
		if cerr != nil {
			s.log.Debug("clear scroll failed", zap.Error(cerr))
			return
		}
		drainBody(cres.Body)
	}()

	total := 0
	for len(page.Hits.Hits) > 0 {
		for _, h := range page.Hits.Hits {
			if err := fn(h); err != nil {
				return err
			}
			total++
		}

		reqctx, cancel := s.reqCtx(ctx)
		res, err = s.client.Scroll(
			s.client.Scroll.WithContext(reqctx),
			s.client.Scroll.WithScrollID(scrollID),
			s.client.Scroll.WithScroll(scrollKeepAlive),
		)
		cancel()
		if err != nil {
			return fmt.Errorf("%w: scan advance: %v", ErrBackendRequest, err)
		}
		page = searchResponse{}
		if err := decodeResponse(res, &page); err != nil {
			return err
		}
		if page.ScrollID != "" {
			scrollID = page.ScrollID
		}
	}

	span.SetAttributes(attribute.Int("documents", total))
	return nil
}

// deleteByQuery removes every document matching query and returns the
// deleted count.
func (s *store) deleteByQuery(ctx context.Context, query map[string]any) (int64, error) {
	ctx, cancel := s.reqCtx(ctx)
	defer cancel()

	body, err := json.Marshal(map[string]any{"query": query})
	if err != nil {
		return 0, fmt.Errorf("encoding delete query: %w", err)
	}

	res, err := s.client.DeleteByQuery([]string{s.index}, bytes.NewReader(body),
		s.client.DeleteByQuery.WithContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("%w: delete by query: %v", ErrBackendRequest, err)
	}
	var out deleteByQueryResponse
	if err := decodeResponse(res, &out); err != nil {
		return 0, err
	}
	return out.Deleted, nil
}

// dropAll deletes all documents in the index (not the index itself).
// Serialized per store so a drop never interleaves with another drop on the
// same instance.
func (s *store) dropAll(ctx context.Context, what string) DropResult {
	s.dropMu.Lock()
	defer s.dropMu.Unlock()

	ctx, span := tracer.Start(ctx, "esstore.drop")
	defer span.End()
	span.SetAttributes(attribute.String("index", s.index))

	deleted, err := s.deleteByQuery(ctx, map[string]any{"match_all": map[string]any{}})
	if err != nil {
		s.log.Error("drop failed", zap.Error(err))
		return DropResult{Status: "error", Message: err.Error()}
	}

	s.log.Info("dropped documents", zap.Int64("deleted", deleted))
	return DropResult{
		Status:  "success",
		Message: fmt.Sprintf("%d %s dropped", deleted, what),
	}
}

// refresh makes recent writes visible to search. Failures are non-critical.
func (s *store) refresh(ctx context.Context) {
	ctx, cancel := s.reqCtx(ctx)
	defer cancel()

	res, err := s.client.Indices.Refresh(
		s.client.Indices.Refresh.WithContext(ctx),
		s.client.Indices.Refresh.WithIndex(s.index))
	if err != nil {
		s.log.Debug("index refresh failed", zap.Error(err))
		return
	}
	drainBody(res.Body)
}
