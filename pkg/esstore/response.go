package esstore

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// Wire envelopes for the subset of the Elasticsearch response surface the
// stores consume.

type hit struct {
	ID     string          `json:"_id"`
	Score  *float64        `json:"_score"`
	Source json.RawMessage `json:"_source"`
}

type searchResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []hit `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]json.RawMessage `json:"aggregations"`
}

type termsAggregation struct {
	Buckets []struct {
		Key      string `json:"key"`
		DocCount int    `json:"doc_count"`
	} `json:"buckets"`
}

type getResponse struct {
	ID     string          `json:"_id"`
	Found  bool            `json:"found"`
	Source json.RawMessage `json:"_source"`
}

type mgetResponse struct {
	Docs []getResponse `json:"docs"`
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int             `json:"status"`
		Error  json.RawMessage `json:"error"`
	} `json:"items"`
}

// failed counts items the backend rejected. A delete of a missing id
// reports status 404 without an error object and is not a failure.
func (r bulkResponse) failed() int {
	if !r.Errors {
		return 0
	}
	n := 0
	for _, item := range r.Items {
		for _, op := range item {
			if len(op.Error) > 0 && string(op.Error) != "null" {
				n++
			}
		}
	}
	return n
}

type deleteByQueryResponse struct {
	Deleted int64 `json:"deleted"`
}

// decodeResponse decodes a successful response body into out and closes it.
// Error responses are wrapped in ErrBackendRequest.
func decodeResponse(res *esapi.Response, out any) error {
	defer res.Body.Close()
	if res.IsError() {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		return fmt.Errorf("%w: %s: %s", ErrBackendRequest, res.Status(), string(raw))
	}
	if out == nil {
		drainBody(res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrBackendRequest, err)
	}
	return nil
}

// drainBody consumes and closes a response body so the underlying HTTP
// connection can be reused.
func drainBody(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
