// Package esstore persists text chunks, document-processing status, and
// embedding vectors in Elasticsearch and exposes uniform key-value,
// status-tracking, and hybrid-search operations to the retrieval pipeline.
//
// All store instances bound to the same ConnManager share one client
// connection, reference-counted through Lease guards. Indexes are provisioned
// idempotently on store construction with a schema matching the store kind.
//
// Availability is favored over atomicity: bulk writes and deletes are
// best-effort, partial failures are logged and skipped, and backend faults on
// read paths are converted to safe defaults (absent record, empty collection,
// unmodified key set) alongside the returned error. Callers that need retry
// semantics implement them above this layer.
package esstore
