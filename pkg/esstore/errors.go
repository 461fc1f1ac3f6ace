package esstore

import "errors"

// Sentinel errors for store operations.
var (
	// ErrNotConfigured is returned when neither an endpoint URL nor a cloud
	// ID is present in the connection configuration. Fatal at construction.
	ErrNotConfigured = errors.New("elasticsearch connection not configured: set elasticsearch.url or elasticsearch.cloud_id")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidIndexName indicates index name validation failure.
	ErrInvalidIndexName = errors.New("invalid index name")

	// ErrConnectionFailed indicates the client could not be built.
	ErrConnectionFailed = errors.New("failed to connect to elasticsearch")

	// ErrBackendRequest indicates a network or query fault. Operations catch
	// it at the boundary, log it, and return a safe default.
	ErrBackendRequest = errors.New("elasticsearch request failed")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")
)
