package esstore

import (
	"fmt"
	"time"
)

// ElasticsearchConfig holds connection and index-provisioning settings.
type ElasticsearchConfig struct {
	// URL is the endpoint of a self-managed cluster, e.g. "http://localhost:9200".
	URL string `koanf:"url"`

	// CloudID identifies a managed Elastic Cloud deployment. Takes precedence
	// over URL when both are set. At least one of the two is required.
	CloudID string `koanf:"cloud_id"`

	// APIKey authenticates requests. Preferred over basic auth.
	APIKey string `koanf:"api_key"`

	// Username and Password enable basic auth when APIKey is empty.
	Username string `koanf:"username"`
	Password string `koanf:"password"`

	// VerifyCerts toggles TLS certificate verification. Unset means on;
	// verification is only skipped when explicitly disabled.
	VerifyCerts *bool `koanf:"verify_certs"`

	// CACerts is an optional path to a PEM CA bundle.
	CACerts string `koanf:"ca_certs"`

	// Timeout bounds every backend request.
	Timeout time.Duration `koanf:"timeout"`

	// Shards and Replicas are applied to newly created indexes.
	Shards   int `koanf:"shards"`
	Replicas int `koanf:"replicas"`

	// RefreshInterval is the index refresh interval, e.g. "5s".
	RefreshInterval string `koanf:"refresh_interval"`

	// Workspace overrides the workspace passed to store constructors.
	// Precedence: this value > constructor workspace > none.
	Workspace string `koanf:"workspace"`
}

// EmbeddingConfig describes the embedding vectors stored by VectorStore.
type EmbeddingConfig struct {
	// Dim is the fixed embedding dimensionality. Must match the embedder.
	Dim int `koanf:"dim"`

	// BatchSize is the number of texts sent per embedding call.
	BatchSize int `koanf:"batch_size"`
}

// Config bundles the settings consumed by ConnManager and the stores.
type Config struct {
	Elasticsearch ElasticsearchConfig `koanf:"elasticsearch"`
	Embedding     EmbeddingConfig     `koanf:"embedding"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Elasticsearch.VerifyCerts == nil {
		verify := true
		c.Elasticsearch.VerifyCerts = &verify
	}
	if c.Elasticsearch.Timeout == 0 {
		c.Elasticsearch.Timeout = 30 * time.Second
	}
	if c.Elasticsearch.Shards == 0 {
		c.Elasticsearch.Shards = 1
	}
	if c.Elasticsearch.Replicas == 0 {
		c.Elasticsearch.Replicas = 1
	}
	if c.Elasticsearch.RefreshInterval == "" {
		c.Elasticsearch.RefreshInterval = "5s"
	}
	if c.Embedding.Dim == 0 {
		c.Embedding.Dim = 1536
	}
	if c.Embedding.BatchSize == 0 {
		c.Embedding.BatchSize = 32
	}
}

// Validate validates the configuration. A missing connection target is not an
// error here; it becomes ErrNotConfigured when the first connection is built.
func (c Config) Validate() error {
	if c.Elasticsearch.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidConfig)
	}
	if c.Elasticsearch.Shards < 0 || c.Elasticsearch.Replicas < 0 {
		return fmt.Errorf("%w: negative shard or replica count", ErrInvalidConfig)
	}
	if c.Embedding.Dim <= 0 {
		return fmt.Errorf("%w: embedding dim must be positive", ErrInvalidConfig)
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("%w: embedding batch size must be positive", ErrInvalidConfig)
	}
	return nil
}
