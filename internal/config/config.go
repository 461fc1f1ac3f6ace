// Package config provides configuration loading for ragstore.
package config

import (
	"github.com/fathomlabs/ragstore/internal/logging"
	"github.com/fathomlabs/ragstore/pkg/esstore"
)

// Config is the root configuration.
type Config struct {
	Elasticsearch esstore.ElasticsearchConfig `koanf:"elasticsearch"`
	Embedding     esstore.EmbeddingConfig     `koanf:"embedding"`
	Log           logging.Config              `koanf:"log"`
}

// Store returns the subset of the configuration consumed by the storage
// layer.
func (c Config) Store() esstore.Config {
	return esstore.Config{
		Elasticsearch: c.Elasticsearch,
		Embedding:     c.Embedding,
	}
}
