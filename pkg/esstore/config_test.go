package esstore_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomlabs/ragstore/pkg/esstore"
)

func TestConfigApplyDefaults(t *testing.T) {
	var cfg esstore.Config
	cfg.ApplyDefaults()

	require.NotNil(t, cfg.Elasticsearch.VerifyCerts)
	assert.True(t, *cfg.Elasticsearch.VerifyCerts,
		"certificate verification is on unless explicitly disabled")
	assert.Equal(t, 30*time.Second, cfg.Elasticsearch.Timeout)
	assert.Equal(t, 1, cfg.Elasticsearch.Shards)
	assert.Equal(t, 1, cfg.Elasticsearch.Replicas)
	assert.Equal(t, "5s", cfg.Elasticsearch.RefreshInterval)
	assert.Equal(t, 1536, cfg.Embedding.Dim)
	assert.Equal(t, 32, cfg.Embedding.BatchSize)
}

func TestConfigApplyDefaultsKeepsExplicitVerifyOff(t *testing.T) {
	off := false
	cfg := esstore.Config{
		Elasticsearch: esstore.ElasticsearchConfig{VerifyCerts: &off},
	}
	cfg.ApplyDefaults()

	require.NotNil(t, cfg.Elasticsearch.VerifyCerts)
	assert.False(t, *cfg.Elasticsearch.VerifyCerts)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*esstore.Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*esstore.Config) {}, wantErr: false},
		{
			name:    "negative timeout",
			mutate:  func(c *esstore.Config) { c.Elasticsearch.Timeout = -time.Second },
			wantErr: true,
		},
		{
			name:    "negative shards",
			mutate:  func(c *esstore.Config) { c.Elasticsearch.Shards = -1 },
			wantErr: true,
		},
		{
			name:    "non-positive embedding dim",
			mutate:  func(c *esstore.Config) { c.Embedding.Dim = -5 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg esstore.Config
			cfg.ApplyDefaults()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, esstore.ErrInvalidConfig)
				return
			}
			assert.NoError(t, err)
		})
	}
}
