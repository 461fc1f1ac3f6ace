package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fathomlabs/ragstore/internal/logging"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// configSections are the top-level keys environment variables may target.
var configSections = map[string]struct{}{
	"elasticsearch": {},
	"embedding":     {},
	"log":           {},
}

// Load loads configuration from an optional YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (ELASTICSEARCH_URL, EMBEDDING_DIM, LOG_LEVEL, ...)
//  2. YAML config file (configPath, skipped when empty or absent)
//  3. Hardcoded defaults
//
// Environment variables map to config keys by splitting on the first
// underscore: ELASTICSEARCH_CLOUD_ID -> elasticsearch.cloud_id. Variables
// whose first segment is not a known config section are ignored.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			content, err := readConfigFile(configPath)
			if err != nil {
				return nil, err
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		lower := strings.ToLower(s)
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) != 2 {
			return ""
		}
		if _, ok := configSections[parts[0]]; !ok {
			return ""
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// defaults is the lowest-precedence configuration layer.
func defaults() map[string]any {
	log := logging.NewDefaultConfig()
	return map[string]any{
		"elasticsearch.verify_certs":     true,
		"elasticsearch.timeout":          "30s",
		"elasticsearch.shards":           1,
		"elasticsearch.replicas":         1,
		"elasticsearch.refresh_interval": "5s",
		"embedding.dim":                  1536,
		"embedding.batch_size":           32,
		"log.level":                      log.Level,
		"log.format":                     log.Format,
		"log.fields":                     log.Fields,
	}
}

// Validate validates the full configuration.
func (c Config) Validate() error {
	if err := c.Store().Validate(); err != nil {
		return err
	}
	return c.Log.Validate()
}
