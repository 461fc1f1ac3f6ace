// Package main implements the ragstore CLI for manual operations against
// the Elasticsearch-backed document stores.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fathomlabs/ragstore/internal/config"
	"github.com/fathomlabs/ragstore/internal/logging"
	"github.com/fathomlabs/ragstore/pkg/esstore"
)

var (
	// configPath is the optional YAML config file.
	configPath string
	// workspace overrides the configured workspace for all commands.
	workspace string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ragstore",
	Short: "CLI for Elasticsearch document store operations",
	Long: `ragstore is a command-line interface for operating the Elasticsearch-backed
document, vector, and status stores: provisioning indexes, inspecting
ingestion progress, and clearing data.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace", "", "workspace prefix for index names")
	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(dropCmd)
	rootCmd.AddCommand(countsCmd)
	rootCmd.AddCommand(listCmd)
}

// setup loads configuration, builds the logger, and opens the shared
// connection manager. Callers own the returned logger's Sync.
func setup() (*config.Config, *zap.Logger, *esstore.ConnManager, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if workspace != "" {
		cfg.Elasticsearch.Workspace = workspace
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}

	mgr, err := esstore.NewConnManager(cfg.Store(), log)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, log, mgr, nil
}
