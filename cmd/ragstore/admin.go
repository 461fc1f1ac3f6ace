package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fathomlabs/ragstore/pkg/esstore"
)

var (
	// admin command flags
	adminNamespace string
	adminKind      string
)

func init() {
	for _, cmd := range []*cobra.Command{provisionCmd, dropCmd} {
		cmd.Flags().StringVar(&adminNamespace, "namespace", "", "logical namespace, e.g. text_chunks (required)")
		cmd.Flags().StringVar(&adminKind, "kind", "kv", "index kind: kv, vector, or doc_status")
		_ = cmd.MarkFlagRequired("namespace")
	}
}

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Create the backing index for a namespace",
	Long: `Create the backing index for a namespace with the schema matching its kind.
Existing indexes are left untouched.

Examples:
  # Provision a key-value index
  ragstore provision --namespace full_docs --kind kv

  # Provision a vector index in a workspace
  ragstore provision --workspace tenant1 --namespace chunks --kind vector`,
	RunE: runProvision,
}

var dropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Delete all documents in a namespace",
	Long: `Delete every document in a namespace's backing index. The index itself and
its schema survive.

Examples:
  # Clear a key-value namespace
  ragstore drop --namespace full_docs --kind kv

  # Clear a vector namespace
  ragstore drop --namespace chunks --kind vector`,
	RunE: runDrop,
}

func parseKind(s string) (esstore.IndexKind, error) {
	switch esstore.IndexKind(s) {
	case esstore.IndexKindKV, esstore.IndexKindVector, esstore.IndexKindDocStatus:
		return esstore.IndexKind(s), nil
	}
	return "", fmt.Errorf("unknown index kind %q (want kv, vector, or doc_status)", s)
}

func runProvision(cmd *cobra.Command, args []string) error {
	kind, err := parseKind(adminKind)
	if err != nil {
		return err
	}

	cfg, log, mgr, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	lease, err := mgr.Acquire()
	if err != nil {
		return err
	}
	defer lease.Release()

	index := esstore.IndexName(cfg.Elasticsearch.Workspace, adminNamespace)
	if err := lease.Provisioner().Ensure(cmd.Context(), index, kind); err != nil {
		return err
	}

	fmt.Printf("index %s ready (%s)\n", index, kind)
	return nil
}

func runDrop(cmd *cobra.Command, args []string) error {
	kind, err := parseKind(adminKind)
	if err != nil {
		return err
	}

	_, log, mgr, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	opts := esstore.Options{Logger: log}
	ctx := cmd.Context()

	var result esstore.DropResult
	switch kind {
	case esstore.IndexKindKV:
		st, serr := esstore.NewKVStore(ctx, mgr, adminNamespace, opts)
		if serr != nil {
			return serr
		}
		defer st.Close()
		result = st.Drop(ctx)

	case esstore.IndexKindVector:
		// Drop never embeds anything.
		noEmbed := func(_ context.Context, _ []string) ([][]float32, error) {
			return nil, errors.New("embedding not available")
		}
		st, serr := esstore.NewVectorStore(ctx, mgr, adminNamespace, noEmbed, nil, opts)
		if serr != nil {
			return serr
		}
		defer st.Close()
		result = st.Drop(ctx)

	case esstore.IndexKindDocStatus:
		st, serr := esstore.NewDocStatusStore(ctx, mgr, adminNamespace, opts)
		if serr != nil {
			return serr
		}
		defer st.Close()
		result = st.Drop(ctx)
	}

	if result.Status != "success" {
		return fmt.Errorf("drop failed: %s", result.Message)
	}
	fmt.Println(result.Message)
	return nil
}
