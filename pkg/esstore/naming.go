package esstore

import (
	"fmt"
	"regexp"
	"strings"
)

// indexNamePattern validates derived index names against Elasticsearch
// naming rules: lowercase, no path or wildcard characters, must not start
// with -, _ or +.
var indexNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.\-]{0,254}$`)

// IndexName derives the backing index identifier for a logical namespace,
// optionally prefixed by a workspace for tenant isolation.
//
// The derivation is deterministic: identical inputs always produce the
// identical index id. The workspace-prefixed namespace is lowercased and
// underscores are normalized to hyphens.
//
// Example:
//
//	IndexName("TeamA", "text_chunks")  // "teama-text-chunks"
//	IndexName("", "full_docs")         // "full-docs"
func IndexName(workspace, namespace string) string {
	final := namespace
	if ws := strings.TrimSpace(workspace); ws != "" {
		final = ws + "_" + namespace
	}
	return strings.ReplaceAll(strings.ToLower(final), "_", "-")
}

// ValidateIndexName rejects names Elasticsearch would refuse.
func ValidateIndexName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidIndexName)
	}
	if !indexNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q must match %s", ErrInvalidIndexName, name, indexNamePattern.String())
	}
	return nil
}

// ResolveWorkspace applies workspace precedence: a non-blank configuration
// override wins over the explicit constructor parameter.
func ResolveWorkspace(override, explicit string) string {
	if ws := strings.TrimSpace(override); ws != "" {
		return ws
	}
	return strings.TrimSpace(explicit)
}

// workspaceLabel is the log label for stores without a workspace.
func workspaceLabel(workspace string) string {
	if workspace == "" {
		return "_"
	}
	return workspace
}
