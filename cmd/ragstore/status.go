package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fathomlabs/ragstore/pkg/esstore"
)

var (
	// status command flags
	statusNamespace string
	listStatus      string
	listPage        int
	listPageSize    int
	listSort        string
	listDir         string
	listJSON        bool
)

func init() {
	for _, cmd := range []*cobra.Command{countsCmd, listCmd} {
		cmd.Flags().StringVar(&statusNamespace, "namespace", "doc_status", "status namespace")
	}

	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status: pending, processing, completed, or failed")
	listCmd.Flags().IntVar(&listPage, "page", 1, "page number")
	listCmd.Flags().IntVar(&listPageSize, "page-size", 50, "records per page (10-200)")
	listCmd.Flags().StringVar(&listSort, "sort", "updated_at", "sort field: created_at, updated_at, or id")
	listCmd.Flags().StringVar(&listDir, "dir", "desc", "sort direction: asc or desc")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "output results as JSON")
}

var countsCmd = &cobra.Command{
	Use:   "counts",
	Short: "Show document counts per processing status",
	Long: `Show how many tracked documents are in each processing status, plus the
total.

Examples:
  ragstore counts
  ragstore counts --workspace tenant1`,
	RunE: runCounts,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked documents",
	Long: `List tracked documents with their processing status, paginated.

Examples:
  # First page of everything, most recently updated first
  ragstore list

  # Failed documents only
  ragstore list --status failed

  # Oldest first, as JSON
  ragstore list --sort created_at --dir asc --json`,
	RunE: runList,
}

func openStatusStore(cmd *cobra.Command) (*esstore.DocStatusStore, func(), error) {
	_, log, mgr, err := setup()
	if err != nil {
		return nil, nil, err
	}

	st, err := esstore.NewDocStatusStore(cmd.Context(), mgr, statusNamespace, esstore.Options{Logger: log})
	if err != nil {
		_ = log.Sync()
		return nil, nil, err
	}

	cleanup := func() {
		_ = st.Close()
		_ = log.Sync()
	}
	return st, cleanup, nil
}

func runCounts(cmd *cobra.Command, args []string) error {
	st, cleanup, err := openStatusStore(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	counts, err := st.StatusCounts(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, s := range esstore.KnownStatuses() {
		fmt.Fprintf(w, "%s\t%d\n", s, counts[string(s)])
	}
	fmt.Fprintf(w, "%s\t%d\n", esstore.StatusCountsAll, counts[esstore.StatusCountsAll])
	return w.Flush()
}

func runList(cmd *cobra.Command, args []string) error {
	var filter *esstore.DocStatus
	if listStatus != "" {
		s := esstore.DocStatus(strings.ToUpper(listStatus))
		known := false
		for _, k := range esstore.KnownStatuses() {
			if s == k {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("unknown status %q", listStatus)
		}
		filter = &s
	}

	st, cleanup, err := openStatusStore(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	entries, total, err := st.Paginated(cmd.Context(), filter, listPage, listPageSize, listSort, listDir)
	if err != nil {
		return err
	}

	if listJSON {
		out := struct {
			Total   int                      `json:"total"`
			Page    int                      `json:"page"`
			Entries []esstore.DocStatusEntry `json:"entries"`
		}{Total: total, Page: listPage, Entries: entries}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tFILE\tCHUNKS\tUPDATED")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			e.ID, e.Status, e.FilePath, e.ChunksCount, e.UpdatedAt)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("%d of %d records (page %d)\n", len(entries), total, listPage)
	return nil
}
