package app

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/stacklok/bimsync/internal/results"
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "List the results stored by sync and watch",
	Long: `List the latest stored result of every item. Results are stored in results.dir,
or under $XDG_DATA_HOME/bimsync/results when --dir is not given and the config sets none.`,
	Args: cobra.NoArgs,
	RunE: runResults,
}

func init() {
	resultsCmd.Flags().String("dir", "", "Results directory (overrides results.dir)")
	resultsCmd.Flags().String("format", formatTable, "Output format (table or json)")
}

func runResults(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	format, _ := cmd.Flags().GetString("format")
	if err := validateFormat(format); err != nil {
		return err
	}

	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		dir = cfg.GetResultsDir()
	}
	if dir == "" {
		dir = results.DefaultDir()
	}

	records, err := results.NewFileSink(dir).LoadAll(ctx)
	if err != nil {
		return err
	}

	if format == formatJSON {
		return writeJSON(cmd.OutOrStdout(), records)
	}
	return renderRecords(cmd.OutOrStdout(), records)
}

func renderRecords(w io.Writer, records map[string]*results.Record) error {
	itemIDs := make([]string, 0, len(records))
	for id := range records {
		itemIDs = append(itemIDs, id)
	}
	sort.Strings(itemIDs)

	table := tablewriter.NewWriter(w)
	table.Header("Item", "URN", "Derivatives", "Runtime", "Stored")
	rows := make([][]string, 0, len(itemIDs))
	for _, id := range itemIDs {
		rec := records[id]
		derivatives := 0
		if rec.Manifest != nil {
			derivatives = len(rec.Manifest.Derivatives)
		}
		rows = append(rows, []string{
			id,
			rec.URN,
			strconv.Itoa(derivatives),
			rec.RuntimeDigest,
			rec.StoredAt.Format(time.RFC3339),
		})
	}
	if err := table.Bulk(rows); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}
	return table.Render()
}
