package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/helixir/pubmed-harvester/internal/repository"
)

// storeStatus is the output of the status command.
type storeStatus struct {
	Processed      int                     `json:"processed"`
	FailedPending  int                     `json:"failed_pending"`
	FailureLogPath string                  `json:"failure_log_path"`
	Tables         *repository.TableCounts `json:"tables"`
}

func newStatusCmd(o *overrides) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the processed-set size and per-table row counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), o, cmd.OutOrStdout(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print status as JSON")
	return cmd
}

func runStatus(ctx context.Context, o *overrides, out io.Writer, asJSON bool) error {
	a, err := newApp(ctx, o, "status")
	if err != nil {
		return err
	}
	defer a.close()

	ld := a.newLoader(0)
	processed, err := ld.AlreadyProcessed(ctx)
	if err != nil {
		return fmt.Errorf("load processed set: %w", err)
	}
	counts, err := ld.Counts(ctx)
	if err != nil {
		return fmt.Errorf("count rows: %w", err)
	}

	// Only ids that are still unprocessed count as pending.
	failed, err := a.failures.FailedPMIDs()
	if err != nil {
		return fmt.Errorf("read failure log: %w", err)
	}
	pending := 0
	for _, pmid := range failed {
		if _, ok := processed[pmid]; !ok {
			pending++
		}
	}

	status := storeStatus{
		Processed:      len(processed),
		FailedPending:  pending,
		FailureLogPath: a.failures.Path(),
		Tables:         counts,
	}
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}
	return printStatus(out, status)
}

func printStatus(out io.Writer, s storeStatus) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "processed papers\t%d\n", s.Processed)
	fmt.Fprintf(tw, "failed, not yet processed\t%d\t(%s)\n", s.FailedPending, s.FailureLogPath)
	fmt.Fprintln(tw, "\t")
	fmt.Fprintln(tw, "table\trows")
	fmt.Fprintf(tw, "papers\t%d\n", s.Tables.Papers)
	fmt.Fprintf(tw, "authors\t%d\n", s.Tables.Authors)
	fmt.Fprintf(tw, "paper_authors\t%d\n", s.Tables.PaperAuthors)
	fmt.Fprintf(tw, "citations\t%d\n", s.Tables.Citations)
	fmt.Fprintf(tw, "paper_open_access\t%d\n", s.Tables.OpenAccess)
	fmt.Fprintf(tw, "fetch_log\t%d\n", s.Tables.FetchLog)
	fmt.Fprintf(tw, "paper_search_sources\t%d\n", s.Tables.SearchSources)
	return tw.Flush()
}
