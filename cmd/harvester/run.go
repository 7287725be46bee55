package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/helixir/pubmed-harvester/internal/pipeline"
)

func newRunCmd(o *overrides) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Search PubMed and load every record not yet processed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runHarvest(ctx, o, cmd.OutOrStdout())
		},
	}
}

func runHarvest(ctx context.Context, o *overrides, out io.Writer) error {
	a, err := newApp(ctx, o, "harvester")
	if err != nil {
		return err
	}
	defer a.close()

	lock, err := a.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer a.releaseLock(lock)

	var notifier pipeline.Notifier
	if n := a.newNotifier(); n != nil {
		notifier = n
		defer func() {
			if err := n.Close(); err != nil {
				a.logger.Error().Err(err).Msg("failed to close event publisher")
			}
		}()
	}

	ld := a.newLoader(0)
	orch, err := a.newOrchestrator(ld, notifier)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	stopServer := a.startOpsServer(orch)
	defer stopServer()

	report, runErr := orch.Run(ctx)
	if report != nil {
		printRunReport(out, report)
	}
	return runErr
}

func printRunReport(w io.Writer, r *pipeline.RunReport) {
	fmt.Fprintf(w, "run %s %s\n", r.RunID, r.State)
	fmt.Fprintf(w, "  query:             %s (%s)\n", r.Query, r.SearchType)
	fmt.Fprintf(w, "  matches:           %d (already processed: %d)\n", r.TotalCount, r.AlreadyProcessed)
	fmt.Fprintf(w, "  pages:             %d fetched, %d failed of %d\n", r.PagesFetched, r.PagesFailed, r.TotalPages)
	fmt.Fprintf(w, "  inserted:          %d\n", r.Inserted)
	fmt.Fprintf(w, "  failed:            %d\n", r.Failed)
	fmt.Fprintf(w, "  skipped:           %d (duplicates in run: %d)\n", r.Skipped, r.Duplicates)
	fmt.Fprintf(w, "  transform drops:   %d (unresolvable citations: %d)\n", r.Diagnostics, r.DroppedCitations)
	if d := r.Duration(); d > 0 {
		fmt.Fprintf(w, "  duration:          %s\n", d)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "  error:             %s\n", r.Error)
	}
	if r.Failed > 0 {
		fmt.Fprintf(w, "failed papers were recorded in %s; run `harvester retry-failed` to retry them\n", r.FailureLogPath)
	}
}
