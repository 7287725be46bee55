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

func newRetryFailedCmd(o *overrides) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-failed",
		Short: "Retry every paper recorded in the failure log",
		Long: `Retry-failed reads the failure log, collects the unique identifiers and
reloads them one at a time in ascending order through a direct fetch. Papers
already processed are reported and skipped. Duplicate citations are removed
before loading.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runRetryFailed(ctx, o, cmd.OutOrStdout())
		},
	}
}

func runRetryFailed(ctx context.Context, o *overrides, out io.Writer) error {
	a, err := newApp(ctx, o, "retry_failed")
	if err != nil {
		return err
	}
	defer a.close()

	lock, err := a.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer a.releaseLock(lock)

	ld := a.newLoader(1)
	orch, err := a.newOrchestrator(ld, nil)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	stopServer := a.startOpsServer(nil)
	defer stopServer()

	report, retryErr := orch.RetryFailed(ctx, a.failures)
	if report != nil {
		printRetryReport(out, report)
	}
	return retryErr
}

func printRetryReport(w io.Writer, r *pipeline.RetryReport) {
	fmt.Fprintf(w, "retry %s\n", r.RunID)
	fmt.Fprintf(w, "  failure log:       %s\n", r.FailureLogPath)
	fmt.Fprintf(w, "  requested:         %d\n", r.Requested)
	fmt.Fprintf(w, "  succeeded:         %d %v\n", len(r.Succeeded), r.Succeeded)
	fmt.Fprintf(w, "  already processed: %d %v\n", len(r.AlreadyProcessed), r.AlreadyProcessed)
	fmt.Fprintf(w, "  still failing:     %d %v\n", len(r.StillFailing), r.StillFailing)
}
