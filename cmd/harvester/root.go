package main

import (
	"github.com/spf13/cobra"
)

// overrides holds flag values that take precedence over configuration.
type overrides struct {
	query    string
	pageSize int
	serve    bool
	migrate  bool
}

func newRootCmd() *cobra.Command {
	var o overrides

	root := &cobra.Command{
		Use:   "harvester",
		Short: "Harvest PubMed records into PostgreSQL",
		Long: `Harvester searches PubMed, pages through the result set and loads each
record (paper, authors, citations, open-access data) into PostgreSQL in its own
transaction. Runs are idempotent and resumable: papers with a successful fetch
log entry are skipped, so re-running the same query loads only what is missing.

Configuration is read from config.yaml, .env and HARVEST_* environment variables.

Examples:
  harvester run
  harvester run --query '"Hippocampus"[MeSH] AND subiculum[Title/Abstract]'
  harvester retry-failed
  harvester status --json`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&o.query, "query", "q", "", "Search query (overrides search.query)")
	root.PersistentFlags().IntVar(&o.pageSize, "page-size", 0, "Records per page (overrides search.page_size)")
	root.PersistentFlags().BoolVar(&o.serve, "serve", false, "Start the ops HTTP server for the duration of the command")
	root.PersistentFlags().BoolVar(&o.migrate, "migrate", false, "Apply pending migrations before running")

	root.AddCommand(newRunCmd(&o))
	root.AddCommand(newRetryFailedCmd(&o))
	root.AddCommand(newStatusCmd(&o))
	return root
}
