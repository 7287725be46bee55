// Package observability provides logging, metrics, and run-context support
// for the harvester.
//
// # Logging
//
// Create a logger from configuration:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//	logger = observability.WithRunContext(logger, runID, query)
//
// # Metrics
//
//	metrics := observability.NewMetrics("pubmed_harvester")
//	metrics.RecordPageFetched()
//	metrics.RecordPaperInserted()
//
// Metrics also implements the request observer used by the rate-limited
// HTTP client, so every E-utilities request is counted by endpoint.
//
// # Standard Fields
//
//   - run_id: harvest run identifier
//   - query: active search query
//   - component: emitting component
//   - pmid: PubMed identifier
//   - page, total_pages, offset: pagination position
//
// All components are safe for concurrent use from multiple goroutines.
package observability
