// Package pipeline runs one harvest: search, page, transform, load.
//
// An Orchestrator moves through the states idle, searching, paging and done,
// with a side exit to aborted when the search (or the processed-set lookup)
// fails. Page fetch and transform failures only drop that page; load failures
// only drop that paper. Every run ends with a RunReport of inserted, failed and
// skipped papers and the location of the failure log.
//
// Resume is a property of the store: the processed set is re-derived from the
// fetch log at the start of every run, so re-running the same query fetches
// and loads only what is missing.
//
// RetryFailed replays the identifiers recorded in the failure log one by one
// through direct fetch, transform and load.
package pipeline
