package pipeline

import (
	"time"

	"github.com/helixir/pubmed-harvester/internal/domain"
)

// State is the orchestrator's position in a run.
type State string

const (
	StateIdle      State = "idle"
	StateSearching State = "searching"
	StatePaging    State = "paging"
	StateDone      State = "done"
	StateAborted   State = "aborted"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}

// RunReport accumulates the statistics of one run.
type RunReport struct {
	RunID      string            `json:"run_id"`
	Query      string            `json:"query"`
	SearchType domain.SearchType `json:"search_type"`
	State      State             `json:"state"`

	TotalCount       int `json:"total_count"`
	AlreadyProcessed int `json:"already_processed"`
	TotalPages       int `json:"total_pages"`
	PagesFetched     int `json:"pages_fetched"`
	PagesFailed      int `json:"pages_failed"`
	CurrentOffset    int `json:"current_offset"`

	Inserted   int `json:"inserted"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	Duplicates int `json:"duplicates"`

	// Diagnostics counts transform drops (documents and authors).
	Diagnostics      int `json:"diagnostics"`
	DroppedCitations int `json:"dropped_citations"`

	FailedPMIDs    []int64 `json:"failed_pmids,omitempty"`
	FailureLogPath string  `json:"failure_log_path,omitempty"`

	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Error      string    `json:"error,omitempty"`
}

// Duration returns the elapsed run time, or zero before the run finishes.
func (r RunReport) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Attempted returns the number of papers handed to the loader.
func (r RunReport) Attempted() int {
	return r.Inserted + r.Failed
}

func (r RunReport) clone() RunReport {
	if r.FailedPMIDs != nil {
		r.FailedPMIDs = append([]int64(nil), r.FailedPMIDs...)
	}
	return r
}

// RetryReport summarizes a retry-failed pass.
type RetryReport struct {
	RunID            string    `json:"run_id"`
	Requested        int       `json:"requested"`
	Succeeded        []int64   `json:"succeeded"`
	AlreadyProcessed []int64   `json:"already_processed"`
	StillFailing     []int64   `json:"still_failing"`
	FailureLogPath   string    `json:"failure_log_path,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
}
