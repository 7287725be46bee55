package domain

import (
	"time"

	"github.com/google/uuid"
)

// SearchType names the logical search that surfaced a paper.
type SearchType string

const (
	SearchTypeTitleAbstract        SearchType = "title_abstract"
	SearchTypeMeSH                 SearchType = "mesh"
	SearchTypeTitleAbstractAndMeSH SearchType = "title_abstract_and_mesh"
)

// FetchLogEntry records one paper-load attempt. Successful entries form the
// processed set used for idempotent resume.
type FetchLogEntry struct {
	PMID        int64
	AttemptDate time.Time
	Success     bool
	RetryCount  int
	RunID       uuid.UUID
}

// SearchSource records which search (and exact query) first surfaced a paper.
type SearchSource struct {
	PMID       int64
	SearchType SearchType
	Query      string
	FoundDate  time.Time
}

// LoadResult is the outcome of loading one record graph. A nil Err means the
// whole graph was committed.
type LoadResult struct {
	PMID int64
	Err  error
}

// OK reports whether the load committed.
func (r LoadResult) OK() bool {
	return r.Err == nil
}
