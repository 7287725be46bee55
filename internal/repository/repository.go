// Package repository provides the PostgreSQL data access layer for harvested
// records.
//
// # Transactions
//
// Repositories are built on DBTX so the same code runs against the pool or
// inside a transaction. The loader opens one transaction per paper and
// creates a transaction-scoped repository for it:
//
//	err := database.WithTransaction(ctx, db, pgx.TxOptions{}, logger, func(tx pgx.Tx) error {
//	    repo := repository.NewPgRecordRepository(tx)
//	    return repo.InsertPaper(ctx, &graph.Paper)
//	})
//
// # Error Handling
//
// Write failures are returned as *domain.StorageError carrying the SQLSTATE
// code and constraint name, so errors.Is(err, domain.ErrStorageConstraint)
// identifies uniqueness, check and foreign-key violations.
package repository

import (
	"context"

	"github.com/helixir/pubmed-harvester/internal/database"
	"github.com/helixir/pubmed-harvester/internal/domain"
)

// DBTX is the database interface supporting both pool and transaction contexts.
type DBTX = database.DBTX

// TableCounts holds row counts for every harvested table.
type TableCounts struct {
	Papers        int64 `json:"papers"`
	Authors       int64 `json:"authors"`
	PaperAuthors  int64 `json:"paper_authors"`
	Citations     int64 `json:"citations"`
	OpenAccess    int64 `json:"paper_open_access"`
	FetchLog      int64 `json:"fetch_log"`
	SearchSources int64 `json:"paper_search_sources"`
}

// RecordRepository persists the entities of a record graph.
type RecordRepository interface {
	// InsertPaper inserts the paper row. FetchDate is written as given.
	InsertPaper(ctx context.Context, paper *domain.Paper) error

	// ResolveAuthor returns the id of the author with exactly this
	// (last name, fore name, ORCID), creating it when absent.
	ResolveAuthor(ctx context.Context, pmid int64, author domain.Author) (int64, error)

	// InsertPaperAuthor links an author to a paper at a position.
	InsertPaperAuthor(ctx context.Context, pmid, authorID int64, position int, affiliation *string) error

	// InsertCitation inserts one outbound citation of pmid.
	InsertCitation(ctx context.Context, pmid int64, citation domain.Citation) error

	// InsertOpenAccess inserts the open-access record, ignoring an existing one.
	InsertOpenAccess(ctx context.Context, pmid int64, record *domain.OpenAccessRecord) error

	// InsertFetchLog appends a load attempt.
	InsertFetchLog(ctx context.Context, entry domain.FetchLogEntry) error

	// UpsertSearchSource records the search that surfaced a paper,
	// keeping the first assertion per (pmid, search type).
	UpsertSearchSource(ctx context.Context, source domain.SearchSource) error

	// ProcessedPMIDs returns every pmid with a successful fetch log entry.
	ProcessedPMIDs(ctx context.Context) (map[int64]struct{}, error)

	// IsProcessed reports whether pmid has a successful fetch log entry.
	IsProcessed(ctx context.Context, pmid int64) (bool, error)

	// Counts returns row counts for every table.
	Counts(ctx context.Context) (*TableCounts, error)
}
