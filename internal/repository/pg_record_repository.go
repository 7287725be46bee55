package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixir/pubmed-harvester/internal/domain"
)

// Compile-time interface verification.
var _ RecordRepository = (*PgRecordRepository)(nil)

// PgRecordRepository is a PostgreSQL implementation of RecordRepository.
type PgRecordRepository struct {
	db DBTX
}

// NewPgRecordRepository creates a new PostgreSQL record repository.
func NewPgRecordRepository(db DBTX) *PgRecordRepository {
	return &PgRecordRepository{db: db}
}

// InsertPaper inserts the paper row.
func (r *PgRecordRepository) InsertPaper(ctx context.Context, paper *domain.Paper) error {
	if paper == nil {
		return domain.NewValidationError("paper", "paper cannot be nil")
	}

	query := `
		INSERT INTO papers (
			pmid, doi, pmc_id, title, abstract, language,
			journal_name, journal_issn, journal_iso_abbrev,
			pub_year, pub_month, pub_day,
			volume, issue, pages, publication_status,
			fetch_date
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)`

	_, err := r.db.Exec(ctx, query,
		paper.PMID,
		paper.DOI,
		paper.PMCID,
		paper.Title,
		paper.Abstract,
		paper.Language,
		paper.JournalName,
		paper.JournalISSN,
		paper.JournalISOAbbrev,
		paper.PubYear,
		paper.PubMonth,
		paper.PubDay,
		paper.Volume,
		paper.Issue,
		paper.Pages,
		paper.PublicationStatus,
		paper.FetchDate,
	)
	if err != nil {
		return storageError(paper.PMID, "insert paper", err)
	}
	return nil
}

// ResolveAuthor looks the author up by exact composite key, where an absent
// fore name or ORCID only matches another absent value, and inserts it when
// missing. Initials are first-write-wins.
func (r *PgRecordRepository) ResolveAuthor(ctx context.Context, pmid int64, author domain.Author) (int64, error) {
	selectQuery := `
		SELECT author_id FROM authors
		WHERE last_name = $1
			AND fore_name IS NOT DISTINCT FROM $2
			AND orcid IS NOT DISTINCT FROM $3`

	insertQuery := `
		INSERT INTO authors (last_name, fore_name, initials, orcid)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT ON CONSTRAINT authors_identity_key DO NOTHING
		RETURNING author_id`

	var id int64
	err := r.db.QueryRow(ctx, selectQuery, author.LastName, author.ForeName, author.ORCID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, storageError(pmid, "select author", err)
	}

	err = r.db.QueryRow(ctx, insertQuery, author.LastName, author.ForeName, author.Initials, author.ORCID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, storageError(pmid, "insert author", err)
	}

	// A concurrent writer inserted the same identity after our lookup.
	err = r.db.QueryRow(ctx, selectQuery, author.LastName, author.ForeName, author.ORCID).Scan(&id)
	if err != nil {
		return 0, storageError(pmid, "select author", err)
	}
	return id, nil
}

// InsertPaperAuthor links an author to a paper at a position.
func (r *PgRecordRepository) InsertPaperAuthor(ctx context.Context, pmid, authorID int64, position int, affiliation *string) error {
	if position < 1 {
		return domain.NewValidationError("author_position", "position must be 1-based")
	}

	query := `
		INSERT INTO paper_authors (pmid, author_id, author_position, affiliation)
		VALUES ($1, $2, $3, $4)`

	if _, err := r.db.Exec(ctx, query, pmid, authorID, position, affiliation); err != nil {
		return storageError(pmid, "insert paper author", err)
	}
	return nil
}

// InsertCitation inserts one outbound citation of pmid.
func (r *PgRecordRepository) InsertCitation(ctx context.Context, pmid int64, citation domain.Citation) error {
	if !citation.Resolvable() {
		return domain.NewValidationError("citation", "citation has neither identifier nor DOI")
	}

	query := `
		INSERT INTO citations (citing_pmid, cited_pmid, cited_doi, citation_text)
		VALUES ($1, $2, $3, $4)`

	if _, err := r.db.Exec(ctx, query, pmid, citation.CitedPMID, citation.CitedDOI, citation.Text); err != nil {
		return storageError(pmid, "insert citation", err)
	}
	return nil
}

// InsertOpenAccess inserts the open-access record, ignoring an existing one.
func (r *PgRecordRepository) InsertOpenAccess(ctx context.Context, pmid int64, record *domain.OpenAccessRecord) error {
	if record == nil {
		return nil
	}

	query := `
		INSERT INTO paper_open_access (pmid, pmc_id, is_open_access, pmc_url, pdf_url, license)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (pmid) DO NOTHING`

	_, err := r.db.Exec(ctx, query,
		pmid,
		record.PMCID,
		record.IsOpenAccess,
		record.PMCURL,
		record.PDFURL,
		record.License,
	)
	if err != nil {
		return storageError(pmid, "insert open access", err)
	}
	return nil
}

// InsertFetchLog appends a load attempt.
func (r *PgRecordRepository) InsertFetchLog(ctx context.Context, entry domain.FetchLogEntry) error {
	query := `
		INSERT INTO fetch_log (pmid, fetch_attempt_date, fetch_success, retry_count, run_id)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.Exec(ctx, query,
		entry.PMID,
		entry.AttemptDate,
		entry.Success,
		entry.RetryCount,
		entry.RunID,
	)
	if err != nil {
		return storageError(entry.PMID, "insert fetch log", err)
	}
	return nil
}

// UpsertSearchSource records the search that surfaced a paper.
func (r *PgRecordRepository) UpsertSearchSource(ctx context.Context, source domain.SearchSource) error {
	query := `
		INSERT INTO paper_search_sources (pmid, search_type, search_query, found_date)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pmid, search_type) DO NOTHING`

	_, err := r.db.Exec(ctx, query,
		source.PMID,
		string(source.SearchType),
		source.Query,
		source.FoundDate,
	)
	if err != nil {
		return storageError(source.PMID, "upsert search source", err)
	}
	return nil
}

// ProcessedPMIDs returns every pmid with a successful fetch log entry.
func (r *PgRecordRepository) ProcessedPMIDs(ctx context.Context) (map[int64]struct{}, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT pmid FROM fetch_log WHERE fetch_success`)
	if err != nil {
		return nil, fmt.Errorf("failed to query processed pmids: %w", err)
	}
	defer rows.Close()

	processed := make(map[int64]struct{})
	for rows.Next() {
		var pmid int64
		if err := rows.Scan(&pmid); err != nil {
			return nil, fmt.Errorf("failed to scan processed pmid: %w", err)
		}
		processed[pmid] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating processed pmids: %w", err)
	}
	return processed, nil
}

// IsProcessed reports whether pmid has a successful fetch log entry.
func (r *PgRecordRepository) IsProcessed(ctx context.Context, pmid int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM fetch_log WHERE pmid = $1 AND fetch_success)`,
		pmid,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check processed pmid %d: %w", pmid, err)
	}
	return exists, nil
}

// Counts returns row counts for every table.
func (r *PgRecordRepository) Counts(ctx context.Context) (*TableCounts, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM papers),
			(SELECT COUNT(*) FROM authors),
			(SELECT COUNT(*) FROM paper_authors),
			(SELECT COUNT(*) FROM citations),
			(SELECT COUNT(*) FROM paper_open_access),
			(SELECT COUNT(*) FROM fetch_log),
			(SELECT COUNT(*) FROM paper_search_sources)`

	var c TableCounts
	err := r.db.QueryRow(ctx, query).Scan(
		&c.Papers,
		&c.Authors,
		&c.PaperAuthors,
		&c.Citations,
		&c.OpenAccess,
		&c.FetchLog,
		&c.SearchSources,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count rows: %w", err)
	}
	return &c, nil
}

// storageError converts a driver error into a *domain.StorageError,
// carrying the SQLSTATE code and constraint name when available.
func storageError(pmid int64, op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return domain.NewStorageError(pmid, op, pgErr.Code, pgErr.ConstraintName, err)
	}
	return domain.NewStorageError(pmid, op, "", "", err)
}
