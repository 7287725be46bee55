// Package loader writes record graphs to PostgreSQL, one transaction per
// paper, and answers which identifiers are already durably processed.
package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/helixir/pubmed-harvester/internal/database"
	"github.com/helixir/pubmed-harvester/internal/domain"
	"github.com/helixir/pubmed-harvester/internal/observability"
	"github.com/helixir/pubmed-harvester/internal/repository"
)

// Store is the connection the loader owns: it reads the processed set and
// starts one transaction per paper.
type Store interface {
	database.DBTX
	database.TxStarter
}

// RepositoryFactory binds a repository to a pool or transaction.
type RepositoryFactory func(db repository.DBTX) repository.RecordRepository

// Options describe the provenance written with every committed paper.
type Options struct {
	// RunID is stored on fetch log rows.
	RunID uuid.UUID

	// SearchType and SearchQuery identify the search that surfaced the papers.
	SearchType  domain.SearchType
	SearchQuery string

	// RetryCount is stored on fetch log rows; non-zero for retry-failed runs.
	RetryCount int
}

// Loader is the transactional loader.
type Loader struct {
	store    Store
	newRepo  RepositoryFactory
	failures FailureRecorder
	opts     Options
	logger   zerolog.Logger
	now      func() time.Time
}

// Option configures a Loader.
type Option func(*Loader)

// WithRepositoryFactory overrides how repositories are created.
func WithRepositoryFactory(f RepositoryFactory) Option {
	return func(l *Loader) {
		l.newRepo = f
	}
}

// WithClock overrides the time source used for fetch and found dates.
func WithClock(now func() time.Time) Option {
	return func(l *Loader) {
		l.now = now
	}
}

// New creates a loader. failures may be nil, in which case failed loads are
// only logged.
func New(store Store, failures FailureRecorder, opts Options, logger zerolog.Logger, options ...Option) *Loader {
	l := &Loader{
		store:    store,
		failures: failures,
		opts:     opts,
		logger:   logger.With().Str("component", "loader").Logger(),
		now:      time.Now,
		newRepo: func(db repository.DBTX) repository.RecordRepository {
			return repository.NewPgRecordRepository(db)
		},
	}
	for _, o := range options {
		o(l)
	}
	return l
}

// RunID returns the run identifier written to fetch log rows.
func (l *Loader) RunID() uuid.UUID {
	return l.opts.RunID
}

// Load writes graph in a single transaction: paper, author links, citations,
// open-access record, fetch log success row and search source. Any failure
// rolls the whole graph back, is appended to the failure log and is returned
// in the result rather than as an error. A load interrupted by ctx is rolled
// back but not logged as a failure, so the paper is simply retried by the
// next run.
func (l *Loader) Load(ctx context.Context, graph *domain.RecordGraph) domain.LoadResult {
	var pmid int64
	if graph != nil {
		pmid = graph.Paper.PMID
	}
	result := domain.LoadResult{PMID: pmid}

	if err := graph.Validate(); err != nil {
		result.Err = err
		l.recordFailure(ctx, pmid, err)
		return result
	}

	err := database.WithTransaction(ctx, l.store, pgx.TxOptions{}, l.logger, func(tx pgx.Tx) error {
		return l.write(ctx, l.newRepo(tx), graph)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			result.Err = fmt.Errorf("load interrupted: %w", ctxErr)
			logger := observability.LoggerFromContext(ctx, l.logger)
			logger.Warn().
				Err(err).
				Int64("pmid", pmid).
				Msg("load interrupted, paper left unprocessed")
			return result
		}
		result.Err = err
		l.recordFailure(ctx, pmid, err)
		return result
	}

	l.logger.Debug().
		Int64("pmid", pmid).
		Int("authors", len(graph.Authors)).
		Int("citations", len(graph.Citations)).
		Msg("paper committed")
	return result
}

func (l *Loader) write(ctx context.Context, repo repository.RecordRepository, graph *domain.RecordGraph) error {
	now := l.now().UTC()
	pmid := graph.Paper.PMID

	paper := graph.Paper
	paper.FetchDate = now
	if err := repo.InsertPaper(ctx, &paper); err != nil {
		return err
	}

	for _, pa := range graph.Authors {
		authorID, err := repo.ResolveAuthor(ctx, pmid, pa.Author)
		if err != nil {
			return err
		}
		if err := repo.InsertPaperAuthor(ctx, pmid, authorID, pa.Position, pa.Affiliation); err != nil {
			return err
		}
	}

	for _, c := range graph.Citations {
		if err := repo.InsertCitation(ctx, pmid, c); err != nil {
			return err
		}
	}

	if err := repo.InsertOpenAccess(ctx, pmid, graph.OpenAccess); err != nil {
		return err
	}

	if err := repo.InsertFetchLog(ctx, domain.FetchLogEntry{
		PMID:        pmid,
		AttemptDate: now,
		Success:     true,
		RetryCount:  l.opts.RetryCount,
		RunID:       l.opts.RunID,
	}); err != nil {
		return err
	}

	if l.opts.SearchType == "" {
		return nil
	}
	return repo.UpsertSearchSource(ctx, domain.SearchSource{
		PMID:       pmid,
		SearchType: l.opts.SearchType,
		Query:      l.opts.SearchQuery,
		FoundDate:  now,
	})
}

func (l *Loader) recordFailure(ctx context.Context, pmid int64, err error) {
	logger := observability.LoggerFromContext(ctx, l.logger)
	logger.Error().
		Err(err).
		Int64("pmid", pmid).
		Str("failure_class", domain.FailureClass(err)).
		Msg("failed to load paper")

	if l.failures == nil {
		return
	}
	if recErr := l.failures.RecordFailure(pmid, err.Error()); recErr != nil {
		logger.Error().Err(recErr).Int64("pmid", pmid).Msg("failed to append to failure log")
	}
}

// AlreadyProcessed returns exactly the identifiers with a successful fetch
// log entry.
func (l *Loader) AlreadyProcessed(ctx context.Context) (map[int64]struct{}, error) {
	return l.newRepo(l.store).ProcessedPMIDs(ctx)
}

// IsProcessed reports whether pmid has a successful fetch log entry.
func (l *Loader) IsProcessed(ctx context.Context, pmid int64) (bool, error) {
	return l.newRepo(l.store).IsProcessed(ctx, pmid)
}

// Counts returns per-table row counts.
func (l *Loader) Counts(ctx context.Context) (*repository.TableCounts, error) {
	return l.newRepo(l.store).Counts(ctx)
}
