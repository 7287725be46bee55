package loader

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/pubmed-harvester/internal/domain"
)

func strPtr(s string) *string { return &s }
func int64Ptr(v int64) *int64 { return &v }

// anyArgs matches n arguments of any value.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

var fixedNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func newTestGraph() *domain.RecordGraph {
	pmcid := "PMC10800001"
	pmcURL := "https://www.ncbi.nlm.nih.gov/pmc/articles/PMC10800001/"
	return &domain.RecordGraph{
		Paper: domain.Paper{
			PMID:  38012345,
			Title: "Subicular bursting neurons gate hippocampal output.",
			PMCID: &pmcid,
		},
		Authors: []domain.PaperAuthor{
			{Author: domain.Author{LastName: "Kim", ForeName: strPtr("Ji-Won")}, Position: 1, Affiliation: strPtr("Example University")},
			{Author: domain.Author{LastName: "Lee"}, Position: 3},
		},
		Citations: []domain.Citation{
			{CitedPMID: int64Ptr(11311458)},
			{CitedDOI: strPtr("10.1016/j.neuron.2018.01.001")},
		},
		OpenAccess: &domain.OpenAccessRecord{PMCID: &pmcid, IsOpenAccess: true, PMCURL: &pmcURL},
	}
}

type testLoader struct {
	loader  *Loader
	mock    pgxmock.PgxPoolIface
	logPath string
	runID   uuid.UUID
}

func newTestLoader(t *testing.T) *testLoader {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	logPath := filepath.Join(t.TempDir(), "write_failure.log")
	runID := uuid.New()
	l := New(mock, NewFailureLog(logPath), Options{
		RunID:       runID,
		SearchType:  domain.SearchTypeTitleAbstract,
		SearchQuery: "subiculum[Title/Abstract]",
	}, zerolog.Nop(), WithClock(func() time.Time { return fixedNow }))

	return &testLoader{loader: l, mock: mock, logPath: logPath, runID: runID}
}

func (tl *testLoader) failedPMIDs(t *testing.T) []int64 {
	t.Helper()
	pmids, err := NewFailureLog(tl.logPath).FailedPMIDs()
	require.NoError(t, err)
	return pmids
}

func TestLoader_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("commits the whole graph", func(t *testing.T) {
		tl := newTestLoader(t)
		g := newTestGraph()
		pmid := g.Paper.PMID

		tl.mock.ExpectBegin()
		tl.mock.ExpectExec("INSERT INTO papers").WithArgs(anyArgs(17)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		tl.mock.ExpectQuery("SELECT author_id FROM authors").
			WithArgs("Kim", g.Authors[0].Author.ForeName, (*string)(nil)).
			WillReturnRows(pgxmock.NewRows([]string{"author_id"}).AddRow(int64(11)))
		tl.mock.ExpectExec("INSERT INTO paper_authors").
			WithArgs(pmid, int64(11), 1, g.Authors[0].Affiliation).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		tl.mock.ExpectQuery("SELECT author_id FROM authors").
			WithArgs("Lee", (*string)(nil), (*string)(nil)).
			WillReturnRows(pgxmock.NewRows([]string{"author_id"}).AddRow(int64(12)))
		tl.mock.ExpectExec("INSERT INTO paper_authors").
			WithArgs(pmid, int64(12), 3, (*string)(nil)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		tl.mock.ExpectExec("INSERT INTO citations").WithArgs(anyArgs(4)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		tl.mock.ExpectExec("INSERT INTO citations").WithArgs(anyArgs(4)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		tl.mock.ExpectExec("INSERT INTO paper_open_access").WithArgs(anyArgs(6)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		tl.mock.ExpectExec("INSERT INTO fetch_log").
			WithArgs(pmid, fixedNow, true, 0, tl.runID).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		tl.mock.ExpectExec("INSERT INTO paper_search_sources").
			WithArgs(pmid, "title_abstract", "subiculum[Title/Abstract]", fixedNow).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		tl.mock.ExpectCommit()

		result := tl.loader.Load(ctx, g)
		require.True(t, result.OK(), "unexpected error: %v", result.Err)
		assert.Equal(t, pmid, result.PMID)
		assert.True(t, g.Paper.FetchDate.IsZero(), "caller graph must not be mutated")
		assert.NoError(t, tl.mock.ExpectationsWereMet())
		assert.Empty(t, tl.failedPMIDs(t))
	})

	t.Run("duplicate position rolls back and records the failure", func(t *testing.T) {
		tl := newTestLoader(t)
		g := newTestGraph()

		tl.mock.ExpectBegin()
		tl.mock.ExpectExec("INSERT INTO papers").WithArgs(anyArgs(17)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		tl.mock.ExpectQuery("SELECT author_id FROM authors").
			WithArgs(anyArgs(3)...).
			WillReturnRows(pgxmock.NewRows([]string{"author_id"}).AddRow(int64(11)))
		tl.mock.ExpectExec("INSERT INTO paper_authors").
			WithArgs(anyArgs(4)...).
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "paper_authors_position_key"})
		tl.mock.ExpectRollback()

		result := tl.loader.Load(ctx, g)
		require.False(t, result.OK())
		assert.ErrorIs(t, result.Err, domain.ErrStorageConstraint)
		assert.NoError(t, tl.mock.ExpectationsWereMet())
		assert.Equal(t, []int64{g.Paper.PMID}, tl.failedPMIDs(t))
	})

	t.Run("duplicate citation edge fails the paper", func(t *testing.T) {
		tl := newTestLoader(t)
		g := newTestGraph()
		g.Authors = nil
		g.Citations = append(g.Citations, g.Citations[0])

		tl.mock.ExpectBegin()
		tl.mock.ExpectExec("INSERT INTO papers").WithArgs(anyArgs(17)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		tl.mock.ExpectExec("INSERT INTO citations").WithArgs(anyArgs(4)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		tl.mock.ExpectExec("INSERT INTO citations").WithArgs(anyArgs(4)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		tl.mock.ExpectExec("INSERT INTO citations").
			WithArgs(anyArgs(4)...).
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "citations_edge_key"})
		tl.mock.ExpectRollback()

		result := tl.loader.Load(ctx, g)
		assert.ErrorIs(t, result.Err, domain.ErrStorageConstraint)
		assert.NoError(t, tl.mock.ExpectationsWereMet())
	})

	t.Run("invalid graph never opens a transaction", func(t *testing.T) {
		tl := newTestLoader(t)
		g := newTestGraph()
		g.Paper.Title = "  "

		result := tl.loader.Load(ctx, g)
		assert.ErrorIs(t, result.Err, domain.ErrMalformedDocument)
		assert.NoError(t, tl.mock.ExpectationsWereMet())
		assert.Equal(t, []int64{g.Paper.PMID}, tl.failedPMIDs(t))
	})

	t.Run("nil graph", func(t *testing.T) {
		tl := newTestLoader(t)

		result := tl.loader.Load(ctx, nil)
		assert.False(t, result.OK())
		assert.Equal(t, int64(0), result.PMID)
	})

	t.Run("begin failure is a load failure", func(t *testing.T) {
		tl := newTestLoader(t)
		g := newTestGraph()

		tl.mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

		result := tl.loader.Load(ctx, g)
		assert.False(t, result.OK())
		assert.Contains(t, result.Err.Error(), "connection refused")
		assert.Equal(t, []int64{g.Paper.PMID}, tl.failedPMIDs(t))
	})

	t.Run("cancelled load is not recorded as a failure", func(t *testing.T) {
		tl := newTestLoader(t)
		g := newTestGraph()
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		tl.mock.ExpectBegin().WillReturnError(context.Canceled)

		result := tl.loader.Load(cancelled, g)
		require.False(t, result.OK())
		assert.ErrorIs(t, result.Err, context.Canceled)
		assert.Empty(t, tl.failedPMIDs(t))
	})

	t.Run("retry load records the search source", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		runID := uuid.New()
		l := New(mock, nil, Options{
			RunID:       runID,
			SearchType:  domain.SearchTypeMeSH,
			SearchQuery: "subiculum[MeSH Terms]",
			RetryCount:  1,
		}, zerolog.Nop(), WithClock(func() time.Time { return fixedNow }))
		g := newTestGraph()
		g.Authors, g.Citations, g.OpenAccess = nil, nil, nil

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO papers").WithArgs(anyArgs(17)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec("INSERT INTO fetch_log").
			WithArgs(g.Paper.PMID, fixedNow, true, 1, runID).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec("INSERT INTO paper_search_sources").
			WithArgs(g.Paper.PMID, "mesh", "subiculum[MeSH Terms]", fixedNow).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		result := l.Load(ctx, g)
		require.True(t, result.OK(), "unexpected error: %v", result.Err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("without search type the source row is skipped", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		l := New(mock, nil, Options{RetryCount: 1}, zerolog.Nop(), WithClock(func() time.Time { return fixedNow }))
		g := newTestGraph()
		g.Authors, g.Citations, g.OpenAccess = nil, nil, nil

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO papers").WithArgs(anyArgs(17)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec("INSERT INTO fetch_log").
			WithArgs(g.Paper.PMID, fixedNow, true, 1, uuid.Nil).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		result := l.Load(ctx, g)
		require.True(t, result.OK(), "unexpected error: %v", result.Err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLoader_AlreadyProcessed(t *testing.T) {
	ctx := context.Background()
	tl := newTestLoader(t)

	tl.mock.ExpectQuery("SELECT DISTINCT pmid FROM fetch_log WHERE fetch_success").
		WillReturnRows(pgxmock.NewRows([]string{"pmid"}).AddRow(int64(5)).AddRow(int64(9)))

	processed, err := tl.loader.AlreadyProcessed(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int64]struct{}{5: {}, 9: {}}, processed)
	assert.NoError(t, tl.mock.ExpectationsWereMet())
}

func TestLoader_IsProcessed(t *testing.T) {
	ctx := context.Background()
	tl := newTestLoader(t)

	tl.mock.ExpectQuery("SELECT EXISTS").
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	ok, err := tl.loader.IsProcessed(ctx, 5)
	require.NoError(t, err)
	assert.False(t, ok)
}
