package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/pubmed-harvester/internal/domain"
	"github.com/helixir/pubmed-harvester/internal/papersources/pubmed"
	"github.com/helixir/pubmed-harvester/internal/transform"
)

var testRunID = uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7")

type fakeSource struct {
	result    *pubmed.SearchResult
	searchErr error
	pageErr   map[int]error
	byIDErr   map[int64]error
	onFetch   func(offset int)

	searches  int
	offsets   []int
	handles   []pubmed.Handle
	fetchedID [][]int64
}

func (s *fakeSource) Search(_ context.Context, _ string) (*pubmed.SearchResult, error) {
	s.searches++
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.result, nil
}

func (s *fakeSource) FetchPage(_ context.Context, handle pubmed.Handle, offset, _ int) ([]byte, error) {
	s.offsets = append(s.offsets, offset)
	s.handles = append(s.handles, handle)
	if s.onFetch != nil {
		s.onFetch(offset)
	}
	if err := s.pageErr[offset]; err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("page:%d", offset)), nil
}

func (s *fakeSource) FetchByIDs(_ context.Context, ids []int64) ([]byte, error) {
	s.fetchedID = append(s.fetchedID, ids)
	if err := s.byIDErr[ids[0]]; err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("ids:%d", ids[0])), nil
}

// fakeTransform returns the batch registered for a raw payload.
type fakeTransform struct {
	batches map[string]*transform.Batch
	errs    map[string]error
}

func (f *fakeTransform) fn(raw []byte) (*transform.Batch, error) {
	key := string(raw)
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	if b, ok := f.batches[key]; ok {
		return b, nil
	}
	return &transform.Batch{}, nil
}

type fakeLoader struct {
	mu         sync.Mutex
	processed  map[int64]struct{}
	loadErr    map[int64]error
	listErr    error
	checkErr   error
	markOnLoad bool
	onLoad     func(pmid int64)

	loaded []*domain.RecordGraph
}

func newFakeLoader(processed ...int64) *fakeLoader {
	l := &fakeLoader{processed: make(map[int64]struct{}), loadErr: make(map[int64]error)}
	for _, p := range processed {
		l.processed[p] = struct{}{}
	}
	return l
}

func (l *fakeLoader) Load(_ context.Context, graph *domain.RecordGraph) domain.LoadResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loaded = append(l.loaded, graph)
	pmid := graph.Paper.PMID
	if l.onLoad != nil {
		l.onLoad(pmid)
	}
	if err := l.loadErr[pmid]; err != nil {
		return domain.LoadResult{PMID: pmid, Err: err}
	}
	if l.markOnLoad {
		l.processed[pmid] = struct{}{}
	}
	return domain.LoadResult{PMID: pmid}
}

func (l *fakeLoader) AlreadyProcessed(context.Context) (map[int64]struct{}, error) {
	if l.listErr != nil {
		return nil, l.listErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[int64]struct{}, len(l.processed))
	for k := range l.processed {
		out[k] = struct{}{}
	}
	return out, nil
}

func (l *fakeLoader) IsProcessed(_ context.Context, pmid int64) (bool, error) {
	if l.checkErr != nil {
		return false, l.checkErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.processed[pmid]
	return ok, nil
}

func (l *fakeLoader) RunID() uuid.UUID { return testRunID }

func (l *fakeLoader) loadedPMIDs() []int64 {
	var out []int64
	for _, g := range l.loaded {
		out = append(out, g.Paper.PMID)
	}
	return out
}

type fakeRecorder struct {
	started, completed, aborted int
	pagesFetched, pagesFailed   int
	inserted, failed            int
	skipped, duplicates         int
	diagnostics                 []string
}

func (r *fakeRecorder) RecordRunStarted()                { r.started++ }
func (r *fakeRecorder) RecordRunCompleted(time.Duration) { r.completed++ }
func (r *fakeRecorder) RecordRunAborted(time.Duration)   { r.aborted++ }
func (r *fakeRecorder) RecordPageFetched()               { r.pagesFetched++ }
func (r *fakeRecorder) RecordPageFailed()                { r.pagesFailed++ }
func (r *fakeRecorder) RecordPaperInserted()             { r.inserted++ }
func (r *fakeRecorder) RecordPaperFailed()               { r.failed++ }
func (r *fakeRecorder) RecordPaperSkipped(duplicate bool) {
	r.skipped++
	if duplicate {
		r.duplicates++
	}
}
func (r *fakeRecorder) RecordTransformDiagnostic(reason string) {
	r.diagnostics = append(r.diagnostics, reason)
}

type fakeNotifier struct {
	events []string
	err    error
}

func (n *fakeNotifier) record(name string) error {
	n.events = append(n.events, name)
	return n.err
}

func (n *fakeNotifier) RunStarted(context.Context, string, any) error   { return n.record("started") }
func (n *fakeNotifier) RunCompleted(context.Context, string, any) error { return n.record("completed") }
func (n *fakeNotifier) RunAborted(context.Context, string, any) error   { return n.record("aborted") }
func (n *fakeNotifier) PaperFailed(context.Context, string, any) error {
	return n.record("paper_failed")
}

type fakeFailures struct {
	pmids []int64
	err   error
}

func (f fakeFailures) FailedPMIDs() ([]int64, error) { return f.pmids, f.err }

func graphFor(pmid int64) domain.RecordGraph {
	return domain.RecordGraph{Paper: domain.Paper{PMID: pmid, Title: fmt.Sprintf("Paper %d", pmid)}}
}

func batchOf(pmids ...int64) *transform.Batch {
	b := &transform.Batch{}
	for _, p := range pmids {
		b.Graphs = append(b.Graphs, graphFor(p))
	}
	return b
}

func ptr[T any](v T) *T { return &v }
