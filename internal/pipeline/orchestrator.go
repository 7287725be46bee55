package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/pubmed-harvester/internal/domain"
	"github.com/helixir/pubmed-harvester/internal/observability"
	"github.com/helixir/pubmed-harvester/internal/papersources/pubmed"
	"github.com/helixir/pubmed-harvester/internal/transform"
)

// ErrRunInProgress is returned when Run or RetryFailed is called while another
// run on the same orchestrator has not finished.
var ErrRunInProgress = errors.New("run already in progress")

// Source is the search session the orchestrator pages through.
type Source interface {
	Search(ctx context.Context, query string) (*pubmed.SearchResult, error)
	FetchPage(ctx context.Context, handle pubmed.Handle, offset, pageSize int) ([]byte, error)
	FetchByIDs(ctx context.Context, ids []int64) ([]byte, error)
}

// RecordLoader commits record graphs and answers the processed-set queries.
type RecordLoader interface {
	Load(ctx context.Context, graph *domain.RecordGraph) domain.LoadResult
	AlreadyProcessed(ctx context.Context) (map[int64]struct{}, error)
	IsProcessed(ctx context.Context, pmid int64) (bool, error)
	RunID() uuid.UUID
}

// TransformFunc converts one raw page into record graphs.
type TransformFunc func(raw []byte) (*transform.Batch, error)

// Recorder receives run metrics. *observability.Metrics satisfies it.
type Recorder interface {
	RecordRunStarted()
	RecordRunCompleted(duration time.Duration)
	RecordRunAborted(duration time.Duration)
	RecordPageFetched()
	RecordPageFailed()
	RecordPaperInserted()
	RecordPaperFailed()
	RecordPaperSkipped(duplicate bool)
	RecordTransformDiagnostic(reason string)
}

// Notifier receives run events. *events.Notifier satisfies it.
type Notifier interface {
	RunStarted(ctx context.Context, runID string, payload any) error
	RunCompleted(ctx context.Context, runID string, payload any) error
	RunAborted(ctx context.Context, runID string, payload any) error
	PaperFailed(ctx context.Context, runID string, payload any) error
}

// Config holds the per-run settings.
type Config struct {
	// Query is the search query.
	Query string
	// PageSize is the number of records requested per page.
	PageSize int
	// FailureLogPath is reported so operators know where to look.
	FailureLogPath string
}

// Orchestrator runs one harvest at a time and exposes its live report.
type Orchestrator struct {
	cfg       Config
	source    Source
	loader    RecordLoader
	transform TransformFunc
	recorder  Recorder
	notifier  Notifier
	logger    zerolog.Logger
	now       func() time.Time

	mu      sync.RWMutex
	report  RunReport
	running bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTransform replaces the page transform.
func WithTransform(fn TransformFunc) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.transform = fn
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithNotifier sets the event notifier.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates an Orchestrator.
func New(cfg Config, source Source, loader RecordLoader, logger zerolog.Logger, opts ...Option) (*Orchestrator, error) {
	if source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if loader == nil {
		return nil, fmt.Errorf("loader is required")
	}
	if cfg.PageSize <= 0 || cfg.PageSize > pubmed.MaxPageSize {
		return nil, fmt.Errorf("%w: page size must be between 1 and %d", domain.ErrInvalidInput, pubmed.MaxPageSize)
	}

	o := &Orchestrator{
		cfg:       cfg,
		source:    source,
		loader:    loader,
		transform: transform.Transform,
		recorder:  noopRecorder{},
		notifier:  noopNotifier{},
		logger:    observability.WithComponent(logger, "orchestrator"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.report = o.newReport()
	return o, nil
}

func (o *Orchestrator) newReport() RunReport {
	return RunReport{
		RunID:          o.loader.RunID().String(),
		Query:          o.cfg.Query,
		SearchType:     ClassifySearch(o.cfg.Query),
		State:          StateIdle,
		FailureLogPath: o.cfg.FailureLogPath,
	}
}

// Report returns a snapshot of the current or last run.
func (o *Orchestrator) Report() RunReport {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.report.clone()
}

func (o *Orchestrator) update(fn func(r *RunReport)) {
	o.mu.Lock()
	fn(&o.report)
	o.mu.Unlock()
}

func (o *Orchestrator) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return ErrRunInProgress
	}
	o.running = true
	o.report = o.newReport()
	o.report.StartedAt = o.now().UTC()
	return nil
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
}

// Run executes one harvest of the configured query.
//
// The returned report is always non-nil. The error is non-nil only when the
// run aborted: the processed-set lookup or the search failed, or ctx ended.
func (o *Orchestrator) Run(ctx context.Context) (*RunReport, error) {
	if err := o.begin(); err != nil {
		return nil, err
	}
	defer o.end()

	runID := o.loader.RunID().String()
	ctx = observability.WithRunID(ctx, runID)
	logger := observability.WithRunContext(o.logger, runID, o.cfg.Query)

	o.recorder.RecordRunStarted()
	o.notify(ctx, logger, o.notifier.RunStarted, runID, o.Report())
	logger.Info().
		Str("search_type", string(ClassifySearch(o.cfg.Query))).
		Int("page_size", o.cfg.PageSize).
		Msg("run started")

	processed, err := o.loader.AlreadyProcessed(ctx)
	if err != nil {
		return o.abort(ctx, logger, fmt.Errorf("load processed set: %w", err))
	}
	o.update(func(r *RunReport) { r.AlreadyProcessed = len(processed) })
	logger.Info().Int("already_processed", len(processed)).Msg("loaded processed set")

	o.update(func(r *RunReport) { r.State = StateSearching })
	result, err := o.source.Search(ctx, o.cfg.Query)
	if err != nil {
		return o.abort(ctx, logger, fmt.Errorf("search: %w", err))
	}

	totalPages := pageCount(result.Count, o.cfg.PageSize)
	o.update(func(r *RunReport) {
		r.TotalCount = result.Count
		r.TotalPages = totalPages
	})
	logger.Info().
		Int("count", result.Count).
		Int("total_pages", totalPages).
		Msg("search complete")

	if result.Count == len(processed) {
		logger.Info().Msg("all papers already processed, nothing to fetch")
		return o.complete(ctx, logger)
	}

	o.update(func(r *RunReport) { r.State = StatePaging })
	attempted := make(map[int64]struct{})
	for page := 0; page < totalPages; page++ {
		if err := ctx.Err(); err != nil {
			return o.abort(ctx, logger, err)
		}
		offset := page * o.cfg.PageSize
		o.update(func(r *RunReport) { r.CurrentOffset = offset })
		if err := o.processPage(ctx, logger, result, page, totalPages, offset, processed, attempted); err != nil {
			return o.abort(ctx, logger, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return o.abort(ctx, logger, err)
	}

	return o.complete(ctx, logger)
}

func (o *Orchestrator) processPage(
	ctx context.Context,
	runLogger zerolog.Logger,
	result *pubmed.SearchResult,
	page, totalPages, offset int,
	processed, attempted map[int64]struct{},
) error {
	logger := observability.WithPageContext(runLogger, page+1, totalPages, offset)
	last := min(offset+o.cfg.PageSize, result.Count)
	logger.Info().Msgf("batch %d/%d (papers %d-%d)", page+1, totalPages, offset+1, last)

	raw, err := o.source.FetchPage(ctx, result.Handle, offset, o.cfg.PageSize)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		o.pageFailed(logger, "fetch", err)
		return nil
	}

	batch, err := o.transform(raw)
	if err != nil {
		o.pageFailed(logger, "transform", err)
		return nil
	}
	o.recorder.RecordPageFetched()
	o.recordDiagnostics(logger, batch)
	o.update(func(r *RunReport) {
		r.PagesFetched++
		r.Diagnostics += len(batch.Diagnostics)
		r.DroppedCitations += batch.DroppedCitations
	})

	var inserted, failed, skipped int
	for i := range batch.Graphs {
		graph := &batch.Graphs[i]
		pmid := graph.Paper.PMID

		if _, done := processed[pmid]; done {
			skipped++
			o.recorder.RecordPaperSkipped(false)
			o.update(func(r *RunReport) { r.Skipped++ })
			continue
		}
		if _, seen := attempted[pmid]; seen {
			skipped++
			o.recorder.RecordPaperSkipped(true)
			o.update(func(r *RunReport) {
				r.Skipped++
				r.Duplicates++
			})
			logger.Debug().Int64("pmid", pmid).Msg("paper already attempted in this run")
			continue
		}
		// A cancelled load is not a failure; the paper stays unprocessed
		// and the next run picks it up.
		if err := ctx.Err(); err != nil {
			return err
		}
		attempted[pmid] = struct{}{}

		res := o.loader.Load(ctx, graph)
		if !res.OK() && ctx.Err() != nil {
			return ctx.Err()
		}
		if res.OK() {
			inserted++
			o.recorder.RecordPaperInserted()
			o.update(func(r *RunReport) { r.Inserted++ })
			continue
		}

		failed++
		o.recorder.RecordPaperFailed()
		o.update(func(r *RunReport) {
			r.Failed++
			r.FailedPMIDs = append(r.FailedPMIDs, pmid)
		})
		o.notify(ctx, logger, o.notifier.PaperFailed, o.loader.RunID().String(), paperFailure{
			PMID:         pmid,
			FailureClass: domain.FailureClass(res.Err),
			Message:      res.Err.Error(),
		})
	}

	logger.Info().
		Int("documents", batch.Documents).
		Int("inserted", inserted).
		Int("failed", failed).
		Int("skipped", skipped).
		Msg("batch complete")
	return nil
}

func (o *Orchestrator) pageFailed(logger zerolog.Logger, stage string, err error) {
	o.recorder.RecordPageFailed()
	o.update(func(r *RunReport) { r.PagesFailed++ })
	logger.Error().Err(err).
		Str("stage", stage).
		Str("failure_class", domain.FailureClass(err)).
		Msg("page failed, continuing with next page")
}

func (o *Orchestrator) recordDiagnostics(logger zerolog.Logger, batch *transform.Batch) {
	for _, d := range batch.Diagnostics {
		o.recorder.RecordTransformDiagnostic(string(d.Reason))
		event := logger.Warn().
			Int("document", d.Document).
			Str("pmid", d.PMID).
			Str("reason", string(d.Reason))
		if !d.DocumentLevel() {
			event = event.Int("author_position", d.AuthorPosition)
		}
		if d.Detail != "" {
			event = event.Str("detail", d.Detail)
		}
		event.Msg("transform dropped record")
	}
	if batch.DroppedCitations > 0 {
		logger.Debug().Int("dropped_citations", batch.DroppedCitations).Msg("dropped unresolvable citations")
	}
}

func (o *Orchestrator) complete(ctx context.Context, logger zerolog.Logger) (*RunReport, error) {
	o.update(func(r *RunReport) {
		r.State = StateDone
		r.FinishedAt = o.now().UTC()
	})
	report := o.Report()
	o.recorder.RecordRunCompleted(report.Duration())
	o.notify(ctx, logger, o.notifier.RunCompleted, report.RunID, report)

	event := logger.Info()
	if report.Failed > 0 {
		event = logger.Warn().Str("failure_log", report.FailureLogPath)
	}
	event.
		Int("inserted", report.Inserted).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Int("duplicates", report.Duplicates).
		Int("pages_fetched", report.PagesFetched).
		Int("pages_failed", report.PagesFailed).
		Int("diagnostics", report.Diagnostics).
		Dur("duration", report.Duration()).
		Msg("run complete")
	return &report, nil
}

func (o *Orchestrator) abort(ctx context.Context, logger zerolog.Logger, cause error) (*RunReport, error) {
	o.update(func(r *RunReport) {
		r.State = StateAborted
		r.FinishedAt = o.now().UTC()
		r.Error = cause.Error()
	})
	report := o.Report()
	o.recorder.RecordRunAborted(report.Duration())
	// ctx may be the reason for the abort.
	o.notify(context.WithoutCancel(ctx), logger, o.notifier.RunAborted, report.RunID, report)

	logger.Error().Err(cause).
		Str("failure_class", domain.FailureClass(cause)).
		Int("inserted", report.Inserted).
		Msg("run aborted")
	return &report, fmt.Errorf("run %s aborted: %w", report.RunID, cause)
}

// notify publishes an event; failures are logged and never affect the run.
func (o *Orchestrator) notify(
	ctx context.Context,
	logger zerolog.Logger,
	fn func(context.Context, string, any) error,
	runID string,
	payload any,
) {
	if err := fn(ctx, runID, payload); err != nil {
		logger.Warn().Err(err).Msg("failed to publish run event")
	}
}

// paperFailure is the payload of a paper-failed event.
type paperFailure struct {
	PMID         int64  `json:"pmid"`
	FailureClass string `json:"failure_class"`
	Message      string `json:"message"`
}

func pageCount(total, pageSize int) int {
	if total <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

type noopRecorder struct{}

func (noopRecorder) RecordRunStarted()                {}
func (noopRecorder) RecordRunCompleted(time.Duration) {}
func (noopRecorder) RecordRunAborted(time.Duration)   {}
func (noopRecorder) RecordPageFetched()               {}
func (noopRecorder) RecordPageFailed()                {}
func (noopRecorder) RecordPaperInserted()             {}
func (noopRecorder) RecordPaperFailed()               {}
func (noopRecorder) RecordPaperSkipped(bool)          {}
func (noopRecorder) RecordTransformDiagnostic(string) {}

type noopNotifier struct{}

func (noopNotifier) RunStarted(context.Context, string, any) error   { return nil }
func (noopNotifier) RunCompleted(context.Context, string, any) error { return nil }
func (noopNotifier) RunAborted(context.Context, string, any) error   { return nil }
func (noopNotifier) PaperFailed(context.Context, string, any) error  { return nil }
