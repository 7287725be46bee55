package pipeline

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/helixir/pubmed-harvester/internal/domain"
	"github.com/helixir/pubmed-harvester/internal/observability"
)

// FailureSource lists the identifiers recorded in the failure log.
// *loader.FailureLog satisfies it.
type FailureSource interface {
	FailedPMIDs() ([]int64, error)
}

// RetryFailed reloads every identifier in the failure log, one at a time in
// ascending order, through direct fetch, transform and load. Identifiers that
// are already processed are reported and not reloaded. Citations are deduped
// before loading so a repeated reference no longer trips the uniqueness
// constraint.
//
// Per-identifier failures are reported in StillFailing; the error is non-nil
// only when the failure log cannot be read or ctx ends.
func (o *Orchestrator) RetryFailed(ctx context.Context, failures FailureSource) (*RetryReport, error) {
	if failures == nil {
		return nil, fmt.Errorf("failure source is required")
	}
	if err := o.begin(); err != nil {
		return nil, err
	}
	defer o.end()

	runID := o.loader.RunID().String()
	ctx = observability.WithRunID(ctx, runID)
	logger := o.logger.With().Str("run_id", runID).Str("mode", "retry_failed").Logger()

	report := &RetryReport{
		RunID:          runID,
		FailureLogPath: o.cfg.FailureLogPath,
		StartedAt:      o.now().UTC(),
	}

	pmids, err := failures.FailedPMIDs()
	if err != nil {
		return nil, fmt.Errorf("read failure log: %w", err)
	}
	pmids = slices.Clone(pmids)
	slices.Sort(pmids)
	pmids = slices.Compact(pmids)
	report.Requested = len(pmids)

	if len(pmids) == 0 {
		logger.Info().Msg("failure log is empty, nothing to retry")
		report.FinishedAt = o.now().UTC()
		return report, nil
	}

	o.recorder.RecordRunStarted()
	logger.Info().Int("requested", len(pmids)).Msg("retrying failed papers")

	for i, pmid := range pmids {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = o.now().UTC()
			o.recorder.RecordRunAborted(report.FinishedAt.Sub(report.StartedAt))
			return report, fmt.Errorf("retry interrupted after %d of %d: %w", i, len(pmids), err)
		}

		paperLogger := observability.WithPaperContext(logger, pmid)
		outcome, err := o.retryOne(ctx, paperLogger, pmid)
		if ctxErr := ctx.Err(); ctxErr != nil && outcome == retryFailed {
			report.FinishedAt = o.now().UTC()
			o.recorder.RecordRunAborted(report.FinishedAt.Sub(report.StartedAt))
			return report, fmt.Errorf("retry interrupted after %d of %d: %w", i, len(pmids), ctxErr)
		}
		switch outcome {
		case retrySucceeded:
			report.Succeeded = append(report.Succeeded, pmid)
			o.recorder.RecordPaperInserted()
			paperLogger.Info().Msg("retry succeeded")
		case retryAlreadyProcessed:
			report.AlreadyProcessed = append(report.AlreadyProcessed, pmid)
			o.recorder.RecordPaperSkipped(false)
			paperLogger.Info().Msg("already processed")
		default:
			report.StillFailing = append(report.StillFailing, pmid)
			o.recorder.RecordPaperFailed()
			paperLogger.Warn().Err(err).
				Str("failure_class", domain.FailureClass(err)).
				Msg("retry failed")
		}
	}

	report.FinishedAt = o.now().UTC()
	o.recorder.RecordRunCompleted(report.FinishedAt.Sub(report.StartedAt))
	logger.Info().
		Int("requested", report.Requested).
		Int("succeeded", len(report.Succeeded)).
		Int("already_processed", len(report.AlreadyProcessed)).
		Int("still_failing", len(report.StillFailing)).
		Msg("retry complete")
	return report, nil
}

type retryOutcome int

const (
	retryFailed retryOutcome = iota
	retrySucceeded
	retryAlreadyProcessed
)

func (o *Orchestrator) retryOne(ctx context.Context, logger zerolog.Logger, pmid int64) (retryOutcome, error) {
	done, err := o.loader.IsProcessed(ctx, pmid)
	if err != nil {
		return retryFailed, fmt.Errorf("check processed: %w", err)
	}
	if done {
		return retryAlreadyProcessed, nil
	}

	raw, err := o.source.FetchByIDs(ctx, []int64{pmid})
	if err != nil {
		return retryFailed, fmt.Errorf("fetch: %w", err)
	}
	batch, err := o.transform(raw)
	if err != nil {
		return retryFailed, fmt.Errorf("transform: %w", err)
	}
	o.recordDiagnostics(logger, batch)

	var graph *domain.RecordGraph
	for i := range batch.Graphs {
		if batch.Graphs[i].Paper.PMID == pmid {
			graph = &batch.Graphs[i]
			break
		}
	}
	if graph == nil {
		return retryFailed, domain.NewNotFoundError("paper", strconv.FormatInt(pmid, 10))
	}

	if removed := graph.DedupeCitations(); removed > 0 {
		logger.Debug().Int("removed", removed).Msg("removed duplicate citations")
	}

	if res := o.loader.Load(ctx, graph); !res.OK() {
		return retryFailed, res.Err
	}
	return retrySucceeded, nil
}
