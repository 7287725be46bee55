package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/pubmed-harvester/internal/config"
	"github.com/helixir/pubmed-harvester/internal/database"
	"github.com/helixir/pubmed-harvester/internal/events"
	"github.com/helixir/pubmed-harvester/internal/loader"
	"github.com/helixir/pubmed-harvester/internal/observability"
	"github.com/helixir/pubmed-harvester/internal/papersources"
	"github.com/helixir/pubmed-harvester/internal/papersources/pubmed"
	"github.com/helixir/pubmed-harvester/internal/pipeline"
	httpserver "github.com/helixir/pubmed-harvester/internal/server/http"
)

// app holds the dependencies shared by every subcommand.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	metrics  *observability.Metrics
	db       *database.DB
	failures *loader.FailureLog
	serve    bool
}

// newApp loads configuration, applies flag overrides and connects to the
// database.
func newApp(ctx context.Context, o *overrides, command string) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.query != "" {
		cfg.Search.Query = o.query
	}
	if o.pageSize > 0 {
		cfg.Search.PageSize = o.pageSize
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = observability.WithComponent(logger, command)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		failures: loader.NewFailureLog(cfg.FailureLog.Path),
		serve:    o.serve || cfg.Server.Enabled,
	}
	if cfg.Metrics.Enabled {
		a.metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a.db = db
	logger.Info().Msg("database connection established")

	if o.migrate || cfg.Database.MigrationAutoRun {
		if err := database.MigrateUp(db, cfg.Database.MigrationPath, logger); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
	}

	return a, nil
}

func (a *app) close() {
	a.db.Close()
}

// recorder returns the metrics recorder, or nil when metrics are disabled.
func (a *app) recorder() pipeline.Recorder {
	if a.metrics == nil {
		return nil
	}
	return a.metrics
}

// newSession builds the rate-limited E-utilities session.
func (a *app) newSession() *pubmed.Session {
	pm := a.cfg.PubMed
	opts := []papersources.Option{papersources.WithLogger(a.logger)}
	if a.metrics != nil {
		opts = append(opts, papersources.WithObserver(a.metrics))
	}
	client := papersources.NewHTTPClient(papersources.HTTPClientConfig{
		RateLimit:        pm.EffectiveRateLimit(),
		MaxRetries:       pm.MaxRetries,
		BackoffBase:      pm.RetryBackoffBase,
		BackoffMax:       pm.RetryBackoffMax,
		RateLimitedDelay: pm.RateLimitedDelay,
		DefaultTimeout:   pm.Timeout,
	}, opts...)

	return pubmed.NewSession(pubmed.Config{
		BaseURL:       pm.BaseURL,
		Email:         pm.Email,
		Tool:          pm.Tool,
		APIKey:        pm.APIKey,
		SearchTimeout: pm.Timeout,
		FetchTimeout:  pm.FetchTimeout,
	}, client, a.logger)
}

// newLoader builds a loader for a fresh run.
func (a *app) newLoader(retryCount int) *loader.Loader {
	return loader.New(a.db, a.failures, loaderOptions(a.cfg, retryCount), a.logger)
}

// loaderOptions attributes every loaded paper to the configured search.
func loaderOptions(cfg *config.Config, retryCount int) loader.Options {
	return loader.Options{
		RunID:       uuid.New(),
		SearchType:  pipeline.ClassifySearch(cfg.Search.Query),
		SearchQuery: cfg.Search.Query,
		RetryCount:  retryCount,
	}
}

// newOrchestrator wires the session, loader, metrics and events together.
func (a *app) newOrchestrator(ld *loader.Loader, notifier pipeline.Notifier) (*pipeline.Orchestrator, error) {
	return pipeline.New(pipeline.Config{
		Query:          a.cfg.Search.Query,
		PageSize:       a.cfg.Search.PageSize,
		FailureLogPath: a.failures.Path(),
	}, a.newSession(), ld, a.logger,
		pipeline.WithRecorder(a.recorder()),
		pipeline.WithNotifier(notifier),
	)
}

// newNotifier returns a Kafka-backed notifier, or nil when Kafka is disabled.
func (a *app) newNotifier() *events.Notifier {
	if !a.cfg.Kafka.Enabled {
		return nil
	}
	publisher := events.NewKafkaPublisher(events.KafkaConfig{
		Brokers:      a.cfg.Kafka.Brokers,
		Topic:        a.cfg.Kafka.Topic,
		BatchSize:    a.cfg.Kafka.BatchSize,
		BatchTimeout: a.cfg.Kafka.BatchTimeout,
	}, a.logger)
	return events.NewNotifier(events.NewEmitter(events.EmitterConfig{}), publisher, a.logger)
}

// acquireLock takes the single-writer advisory lock.
func (a *app) acquireLock(ctx context.Context) (*database.RunLock, error) {
	lock, err := a.db.AcquireRunLock(ctx, a.cfg.Pipeline.LockKey)
	if err != nil {
		if errors.Is(err, database.ErrLockHeld) {
			return nil, fmt.Errorf("another harvester run holds the writer lock: %w", err)
		}
		return nil, fmt.Errorf("acquire writer lock: %w", err)
	}
	return lock, nil
}

// startOpsServer starts the ops server when enabled and returns its shutdown
// function. status may be nil.
func (a *app) startOpsServer(status httpserver.StatusProvider) func() {
	if !a.serve {
		return func() {}
	}

	metricsPath := ""
	if a.cfg.Metrics.Enabled {
		metricsPath = a.cfg.Metrics.Path
	}
	srv := httpserver.NewServer(httpserver.Config{
		Address:         a.cfg.Server.Address(),
		ReadTimeout:     a.cfg.Server.ReadTimeout,
		WriteTimeout:    a.cfg.Server.WriteTimeout,
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
		MetricsPath:     metricsPath,
	}, a.db, status, a.logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Msg("ops server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Error().Err(err).Msg("ops server shutdown failed")
		}
	}
}

// releaseLock releases the writer lock, logging any failure.
func (a *app) releaseLock(lock *database.RunLock) {
	if err := lock.Release(context.Background()); err != nil {
		a.logger.Error().Err(err).Msg("failed to release writer lock")
	}
}
