// Package main provides a CLI tool for harvester schema migrations.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/pubmed-harvester/internal/config"
	"github.com/helixir/pubmed-harvester/internal/database"
	"github.com/helixir/pubmed-harvester/internal/observability"
)

// connectTimeout bounds the database connection and the migration itself.
const connectTimeout = 5 * time.Minute

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var migrationsPath string

	root := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the harvester schema",
		Long: `Migrate manages the harvester's PostgreSQL schema with golang-migrate.

Only the database section of the configuration is required.

Examples:
  migrate up
  migrate steps -1
  migrate force 1
  migrate version --path ./migrations`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&migrationsPath, "path", "", "Override the migrations directory path")

	withMigrator := func(fn func(*database.Migrator, zerolog.Logger) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			return runWithMigrator(cmd.Context(), migrationsPath, fn)
		}
	}

	root.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Run all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(m *database.Migrator, logger zerolog.Logger) error {
			logger.Info().Msg("running all pending migrations")
			if err := m.Up(); err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			printVersion(m, logger)
			return nil
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(m *database.Migrator, logger zerolog.Logger) error {
			logger.Warn().Msg("rolling back all migrations")
			if err := m.Down(); err != nil {
				return fmt.Errorf("migrate down: %w", err)
			}
			printVersion(m, logger)
			return nil
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "steps N",
		Short: "Run N migration steps (positive=up, negative=down)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseSteps(args[0])
			if err != nil {
				return err
			}
			return runWithMigrator(cmd.Context(), migrationsPath, func(m *database.Migrator, logger zerolog.Logger) error {
				logger.Info().Int("steps", n).Msg("running migration steps")
				if err := m.Steps(n); err != nil {
					return fmt.Errorf("migrate steps: %w", err)
				}
				printVersion(m, logger)
				return nil
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current migration version",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(m *database.Migrator, logger zerolog.Logger) error {
			printVersion(m, logger)
			return nil
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "force V",
		Short: "Force set migration version (use to recover from failed migrations)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseVersion(args[0])
			if err != nil {
				return err
			}
			return runWithMigrator(cmd.Context(), migrationsPath, func(m *database.Migrator, logger zerolog.Logger) error {
				logger.Warn().Int("version", v).Msg("forcing migration version")
				if err := m.Force(v); err != nil {
					return fmt.Errorf("force version: %w", err)
				}
				printVersion(m, logger)
				return nil
			})
		},
	})

	return root
}

// runWithMigrator connects to the database, builds a migrator and runs fn.
func runWithMigrator(ctx context.Context, pathOverride string, fn func(*database.Migrator, zerolog.Logger) error) error {
	dbCfg, err := config.LoadDatabase()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Console output for the CLI tool.
	logCfg := observability.DefaultLoggingConfig()
	logCfg.Format = "console"
	logger := observability.WithComponent(observability.NewLogger(logCfg), "migrate")

	migrationDir := dbCfg.MigrationPath
	if pathOverride != "" {
		migrationDir = pathOverride
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	db, err := database.New(ctx, dbCfg, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	migrator, err := database.NewMigrator(db, migrationDir, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	return fn(migrator, logger)
}

func parseSteps(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("steps must be an integer: %w", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("steps must not be zero")
	}
	return n, nil
}

func parseVersion(arg string) (int, error) {
	v, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("version must be an integer: %w", err)
	}
	if v < 0 {
		return 0, fmt.Errorf("version must be >= 0")
	}
	return v, nil
}

// printVersion logs the current migration version.
func printVersion(migrator *database.Migrator, logger zerolog.Logger) {
	v, dirty, err := migrator.Version()
	if err != nil {
		logger.Warn().Err(err).Msg("could not determine migration version")
		return
	}
	logger.Info().
		Uint("version", v).
		Bool("dirty", dirty).
		Msg("current migration version")
}
