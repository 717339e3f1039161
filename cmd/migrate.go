package cmd

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
	"github.com/porthorian/dashauth/pkg/storage/postgres"
	"github.com/spf13/cobra"
)

const (
	flagSchema            = "dashauth"
	versionTable          = "schema_migrations"
	embeddedMigrationsURL = "embedded://pkg/storage/postgres/migrations"
)

// migrateEnv is read when --database-url is not given.
type migrateEnv struct {
	DatabaseURL string `env:"DASHAUTH_MIGRATE_DATABASE_URL"`
	PostgresDSN string `env:"DASHAUTH_POSTGRES_DSN"`
}

type migrateOptions struct {
	databaseURL string
	source      string
}

func init() {
	rootCmd.AddCommand(newMigrateCommand())
}

func newMigrateCommand() *cobra.Command {
	var opts migrateOptions

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the postgres credential flag table",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	migrateCmd.PersistentFlags().StringVar(&opts.databaseURL, "database-url", "", "Postgres URL. Defaults to DASHAUTH_MIGRATE_DATABASE_URL, then DASHAUTH_POSTGRES_DSN.")
	migrateCmd.PersistentFlags().StringVar(&opts.source, "source", "", "Migration directory or source URL. Defaults to the migrations built into the binary.")

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up [steps]",
		Short: "Apply pending migrations, or the next n",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 0
			if len(args) == 1 {
				n, err := parseSteps(args[0])
				if err != nil {
					return err
				}
				steps = n
			}
			return withMigrator(cmd, opts, func(m *migrate.Migrate, source string) error {
				if steps == 0 {
					err := m.Up()
					if atBoundary(err) {
						cmd.Println("Flag table is up to date.")
						return nil
					}
					if err != nil {
						return fmt.Errorf("apply migrations: %w", err)
					}
					cmd.Printf("Applied all pending migrations from %s\n", source)
					return nil
				}
				done, err := stepped(m, steps)
				if err != nil {
					return fmt.Errorf("apply migrations: %w", err)
				}
				cmd.Printf("Applied %d of %d requested migration(s) from %s\n", done, steps, source)
				return nil
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "down <steps>",
		Short: "Roll back the last n migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := parseSteps(args[0])
			if err != nil {
				return err
			}
			return withMigrator(cmd, opts, func(m *migrate.Migrate, source string) error {
				done, err := stepped(m, -steps)
				if err != nil {
					return fmt.Errorf("roll back migrations: %w", err)
				}
				cmd.Printf("Rolled back %d of %d requested migration(s) from %s\n", done, steps, source)
				return nil
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Record version as applied and clear the dirty mark (-1 for none)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(strings.TrimSpace(args[0]))
			if err != nil || version < -1 {
				return fmt.Errorf("invalid version %q: expected an integer >= -1", args[0])
			}
			return withMigrator(cmd, opts, func(m *migrate.Migrate, _ string) error {
				if err := m.Force(version); err != nil {
					return fmt.Errorf("force version: %w", err)
				}
				cmd.Printf("Flag table version set to %d.\n", version)
				return nil
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied migration version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, opts, func(m *migrate.Migrate, _ string) error {
				version, dirty, err := m.Version()
				if errors.Is(err, migrate.ErrNilVersion) {
					cmd.Println("No migrations applied.")
					return nil
				}
				if err != nil {
					return fmt.Errorf("read version: %w", err)
				}
				cmd.Printf("version=%d dirty=%t\n", version, dirty)
				return nil
			})
		},
	})

	return migrateCmd
}

func parseSteps(arg string) (int, error) {
	steps, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || steps <= 0 {
		return 0, fmt.Errorf("invalid step count %q: expected a positive integer", arg)
	}
	return steps, nil
}

// stepped runs n migrations (negative rolls back) and returns how many ran.
// Reaching the first or last migration early is not an error.
func stepped(m *migrate.Migrate, n int) (int, error) {
	requested := n
	if requested < 0 {
		requested = -requested
	}

	err := m.Steps(n)
	var short migrate.ErrShortLimit
	switch {
	case err == nil:
		return requested, nil
	case atBoundary(err):
		return 0, nil
	case errors.As(err, &short):
		return requested - int(short.Short), nil
	default:
		return 0, err
	}
}

// atBoundary reports the errors golang-migrate returns when there is
// nothing left to run in the requested direction.
func atBoundary(err error) bool {
	return errors.Is(err, migrate.ErrNoChange) || errors.Is(err, os.ErrNotExist)
}

func withMigrator(cmd *cobra.Command, opts migrateOptions, run func(m *migrate.Migrate, source string) error) error {
	databaseURL, err := resolveDatabaseURL(opts.databaseURL)
	if err != nil {
		return err
	}
	if err := ensureFlagSchema(databaseURL); err != nil {
		return err
	}

	source, err := resolveSource(opts.source)
	if err != nil {
		return err
	}
	m, err := openMigrator(source, withVersionTable(databaseURL))
	if err != nil {
		return err
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		if closeErr := errors.Join(sourceErr, dbErr); closeErr != nil {
			cmd.PrintErrf("warning: closing migrator: %v\n", closeErr)
		}
	}()

	return run(m, source)
}

func resolveDatabaseURL(flagValue string) (string, error) {
	if value := strings.TrimSpace(flagValue); value != "" {
		return value, nil
	}

	var cfg migrateEnv
	if err := env.Parse(&cfg); err != nil {
		return "", fmt.Errorf("parse env: %w", err)
	}
	for _, value := range []string{cfg.DatabaseURL, cfg.PostgresDSN} {
		if value = strings.TrimSpace(value); value != "" {
			return value, nil
		}
	}
	return "", errors.New("missing database url: set --database-url or DASHAUTH_MIGRATE_DATABASE_URL")
}

func resolveSource(source string) (string, error) {
	source = strings.TrimSpace(source)
	switch {
	case source == "":
		return embeddedMigrationsURL, nil
	case strings.Contains(source, "://"):
		return source, nil
	}

	abs, err := filepath.Abs(source)
	if err != nil {
		return "", fmt.Errorf("resolve migration directory %q: %w", source, err)
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// withVersionTable keeps golang-migrate's bookkeeping next to the flag table
// unless the URL already names a table.
func withVersionTable(databaseURL string) string {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return databaseURL
	}
	query := parsed.Query()
	if query.Get("x-migrations-table") != "" {
		return databaseURL
	}
	query.Set("x-migrations-table", pq.QuoteIdentifier(flagSchema)+"."+pq.QuoteIdentifier(versionTable))
	query.Set("x-migrations-table-quoted", "true")
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

// ensureFlagSchema creates the schema before golang-migrate writes its
// version table into it.
func ensureFlagSchema(databaseURL string) error {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec("CREATE SCHEMA IF NOT EXISTS " + pq.QuoteIdentifier(flagSchema)); err != nil {
		return fmt.Errorf("create schema %s: %w", flagSchema, err)
	}
	return nil
}

func openMigrator(source string, databaseURL string) (*migrate.Migrate, error) {
	if source != embeddedMigrationsURL {
		m, err := migrate.New(source, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("open migrator: %w", err)
		}
		return m, nil
	}

	fs, err := iofs.New(postgres.Migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", fs, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open migrator: %w", err)
	}
	return m, nil
}
