package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/lock"

	"github.com/elskow/folio-auth/internal/config"
	"github.com/elskow/folio-auth/internal/database"
)

// Migrator applies the SQL files under migrations/ with goose.
type Migrator struct {
	provider *goose.Provider
	dialect  goose.Dialect
	dir      string
}

// Status describes one migration source and whether it has been applied.
type Status struct {
	Version   int64
	Name      string
	Applied   bool
	AppliedAt time.Time
}

func NewMigrator(cfg *config.DatabaseConfig) (*Migrator, error) {
	dir, err := resolveMigrationsDir(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to get migrations directory: %w", err)
	}

	driver, dsn, dialect := "sqlite3", cfg.Path, goose.DialectSQLite3
	var opts []goose.ProviderOption
	if cfg.Driver == database.DriverPostgres {
		driver, dsn, dialect = "postgres", database.PostgresDSN(cfg), goose.DialectPostgres
		// Replicas starting together must not race each other's migrations.
		locker, err := lock.NewPostgresSessionLocker()
		if err != nil {
			return nil, fmt.Errorf("failed to create migration lock: %w", err)
		}
		opts = append(opts, goose.WithSessionLocker(locker))
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	provider, err := goose.NewProvider(dialect, db, os.DirFS(dir), opts...)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to load migrations from %s: %w", dir, err)
	}

	return &Migrator{
		provider: provider,
		dialect:  dialect,
		dir:      dir,
	}, nil
}

func (m *Migrator) Dir() string {
	return m.dir
}

// Up applies every pending migration and returns the versions applied.
func (m *Migrator) Up(ctx context.Context) ([]int64, error) {
	results, err := m.provider.Up(ctx)
	if err != nil {
		return appliedVersions(results), fmt.Errorf("failed to run migrations: %w", err)
	}
	return appliedVersions(results), nil
}

// Down rolls back the most recent migration and returns its version.
func (m *Migrator) Down(ctx context.Context) (int64, error) {
	result, err := m.provider.Down(ctx)
	if err != nil {
		if errors.Is(err, goose.ErrNoNextVersion) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to rollback migrations: %w", err)
	}
	return result.Source.Version, nil
}

// DownTo rolls back until version is the newest applied migration.
func (m *Migrator) DownTo(ctx context.Context, version int64) error {
	if _, err := m.provider.DownTo(ctx, version); err != nil {
		return fmt.Errorf("failed to migrate down to version %d: %w", version, err)
	}
	return nil
}

// Reset rolls everything back and re-applies it. Development only: every
// account is lost.
func (m *Migrator) Reset(ctx context.Context) error {
	if err := m.DownTo(ctx, 0); err != nil {
		return err
	}
	_, err := m.Up(ctx)
	return err
}

func (m *Migrator) CurrentVersion(ctx context.Context) (int64, error) {
	return m.provider.GetDBVersion(ctx)
}

// LatestVersion is the newest migration shipped with this binary.
func (m *Migrator) LatestVersion() int64 {
	sources := m.provider.ListSources()
	if len(sources) == 0 {
		return 0
	}
	return sources[len(sources)-1].Version
}

func (m *Migrator) Status(ctx context.Context) ([]Status, error) {
	statuses, err := m.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get migration status: %w", err)
	}

	out := make([]Status, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, Status{
			Version:   s.Source.Version,
			Name:      strings.TrimSuffix(filepath.Base(s.Source.Path), filepath.Ext(s.Source.Path)),
			Applied:   s.State == goose.StateApplied,
			AppliedAt: s.AppliedAt,
		})
	}
	return out, nil
}

func (m *Migrator) Close() error {
	return m.provider.Close()
}

func appliedVersions(results []*goose.MigrationResult) []int64 {
	var versions []int64
	for _, r := range results {
		if r.Error == nil {
			versions = append(versions, r.Source.Version)
		}
	}
	return versions
}
