// Package migration applies the versioned postgres schema with golang-migrate.
package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// EmbeddedDir is the directory of the embedded migration files
const EmbeddedDir = "sql"

//go:embed sql/*.sql
var embeddedFS embed.FS

// Migrator handles database migrations using golang-migrate
type Migrator struct {
	migrate *migrate.Migrate
	logger  *zap.Logger
}

// SourceFS returns the migration files to apply: the directory at path when
// set, otherwise the files compiled into the binary.
func SourceFS(path string) (fs.FS, string) {
	if path == "" {
		return embeddedFS, EmbeddedDir
	}
	return os.DirFS(path), "."
}

// New creates a Migrator for a postgres connection reading migrations from path
// (empty for the embedded set)
func New(db *sql.DB, path string, logger *zap.Logger) (*Migrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	src, err := openSource(path)
	if err != nil {
		return nil, err
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("postgres migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migrate instance: %w", err)
	}
	return &Migrator{migrate: m, logger: logger}, nil
}

func openSource(path string) (source.Driver, error) {
	fsys, dir := SourceFS(path)
	src, err := iofs.New(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("migration source %s: %w", dir, err)
	}
	return src, nil
}

// run applies one golang-migrate operation. ErrNoChange is not an error.
func (m *Migrator) run(op string, fn func() error, fields ...zap.Field) error {
	m.logger.Info("Migrating", append([]zap.Field{zap.String("op", op)}, fields...)...)

	err := fn()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		m.logger.Info("Schema already current", zap.String("op", op))
		return nil
	case err != nil:
		return fmt.Errorf("migrate %s: %w", op, err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	m.logger.Info("Migrated", zap.String("op", op), zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

// Up runs all pending migrations
func (m *Migrator) Up() error {
	return m.run("up", m.migrate.Up)
}

// Down rolls back all migrations
func (m *Migrator) Down() error {
	return m.run("down", m.migrate.Down)
}

// Steps applies n migrations (positive = up, negative = down)
func (m *Migrator) Steps(n int) error {
	return m.run("steps", func() error { return m.migrate.Steps(n) }, zap.Int("steps", n))
}

// Version returns the current migration version; 0 when none is applied
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("migration version: %w", err)
	}
	return version, dirty, nil
}

// Force sets the migration version without running migrations.
// It clears the dirty flag left by a failed migration.
func (m *Migrator) Force(version int) error {
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("force version %d: %w", version, err)
	}
	m.logger.Warn("Migration version forced", zap.Int("version", version))
	return nil
}

// Close closes the migrator and releases resources
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	return errors.Join(sourceErr, dbErr)
}
