package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/ledgersync/backend/internal/infrastructure/config"
	"github.com/ledgersync/backend/internal/infrastructure/logger"
	"github.com/ledgersync/backend/internal/infrastructure/migration"
)

var errUsage = errors.New("usage")

// dbCommand runs against an open migrator
type dbCommand func(m *migration.Migrator, args []string, log *zap.Logger) error

var dbCommands = map[string]dbCommand{
	"up":      func(m *migration.Migrator, _ []string, _ *zap.Logger) error { return m.Up() },
	"down":    func(m *migration.Migrator, _ []string, _ *zap.Logger) error { return m.Down() },
	"step":    stepCommand,
	"version": versionCommand,
	"force":   forceCommand,
}

func main() {
	path := flag.String("path", "", "Migrations directory (default: the migrations built into the binary)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() == 0 {
		printUsage()
		os.Exit(1)
	}

	log, err := logger.New(&logger.Config{
		Level:      *logLevel,
		Format:     "console",
		Output:     "stdout",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	err = run(*path, flag.Args(), log)
	_ = logger.Sync(log)
	switch {
	case errors.Is(err, errUsage):
		fmt.Fprintln(os.Stderr, err)
		printUsage()
		os.Exit(1)
	case err != nil:
		log.Error("Migration command failed", zap.String("command", flag.Arg(0)), zap.Error(err))
		os.Exit(1)
	}
}

func run(path string, args []string, log *zap.Logger) error {
	if path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		path = abs
	}
	command, rest := args[0], args[1:]
	log.Info("Migration CLI started", zap.String("command", command), zap.String("migrations_path", displayPath(path)))

	switch command {
	case "create":
		return createCommand(path, rest, log)
	case "list":
		return listCommand(path)
	}

	cmd, ok := dbCommands[command]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.Driver != config.DriverPostgres {
		return fmt.Errorf("versioned migrations target postgres, got driver %q; sqlite stores get their schema at startup", cfg.Database.Driver)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	// the migrator owns db from here and closes it
	m, err := migration.New(db, path, log)
	if err != nil {
		_ = db.Close()
		return err
	}
	defer m.Close()
	return cmd(m, rest, log)
}

func createCommand(path string, args []string, log *zap.Logger) error {
	if path == "" {
		return fmt.Errorf("%w: create writes files, pass -path internal/infrastructure/migration/sql", errUsage)
	}
	if len(args) == 0 {
		return fmt.Errorf("%w: create <name> [description]", errUsage)
	}
	description := ""
	if len(args) > 1 {
		description = args[1]
	}

	mf, err := migration.CreateMigration(path, args[0], description)
	if err != nil {
		return err
	}
	log.Info("Migration created",
		zap.String("version", mf.Version),
		zap.String("up_file", mf.UpPath),
		zap.String("down_file", mf.DownPath),
	)
	return nil
}

func listCommand(path string) error {
	fsys, dir := migration.SourceFS(path)
	names, err := migration.ListMigrations(fsys, dir)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("no migrations found")
		return nil
	}
	for _, name := range names {
		fmt.Println("  -", name)
	}
	return nil
}

func stepCommand(m *migration.Migrator, args []string, _ *zap.Logger) error {
	n, err := intArg(args, "step <n>")
	if err != nil {
		return err
	}
	return m.Steps(n)
}

func forceCommand(m *migration.Migrator, args []string, log *zap.Logger) error {
	version, err := intArg(args, "force <version>")
	if err != nil {
		return err
	}
	log.Warn("Forcing migration version", zap.Int("version", version))
	return m.Force(version)
}

func versionCommand(m *migration.Migrator, _ []string, log *zap.Logger) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	if version == 0 {
		log.Info("No migrations applied")
		return nil
	}
	log.Info("Current migration version", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

func intArg(args []string, usage string) (int, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("%w: %s", errUsage, usage)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %q is not a number", errUsage, usage, args[0])
	}
	return n, nil
}

func displayPath(path string) string {
	if path == "" {
		return "(embedded)"
	}
	return path
}

func printUsage() {
	fmt.Fprint(os.Stderr, `ledgersync database migration tool

Usage:
  migrate [flags] <command> [arguments]

Commands:
  up                    Apply all pending migrations
  down                  Roll back all migrations
  step <n>              Apply n migrations (negative rolls back)
  version               Show the applied version
  force <version>       Set the version without running migrations
  create <name> [desc]  Write the next migration file pair (requires -path)
  list                  List available migrations

Flags:
  -path string          Migrations directory (default: embedded)
  -log-level string     debug, info, warn or error (default: info)

The database is configured through LEDGERSYNC_DATABASE_HOST, _PORT, _USER,
_PASSWORD, _DBNAME and _SSLMODE.
`)
}
