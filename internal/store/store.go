// Package store owns the manager's backing database: the scan-domain
// schema, the checksummed migration ledger, and the lifecycle of the
// single engine connection. Protocol daemons and the task manager talk to
// the database through the sqlexec layer this package hands out; the
// helper functions installed at connect time are reachable from any SQL
// they write.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/vulnwatch/scanmgr/internal/sqlexec"
	"github.com/vulnwatch/scanmgr/internal/sqlfn"
)

const (
	// v1: initial scan-manager schema.
	schemaVersionV1  = 1
	schemaChecksumV1 = "sm-v1-2026-05-02-scan-schema"

	// v2: credentials.password renamed to credentials.secret ahead of
	// encrypted storage.
	schemaVersionV2  = 2
	schemaChecksumV2 = "sm-v2-2026-06-17-credential-secret"

	schemaVersionLatest  = schemaVersionV2
	schemaChecksumLatest = schemaChecksumV2
)

// Each Open registers its own driver so the connect hook can close over
// this store's function registry. Registered drivers cannot be removed;
// the counter keeps names unique within the process.
var driverSeq atomic.Int64

// Options configure an opened store.
type Options struct {
	// Domain backs the task-level helper functions. May be nil; the
	// functions then error at the engine level when invoked.
	Domain sqlfn.TaskDomain

	// BusyTimeoutMS is the engine-level busy handler timeout. Zero means
	// the 5s default.
	BusyTimeoutMS int

	// GiveUpAttempts bounds the give-up runner variant. Zero means the
	// sqlexec default.
	GiveUpAttempts int

	Logger *slog.Logger
}

// Store is the open database plus the execution layer bound to it.
type Store struct {
	db   *sql.DB
	exec *sqlexec.Database
	log  *slog.Logger
}

// DefaultDBPath returns the database location used when none is
// configured.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".scanmgr", "scanmgr.db")
}

// Open opens (creating if needed) the manager database at path, installs
// the helper functions on its connection, applies pragmas and migrations,
// and returns the store.
func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		path = DefaultDBPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	busyTimeout := opts.BusyTimeoutMS
	if busyTimeout <= 0 {
		busyTimeout = 5000
	}

	registry := sqlfn.NewRegistry(opts.Domain)
	driverName := fmt.Sprintf("sqlite3_scanmgr_%d", driverSeq.Add(1))
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: registry.Install,
	})

	dsn := fmt.Sprintf("%s?_busy_timeout=%d&_foreign_keys=on", path, busyTimeout)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	// Single logical writer: one connection shared by all callers, kept
	// alive so the captured driver connection stays valid.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	execOpts := []sqlexec.Option{sqlexec.WithLogger(log)}
	if opts.GiveUpAttempts > 0 {
		execOpts = append(execOpts, sqlexec.WithGiveUpAttempts(opts.GiveUpAttempts))
	}

	store := &Store{
		db:   db,
		exec: sqlexec.New(db, execOpts...),
		log:  log,
	}
	if err := store.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// DB exposes the raw handle for transaction management.
func (s *Store) DB() *sql.DB { return s.db }

// Exec returns the statement runner and cursor factory bound to this
// store's connection.
func (s *Store) Exec() *sqlexec.Database { return s.exec }

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) configurePragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	}
	for _, q := range pragmas {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var maxVersion int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&maxVersion); err != nil {
		return fmt.Errorf("read migration max version: %w", err)
	}
	if maxVersion > schemaVersionLatest {
		return fmt.Errorf("db schema version %d is newer than supported %d", maxVersion, schemaVersionLatest)
	}
	if maxVersion == schemaVersionLatest {
		existing, err := s.readChecksum(ctx, schemaVersionLatest)
		if err != nil {
			return err
		}
		if existing != schemaChecksumLatest {
			return fmt.Errorf("schema checksum mismatch for version %d: got %q want %q", schemaVersionLatest, existing, schemaChecksumLatest)
		}
		return nil
	}

	// v1 -> v2 runs before the create/ledger transaction: the column
	// rename goes through the statement runner, which needs the one
	// connection a transaction would be holding.
	if maxVersion == schemaVersionV1 {
		existing, err := s.readChecksum(ctx, schemaVersionV1)
		if err != nil {
			return err
		}
		if existing != schemaChecksumV1 {
			return fmt.Errorf("schema checksum mismatch for version %d: got %q want %q", schemaVersionV1, existing, schemaChecksumV1)
		}
		if err := s.upgradeCredentialSecret(ctx); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Phase 1: tables. Table names follow the {type}s convention the
	// uniquify helper relies on.
	tableStatements := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			owner INTEGER,
			name TEXT NOT NULL,
			comment TEXT,
			hosts TEXT,
			run_status INTEGER NOT NULL DEFAULT 0,
			start_time INTEGER,
			end_time INTEGER,
			tags TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS targets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			owner INTEGER,
			name TEXT NOT NULL,
			hosts TEXT,
			comment TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS reports (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			owner INTEGER,
			task INTEGER REFERENCES tasks(id),
			name TEXT,
			comment TEXT,
			start_time INTEGER,
			end_time INTEGER,
			scan_run_status INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS report_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			report INTEGER NOT NULL REFERENCES reports(id),
			task INTEGER REFERENCES tasks(id),
			host TEXT,
			nvt TEXT,
			type TEXT,
			description TEXT,
			severity REAL
		);`,
		`CREATE TABLE IF NOT EXISTS credentials (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			owner INTEGER,
			name TEXT NOT NULL,
			login TEXT,
			secret TEXT,
			comment TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS task_overrides (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			owner INTEGER,
			task INTEGER REFERENCES tasks(id),
			nvt TEXT,
			hosts TEXT,
			new_severity REAL,
			text TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	for _, stmt := range tableStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	// Phase 2: indexes.
	indexStatements := []string{
		`CREATE INDEX IF NOT EXISTS idx_tasks_owner_name ON tasks(owner, name);`,
		`CREATE INDEX IF NOT EXISTS idx_targets_owner_name ON targets(owner, name);`,
		`CREATE INDEX IF NOT EXISTS idx_reports_task ON reports(task);`,
		`CREATE INDEX IF NOT EXISTS idx_report_results_report ON report_results(report);`,
		`CREATE INDEX IF NOT EXISTS idx_credentials_owner_name ON credentials(owner, name);`,
		`CREATE INDEX IF NOT EXISTS idx_task_overrides_task ON task_overrides(task);`,
	}
	for _, stmt := range indexStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec migration index: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO schema_migrations (version, checksum)
		VALUES (?, ?);
	`, schemaVersionLatest, schemaChecksumLatest); err != nil {
		return fmt.Errorf("insert schema migration ledger: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration tx: %w", err)
	}
	s.log.Info("schema migrated", "from", maxVersion, "to", schemaVersionLatest)
	return nil
}
