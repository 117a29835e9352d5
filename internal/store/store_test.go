package store

import (
	"database/sql"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	st, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

func TestOpenConfiguresEngine(t *testing.T) {
	st := openTestStore(t, filepath.Join(t.TempDir(), "scanmgr.db"))
	db := st.DB()

	var journal string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journal); err != nil {
		t.Fatalf("read journal_mode: %v", err)
	}
	if journal != "wal" {
		t.Fatalf("journal_mode = %q, want wal", journal)
	}

	var synchronous int
	if err := db.QueryRow("PRAGMA synchronous;").Scan(&synchronous); err != nil {
		t.Fatalf("read synchronous: %v", err)
	}
	if synchronous != 2 {
		t.Fatalf("synchronous = %d, want 2 (FULL)", synchronous)
	}

	var foreignKeys int
	if err := db.QueryRow("PRAGMA foreign_keys;").Scan(&foreignKeys); err != nil {
		t.Fatalf("read foreign_keys: %v", err)
	}
	if foreignKeys != 1 {
		t.Fatalf("foreign_keys = %d, want 1", foreignKeys)
	}
}

func TestOpenCreatesSchema(t *testing.T) {
	st := openTestStore(t, filepath.Join(t.TempDir(), "scanmgr.db"))
	db := st.DB()

	tables := []string{"tasks", "targets", "reports", "report_results", "credentials", "task_overrides", "schema_migrations"}
	for _, table := range tables {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?;`, table).Scan(&name)
		if err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}

	var version int
	var checksum string
	if err := db.QueryRow(`SELECT version, checksum FROM schema_migrations ORDER BY version DESC LIMIT 1;`).Scan(&version, &checksum); err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	if version != schemaVersionLatest {
		t.Fatalf("ledger version = %d, want %d", version, schemaVersionLatest)
	}
	if checksum != schemaChecksumLatest {
		t.Fatalf("ledger checksum = %q, want %q", checksum, schemaChecksumLatest)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scanmgr.db")

	first := openTestStore(t, path)
	if _, err := first.DB().Exec(`INSERT INTO tasks (uuid, owner, name) VALUES ('u-1', 1, 'kept')`); err != nil {
		t.Fatalf("seed task: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close first store: %v", err)
	}

	second := openTestStore(t, path)
	var name string
	if err := second.DB().QueryRow(`SELECT name FROM tasks WHERE uuid = 'u-1'`).Scan(&name); err != nil {
		t.Fatalf("read back task: %v", err)
	}
	if name != "kept" {
		t.Fatalf("task name = %q, want kept", name)
	}

	var rows int
	if err := second.DB().QueryRow(`SELECT count(*) FROM schema_migrations`).Scan(&rows); err != nil {
		t.Fatalf("count ledger rows: %v", err)
	}
	if rows != 1 {
		t.Fatalf("ledger has %d rows after reopen, want 1", rows)
	}
}

func TestOpenRejectsChecksumMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scanmgr.db")
	st := openTestStore(t, path)
	if _, err := st.DB().Exec(`UPDATE schema_migrations SET checksum = 'tampered' WHERE version = ?`, schemaVersionLatest); err != nil {
		t.Fatalf("tamper ledger: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	if _, err := Open(path, Options{}); err == nil {
		t.Fatal("open accepted a tampered schema checksum")
	}
}

func TestOpenRejectsFutureSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scanmgr.db")
	st := openTestStore(t, path)
	if _, err := st.DB().Exec(`INSERT INTO schema_migrations (version, checksum) VALUES (?, 'from-the-future')`, schemaVersionLatest+1); err != nil {
		t.Fatalf("insert future ledger row: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	if _, err := Open(path, Options{}); err == nil {
		t.Fatal("open accepted a schema from a newer build")
	}
}

// buildV1Database lays down a version-1 database by hand: the old
// credentials table still has a password column, and the ledger records
// the v1 checksum.
func buildV1Database(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open raw sqlite3: %v", err)
	}
	defer db.Close()

	statements := []string{
		`CREATE TABLE schema_migrations (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE credentials (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			owner INTEGER,
			name TEXT NOT NULL,
			login TEXT,
			password TEXT,
			comment TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX idx_credentials_owner_name ON credentials(owner, name);`,
		`INSERT INTO credentials (uuid, owner, name, login, password)
			VALUES ('cred-1', 1, 'scan account', 'scanner', 'hunter2'),
			       ('cred-2', 1, 'ssh account', 'root', 's3cret');`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("build v1 schema: %v", err)
		}
	}
	if _, err := db.Exec(`INSERT INTO schema_migrations (version, checksum) VALUES (?, ?)`, schemaVersionV1, schemaChecksumV1); err != nil {
		t.Fatalf("write v1 ledger: %v", err)
	}
}

func TestOpenUpgradesV1Credentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scanmgr.db")
	buildV1Database(t, path)

	st := openTestStore(t, path)
	db := st.DB()

	var secret string
	if err := db.QueryRow(`SELECT secret FROM credentials WHERE uuid = 'cred-1'`).Scan(&secret); err != nil {
		t.Fatalf("read renamed column: %v", err)
	}
	if secret != "hunter2" {
		t.Fatalf("secret = %q, want hunter2", secret)
	}

	var count int
	if err := db.QueryRow(`SELECT count(*) FROM credentials`).Scan(&count); err != nil {
		t.Fatalf("count credentials: %v", err)
	}
	if count != 2 {
		t.Fatalf("credentials rows = %d, want 2", count)
	}

	// The old column is gone.
	if err := db.QueryRow(`SELECT password FROM credentials LIMIT 1`).Scan(new(string)); err == nil {
		t.Fatal("password column survived the upgrade")
	}

	var version int
	var checksum string
	if err := db.QueryRow(`SELECT version, checksum FROM schema_migrations ORDER BY version DESC LIMIT 1;`).Scan(&version, &checksum); err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	if version != schemaVersionV2 || checksum != schemaChecksumV2 {
		t.Fatalf("ledger = (%d, %q), want (%d, %q)", version, checksum, schemaVersionV2, schemaChecksumV2)
	}
}

// A process dying between the scratch-table create and the final swap must
// not brick the database: the next open reruns the upgrade from the start.
func TestOpenRecoversFromInterruptedUpgrade(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scanmgr.db")
	buildV1Database(t, path)

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open raw sqlite3: %v", err)
	}
	// Leave the scratch table behind with a partial copy, as a crash
	// mid-upgrade would.
	if _, err := db.Exec(`CREATE TABLE credentials_2 (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT NOT NULL UNIQUE,
		owner INTEGER,
		name TEXT NOT NULL,
		login TEXT,
		secret TEXT,
		comment TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		t.Fatalf("create scratch table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO credentials_2 (uuid, owner, name, login, secret)
		VALUES ('cred-1', 1, 'scan account', 'scanner', 'hunter2')`); err != nil {
		t.Fatalf("seed partial copy: %v", err)
	}
	_ = db.Close()

	st := openTestStore(t, path)

	var count int
	if err := st.DB().QueryRow(`SELECT count(*) FROM credentials`).Scan(&count); err != nil {
		t.Fatalf("count credentials: %v", err)
	}
	if count != 2 {
		t.Fatalf("credentials rows = %d, want 2 (no duplicates, no losses)", count)
	}
	var secret string
	if err := st.DB().QueryRow(`SELECT secret FROM credentials WHERE uuid = 'cred-2'`).Scan(&secret); err != nil {
		t.Fatalf("read renamed column: %v", err)
	}
	if secret != "s3cret" {
		t.Fatalf("secret = %q, want s3cret", secret)
	}
}

func TestOpenRejectsTamperedV1Checksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scanmgr.db")
	buildV1Database(t, path)

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open raw sqlite3: %v", err)
	}
	if _, err := db.Exec(`UPDATE schema_migrations SET checksum = 'tampered' WHERE version = ?`, schemaVersionV1); err != nil {
		t.Fatalf("tamper v1 ledger: %v", err)
	}
	_ = db.Close()

	if _, err := Open(path, Options{}); err == nil {
		t.Fatal("open accepted a tampered v1 checksum")
	}
}

func TestDefaultDBPath(t *testing.T) {
	path := DefaultDBPath()
	if filepath.Base(path) != "scanmgr.db" {
		t.Fatalf("default path %q does not end in scanmgr.db", path)
	}
	if filepath.Base(filepath.Dir(path)) != ".scanmgr" {
		t.Fatalf("default path %q is not under .scanmgr", path)
	}
}
