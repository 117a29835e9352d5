package sqlexec_test

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vulnwatch/scanmgr/internal/sqlexec"
)

// openTestDB opens a throwaway engine with the single-connection model the
// layer assumes.
func openTestDB(t *testing.T) *sqlexec.Database {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		t.Fatalf("open sqlite3: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return sqlexec.New(db)
}
