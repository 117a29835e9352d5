package sqlexec_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/vulnwatch/scanmgr/internal/sqlexec"
)

var errBusy = sqlite3.Error{Code: sqlite3.ErrBusy}

func newMockDB(t *testing.T) (*sqlexec.Database, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return sqlexec.New(db, sqlexec.WithGiveUpAttempts(2)), mock
}

func TestExecRetriesThroughContention(t *testing.T) {
	db, mock := newMockDB(t)
	const stmt = "UPDATE tasks SET run_status = 1"

	mock.ExpectExec(stmt).WillReturnError(errBusy)
	mock.ExpectExec(stmt).WillReturnError(errBusy)
	mock.ExpectExec(stmt).WillReturnResult(sqlmock.NewResult(0, 1))

	if err := db.Exec(context.Background(), stmt); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

// The give-up variant drops the statement silently once its retries are
// exhausted; losing the write is the caller's accepted trade for bounded
// latency.
func TestExecGiveUpDropsOnExhaustion(t *testing.T) {
	db, mock := newMockDB(t)
	const stmt = "DELETE FROM report_results"

	// Initial attempt plus two bounded retries.
	mock.ExpectExec(stmt).WillReturnError(errBusy)
	mock.ExpectExec(stmt).WillReturnError(errBusy)
	mock.ExpectExec(stmt).WillReturnError(errBusy)

	if err := db.ExecGiveUp(context.Background(), stmt); err != nil {
		t.Fatalf("ExecGiveUp surfaced error %v, want silent drop", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestExecGiveUpSucceedsWithinBound(t *testing.T) {
	db, mock := newMockDB(t)
	const stmt = "DELETE FROM report_results"

	mock.ExpectExec(stmt).WillReturnError(errBusy)
	mock.ExpectExec(stmt).WillReturnResult(sqlmock.NewResult(0, 3))

	if err := db.ExecGiveUp(context.Background(), stmt); err != nil {
		t.Fatalf("ExecGiveUp: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestExecEngineErrorIsFatal(t *testing.T) {
	db, mock := newMockDB(t)
	const stmt = "UPDATE no_such_table SET x = 1"

	mock.ExpectExec(stmt).WillReturnError(errors.New("no such table: no_such_table"))

	err := db.Exec(context.Background(), stmt)
	if !sqlexec.IsFatal(err) {
		t.Fatalf("engine error = %v, want fatal", err)
	}
}

// Multi-line statement literals start with whitespace; the operation name
// in the error must still be the first SQL word.
func TestExecFatalNamesOperation(t *testing.T) {
	db, mock := newMockDB(t)
	const stmt = "\n\t\tUPDATE tasks SET run_status = 9"

	mock.ExpectExec(stmt).WillReturnError(errors.New("no such column: run_status"))

	err := db.Exec(context.Background(), stmt)
	if !sqlexec.IsFatal(err) {
		t.Fatalf("engine error = %v, want fatal", err)
	}
	if !strings.Contains(err.Error(), "exec UPDATE") {
		t.Fatalf("error %q does not name the operation", err)
	}
}

func TestExecQuietStopsWhenContextEnds(t *testing.T) {
	db, mock := newMockDB(t)
	const stmt = "UPDATE tasks SET run_status = 1"

	// Permanent contention: the quiet policy would spin forever, so the
	// only way out is the context.
	for i := 0; i < 50; i++ {
		mock.ExpectExec(stmt).WillReturnError(errBusy)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := db.ExecQuiet(ctx, stmt)
	if err == nil || sqlexec.IsFatal(err) {
		t.Fatalf("canceled quiet exec = %v, want plain context error", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestBusyErrorTextFallback(t *testing.T) {
	db, mock := newMockDB(t)
	const stmt = "UPDATE tasks SET run_status = 1"

	// Errors that crossed a non-wrapping boundary keep only their text.
	mock.ExpectExec(stmt).WillReturnError(errors.New("database is locked (5) (SQLITE_BUSY)"))
	mock.ExpectExec(stmt).WillReturnResult(sqlmock.NewResult(0, 1))

	if err := db.Exec(context.Background(), stmt); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
