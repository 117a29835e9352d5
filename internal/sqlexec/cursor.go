package sqlexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	scanotel "github.com/vulnwatch/scanmgr/internal/otel"
)

// CryptContext drains and releases buffered decrypted credential values.
// Flush is called before each row advance so stale plaintext never leaks
// into the next row; Release is called exactly once during cursor cleanup.
type CryptContext interface {
	Flush()
	Release()
}

// Cursor is a lazy, forward-only view over a statement's result rows. A
// cursor is owned by exactly one logical operation end to end; it is not
// safe for concurrent advancement.
type Cursor struct {
	rows      *sql.Rows
	cols      []string
	vals      []any
	owned     bool
	started   bool
	exhausted bool
	closed    bool
	hook      CryptContext
	log       *slog.Logger
}

// Query prepares and runs a row-producing statement, retrying preparation
// on contention until it succeeds, and returns a cursor that owns the
// result set. The cursor holds the connection until closed; close it
// before issuing further statements.
func (d *Database) Query(ctx context.Context, query string, args ...any) (*Cursor, error) {
	ctx, span := scanotel.StartSpan(ctx, d.tracer, "sql.query",
		scanotel.AttrSQLQuery.String(query),
	)
	defer span.End()

	var rows *sql.Rows
	err := retryBusy(ctx, -1, func() error {
		var queryErr error
		rows, queryErr = d.db.QueryContext(ctx, query, args...)
		return queryErr
	})
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// An interrupted wait, not a corrupted connection.
		return nil, err
	default:
		return nil, fatal("query "+firstWord(query), err)
	}
	if rows == nil {
		return nil, fatalf("query", "engine returned nil rows for %q", query)
	}
	cols, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, fatal("query columns", err)
	}
	return &Cursor{rows: rows, cols: cols, owned: true, log: d.log}, nil
}

// WrapRows adapts a result set prepared and owned elsewhere. Ownership
// stays with the caller: Close releases the hook but leaves the rows open.
func WrapRows(rows *sql.Rows) (*Cursor, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fatal("wrap rows columns", err)
	}
	return &Cursor{rows: rows, cols: cols, log: slog.Default()}, nil
}

// SetCryptContext attaches a per-row decryption hook.
func (c *Cursor) SetCryptContext(hook CryptContext) {
	c.hook = hook
}

// Next advances to the next row. It flushes the decrypt hook first, then
// steps the statement; a finished result set marks the cursor exhausted
// and returns false. Any engine failure mid-iteration is unrecoverable.
func (c *Cursor) Next() (bool, error) {
	if c.closed {
		return false, fatalf("advance", "cursor already closed")
	}
	if c.exhausted {
		return false, nil
	}
	if c.hook != nil && c.started {
		c.hook.Flush()
	}
	c.started = true

	if !c.rows.Next() {
		c.exhausted = true
		c.vals = nil
		if err := c.rows.Err(); err != nil {
			return false, fatal("advance", err)
		}
		return false, nil
	}

	c.vals = make([]any, len(c.cols))
	ptrs := make([]any, len(c.cols))
	for i := range c.vals {
		ptrs[i] = &c.vals[i]
	}
	if err := c.rows.Scan(ptrs...); err != nil {
		return false, fatal("scan row", err)
	}
	return true, nil
}

// column guards all accessors: reading a finished or unstarted cursor is a
// programming error, not an empty result.
func (c *Cursor) column(i int) (any, error) {
	if c.closed || c.exhausted || c.vals == nil {
		return nil, fatalf("column", "access to index %d on finished cursor", i)
	}
	if i < 0 || i >= len(c.vals) {
		return nil, fatalf("column", "index %d out of range (%d columns)", i, len(c.vals))
	}
	return c.vals[i], nil
}

// Int64 returns column i of the current row as an integer. SQL NULL reads
// as zero.
func (c *Cursor) Int64(i int) (int64, error) {
	v, err := c.column(i)
	if err != nil {
		return 0, err
	}
	switch v := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case []byte:
		n, parseErr := strconv.ParseInt(string(v), 10, 64)
		if parseErr != nil {
			return 0, fatal("column int64", parseErr)
		}
		return n, nil
	case string:
		n, parseErr := strconv.ParseInt(v, 10, 64)
		if parseErr != nil {
			return 0, fatal("column int64", parseErr)
		}
		return n, nil
	default:
		return 0, fatalf("column int64", "unsupported engine type %T", v)
	}
}

// Text returns column i of the current row. ok is false for SQL NULL,
// which is an ordinary outcome, not an error.
func (c *Cursor) Text(i int) (value string, ok bool, err error) {
	v, err := c.column(i)
	if err != nil {
		return "", false, err
	}
	switch v := v.(type) {
	case nil:
		return "", false, nil
	case string:
		return v, true, nil
	case []byte:
		return string(v), true, nil
	default:
		return fmt.Sprint(v), true, nil
	}
}

// ColumnName returns the name of column i.
func (c *Cursor) ColumnName(i int) (string, error) {
	if c.closed || c.exhausted {
		return "", fatalf("column name", "access on finished cursor")
	}
	if i < 0 || i >= len(c.cols) {
		return "", fatalf("column name", "index %d out of range (%d columns)", i, len(c.cols))
	}
	return c.cols[i], nil
}

// ColumnCount returns the width of the result set.
func (c *Cursor) ColumnCount() int {
	return len(c.cols)
}

// Close releases the cursor. It is safe on a nil cursor (a logged no-op)
// and idempotent; the decrypt hook is released exactly once, and the
// result set is closed only if this cursor created it.
func (c *Cursor) Close() error {
	if c == nil {
		slog.Warn("close of nil cursor")
		return nil
	}
	if c.closed {
		return nil
	}
	c.closed = true
	if c.hook != nil {
		c.hook.Release()
		c.hook = nil
	}
	if c.owned && c.rows != nil {
		if err := c.rows.Close(); err != nil {
			c.log.Warn("closing cursor rows", "error", err)
			return err
		}
	}
	return nil
}
