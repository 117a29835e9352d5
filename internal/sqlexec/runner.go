package sqlexec

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/codes"

	scanotel "github.com/vulnwatch/scanmgr/internal/otel"
)

// The three runner variants share one mechanism and differ only in failure
// visibility: Exec traces every statement and retries persistently,
// ExecGiveUp retries a bounded number of times and silently drops the
// statement on exhaustion, ExecQuiet never logs and never gives up on
// busy. Choosing among them is caller policy, not a different algorithm.

type policy struct {
	maxRetries    int // < 0: retry for as long as the context lives
	logStatements bool
	dropOnExhaust bool
}

// Exec runs a statement that is not expected to produce rows, logging the
// statement text and retrying on contention until it succeeds or the
// context ends.
func (d *Database) Exec(ctx context.Context, query string, args ...any) error {
	return d.exec(ctx, policy{maxRetries: -1, logStatements: true}, query, args...)
}

// ExecGiveUp runs a statement with bounded contention retries. When the
// retries are exhausted the statement is dropped without effect and
// without error; callers that need bounded latency accept losing the
// write.
func (d *Database) ExecGiveUp(ctx context.Context, query string, args ...any) error {
	return d.exec(ctx, policy{maxRetries: d.giveUpAttempts, dropOnExhaust: true}, query, args...)
}

// ExecQuiet runs a statement without tracing it, waiting out contention
// indefinitely.
func (d *Database) ExecQuiet(ctx context.Context, query string, args ...any) error {
	return d.exec(ctx, policy{maxRetries: -1}, query, args...)
}

func (d *Database) exec(ctx context.Context, p policy, query string, args ...any) error {
	if p.logStatements {
		d.log.Debug("sql exec", "query", query)
	}

	ctx, span := scanotel.StartSpan(ctx, d.tracer, "sql.exec",
		scanotel.AttrSQLQuery.String(query),
	)
	defer span.End()

	retries := 0
	err := retryBusy(ctx, p.maxRetries, func() error {
		_, execErr := d.db.ExecContext(ctx, query, args...)
		if isBusy(execErr) {
			retries++
		}
		return execErr
	})
	span.SetAttributes(scanotel.AttrSQLRetries.Int(retries))

	switch {
	case err == nil:
		return nil
	case isBusy(err):
		// Only the give-up policy can surface here; the persistent
		// policies loop until the context ends.
		if p.dropOnExhaust {
			d.log.Warn("dropping statement after contention retries", "query", query, "retries", retries)
			return nil
		}
		span.SetStatus(codes.Error, err.Error())
		return err
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		span.SetStatus(codes.Error, err.Error())
		return err
	default:
		// Anything else after a successful prepare means the connection
		// state can no longer be trusted.
		span.SetStatus(codes.Error, err.Error())
		return fatal("exec "+firstWord(query), err)
	}
}

func firstWord(query string) string {
	query = strings.TrimSpace(query)
	for i := 0; i < len(query); i++ {
		if query[i] == ' ' || query[i] == '\n' || query[i] == '\t' {
			return query[:i]
		}
	}
	return query
}
