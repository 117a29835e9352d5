// Package sqlexec is the engine access layer of the manager: a retry-safe
// statement runner, a lazy row cursor, quoting shims for dynamic
// identifiers, and a generic column-rename migration. It assumes the single
// logical writer model: one process-wide connection shared by all callers,
// no locking of its own, contention resolved through the engine's
// busy/locked signaling.
package sqlexec

import (
	"database/sql"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "scanmgr/sqlexec"

// Database wraps the process-wide engine handle. All operations are
// synchronous and block the calling goroutine for their full duration.
type Database struct {
	db             *sql.DB
	log            *slog.Logger
	tracer         trace.Tracer
	giveUpAttempts int
}

// Option configures a Database.
type Option func(*Database)

// WithLogger sets the logger used by the logging runner variant and for
// cursor cleanup warnings.
func WithLogger(log *slog.Logger) Option {
	return func(d *Database) { d.log = log }
}

// WithGiveUpAttempts bounds the retry count of the give-up runner variant.
func WithGiveUpAttempts(n int) Option {
	return func(d *Database) {
		if n > 0 {
			d.giveUpAttempts = n
		}
	}
}

// New wraps an open engine handle. The handle should be limited to a single
// open connection; Database performs no pooling of its own.
func New(db *sql.DB, opts ...Option) *Database {
	d := &Database{
		db:             db,
		log:            slog.Default(),
		tracer:         otel.Tracer(tracerName),
		giveUpAttempts: 5,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DB exposes the underlying handle for callers that manage their own
// transactions.
func (d *Database) DB() *sql.DB { return d.db }
