package sqlexec

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
)

const (
	retryBaseDelay = 50 * time.Millisecond
	retryMaxDelay  = 500 * time.Millisecond
)

// isBusy reports whether err is the engine signaling that another writer
// holds the backing store (SQLITE_BUSY or SQLITE_LOCKED). Contention is
// transient by definition and handled entirely by the retry policy.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	// Errors that crossed a non-wrapping boundary keep only their text.
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// retryBusy runs f, retrying on busy/locked with exponential backoff and
// bounded jitter. maxRetries < 0 retries for as long as the context lives;
// this can stall the caller indefinitely, which is the contract of the
// persistent policies. Non-busy errors pass through immediately.
func retryBusy(ctx context.Context, maxRetries int, f func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = f()
		if err == nil || !isBusy(err) {
			return err
		}
		if maxRetries >= 0 && attempt >= maxRetries {
			return err
		}

		delay := retryBaseDelay
		if attempt < 8 {
			delay <<= uint(attempt)
		} else {
			delay = retryMaxDelay
		}
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay / 2)))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
