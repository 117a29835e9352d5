package sqlexec

import (
	"errors"
	"fmt"
)

// FatalError marks a condition under which the layer or its caller is in an
// invalid state: a nil statement after successful preparation, an engine
// error that survives a reset, column access on a finished cursor. These
// must not be handled by continuing; the distinct type keeps them from
// being mistaken for ordinary empty results. The host process decides
// whether to exit.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("sqlexec: fatal: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// fatal wraps err as unrecoverable.
func fatal(op string, err error) error {
	return &FatalError{Op: op, Err: err}
}

func fatalf(op, format string, args ...any) error {
	return &FatalError{Op: op, Err: fmt.Errorf(format, args...)}
}

// IsFatal reports whether err carries a FatalError anywhere in its chain.
func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}
