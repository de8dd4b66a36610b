package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means no cache entry matched a lookup.
	ErrNotFound = errors.New("cache entry not found")

	// ErrInvalid means the request parameters or mesh cannot produce a grid.
	ErrInvalid = errors.New("invalid generation request")

	// ErrIO is matched by every *IOError.
	ErrIO = errors.New("cache I/O failure")
)

// IOError reports a filesystem failure while reading a mesh or writing a grid.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Is(target error) bool { return target == ErrIO }

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}
