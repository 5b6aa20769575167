package vsi

import (
	"errors"
	"fmt"
	"io/fs"
)

// Error kinds surfaced by handlers. They chain to the io/fs sentinels where
// one exists, so errors.Is(err, fs.ErrNotExist) keeps working for callers
// that only know the standard library.
var (
	ErrNotFound     = fmt.Errorf("not found: %w", fs.ErrNotExist)
	ErrNotSupported = errors.New("operation not supported for this scheme")
	ErrIO           = errors.New("i/o failure")
	ErrInvalidPath  = fmt.Errorf("invalid path: %w", fs.ErrInvalid)
	ErrClosed       = fmt.Errorf("handle already closed: %w", fs.ErrClosed)

	ErrIsDirectory  = fmt.Errorf("is a directory: %w", ErrInvalidPath)
	ErrNotDirectory = fmt.Errorf("not a directory: %w", ErrInvalidPath)
)

// Kind classifies an error returned by this package or a handler.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindNotSupported
	KindIO
	KindInvalidPath
	KindClosed
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindNotSupported:
		return "NotSupported"
	case KindIO:
		return "IoFailure"
	case KindInvalidPath:
		return "InvalidPath"
	case KindClosed:
		return "AlreadyClosed"
	default:
		return "Unknown"
	}
}

// KindOf reports the most specific kind carried by err.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrClosed), errors.Is(err, fs.ErrClosed):
		return KindClosed
	case errors.Is(err, ErrNotSupported):
		return KindNotSupported
	case errors.Is(err, fs.ErrNotExist):
		return KindNotFound
	case errors.Is(err, fs.ErrInvalid):
		return KindInvalidPath
	case errors.Is(err, ErrIO):
		return KindIO
	default:
		return KindUnknown
	}
}

// PathError wraps kind for op on path.
func PathError(op, path string, kind error) error {
	return &fs.PathError{Op: op, Path: path, Err: kind}
}

// IOError wraps a backend failure so that both ErrIO and the cause are
// visible to errors.Is. Causes that already carry a kind are kept as is.
func IOError(op, path string, cause error) error {
	if cause == nil {
		return nil
	}
	if KindOf(cause) != KindUnknown {
		var pe *fs.PathError
		if errors.As(cause, &pe) {
			return cause
		}
		return &fs.PathError{Op: op, Path: path, Err: cause}
	}
	return &fs.PathError{Op: op, Path: path, Err: fmt.Errorf("%w: %w", ErrIO, cause)}
}

// NotSupported is the error returned by UnimplementedHandler.
func NotSupported(op, path string) error {
	return PathError(op, path, ErrNotSupported)
}
