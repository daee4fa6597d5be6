package store

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument marks a missing or empty required field.
var ErrInvalidArgument = errors.New("invalid argument")

// StorageError is returned when the underlying store rejects a call
// (quota exceeded, connection lost, unreadable file, ...).
type StorageError struct {
	Op  string // "get", "set", "remove", "snapshot", "watch", "open"
	Key string // empty for whole-store operations
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Wrap turns a backend error into a *StorageError. Nil stays nil and an
// error that already is a StorageError is returned unchanged.
func Wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Key: key, Err: err}
}

// IsStorageError reports whether err (or anything it wraps) is a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// InvalidArgument builds an error wrapping ErrInvalidArgument.
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
