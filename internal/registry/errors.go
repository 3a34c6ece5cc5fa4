package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrStorage marks failures of the durable index. Callers may retry but
	// must not assume the operation took effect.
	ErrStorage = errors.New("registry storage failure")

	// ErrInvalidKey is returned for blank keys.
	ErrInvalidKey = errors.New("registry key must not be blank")
)

// StorageError wraps an I/O error from the durable index.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("registry %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("registry %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is reports ErrStorage as a match so callers can test with errors.Is.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func storageErr(op, key string, err error) error {
	return &StorageError{Op: op, Key: key, Err: err}
}
