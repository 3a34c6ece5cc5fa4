package client

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidName is returned for database names an adapter cannot store.
	ErrInvalidName = errors.New("invalid database name")

	// ErrUnknownAdapter is returned when a selector names no registered adapter.
	ErrUnknownAdapter = errors.New("unknown adapter")
)

func errInvalidName(name, reason string) error {
	return fmt.Errorf("%w %q: %s", ErrInvalidName, name, reason)
}

func errUnknownAdapter(selector string) error {
	return fmt.Errorf("%w %q", ErrUnknownAdapter, selector)
}
