package client

import (
	"context"
	"strings"
)

// Adapter creates and destroys whole databases on one storage backend. Both
// operations must be idempotent.
type Adapter interface {
	Name() string
	Create(ctx context.Context, name string) error
	Destroy(ctx context.Context, name string) error
}

// validateLocalName rejects names that would escape a data directory.
func validateLocalName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return errInvalidName(name, "must not be blank")
	case strings.ContainsAny(name, `/\`):
		return errInvalidName(name, "must not contain path separators")
	case strings.Contains(name, ".."):
		return errInvalidName(name, "must not contain '..'")
	case strings.ContainsRune(name, 0):
		return errInvalidName(name, "must not contain NUL")
	}
	return nil
}
