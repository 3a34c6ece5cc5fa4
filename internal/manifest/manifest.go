// Package manifest exports and imports the registry as a JSON document.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sydlexius/alldbs/internal/registry"
)

// FormatVersion is written into every manifest.
const FormatVersion = 1

// Manifest is a point-in-time listing of registered databases.
type Manifest struct {
	Version    int              `json:"version"`
	ExportedAt time.Time        `json:"exported_at"`
	Entries    []registry.Entry `json:"entries"`
}

// Keys returns the entry keys in manifest order.
func (m *Manifest) Keys() []string {
	keys := make([]string, len(m.Entries))
	for i, e := range m.Entries {
		keys[i] = e.Key
	}
	return keys
}

// Export snapshots the registry.
func Export(ctx context.Context, reg *registry.Registry) (*Manifest, error) {
	entries, err := reg.Entries(ctx)
	if err != nil {
		return nil, err
	}
	return &Manifest{
		Version:    FormatVersion,
		ExportedAt: time.Now().UTC(),
		Entries:    entries,
	}, nil
}

// Import adds every manifest key to the registry in manifest order. Keys
// already present are left alone. It returns the number of keys processed.
func Import(ctx context.Context, reg *registry.Registry, m *Manifest) (int, error) {
	for i, e := range m.Entries {
		if err := reg.Add(ctx, e.Key); err != nil {
			return i, fmt.Errorf("importing %q: %w", e.Key, err)
		}
	}
	return len(m.Entries), nil
}

// Decode reads a manifest and checks its version.
func Decode(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	if m.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported manifest version %d", m.Version)
	}
	return &m, nil
}

// ReadFile loads a manifest from path.
func ReadFile(path string) (*Manifest, error) {
	f, err := os.Open(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck
	return Decode(f)
}

// WriteFile writes m to path. The document goes to a temp file in the same
// directory which is synced and then renamed over path, so readers never see
// a partial manifest.
func WriteFile(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o640); err != nil {
		cleanup()
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("renaming temp to target: %w", err)
	}
	return nil
}
