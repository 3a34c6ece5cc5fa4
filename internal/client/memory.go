package client

import (
	"context"
	"sort"
	"sync"
)

// MemoryAdapterName is the selector of the in-process adapter.
const MemoryAdapterName = "memory"

// MemoryAdapter keeps databases in process memory. Its databases do not
// survive a restart, although their registry entries do.
type MemoryAdapter struct {
	mu  sync.Mutex
	dbs map[string]struct{}
}

// NewMemoryAdapter creates an empty in-memory adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{dbs: make(map[string]struct{})}
}

// Name returns "memory".
func (m *MemoryAdapter) Name() string { return MemoryAdapterName }

// Create adds name to the set.
func (m *MemoryAdapter) Create(_ context.Context, name string) error {
	if name == "" {
		return errInvalidName(name, "must not be blank")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dbs[name] = struct{}{}
	return nil
}

// Destroy removes name from the set.
func (m *MemoryAdapter) Destroy(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.dbs, name)
	return nil
}

// Exists reports whether name is currently held.
func (m *MemoryAdapter) Exists(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.dbs[name]
	return ok
}

// Names returns the held database names, sorted.
func (m *MemoryAdapter) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.dbs))
	for n := range m.dbs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
