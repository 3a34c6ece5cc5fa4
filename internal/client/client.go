// Package client keeps the database registry in step with database creation
// and destruction across storage adapters.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/sydlexius/alldbs/internal/event"
	"github.com/sydlexius/alldbs/internal/registry"
)

// Options adjusts a single Create or Destroy call.
type Options struct {
	// Adapter selects a backend explicitly. When set, the stored key carries
	// the adapter name as its selector.
	Adapter string
}

// Database describes a database known to the client.
type Database struct {
	Name    string `json:"name"`
	Adapter string `json:"adapter"`
	Key     string `json:"key"`
}

// Client creates and destroys databases and records them in the registry.
type Client struct {
	registry *registry.Registry
	logger   *slog.Logger

	mu             sync.RWMutex
	adapters       map[string]Adapter
	defaultAdapter string
	events         event.Publisher

	// locks serializes Create and Destroy per key so the adapter step and
	// the registry step of one call are never interleaved with another.
	locksMu sync.Mutex
	locks   map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a client with no adapters registered.
func New(reg *registry.Registry, logger *slog.Logger) *Client {
	return &Client{
		registry: reg,
		logger:   logger.With(slog.String("component", "client")),
		adapters: make(map[string]Adapter),
		locks:    make(map[string]*keyLock),
	}
}

// Register adds an adapter under its name. The first adapter registered
// becomes the default unless SetDefaultAdapter says otherwise.
func (c *Client) Register(a Adapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adapters[a.Name()] = a
	if c.defaultAdapter == "" && a.Name() != HTTPAdapterName {
		c.defaultAdapter = a.Name()
	}
}

// SetDefaultAdapter picks the adapter used when no selector is given.
func (c *Client) SetDefaultAdapter(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.adapters[name]; !ok {
		return errUnknownAdapter(name)
	}
	c.defaultAdapter = name
	return nil
}

// DefaultAdapter returns the default adapter name.
func (c *Client) DefaultAdapter() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaultAdapter
}

// SetEventBus attaches a publisher for lifecycle events.
func (c *Client) SetEventBus(p event.Publisher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = p
}

// Adapters returns the registered adapter names, sorted.
func (c *Client) Adapters() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.adapters))
	for n := range c.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Create creates the database on its adapter and registers it before
// returning.
func (c *Client) Create(ctx context.Context, name string, opts Options) (*Database, error) {
	adapter, db, err := c.resolve(name, opts)
	if err != nil {
		return nil, err
	}

	unlock := c.lock(db.Key)
	defer unlock()

	if err := adapter.Create(ctx, db.Name); err != nil {
		return nil, fmt.Errorf("creating database %q: %w", db.Key, err)
	}
	if err := c.registry.Add(ctx, db.Key); err != nil {
		c.logger.Warn("database created but not registered", "key", db.Key, "error", err)
		return nil, err
	}

	c.logger.Info("database created", "key", db.Key, "adapter", db.Adapter)
	c.publish(event.Event{Type: event.DatabaseCreated, Key: db.Key, Adapter: db.Adapter})
	return db, nil
}

// Destroy destroys the database on its adapter and unregisters it before
// returning. Destroying a database that does not exist succeeds.
func (c *Client) Destroy(ctx context.Context, name string, opts Options) error {
	adapter, db, err := c.resolve(name, opts)
	if err != nil {
		return err
	}

	unlock := c.lock(db.Key)
	defer unlock()

	if err := adapter.Destroy(ctx, db.Name); err != nil {
		return fmt.Errorf("destroying database %q: %w", db.Key, err)
	}
	if err := c.registry.Remove(ctx, db.Key); err != nil {
		c.logger.Warn("database destroyed but still registered", "key", db.Key, "error", err)
		return err
	}

	c.logger.Info("database destroyed", "key", db.Key, "adapter", db.Adapter)
	c.publish(event.Event{Type: event.DatabaseDestroyed, Key: db.Key, Adapter: db.Adapter})
	return nil
}

// AllDbs returns every registered key verbatim, selector prefixes included.
func (c *Client) AllDbs(ctx context.Context) ([]string, error) {
	return c.registry.List(ctx)
}

// ResetAllDbs clears the registry. The databases themselves are untouched.
func (c *Client) ResetAllDbs(ctx context.Context) error {
	if err := c.registry.ResetAll(ctx); err != nil {
		return err
	}
	c.publish(event.Event{Type: event.RegistryReset})
	return nil
}

// Resolve reports which adapter and key a name maps to without touching
// storage.
func (c *Client) Resolve(name string, opts Options) (*Database, error) {
	_, db, err := c.resolve(name, opts)
	return db, err
}

func (c *Client) resolve(name string, opts Options) (Adapter, *Database, error) {
	if strings.TrimSpace(name) == "" {
		return nil, nil, errInvalidName(name, "must not be blank")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if opts.Adapter != "" {
		a, ok := c.adapters[opts.Adapter]
		if !ok {
			return nil, nil, errUnknownAdapter(opts.Adapter)
		}
		if opts.Adapter == HTTPAdapterName && IsRemoteName(name) {
			return a, &Database{Name: name, Adapter: a.Name(), Key: name}, nil
		}
		bare := strings.TrimPrefix(name, opts.Adapter+registry.SelectorSeparator)
		return a, &Database{Name: bare, Adapter: a.Name(), Key: registry.Key(bare, opts.Adapter)}, nil
	}

	if IsRemoteName(name) {
		a, ok := c.adapters[HTTPAdapterName]
		if !ok {
			return nil, nil, errUnknownAdapter(HTTPAdapterName)
		}
		return a, &Database{Name: name, Adapter: a.Name(), Key: name}, nil
	}

	if bare, sel := registry.SplitKey(name); sel != "" {
		a, ok := c.adapters[sel]
		if !ok {
			return nil, nil, errUnknownAdapter(sel)
		}
		return a, &Database{Name: bare, Adapter: a.Name(), Key: name}, nil
	}

	a, ok := c.adapters[c.defaultAdapter]
	if !ok {
		return nil, nil, errUnknownAdapter(c.defaultAdapter)
	}
	return a, &Database{Name: name, Adapter: a.Name(), Key: name}, nil
}

// lock acquires the lock for key and returns its release.
func (c *Client) lock(key string) func() {
	c.locksMu.Lock()
	kl, ok := c.locks[key]
	if !ok {
		kl = &keyLock{}
		c.locks[key] = kl
	}
	kl.refs++
	c.locksMu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		c.locksMu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(c.locks, key)
		}
		c.locksMu.Unlock()
	}
}

func (c *Client) publish(e event.Event) {
	c.mu.RLock()
	p := c.events
	c.mu.RUnlock()
	if p != nil {
		p.Publish(e)
	}
}
