// Package registry maintains the durable set of database keys that have been
// created through the client and not yet destroyed.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ConflictPolicy decides the outcome of an Add and a Remove racing on the
// same key.
type ConflictPolicy string

const (
	// LastWriterWins keeps whichever operation completed last.
	LastWriterWins ConflictPolicy = "last-writer-wins"
	// AddWins drops a Remove that finds an Add for the same key waiting. If
	// that Add then fails, the dropped Remove is applied after all.
	AddWins ConflictPolicy = "add-wins"
)

// ParseConflictPolicy validates a policy name. Empty selects LastWriterWins.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch ConflictPolicy(s) {
	case "", LastWriterWins:
		return LastWriterWins, nil
	case AddWins:
		return AddWins, nil
	}
	return "", fmt.Errorf("unknown conflict policy %q", s)
}

// Entry is a single registered database.
type Entry struct {
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	Selector  string    `json:"selector,omitempty"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

// Registry is the authoritative index of live database keys. It is safe for
// concurrent use.
type Registry struct {
	db     *sql.DB
	logger *slog.Logger
	policy atomic.Value // ConflictPolicy

	// resetMu is held shared by Add/Remove and exclusively by ResetAll.
	resetMu sync.RWMutex

	locksMu sync.Mutex
	locks   map[string]*keyLock
}

type keyLock struct {
	mu          sync.Mutex
	refs        int
	pendingAdds int
	// yielded counts removes absorbed by a pending add; guarded by mu.
	yielded int
}

// New creates a registry over a migrated index.
func New(db *sql.DB, logger *slog.Logger) *Registry {
	r := &Registry{
		db:     db,
		logger: logger.With(slog.String("component", "registry")),
		locks:  make(map[string]*keyLock),
	}
	r.policy.Store(LastWriterWins)
	return r
}

// SetConflictPolicy changes the same-key race policy. It may be called while
// operations are in flight; each Remove reads the policy once.
func (r *Registry) SetConflictPolicy(p ConflictPolicy) {
	r.policy.Store(p)
}

// Policy returns the active conflict policy.
func (r *Registry) Policy() ConflictPolicy {
	return r.policy.Load().(ConflictPolicy)
}

// Add records key. Adding a key that is already present is a no-op.
func (r *Registry) Add(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}

	kl := r.enter(key, true)
	defer r.leave(key, kl)

	r.resetMu.RLock()
	defer r.resetMu.RUnlock()
	kl.mu.Lock()
	defer kl.mu.Unlock()
	// Settle before the key lock is released so a following Remove does not
	// mistake this completed Add for a pending one.
	defer r.addSettled(kl)

	name, selector := SplitKey(key)
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO all_dbs (key, name, selector, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`, key, name, selector, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		if kl.yielded > 0 {
			r.applyYieldedRemove(ctx, key, kl)
		}
		return storageErr("add", key, err)
	}
	kl.yielded = 0
	if n, _ := res.RowsAffected(); n > 0 {
		r.logger.Debug("database registered", slog.String("key", key))
	}
	return nil
}

// Remove deletes key. Removing a key that is absent is a no-op.
func (r *Registry) Remove(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}

	kl := r.enter(key, false)
	defer r.leave(key, kl)

	r.resetMu.RLock()
	defer r.resetMu.RUnlock()
	kl.mu.Lock()
	defer kl.mu.Unlock()

	if r.Policy() == AddWins && r.addPending(kl) {
		kl.yielded++
		r.logger.Debug("remove yielded to pending add", slog.String("key", key))
		return nil
	}

	res, err := r.db.ExecContext(ctx, `DELETE FROM all_dbs WHERE key = ?`, key)
	if err != nil {
		return storageErr("remove", key, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		r.logger.Debug("database unregistered", slog.String("key", key))
	}
	return nil
}

// List returns every live key in insertion order.
func (r *Registry) List(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key FROM all_dbs ORDER BY seq`)
	if err != nil {
		return nil, storageErr("list", "", err)
	}
	defer rows.Close() //nolint:errcheck

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, storageErr("list", "", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list", "", err)
	}
	return keys, nil
}

// Entries returns every live entry in insertion order.
func (r *Registry) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, key, name, selector, created_at FROM all_dbs ORDER BY seq`)
	if err != nil {
		return nil, storageErr("entries", "", err)
	}
	defer rows.Close() //nolint:errcheck

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var created string
		if err := rows.Scan(&e.Seq, &e.Key, &e.Name, &e.Selector, &created); err != nil {
			return nil, storageErr("entries", "", err)
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, storageErr("entries", e.Key, fmt.Errorf("parsing created_at %q: %w", created, err))
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("entries", "", err)
	}
	return entries, nil
}

// Contains reports whether key is registered.
func (r *Registry) Contains(ctx context.Context, key string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM all_dbs WHERE key = ?`, key).Scan(&n)
	if err != nil {
		return false, storageErr("contains", key, err)
	}
	return n > 0, nil
}

// Count returns the number of live keys.
func (r *Registry) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM all_dbs`).Scan(&n); err != nil {
		return 0, storageErr("count", "", err)
	}
	return n, nil
}

// ResetAll removes every entry. Reserved for administrative teardown.
func (r *Registry) ResetAll(ctx context.Context) error {
	r.resetMu.Lock()
	defer r.resetMu.Unlock()

	res, err := r.db.ExecContext(ctx, `DELETE FROM all_dbs`)
	if err != nil {
		return storageErr("reset", "", err)
	}
	n, _ := res.RowsAffected()
	r.logger.Info("registry reset", slog.Int64("removed", n))
	return nil
}

// enter registers interest in key and returns its lock without acquiring it.
func (r *Registry) enter(key string, add bool) *keyLock {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()

	kl, ok := r.locks[key]
	if !ok {
		kl = &keyLock{}
		r.locks[key] = kl
	}
	kl.refs++
	if add {
		kl.pendingAdds++
	}
	return kl
}

// leave drops the interest taken by enter.
func (r *Registry) leave(key string, kl *keyLock) {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()

	kl.refs--
	if kl.refs == 0 {
		delete(r.locks, key)
	}
}

// applyYieldedRemove deletes key on behalf of removes that yielded to an Add
// which then failed. The caller holds kl.mu.
func (r *Registry) applyYieldedRemove(ctx context.Context, key string, kl *keyLock) {
	_, err := r.db.ExecContext(context.WithoutCancel(ctx), `DELETE FROM all_dbs WHERE key = ?`, key)
	if err != nil {
		r.logger.Error("applying remove deferred to failed add",
			slog.String("key", key), slog.Any("error", err))
		return
	}
	kl.yielded = 0
	r.logger.Debug("applied remove deferred to failed add", slog.String("key", key))
}

func (r *Registry) addSettled(kl *keyLock) {
	r.locksMu.Lock()
	kl.pendingAdds--
	r.locksMu.Unlock()
}

func (r *Registry) addPending(kl *keyLock) bool {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	return kl.pendingAdds > 0
}
