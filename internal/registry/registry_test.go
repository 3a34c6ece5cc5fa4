package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/sydlexius/alldbs/internal/database"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.OpenMigrated(database.MemoryPath)
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func setupTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(setupTestDB(t), testLogger())
}

func mustList(t *testing.T, r *Registry) []string {
	t.Helper()
	keys, err := r.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	return keys
}

func TestAddThenList(t *testing.T) {
	r := setupTestRegistry(t)
	ctx := context.Background()

	if err := r.Add(ctx, "testdb"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got := mustList(t, r); !slices.Equal(got, []string{"testdb"}) {
		t.Errorf("List = %v, want [testdb]", got)
	}
}

func TestRemoveThenList(t *testing.T) {
	r := setupTestRegistry(t)
	ctx := context.Background()

	if err := r.Add(ctx, "testdb"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Remove(ctx, "testdb"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if got := mustList(t, r); len(got) != 0 {
		t.Errorf("List = %v, want empty", got)
	}
}

func TestAddRemove_Idempotent(t *testing.T) {
	r := setupTestRegistry(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := r.Add(ctx, "dup"); err != nil {
			t.Fatalf("Add #%d: %v", i+1, err)
		}
	}
	if got := mustList(t, r); !slices.Equal(got, []string{"dup"}) {
		t.Errorf("after double add List = %v, want [dup]", got)
	}

	for i := 0; i < 2; i++ {
		if err := r.Remove(ctx, "dup"); err != nil {
			t.Fatalf("Remove #%d: %v", i+1, err)
		}
	}
	if got := mustList(t, r); len(got) != 0 {
		t.Errorf("after double remove List = %v, want empty", got)
	}

	// Removing a key that never existed is also fine.
	if err := r.Remove(ctx, "never-added"); err != nil {
		t.Errorf("Remove of missing key: %v", err)
	}
}

func TestIsolationAcrossKeys(t *testing.T) {
	r := setupTestRegistry(t)
	ctx := context.Background()

	for _, k := range []string{"k1", "k2"} {
		if err := r.Add(ctx, k); err != nil {
			t.Fatalf("Add %s: %v", k, err)
		}
	}
	if err := r.Remove(ctx, "k1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if got := mustList(t, r); !slices.Equal(got, []string{"k2"}) {
		t.Errorf("List = %v, want [k2]", got)
	}
}

func TestPrefixScoping(t *testing.T) {
	r := setupTestRegistry(t)
	ctx := context.Background()

	prefixed := Key("foo", "idb")
	bare := Key("foo", "")
	if prefixed != "idb://foo" {
		t.Fatalf("Key(foo, idb) = %q", prefixed)
	}

	for _, k := range []string{prefixed, bare} {
		if err := r.Add(ctx, k); err != nil {
			t.Fatalf("Add %s: %v", k, err)
		}
	}
	if got := mustList(t, r); !slices.Equal(got, []string{"idb://foo", "foo"}) {
		t.Fatalf("List = %v", got)
	}

	if err := r.Remove(ctx, bare); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if got := mustList(t, r); !slices.Equal(got, []string{"idb://foo"}) {
		t.Errorf("List after removing bare = %v, want [idb://foo]", got)
	}
}

func TestScenario(t *testing.T) {
	r := setupTestRegistry(t)
	ctx := context.Background()

	if got := mustList(t, r); len(got) != 0 {
		t.Fatalf("fresh registry not empty: %v", got)
	}

	if err := r.Add(ctx, "testdb"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got := mustList(t, r); !slices.Equal(got, []string{"testdb"}) {
		t.Fatalf("List = %v, want [testdb]", got)
	}

	for _, k := range []string{"testdb_1", "testdb_2"} {
		if err := r.Add(ctx, k); err != nil {
			t.Fatalf("Add %s: %v", k, err)
		}
	}
	got := mustList(t, r)
	for _, k := range []string{"testdb", "testdb_1", "testdb_2"} {
		if !slices.Contains(got, k) {
			t.Errorf("List %v missing %s", got, k)
		}
	}

	if err := r.Remove(ctx, "testdb_1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	got = mustList(t, r)
	slices.Sort(got)
	if !slices.Equal(got, []string{"testdb", "testdb_2"}) {
		t.Errorf("List = %v, want [testdb testdb_2]", got)
	}

	if err := r.ResetAll(ctx); err != nil {
		t.Fatalf("ResetAll: %v", err)
	}
	if got := mustList(t, r); len(got) != 0 {
		t.Errorf("List after reset = %v, want empty", got)
	}
}

func TestDurability(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.db")
	ctx := context.Background()

	db, err := database.OpenMigrated(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	r := New(db, testLogger())
	if err := r.Add(ctx, "survivor"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add(ctx, "sqlite://other"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err = database.OpenMigrated(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	got := mustList(t, New(db, testLogger()))
	if !slices.Equal(got, []string{"survivor", "sqlite://other"}) {
		t.Errorf("List after reopen = %v", got)
	}
}

func TestEntries(t *testing.T) {
	r := setupTestRegistry(t)
	ctx := context.Background()

	for _, k := range []string{"plain", "memory://scoped"} {
		if err := r.Add(ctx, k); err != nil {
			t.Fatalf("Add %s: %v", k, err)
		}
	}

	entries, err := r.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Key != "plain" || entries[0].Selector != "" || entries[0].Name != "plain" {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[1].Key != "memory://scoped" || entries[1].Selector != "memory" || entries[1].Name != "scoped" {
		t.Errorf("entries[1] = %+v", entries[1])
	}
	if entries[0].Seq >= entries[1].Seq {
		t.Errorf("expected increasing seq, got %d then %d", entries[0].Seq, entries[1].Seq)
	}
	if entries[0].CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestContains(t *testing.T) {
	r := setupTestRegistry(t)
	ctx := context.Background()

	if ok, err := r.Contains(ctx, "x"); err != nil || ok {
		t.Fatalf("Contains before add = %v, %v", ok, err)
	}
	if err := r.Add(ctx, "x"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if ok, err := r.Contains(ctx, "x"); err != nil || !ok {
		t.Fatalf("Contains after add = %v, %v", ok, err)
	}
}

func TestBlankKey(t *testing.T) {
	r := setupTestRegistry(t)
	ctx := context.Background()

	if err := r.Add(ctx, "  "); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Add blank: got %v, want ErrInvalidKey", err)
	}
	if err := r.Remove(ctx, ""); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Remove blank: got %v, want ErrInvalidKey", err)
	}
}

func TestStorageFailure(t *testing.T) {
	db, err := database.OpenMigrated(database.MemoryPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	r := New(db, testLogger())
	_ = db.Close()
	ctx := context.Background()

	checks := map[string]error{
		"add":    r.Add(ctx, "k"),
		"remove": r.Remove(ctx, "k"),
		"reset":  r.ResetAll(ctx),
	}
	_, listErr := r.List(ctx)
	checks["list"] = listErr

	for op, err := range checks {
		if !errors.Is(err, ErrStorage) {
			t.Errorf("%s: got %v, want ErrStorage", op, err)
		}
		var se *StorageError
		if !errors.As(err, &se) {
			t.Errorf("%s: expected *StorageError, got %T", op, err)
		}
	}
}

func TestConcurrentDistinctKeys(t *testing.T) {
	r := setupTestRegistry(t)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- r.Add(ctx, fmt.Sprintf("db_%02d", i))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	if got := mustList(t, r); len(got) != n {
		t.Errorf("len(List) = %d, want %d", len(got), n)
	}
	if len(r.locks) != 0 {
		t.Errorf("expected key locks to be released, %d remain", len(r.locks))
	}
}

func TestConcurrentSameKey_Consistent(t *testing.T) {
	r := setupTestRegistry(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = r.Add(ctx, "contended")
			} else {
				_ = r.Remove(ctx, "contended")
			}
		}(i)
	}
	wg.Wait()

	keys := mustList(t, r)
	present, err := r.Contains(ctx, "contended")
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if present != slices.Contains(keys, "contended") {
		t.Errorf("List %v disagrees with Contains=%v", keys, present)
	}
	if len(keys) > 1 {
		t.Errorf("expected at most one entry, got %v", keys)
	}
}

func TestLastWriterWins_Sequential(t *testing.T) {
	r := setupTestRegistry(t)
	ctx := context.Background()

	_ = r.Add(ctx, "k")
	_ = r.Remove(ctx, "k")
	_ = r.Add(ctx, "k")
	if got := mustList(t, r); !slices.Equal(got, []string{"k"}) {
		t.Errorf("List = %v, want [k]", got)
	}
}

func TestAddWins_RemoveYieldsToPendingAdd(t *testing.T) {
	r := setupTestRegistry(t)
	r.SetConflictPolicy(AddWins)
	ctx := context.Background()

	if err := r.Add(ctx, "k"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Simulate an Add for the same key that has been issued but has not yet
	// reached storage.
	kl := r.enter("k", true)
	if err := r.Remove(ctx, "k"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	r.addSettled(kl)
	r.leave("k", kl)

	if got := mustList(t, r); !slices.Equal(got, []string{"k"}) {
		t.Errorf("List = %v, want [k]", got)
	}

	// With no add in flight the remove goes through.
	if err := r.Remove(ctx, "k"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if got := mustList(t, r); len(got) != 0 {
		t.Errorf("List = %v, want empty", got)
	}
}

func TestAddWins_YieldedRemoveAppliedWhenAddFails(t *testing.T) {
	r := setupTestRegistry(t)
	r.SetConflictPolicy(AddWins)
	ctx := context.Background()

	if err := r.Add(ctx, "k"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Hold an add open so the remove yields, then let an add for the same
	// key fail before it reaches storage.
	kl := r.enter("k", true)
	if err := r.Remove(ctx, "k"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if err := r.Add(canceled, "k"); !errors.Is(err, ErrStorage) {
		t.Fatalf("Add with canceled context: err = %v, want ErrStorage", err)
	}
	r.addSettled(kl)
	r.leave("k", kl)

	if got := mustList(t, r); len(got) != 0 {
		t.Errorf("List = %v, want empty once the add failed", got)
	}
}

func TestLastWriterWins_RemoveIgnoresPendingAdd(t *testing.T) {
	r := setupTestRegistry(t)
	ctx := context.Background()

	if err := r.Add(ctx, "k"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	kl := r.enter("k", true)
	if err := r.Remove(ctx, "k"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	r.addSettled(kl)
	r.leave("k", kl)

	if got := mustList(t, r); len(got) != 0 {
		t.Errorf("List = %v, want empty", got)
	}
}

func TestParseConflictPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    ConflictPolicy
		wantErr bool
	}{
		{"", LastWriterWins, false},
		{"last-writer-wins", LastWriterWins, false},
		{"add-wins", AddWins, false},
		{"remove-wins", "", true},
	}
	for _, tt := range tests {
		got, err := ParseConflictPolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseConflictPolicy(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseConflictPolicy(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCount(t *testing.T) {
	r := setupTestRegistry(t)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "a"} {
		if err := r.Add(ctx, k); err != nil {
			t.Fatal(err)
		}
	}
	n, err := r.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
}

func TestEntries_CorruptTimestamp(t *testing.T) {
	r := setupTestRegistry(t)
	ctx := context.Background()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO all_dbs (key, name, selector, created_at) VALUES ('bad', 'bad', '', 'yesterday')`)
	if err != nil {
		t.Fatalf("seeding row: %v", err)
	}
	if _, err := r.Entries(ctx); !errors.Is(err, ErrStorage) {
		t.Errorf("Entries err = %v, want ErrStorage", err)
	}
}
