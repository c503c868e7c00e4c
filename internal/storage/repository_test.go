package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"budget/internal/store"
)

func newTestRepo(t *testing.T) (*SQLiteRepository, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "budget.db")
	repo, err := NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo, path
}

func TestSQLiteRepository_KV(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.Load(ctx, "budget-storage"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := repo.Save(ctx, "budget-storage", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := repo.Save(ctx, "budget-storage", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("Save overwrite: %v", err)
	}
	got, err := repo.Load(ctx, "budget-storage")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got) != `{"v":2}` {
		t.Fatalf("Load = %s", got)
	}
}

func TestSQLiteRepository_Buckets(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	for _, name := range []string{"budget-app-cache-v1", "budget-app-cache-v2"} {
		if err := repo.OpenBucket(ctx, name); err != nil {
			t.Fatalf("OpenBucket(%s): %v", name, err)
		}
	}
	if err := repo.OpenBucket(ctx, "budget-app-cache-v1"); err != nil {
		t.Fatalf("reopening a bucket should be a no-op: %v", err)
	}

	names, err := repo.ListBuckets(ctx)
	if err != nil || len(names) != 2 {
		t.Fatalf("ListBuckets = %v, %v", names, err)
	}

	entry := CacheEntry{
		Bucket:     "budget-app-cache-v1",
		Key:        "GET /index.html",
		StatusCode: 200,
		Header:     map[string][]string{"Content-Type": {"text/html"}},
		Body:       []byte("<html></html>"),
		StoredAt:   time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := repo.PutEntry(ctx, entry); err != nil {
		t.Fatalf("PutEntry: %v", err)
	}
	entry.Body = []byte("<html>v2</html>")
	if err := repo.PutEntry(ctx, entry); err != nil {
		t.Fatalf("PutEntry overwrite: %v", err)
	}

	got, ok, err := repo.GetEntry(ctx, "budget-app-cache-v1", "GET /index.html")
	if err != nil || !ok {
		t.Fatalf("GetEntry = %v, %v", ok, err)
	}
	if string(got.Body) != "<html>v2</html>" || got.StatusCode != 200 || got.Header["Content-Type"][0] != "text/html" {
		t.Fatalf("entry = %+v", got)
	}
	if !got.StoredAt.Equal(entry.StoredAt) {
		t.Fatalf("stored at = %v", got.StoredAt)
	}

	if _, ok, _ := repo.GetEntry(ctx, "budget-app-cache-v2", "GET /index.html"); ok {
		t.Fatalf("entries must not leak across buckets")
	}

	keys, err := repo.EntryKeys(ctx, "budget-app-cache-v1")
	if err != nil || len(keys) != 1 {
		t.Fatalf("EntryKeys = %v, %v", keys, err)
	}

	existed, err := repo.DeleteBucket(ctx, "budget-app-cache-v1")
	if err != nil || !existed {
		t.Fatalf("DeleteBucket = %v, %v", existed, err)
	}
	if has, _ := repo.HasBucket(ctx, "budget-app-cache-v1"); has {
		t.Fatalf("bucket still present")
	}
	if keys, _ := repo.EntryKeys(ctx, "budget-app-cache-v1"); len(keys) != 0 {
		t.Fatalf("entries survived bucket deletion: %v", keys)
	}
	if existed, _ := repo.DeleteBucket(ctx, "missing"); existed {
		t.Fatalf("deleting a missing bucket should report false")
	}
}

func TestSchemaVersion(t *testing.T) {
	_, path := newTestRepo(t)
	v, dirty, err := SchemaVersion(path)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 2 || dirty {
		t.Fatalf("version=%d dirty=%v", v, dirty)
	}
}

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	if _, err := m.Load(ctx, "k"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	buf := []byte("abc")
	_ = m.Save(ctx, "k", buf)
	buf[0] = 'x'
	got, _ := m.Load(ctx, "k")
	if string(got) != "abc" {
		t.Fatalf("memory store aliases caller buffer: %s", got)
	}
}

func TestStoreOverSQLite(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	s, err := store.Open(ctx, store.Options{Persister: repo})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.SetBudgetCap(ctx, 1234)

	again, err := store.Open(ctx, store.Options{Persister: repo})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := again.State().BudgetCap; got != 1234 {
		t.Fatalf("budget cap after reopen = %v", got)
	}
}
