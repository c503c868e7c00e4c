package cachesvc

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"budget/internal/cache"
	"budget/internal/storage"
)

// Bucket is one named cache of responses keyed by request identity.
type Bucket interface {
	Match(ctx context.Context, key string) (*Response, bool, error)
	Put(ctx context.Context, key string, resp *Response) error
	Delete(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
}

// Storage holds the named buckets of an origin.
type Storage interface {
	Open(ctx context.Context, name string) (Bucket, error)
	Has(ctx context.Context, name string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) (bool, error)
}

// MemoryStorage keeps buckets in bounded LRU caches. Expired entries are
// removed by a cache.Manager when a TTL is configured.
type MemoryStorage struct {
	mu         sync.Mutex
	buckets    map[string]*memoryBucket
	created    map[string]uint64
	seq        uint64
	maxEntries int
	ttl        time.Duration
	manager    *cache.Manager
}

// NewMemoryStorage creates an empty storage. maxEntries <= 0 is unbounded and
// ttl <= 0 keeps entries until evicted.
func NewMemoryStorage(maxEntries int, ttl time.Duration, manager *cache.Manager) *MemoryStorage {
	return &MemoryStorage{
		buckets:    make(map[string]*memoryBucket),
		created:    make(map[string]uint64),
		maxEntries: maxEntries,
		ttl:        ttl,
		manager:    manager,
	}
}

func (s *MemoryStorage) Open(_ context.Context, name string) (Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buckets[name]; ok {
		return b, nil
	}
	b := &memoryBucket{entries: cache.NewLRUCache[*Response](s.maxEntries, s.ttl)}
	s.buckets[name] = b
	s.seq++
	s.created[name] = s.seq
	if s.manager != nil {
		s.manager.Register(b.entries)
	}
	return b, nil
}

func (s *MemoryStorage) Has(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.buckets[name]
	return ok, nil
}

// Keys returns bucket names in creation order.
func (s *MemoryStorage) Keys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.buckets))
	for name := range s.buckets {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return s.created[names[i]] < s.created[names[j]]
	})
	return names, nil
}

func (s *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[name]
	if !ok {
		return false, nil
	}
	delete(s.buckets, name)
	delete(s.created, name)
	if s.manager != nil {
		s.manager.Unregister(b.entries)
	}
	b.entries.Clear()
	return true, nil
}

type memoryBucket struct {
	entries *cache.LRUCache[*Response]
}

func (b *memoryBucket) Match(_ context.Context, key string) (*Response, bool, error) {
	resp, ok := b.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	return resp.Clone(), true, nil
}

func (b *memoryBucket) Put(_ context.Context, key string, resp *Response) error {
	b.entries.Set(key, resp.Clone())
	return nil
}

func (b *memoryBucket) Delete(_ context.Context, key string) (bool, error) {
	return b.entries.Delete(key), nil
}

func (b *memoryBucket) Keys(_ context.Context) ([]string, error) {
	keys := b.entries.Keys()
	sort.Strings(keys)
	return keys, nil
}

// SQLiteStorage keeps buckets in the cache tables of the SQLite repository,
// so precached content survives restarts.
type SQLiteStorage struct {
	repo *storage.SQLiteRepository
}

func NewSQLiteStorage(repo *storage.SQLiteRepository) *SQLiteStorage {
	return &SQLiteStorage{repo: repo}
}

func (s *SQLiteStorage) Open(ctx context.Context, name string) (Bucket, error) {
	if err := s.repo.OpenBucket(ctx, name); err != nil {
		return nil, err
	}
	return &sqliteBucket{repo: s.repo, name: name}, nil
}

func (s *SQLiteStorage) Has(ctx context.Context, name string) (bool, error) {
	return s.repo.HasBucket(ctx, name)
}

func (s *SQLiteStorage) Keys(ctx context.Context) ([]string, error) {
	return s.repo.ListBuckets(ctx)
}

func (s *SQLiteStorage) Delete(ctx context.Context, name string) (bool, error) {
	return s.repo.DeleteBucket(ctx, name)
}

type sqliteBucket struct {
	repo *storage.SQLiteRepository
	name string
}

func (b *sqliteBucket) Match(ctx context.Context, key string) (*Response, bool, error) {
	e, ok, err := b.repo.GetEntry(ctx, b.name, key)
	if err != nil || !ok {
		return nil, false, err
	}
	return &Response{
		StatusCode: e.StatusCode,
		Header:     http.Header(e.Header),
		Body:       e.Body,
		StoredAt:   e.StoredAt,
	}, true, nil
}

func (b *sqliteBucket) Put(ctx context.Context, key string, resp *Response) error {
	return b.repo.PutEntry(ctx, storage.CacheEntry{
		Bucket:     b.name,
		Key:        key,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
		StoredAt:   resp.StoredAt,
	})
}

func (b *sqliteBucket) Delete(ctx context.Context, key string) (bool, error) {
	return b.repo.DeleteEntry(ctx, b.name, key)
}

func (b *sqliteBucket) Keys(ctx context.Context) ([]string, error) {
	return b.repo.EntryKeys(ctx, b.name)
}
