package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	applog "budget/internal/log"
	"budget/internal/store"

	_ "modernc.org/sqlite"
)

// SQLiteRepository keeps the persisted store record and the offline cache
// buckets in a single SQLite file.
type SQLiteRepository struct {
	db *sql.DB
}

var _ store.Persister = (*SQLiteRepository)(nil)

// CacheEntry is one stored response inside a cache bucket.
type CacheEntry struct {
	Bucket     string
	Key        string
	StatusCode int
	Header     map[string][]string
	Body       []byte
	StoredAt   time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection serializes writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks the database connection; used by the readiness probe.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Load implements store.Persister
func (r *SQLiteRepository) Load(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return value, nil
}

// Save implements store.Persister
func (r *SQLiteRepository) Save(ctx context.Context, key string, data []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	slog.DebugContext(ctx, "State saved to SQLite",
		applog.FieldComponent, applog.ComponentStorage,
		applog.FieldOperation, applog.OpPersist,
		"key", key, "bytes", len(data))
	return nil
}

// OpenBucket creates the named cache bucket if it does not exist.
func (r *SQLiteRepository) OpenBucket(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO cache_buckets (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("open bucket %s: %w", name, err)
	}
	return nil
}

// HasBucket reports whether the named bucket exists.
func (r *SQLiteRepository) HasBucket(ctx context.Context, name string) (bool, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM cache_buckets WHERE name = ?`, name).Scan(&n); err != nil {
		return false, fmt.Errorf("lookup bucket %s: %w", name, err)
	}
	return n > 0, nil
}

// ListBuckets returns bucket names in creation order.
func (r *SQLiteRepository) ListBuckets(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name FROM cache_buckets ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DeleteBucket removes a bucket and its entries. It reports whether the
// bucket existed.
func (r *SQLiteRepository) DeleteBucket(ctx context.Context, name string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE bucket = ?`, name); err != nil {
		return false, fmt.Errorf("delete entries of %s: %w", name, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM cache_buckets WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete bucket %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// PutEntry stores or replaces a cached response.
func (r *SQLiteRepository) PutEntry(ctx context.Context, e CacheEntry) error {
	headers, err := json.Marshal(e.Header)
	if err != nil {
		return fmt.Errorf("encode headers: %w", err)
	}
	if e.Body == nil {
		e.Body = []byte{}
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO cache_entries (bucket, request_key, status_code, headers, body, stored_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(bucket, request_key) DO UPDATE SET
			status_code = excluded.status_code,
			headers = excluded.headers,
			body = excluded.body,
			stored_at = excluded.stored_at`,
		e.Bucket, e.Key, e.StatusCode, string(headers), e.Body, e.StoredAt.UTC())
	if err != nil {
		return fmt.Errorf("put %s in %s: %w", e.Key, e.Bucket, err)
	}
	return nil
}

// GetEntry returns the cached response for key, if any.
func (r *SQLiteRepository) GetEntry(ctx context.Context, bucket, key string) (CacheEntry, bool, error) {
	var (
		e       = CacheEntry{Bucket: bucket, Key: key}
		headers string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT status_code, headers, body, stored_at FROM cache_entries
		WHERE bucket = ? AND request_key = ?`, bucket, key).
		Scan(&e.StatusCode, &headers, &e.Body, &e.StoredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, fmt.Errorf("get %s from %s: %w", key, bucket, err)
	}
	if err := json.Unmarshal([]byte(headers), &e.Header); err != nil {
		return CacheEntry{}, false, fmt.Errorf("decode headers: %w", err)
	}
	return e, true, nil
}

// DeleteEntry removes one cached response.
func (r *SQLiteRepository) DeleteEntry(ctx context.Context, bucket, key string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE bucket = ? AND request_key = ?`, bucket, key)
	if err != nil {
		return false, fmt.Errorf("delete %s from %s: %w", key, bucket, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// EntryKeys lists the request keys stored in a bucket.
func (r *SQLiteRepository) EntryKeys(ctx context.Context, bucket string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT request_key FROM cache_entries WHERE bucket = ? ORDER BY request_key`, bucket)
	if err != nil {
		return nil, fmt.Errorf("list entries of %s: %w", bucket, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan entry key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
