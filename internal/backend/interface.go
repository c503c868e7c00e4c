package backend

import (
	"context"
	"time"

	"budget/internal/cachesvc"
	"budget/internal/storage"
	"budget/internal/store"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// Result bundles the collaborators the store and the cache service run on.
type Result struct {
	Persister    store.Persister
	Exchanger    store.Exchanger
	CacheStorage cachesvc.Storage
	// Repo is set when either backend uses SQLite.
	Repo    *storage.SQLiteRepository
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates the backends selected by config
	CreateBackend(ctx context.Context, config Config) (*Result, error)
}

// Config holds configuration for backend creation
type Config struct {
	Data   BackendType
	Cache  BackendType
	Remote RemoteType

	// SQLite specific
	SQLiteDBPath string

	// Postgres specific
	PostgresDSN string

	// Memory cache specific
	CacheMaxEntries int
	CacheTTL        time.Duration

	// Simulated remote
	SyncLatency time.Duration

	// AMQP specific
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets specific
	GoogleSpreadsheetID string
	GoogleSheetName     string
}

// BackendType names a storage backend
type BackendType string

const (
	MemoryBackend   BackendType = "memory"
	SQLiteBackend   BackendType = "sqlite"
	PostgresBackend BackendType = "postgres"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, SQLiteBackend, PostgresBackend:
		return true
	default:
		return false
	}
}

// RemoteType names the remote exchange the store syncs through
type RemoteType string

const (
	SimulatedRemote RemoteType = "simulated"
	AMQPRemote      RemoteType = "amqp"
	SheetsRemote    RemoteType = "sheets"
)

func (rt RemoteType) String() string {
	return string(rt)
}

// IsValid returns true if the remote type is valid
func (rt RemoteType) IsValid() bool {
	switch rt {
	case SimulatedRemote, AMQPRemote, SheetsRemote:
		return true
	default:
		return false
	}
}
