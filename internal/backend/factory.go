package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"budget/internal/amqp"
	"budget/internal/cache"
	"budget/internal/cachesvc"
	"budget/internal/core"
	applog "budget/internal/log"
	gsheet "budget/internal/sheets/google"
	"budget/internal/storage"
	"budget/internal/store"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger  *applog.Logger
	manager *cache.Manager

	// connectAMQP is replaced in tests.
	connectAMQP func(ctx context.Context, config Config) (store.Exchanger, io.Closer, error)
}

// NewFactory creates a new backend factory. Memory cache buckets are
// registered with manager for expiry cleanup.
func NewFactory(logger *applog.Logger, manager *cache.Manager) *DefaultFactory {
	f := &DefaultFactory{
		logger:  applog.OrDefault(logger, applog.ComponentBackend),
		manager: manager,
	}
	f.connectAMQP = f.dialAMQP
	return f
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (_ *Result, err error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	res := &Result{}
	var closers []io.Closer
	defer func() {
		if err != nil {
			closeAll(closers)
		}
	}()

	if config.Data == SQLiteBackend || config.Cache == SQLiteBackend {
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		res.Repo = repo
		closers = append(closers, repo)
		f.logger.InfoContext(ctx, "Initialized SQLite repository", "db_path", config.SQLiteDBPath)
	}

	switch config.Data {
	case MemoryBackend:
		res.Persister = storage.NewMemoryStore()
	case SQLiteBackend:
		res.Persister = res.Repo
	case PostgresBackend:
		pg, err := storage.NewPostgresStore(ctx, config.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres store: %w", err)
		}
		res.Persister = pg
		closers = append(closers, pg)
	}

	switch config.Cache {
	case SQLiteBackend:
		res.CacheStorage = cachesvc.NewSQLiteStorage(res.Repo)
	default:
		res.CacheStorage = cachesvc.NewMemoryStorage(config.CacheMaxEntries, config.CacheTTL, f.manager)
	}

	switch config.Remote {
	case SimulatedRemote:
		res.Exchanger = store.SimulatedExchange(config.SyncLatency)
	case AMQPRemote:
		lazy := newLazyExchanger(func(ctx context.Context) (store.Exchanger, io.Closer, error) {
			return f.connectAMQP(ctx, config)
		}, f.logger)
		res.Exchanger = lazy
		closers = append(closers, lazy)
	case SheetsRemote:
		client, err := gsheet.NewFromEnv(ctx, f.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
		}
		res.Exchanger = client
	}

	f.logger.InfoContext(ctx, "Initialized backends",
		"data", config.Data,
		"cache", config.Cache,
		"remote", config.Remote)

	res.Cleanup = func() error { return closeAll(closers) }
	return res, nil
}

func (f *DefaultFactory) dialAMQP(_ context.Context, config Config) (store.Exchanger, io.Closer, error) {
	client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue, f.logger)
	if err != nil {
		return nil, nil, err
	}
	f.logger.Info("Initialized AMQP client",
		"exchange", config.AMQPExchange,
		"queue", config.AMQPQueue)
	return client, client, nil
}

// closeAll closes in reverse order of acquisition.
func closeAll(closers []io.Closer) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// lazyExchanger connects on first use and retries the connection on every
// exchange until it succeeds. A broker that is down at startup then shows
// up as a failed sync, and the queue is kept for the next attempt.
type lazyExchanger struct {
	mu      sync.Mutex
	connect func(ctx context.Context) (store.Exchanger, io.Closer, error)
	inner   store.Exchanger
	closer  io.Closer
	logger  *applog.Logger
}

func newLazyExchanger(connect func(ctx context.Context) (store.Exchanger, io.Closer, error), logger *applog.Logger) *lazyExchanger {
	return &lazyExchanger{connect: connect, logger: logger}
}

func (l *lazyExchanger) Exchange(ctx context.Context, changes []core.PendingChange) error {
	l.mu.Lock()
	if l.inner == nil {
		inner, closer, err := l.connect(ctx)
		if err != nil {
			l.mu.Unlock()
			l.logger.WarnContext(ctx, "Remote exchange unavailable", applog.FieldError, err)
			return fmt.Errorf("connect remote exchange: %w", err)
		}
		l.inner, l.closer = inner, closer
	}
	inner := l.inner
	l.mu.Unlock()

	return inner.Exchange(ctx, changes)
}

func (l *lazyExchanger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closer == nil {
		return nil
	}
	err := l.closer.Close()
	l.inner, l.closer = nil, nil
	return err
}
