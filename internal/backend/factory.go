package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"fintrack/internal/amqp"
	"fintrack/internal/jobs/inmemory"
	"fintrack/internal/ledger"
	"fintrack/internal/ledger/memory"
	"fintrack/internal/storage"
	"fintrack/internal/storage/postgres"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend opens the ledger store, then the queue. On queue failure
// the store is closed again.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	store, err := f.createStore(ctx, config)
	if err != nil {
		return nil, err
	}

	queue, remote, err := f.createQueue(config)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &BackendResult{
		Store:       store,
		Queue:       queue,
		RemoteQueue: remote,
		Cleanup: func() error {
			return errors.Join(queue.Close(), store.Close())
		},
	}, nil
}

func (f *DefaultFactory) createStore(ctx context.Context, config Config) (ledger.Store, error) {
	switch config.Type {
	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
		return repo, nil

	case PostgresBackend:
		repo, err := postgres.New(ctx, config.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres repository: %w", err)
		}
		f.logger.Info("Initialized Postgres backend")
		return repo, nil

	case MemoryBackend:
		f.logger.Warn("Initialized memory backend; ledger is not persisted")
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createQueue(config Config) (Queue, bool, error) {
	if config.AMQPURL == "" {
		f.logger.Info("Using in-process work queue")
		return inmemory.NewQueue(config.QueueBuffer), false, nil
	}

	client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
	if err != nil {
		return nil, false, fmt.Errorf("failed to initialize AMQP client: %w", err)
	}
	if config.Prefetch > 0 {
		client = client.WithPrefetch(config.Prefetch)
	}
	f.logger.Info("Initialized AMQP client",
		"exchange", config.AMQPExchange,
		"queue", config.AMQPQueue)
	return client, true, nil
}
