package backend

import (
	"context"

	"fintrack/internal/jobs"
	"fintrack/internal/ledger"
)

// Queue is a work-item transport usable from both ends.
type Queue interface {
	jobs.Publisher
	jobs.Consumer
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult holds the ledger store and work queue a process runs on.
type BackendResult struct {
	Store ledger.Store
	Queue Queue
	// RemoteQueue is true when Queue is shared with other processes.
	RemoteQueue bool
	Cleanup     CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a backend instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	// Backend type
	Type BackendType

	SQLiteDBPath string
	PostgresURL  string

	// Queue; an empty AMQPURL selects the in-process queue
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
	Prefetch     int
	QueueBuffer  int
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend   BackendType = "sqlite"
	PostgresBackend BackendType = "postgres"
	MemoryBackend   BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, PostgresBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
