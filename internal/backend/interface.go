package backend

import (
	"context"

	"fincontrol/internal/ledger"
)

// CleanupFunc releases resources held by a backend.
type CleanupFunc func() error

// BackendResult is a ready repository plus the optional event publisher
// that goes with it. Publisher is nil when AMQP is not configured.
type BackendResult struct {
	Repository ledger.Repository
	Publisher  ledger.EventPublisher
	Cleanup    CleanupFunc
}

// Options returns the ledger store options for this backend.
func (r *BackendResult) Options() []ledger.Option {
	if r.Publisher == nil {
		return nil
	}
	return []ledger.Option{ledger.WithPublisher(r.Publisher)}
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// Memory backend specific
	DataDirectory string

	// Optional event publishing
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
