package fragstore

import (
	"context"
	"fmt"

	"github.com/bft-labs/fragstore/internal/app"
	"github.com/bft-labs/fragstore/internal/backend"
	"github.com/bft-labs/fragstore/internal/domain"
	"github.com/bft-labs/fragstore/internal/ports"
)

type (
	// Store persists atoms into one backend. See [Open].
	Store = app.Store

	// StoreConfig holds the store settings.
	StoreConfig = app.StoreConfig

	// RetryPolicy controls re-submission of transiently failed fragments.
	RetryPolicy = app.RetryPolicy

	// State is the lifecycle state of a tracked write.
	State = app.State

	// Result is delivered on write and confirm callbacks.
	Result = domain.Result

	// ChunkKey identifies one stored fragment.
	ChunkKey = domain.ChunkKey

	// PersistError describes a fragment write that failed permanently.
	PersistError = domain.PersistError

	// Backend is the storage port implemented by every backend.
	Backend = ports.Backend

	// Observer receives measurement callbacks.
	Observer = ports.Observer

	// BackendConfig selects and configures a backend.
	BackendConfig = backend.Config

	// S3Config holds the object store settings.
	S3Config = backend.S3Config

	// Kind names a backend.
	Kind = backend.Kind
)

// Backend kinds.
const (
	KindMemory = backend.KindMemory
	KindDisk   = backend.KindDisk
	KindSQLite = backend.KindSQLite
	KindBolt   = backend.KindBolt
	KindS3     = backend.KindS3
)

// Write states.
const (
	StatePending    = app.StatePending
	StateSending    = app.StateSending
	StateSent       = app.StateSent
	StateConfirming = app.StateConfirming
	StateConfirmed  = app.StateConfirmed
	StateFailed     = app.StateFailed
)

// Errors, re-exported for errors.Is.
var (
	ErrTruncatedHeader  = domain.ErrTruncatedHeader
	ErrInvalidHeader    = domain.ErrInvalidHeader
	ErrFragmentMismatch = domain.ErrFragmentMismatch
	ErrIncompleteAtom   = domain.ErrIncompleteAtom
	ErrPrematureConfirm = domain.ErrPrematureConfirm
	ErrInvalidEvent     = domain.ErrInvalidEvent
	ErrUnknownEvent     = domain.ErrUnknownEvent
	ErrPersistFailed    = domain.ErrPersistFailed
	ErrTransient        = domain.ErrTransient
	ErrNotFound         = domain.ErrNotFound
	ErrClosed           = domain.ErrClosed
	ErrInvalidChunkSize = domain.ErrInvalidChunkSize
	ErrInvalidConfig    = domain.ErrInvalidConfig
	ErrAtomTooLarge     = domain.ErrAtomTooLarge
)

// Config holds everything Open needs.
type Config struct {
	Backend BackendConfig
	Store   StoreConfig
}

// DefaultConfig returns an in-memory configuration with default store
// settings.
func DefaultConfig() Config {
	return Config{
		Backend: BackendConfig{Kind: KindMemory},
		Store:   app.DefaultStoreConfig(),
	}
}

// ParseKind returns the backend kind named s, ignoring case.
func ParseKind(s string) (Kind, error) {
	return backend.ParseKind(s)
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return app.DefaultRetryPolicy()
}

// Open opens the configured backend and starts a store session over it.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	b := o.backend
	if b == nil {
		var err error
		b, err = backend.Open(ctx, cfg.Backend)
		if err != nil {
			return nil, fmt.Errorf("open %s backend: %w", cfg.Backend.Kind, err)
		}
	}

	store, err := app.NewStore(b, cfg.Store, o.logger, o.observer)
	if err != nil {
		b.Close()
		return nil, err
	}
	return store, nil
}
