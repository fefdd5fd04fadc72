package ports

import (
	"context"

	"github.com/bft-labs/fragstore/internal/domain"
)

// Backend is the capability set every storage engine provides.
// Implementations are safe for concurrent use.
type Backend interface {
	// Name identifies the backend kind in logs and metrics.
	Name() string

	// MaxChunkSize is the largest payload one WriteChunk may carry.
	// It is fixed for the lifetime of the instance.
	MaxChunkSize() int

	// WriteChunk stores header||payload under key asynchronously.
	// onComplete is called exactly once, from any goroutine, possibly
	// before WriteChunk returns. Retryable failures wrap domain.ErrTransient.
	// header and payload must not be retained after onComplete.
	WriteChunk(key domain.ChunkKey, header, payload []byte, onComplete func(error))

	// ReadChunk returns the stored header and payload for key.
	// Returns an error wrapping domain.ErrNotFound when nothing is stored.
	ReadChunk(ctx context.Context, key domain.ChunkKey) (header, payload []byte, err error)

	// Sync is a durability barrier covering every write acknowledged
	// before it was called. Backends with implicit durability complete
	// it immediately.
	Sync(onComplete func(error))

	// Close releases the backend's resources. Writes still in flight may
	// complete with domain.ErrClosed.
	Close() error
}
