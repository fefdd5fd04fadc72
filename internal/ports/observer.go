package ports

import (
	"time"

	"github.com/bft-labs/fragstore/internal/domain"
)

// Observer receives measurement callbacks from the store.
// Calls are made synchronously from store goroutines and must not block.
type Observer interface {
	// OnSubmit is called when an atom's fragments are dispatched.
	OnSubmit(event uint64, fragments int, bytes int)

	// OnWriteComplete is called once per event with the submit-to-completion
	// latency and the terminal error, if any.
	OnWriteComplete(event uint64, elapsed time.Duration, err error)

	// OnRetry is called each time a fragment write is re-queued.
	OnRetry(key domain.ChunkKey, attempt int, delay time.Duration, err error)

	// OnConfirm is called when a durability barrier for an event completes.
	OnConfirm(event uint64, elapsed time.Duration, err error)
}

// NoopObserver ignores every callback.
type NoopObserver struct{}

func (NoopObserver) OnSubmit(uint64, int, int)                          {}
func (NoopObserver) OnWriteComplete(uint64, time.Duration, error)       {}
func (NoopObserver) OnRetry(domain.ChunkKey, int, time.Duration, error) {}
func (NoopObserver) OnConfirm(uint64, time.Duration, error)             {}
