// Package memory implements an in-process fragment backend.
//
// It is used by tests and the CLI self-checks. Writes can be made
// asynchronous, reordered by random completion delays, and failed on demand
// through fault hooks.
package memory

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/bft-labs/fragstore/internal/domain"
	"github.com/bft-labs/fragstore/internal/header"
)

// Name is the backend kind name.
const Name = "memory"

// DefaultMaxChunkSize is the chunk limit when none is configured.
const DefaultMaxChunkSize = 64 << 10

// FaultFunc is consulted before every write attempt of key. attempt counts
// from 1 across retries. A non-nil error fails the attempt.
type FaultFunc func(key domain.ChunkKey, attempt int) error

// Options configures a memory backend.
type Options struct {
	MaxChunkSize int

	// Async completes every write on its own goroutine.
	Async bool

	// Jitter delays each asynchronous completion by a random duration in
	// [0, Jitter), so fragments complete out of order. Implies Async.
	Jitter time.Duration

	// WriteFault, if set, can fail individual write attempts.
	WriteFault FaultFunc

	// SyncFault, if set, is returned by Sync when non-nil.
	SyncFault func() error
}

// Backend stores fragments in a map.
type Backend struct {
	opts Options

	mu       sync.RWMutex
	records  map[domain.ChunkKey][]byte
	attempts map[domain.ChunkKey]int
	syncs    int
	closed   bool

	rngMu sync.Mutex
	rng   *rand.Rand

	wg sync.WaitGroup
}

// New creates a memory backend.
func New(opts Options) *Backend {
	if opts.MaxChunkSize == 0 {
		opts.MaxChunkSize = DefaultMaxChunkSize
	}
	if opts.Jitter > 0 {
		opts.Async = true
	}
	return &Backend{
		opts:     opts,
		records:  make(map[domain.ChunkKey][]byte),
		attempts: make(map[domain.ChunkKey]int),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (b *Backend) Name() string { return Name }

func (b *Backend) MaxChunkSize() int { return b.opts.MaxChunkSize }

// WriteChunk stores a copy of header||payload.
func (b *Backend) WriteChunk(key domain.ChunkKey, hdr, payload []byte, onComplete func(error)) {
	rec := header.Join(hdr, payload)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		onComplete(domain.ErrClosed)
		return
	}
	b.attempts[key]++
	attempt := b.attempts[key]
	if !b.opts.Async {
		b.mu.Unlock()
		onComplete(b.store(key, rec, attempt))
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		if d := b.jitter(); d > 0 {
			time.Sleep(d)
		}
		onComplete(b.store(key, rec, attempt))
	}()
}

func (b *Backend) store(key domain.ChunkKey, rec []byte, attempt int) error {
	if f := b.opts.WriteFault; f != nil {
		if err := f(key, attempt); err != nil {
			return err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[key] = rec
	return nil
}

func (b *Backend) jitter() time.Duration {
	if b.opts.Jitter <= 0 {
		return 0
	}
	b.rngMu.Lock()
	defer b.rngMu.Unlock()
	return time.Duration(b.rng.Int63n(int64(b.opts.Jitter)))
}

// ReadChunk returns the stored header and payload for key.
func (b *Backend) ReadChunk(ctx context.Context, key domain.ChunkKey) ([]byte, []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	b.mu.RLock()
	rec, ok := b.records[key]
	b.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
	}
	return header.SplitRecord(rec)
}

// Sync completes immediately; memory has no durability to wait for.
func (b *Backend) Sync(onComplete func(error)) {
	b.mu.Lock()
	b.syncs++
	b.mu.Unlock()
	if f := b.opts.SyncFault; f != nil {
		if err := f(); err != nil {
			onComplete(err)
			return
		}
	}
	onComplete(nil)
}

// Close waits for asynchronous writes to complete. Later writes fail with
// domain.ErrClosed.
func (b *Backend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}

// Attempts returns how many writes of key were started.
func (b *Backend) Attempts(key domain.ChunkKey) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.attempts[key]
}

// Syncs returns how many barriers were requested.
func (b *Backend) Syncs() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.syncs
}

// Len returns the number of stored fragments.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records)
}

// Delete removes a stored fragment.
func (b *Backend) Delete(key domain.ChunkKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, key)
}

// Put stores a raw record, bypassing the write path.
func (b *Backend) Put(key domain.ChunkKey, rec []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[key] = append([]byte(nil), rec...)
}
