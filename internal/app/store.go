package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bft-labs/fragstore/internal/domain"
	"github.com/bft-labs/fragstore/internal/fragment"
	"github.com/bft-labs/fragstore/internal/header"
	"github.com/bft-labs/fragstore/internal/ports"
)

// StoreConfig contains configuration for a store session.
type StoreConfig struct {
	// Retry is the initial retry policy. See Store.SetRetryPolicy.
	Retry RetryPolicy

	// MaxChunkSize overrides the backend's chunk limit when smaller.
	// Zero uses the backend's limit.
	MaxChunkSize int

	// ReadParallelism is the number of fragments ReadAtom fetches
	// concurrently. Values below 2 read sequentially.
	ReadParallelism int
}

// DefaultStoreConfig returns the default store configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Retry:           DefaultRetryPolicy(),
		ReadParallelism: 1,
	}
}

// Store persists atoms into one backend. Writes are fragmented to the
// backend's chunk limit and tracked per event until they are confirmed
// durable or fail.
//
// All methods are safe for concurrent use. Callbacks run on a dedicated
// goroutine, one at a time, in completion order.
type Store struct {
	backend  ports.Backend
	config   StoreConfig
	maxChunk int
	session  string
	logger   ports.Logger
	observer ports.Observer

	tracker *tracker
	retrier *retrier

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewStore opens a store session over backend. The store owns the backend
// and closes it on Close. logger and observer may be nil.
func NewStore(backend ports.Backend, config StoreConfig, logger ports.Logger, observer ports.Observer) (*Store, error) {
	if logger == nil {
		logger = ports.NoopLogger{}
	}
	if observer == nil {
		observer = ports.NoopObserver{}
	}

	maxChunk := backend.MaxChunkSize()
	if maxChunk < 1 {
		return nil, fmt.Errorf("%w: backend %s reports %d", domain.ErrInvalidChunkSize, backend.Name(), maxChunk)
	}
	if config.MaxChunkSize < 0 || config.MaxChunkSize > maxChunk {
		return nil, fmt.Errorf("%w: override %d outside 1..%d for backend %s",
			domain.ErrInvalidChunkSize, config.MaxChunkSize, maxChunk, backend.Name())
	}
	if config.MaxChunkSize > 0 {
		maxChunk = config.MaxChunkSize
	}

	session := uuid.NewString()
	retrier := newRetrier(backend, config.Retry, observer, logger)
	s := &Store{
		backend:  backend,
		config:   config,
		maxChunk: maxChunk,
		session:  session,
		logger:   logger,
		observer: observer,
		tracker:  newTracker(session, retrier, observer, logger),
		retrier:  retrier,
	}

	logger.Info("store opened",
		ports.String("session", session),
		ports.String("backend", backend.Name()),
		ports.Int("max_chunk", maxChunk),
	)
	return s, nil
}

// Session returns the store session handle.
func (s *Store) Session() string {
	return s.session
}

// MaxChunkSize returns the payload limit atoms are fragmented to.
func (s *Store) MaxChunkSize() int {
	return s.maxChunk
}

// Backend returns the backend name.
func (s *Store) Backend() string {
	return s.backend.Name()
}

// RetryPolicy returns the active retry policy.
func (s *Store) RetryPolicy() RetryPolicy {
	return s.retrier.Policy()
}

// SetRetryPolicy replaces the retry policy of a running store.
func (s *Store) SetRetryPolicy(p RetryPolicy) {
	s.retrier.SetPolicy(p)
	s.logger.Info("retry policy updated",
		ports.Int("max_retries", p.MaxRetries),
		ports.Duration("delay", p.Delay),
		ports.Duration("max_delay", p.MaxDelay),
	)
}

// SubmitWrite persists atom under event. It returns ErrInvalidEvent if a
// write for event is still tracked and ErrClosed after Close. Otherwise the
// outcome is delivered exactly once on onComplete. A failure is delivered
// only after every fragment write of the atom has settled, so the event can
// be rewritten from the callback without racing stale fragments.
//
// The store keeps references into atom until onComplete runs; the caller
// must not modify it before then.
func (s *Store) SubmitWrite(event uint64, atom []byte, onComplete func(domain.Result)) error {
	if s.closed.Load() {
		return domain.ErrClosed
	}
	frags, err := fragment.Split(atom, s.maxChunk)
	if err != nil {
		return err
	}

	w, err := s.tracker.submit(event, uint32(len(frags)), onComplete)
	if err != nil {
		return err
	}
	s.observer.OnSubmit(event, len(frags), len(atom))
	s.logger.Debug("atom submitted",
		ports.Event(event),
		ports.Int("fragments", len(frags)),
		ports.Int("bytes", len(atom)),
	)

	for _, f := range frags {
		index := f.Index
		key := domain.ChunkKey{Event: event, Index: index}
		s.retrier.write(&w.retries, key, f.Header, f.Payload, func(err error) {
			s.tracker.fragmentDone(w, index, err)
		})
	}
	return nil
}

// RequestConfirm asks the backend for a durability barrier covering event.
// It returns ErrUnknownEvent if the event is not tracked and
// ErrPrematureConfirm if its fragment writes are not all acknowledged; it
// never queues. The barrier outcome is delivered on onConfirmed. After a
// failed barrier the event stays confirmable.
func (s *Store) RequestConfirm(event uint64, onConfirmed func(domain.Result)) error {
	if s.closed.Load() {
		return domain.ErrClosed
	}
	w, cw, err := s.tracker.confirm(event, onConfirmed)
	if err != nil {
		return err
	}
	s.backend.Sync(func(err error) {
		s.tracker.barrierDone(w, cw, err)
	})
	return nil
}

// Status returns the state of the write tracked for event. Confirmed writes
// are retired at once; failed writes stay tracked as Failed until their
// remaining fragment writes settle.
func (s *Store) Status(event uint64) (State, bool) {
	return s.tracker.status(event)
}

// InFlight returns the number of tracked writes.
func (s *Store) InFlight() int {
	return s.tracker.inFlight()
}

// ReadAtom reads back the atom stored under event.
// It returns ErrNotFound if no fragment is stored for event and
// ErrIncompleteAtom if some of its fragments are missing.
func (s *Store) ReadAtom(ctx context.Context, event uint64) ([]byte, error) {
	if s.closed.Load() {
		return nil, domain.ErrClosed
	}

	hdr, payload, err := s.backend.ReadChunk(ctx, domain.ChunkKey{Event: event})
	if err != nil {
		return nil, fmt.Errorf("read event %d: %w", event, err)
	}
	_, total, _, err := header.Decode(hdr)
	if err != nil {
		return nil, fmt.Errorf("read event %d: %w", event, err)
	}

	r := fragment.NewReassembler()
	if err := r.Add(hdr, payload); err != nil {
		return nil, fmt.Errorf("read event %d: %w", event, err)
	}
	if total > 1 {
		if err := s.readRest(ctx, event, total, r); err != nil {
			return nil, err
		}
	}
	return r.Finalize()
}

// readRest feeds fragments 1..total-1 of event into r. total comes from
// storage, so nothing is sized by it and reading stops at the first missing
// or inconsistent fragment.
func (s *Store) readRest(ctx context.Context, event uint64, total uint32, r *fragment.Reassembler) error {
	var mu sync.Mutex
	read := func(ctx context.Context, index uint32) error {
		hdr, payload, err := s.backend.ReadChunk(ctx, domain.ChunkKey{Event: event, Index: index})
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: event %d fragment %d of %d missing", domain.ErrIncompleteAtom, event, index, total)
		}
		if err != nil {
			return fmt.Errorf("read event %d fragment %d: %w", event, index, err)
		}
		mu.Lock()
		defer mu.Unlock()
		if err := r.Add(hdr, payload); err != nil {
			return fmt.Errorf("read event %d: %w", event, err)
		}
		return nil
	}

	if s.config.ReadParallelism < 2 {
		for i := uint32(1); i < total; i++ {
			if err := read(ctx, i); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.ReadParallelism)
	for i := uint32(1); i < total && gctx.Err() == nil; i++ {
		index := i
		g.Go(func() error {
			return read(gctx, index)
		})
	}
	return g.Wait()
}

// Close stops the store. Writes and confirms still in flight complete with
// ErrClosed, queued callbacks run, and the backend is closed. Late backend
// completions are dropped. Close must not be called from a callback.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.tracker.stop()
		s.retrier.stop()
		s.closeErr = s.backend.Close()
		s.logger.Info("store closed", ports.String("session", s.session))
	})
	return s.closeErr
}
