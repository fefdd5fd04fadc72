package app

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bft-labs/fragstore/internal/domain"
	"github.com/bft-labs/fragstore/internal/ports"
)

// Default retry configuration values.
const (
	DefaultMaxRetries = 5
	DefaultRetryDelay = 10 * time.Millisecond
)

// RetryPolicy bounds how often and how slowly a transient fragment write
// failure is re-submitted.
type RetryPolicy struct {
	// MaxRetries is the number of re-submissions after the first attempt.
	MaxRetries int

	// Delay is multiplied by the retry number: retry n waits n*Delay.
	Delay time.Duration

	// MaxDelay caps a single wait. Zero means no cap.
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: DefaultMaxRetries,
		Delay:      DefaultRetryDelay,
	}
}

// DelayFor returns the wait before retry number attempt (1-based).
func (p RetryPolicy) DelayFor(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := time.Duration(attempt) * p.Delay
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// retryGroup ties together the fragment writes of one atom so they can be
// abandoned as a unit. Its state is guarded by the retrier's mutex.
type retryGroup struct {
	abandoned bool
}

// retryContext is everything needed to re-submit one fragment write.
// The header and payload are reused as-is on every attempt.
type retryContext struct {
	group   *retryGroup
	key     domain.ChunkKey
	header  []byte
	payload []byte
	attempt int
	done    func(error)
}

// retrier wraps Backend.WriteChunk with the retry policy. It is the only
// component that inspects write error causes.
type retrier struct {
	backend   ports.Backend
	observer  ports.Observer
	logger    ports.Logger
	policy    atomic.Pointer[RetryPolicy]
	afterFunc func(time.Duration, func()) func() bool

	mu      sync.Mutex
	stopped bool
	timers  map[*retryContext]func() bool
}

func newRetrier(backend ports.Backend, policy RetryPolicy, observer ports.Observer, logger ports.Logger) *retrier {
	r := &retrier{
		backend:  backend,
		observer: observer,
		logger:   logger,
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
		timers: make(map[*retryContext]func() bool),
	}
	r.policy.Store(&policy)
	return r
}

// Policy returns the active policy.
func (r *retrier) Policy() RetryPolicy {
	return *r.policy.Load()
}

// SetPolicy replaces the policy. Retries already scheduled keep their delay;
// the new limits apply from their next failure on.
func (r *retrier) SetPolicy(p RetryPolicy) {
	r.policy.Store(&p)
}

// write submits one fragment of group, which may be nil. done is called
// exactly once with nil, a *domain.PersistError, or domain.ErrClosed if the
// retrier was stopped while a retry was pending, unless the retry is
// cancelled by abandon.
func (r *retrier) write(group *retryGroup, key domain.ChunkKey, header, payload []byte, done func(error)) {
	r.send(&retryContext{group: group, key: key, header: header, payload: payload, done: done})
}

func (r *retrier) send(rc *retryContext) {
	r.backend.WriteChunk(rc.key, rc.header, rc.payload, func(err error) {
		r.complete(rc, err)
	})
}

func (r *retrier) complete(rc *retryContext, err error) {
	if err == nil {
		rc.done(nil)
		return
	}

	persistErr := &domain.PersistError{
		Event:    rc.key.Event,
		Index:    rc.key.Index,
		Attempts: rc.attempt + 1,
		Err:      err,
	}
	policy := r.Policy()
	if !errors.Is(err, domain.ErrTransient) || rc.attempt >= policy.MaxRetries {
		rc.done(persistErr)
		return
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		rc.done(domain.ErrClosed)
		return
	}
	if rc.group != nil && rc.group.abandoned {
		r.mu.Unlock()
		rc.done(persistErr)
		return
	}

	rc.attempt++
	delay := policy.DelayFor(rc.attempt)
	r.observer.OnRetry(rc.key, rc.attempt, delay, err)
	r.logger.Debug("retrying fragment write",
		ports.Chunk(rc.key),
		ports.Int("attempt", rc.attempt),
		ports.Duration("delay", delay),
		ports.Err(err),
	)
	r.timers[rc] = r.afterFunc(delay, func() {
		r.mu.Lock()
		_, pending := r.timers[rc]
		delete(r.timers, rc)
		r.mu.Unlock()
		if pending {
			r.send(rc)
		}
	})
	r.mu.Unlock()
}

// abandon marks group abandoned and cancels its scheduled retries. It returns
// the keys of the cancelled writes; their done functions are never called.
// Later transient failures in the group are reported without a retry.
func (r *retrier) abandon(group *retryGroup) []domain.ChunkKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	group.abandoned = true

	var keys []domain.ChunkKey
	for rc, cancel := range r.timers {
		if rc.group != group {
			continue
		}
		cancel()
		delete(r.timers, rc)
		keys = append(keys, rc.key)
	}
	return keys
}

// stop cancels every scheduled retry and completes it with domain.ErrClosed.
func (r *retrier) stop() {
	r.mu.Lock()
	r.stopped = true
	pending := r.timers
	r.timers = make(map[*retryContext]func() bool)
	r.mu.Unlock()

	for rc, cancel := range pending {
		cancel()
		rc.done(domain.ErrClosed)
	}
}
