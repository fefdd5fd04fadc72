// Package perstest contains the persistence exercises run by the fragstore
// command: header round trips, small patterned atoms, atom width sweeps and
// a write latency test.
package perstest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/bft-labs/fragstore/internal/domain"
	"github.com/bft-labs/fragstore/pkg/log"
)

// DefaultTimeout bounds each wait for write completions.
const DefaultTimeout = 30 * time.Second

// ErrTimeout is returned when writes do not complete in time.
var ErrTimeout = errors.New("perstest: timed out waiting for writes")

// Store is the part of *app.Store the runners use.
type Store interface {
	SubmitWrite(event uint64, atom []byte, onComplete func(domain.Result)) error
	RequestConfirm(event uint64, onConfirmed func(domain.Result)) error
	ReadAtom(ctx context.Context, event uint64) ([]byte, error)
}

// Runner drives the exercises against one store and prints progress to Out.
type Runner struct {
	Store   Store
	Out     io.Writer
	Logger  log.Logger
	Timeout time.Duration
}

// NewRunner returns a runner with the default timeout.
func NewRunner(store Store, out io.Writer, logger log.Logger) *Runner {
	if out == nil {
		out = io.Discard
	}
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &Runner{Store: store, Out: out, Logger: logger, Timeout: DefaultTimeout}
}

func (r *Runner) printf(format string, args ...any) {
	fmt.Fprintf(r.Out, format, args...)
}

func (r *Runner) timeout() time.Duration {
	if r.Timeout <= 0 {
		return DefaultTimeout
	}
	return r.Timeout
}

// pending collects completion results for a set of events.
type pending struct {
	mu      sync.Mutex
	want    map[uint64]bool
	results map[uint64]domain.Result
	sealed  bool
	done    chan struct{}
}

func newPending() *pending {
	return &pending{
		want:    make(map[uint64]bool),
		results: make(map[uint64]domain.Result),
		done:    make(chan struct{}),
	}
}

func (p *pending) expect(event uint64) {
	p.mu.Lock()
	p.want[event] = true
	p.mu.Unlock()
}

// seal closes done once every expected event has reported. No further
// events may be expected afterwards.
func (p *pending) seal() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sealed = true
	p.closeIfDone()
}

func (p *pending) complete(res domain.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.want[res.Event] {
		return
	}
	if _, dup := p.results[res.Event]; dup {
		return
	}
	p.results[res.Event] = res
	p.closeIfDone()
}

func (p *pending) closeIfDone() {
	if !p.sealed || len(p.results) < len(p.want) {
		return
	}
	select {
	case <-p.done:
	default:
		close(p.done)
	}
}

func (p *pending) cancel(event uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.want, event)
	p.closeIfDone()
}

// wait blocks until every expected event has a result, the timeout
// expires, or ctx is done.
func (p *pending) wait(ctx context.Context, timeout time.Duration) error {
	p.seal()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pending) result(event uint64) (domain.Result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	res, ok := p.results[event]
	return res, ok
}

// stragglers returns the expected events without a result, in order.
func (p *pending) stragglers() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []uint64
	for e := range p.want {
		if _, ok := p.results[e]; !ok {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// confirmAll requests a durability barrier for every event and waits for
// all of them.
func (r *Runner) confirmAll(ctx context.Context, events []uint64) (map[uint64]error, error) {
	p := newPending()
	errs := make(map[uint64]error, len(events))
	for _, e := range events {
		p.expect(e)
		if err := r.Store.RequestConfirm(e, p.complete); err != nil {
			errs[e] = err
			p.cancel(e)
		}
	}
	if err := p.wait(ctx, r.timeout()); err != nil {
		return errs, err
	}
	for _, e := range events {
		if res, ok := p.result(e); ok && res.Err != nil {
			errs[e] = res.Err
		}
	}
	return errs, nil
}

// compare describes how got differs from want, or returns "" if equal.
func compare(want, got []byte) string {
	if bytes.Equal(want, got) {
		return ""
	}
	if len(want) != len(got) {
		return fmt.Sprintf("wrote %d bytes, read %d bytes", len(want), len(got))
	}
	for i := range want {
		if want[i] != got[i] {
			return fmt.Sprintf("byte %d: wrote %q, read %q", i, want[i], got[i])
		}
	}
	return ""
}
