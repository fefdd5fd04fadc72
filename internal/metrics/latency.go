package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/bft-labs/fragstore/internal/ports"
)

// Sample is the measured write latency of one event.
type Sample struct {
	Event   uint64
	Elapsed time.Duration
	Err     error
}

// Latency is an Observer that keeps the write latency of every event.
// It is safe for concurrent use.
type Latency struct {
	ports.NoopObserver

	mu      sync.Mutex
	samples []Sample
}

// NewLatency returns an empty recorder.
func NewLatency() *Latency {
	return &Latency{}
}

func (l *Latency) OnWriteComplete(event uint64, elapsed time.Duration, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.samples = append(l.samples, Sample{Event: event, Elapsed: elapsed, Err: err})
}

// Samples returns the recorded samples ordered by event.
func (l *Latency) Samples() []Sample {
	l.mu.Lock()
	out := append([]Sample(nil), l.samples...)
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Event < out[j].Event })
	return out
}

// Mean returns the mean latency of successful writes, or 0 if there are none.
func (l *Latency) Mean() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	var sum time.Duration
	var n int
	for _, s := range l.samples {
		if s.Err == nil {
			sum += s.Elapsed
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / time.Duration(n)
}
