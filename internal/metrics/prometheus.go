// Package metrics provides store observers: Prometheus instrumentation and
// an in-process latency recorder.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/bft-labs/fragstore/internal/domain"
	"github.com/bft-labs/fragstore/internal/ports"
)

const namespace = "fragstore"

// outcome label values.
const (
	outcomeOK     = "ok"
	outcomeFailed = "failed"
	outcomeClosed = "closed"
)

func outcome(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, domain.ErrClosed):
		return outcomeClosed
	default:
		return outcomeFailed
	}
}

// Prometheus is an Observer that records store activity on its own registry.
type Prometheus struct {
	registry *prometheus.Registry

	submitted     *prometheus.CounterVec
	fragments     *prometheus.CounterVec
	bytes         *prometheus.CounterVec
	writes        *prometheus.CounterVec
	writeDuration *prometheus.HistogramVec
	retries       *prometheus.CounterVec
	confirms      *prometheus.CounterVec
}

var _ ports.Observer = (*Prometheus)(nil)

// NewPrometheus creates the collectors for backend and registers them on a
// fresh registry.
func NewPrometheus(backend string) *Prometheus {
	labels := prometheus.Labels{"backend": backend}
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "write",
			Name:        "atoms_submitted_total",
			Help:        "Atoms submitted for writing.",
			ConstLabels: labels,
		}, nil),
		fragments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "write",
			Name:        "fragments_total",
			Help:        "Fragments dispatched to the backend.",
			ConstLabels: labels,
		}, nil),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "write",
			Name:        "atom_bytes_total",
			Help:        "Atom bytes submitted for writing.",
			ConstLabels: labels,
		}, nil),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "write",
			Name:        "completed_total",
			Help:        "Atom writes completed. Broken down by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		writeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "write",
			Name:        "duration_seconds",
			Help:        "Submit to completion latency of atom writes.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "write",
			Name:        "retries_total",
			Help:        "Fragment writes re-submitted after a transient failure.",
			ConstLabels: labels,
		}, nil),
		confirms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "confirm",
			Name:        "completed_total",
			Help:        "Durability barriers completed. Broken down by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
	}
	p.registry.MustRegister(p.submitted, p.fragments, p.bytes, p.writes, p.writeDuration, p.retries, p.confirms)
	return p
}

// Registry returns the registry the collectors are registered on.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Prometheus) OnSubmit(_ uint64, fragments int, bytes int) {
	p.submitted.WithLabelValues().Inc()
	p.fragments.WithLabelValues().Add(float64(fragments))
	p.bytes.WithLabelValues().Add(float64(bytes))
}

func (p *Prometheus) OnWriteComplete(_ uint64, elapsed time.Duration, err error) {
	o := outcome(err)
	p.writes.WithLabelValues(o).Inc()
	p.writeDuration.WithLabelValues(o).Observe(elapsed.Seconds())
}

func (p *Prometheus) OnRetry(domain.ChunkKey, int, time.Duration, error) {
	p.retries.WithLabelValues().Inc()
}

func (p *Prometheus) OnConfirm(_ uint64, _ time.Duration, err error) {
	p.confirms.WithLabelValues(outcome(err)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// Serve exposes /metrics on ln until ctx is canceled.
func (p *Prometheus) Serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
