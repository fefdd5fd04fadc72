package fragstore

import (
	"github.com/bft-labs/fragstore/internal/ports"
	"github.com/bft-labs/fragstore/pkg/log"
)

// Option configures optional behavior of Open.
type Option func(*options)

type options struct {
	logger   log.Logger
	observer ports.Observer
	backend  ports.Backend
}

func defaultOptions() options {
	return options{
		logger:   log.NoopLogger{},
		observer: ports.NoopObserver{},
	}
}

// WithLogger sets a custom logger for structured logging.
// If not provided, a no-op logger is used (no output).
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithObserver sets a measurement hook.
// Observer callbacks run on store goroutines and must not block.
func WithObserver(observer Observer) Option {
	return func(o *options) {
		o.observer = observer
	}
}

// WithBackend uses backend instead of opening one from the configuration.
// The store takes ownership and closes it.
func WithBackend(backend Backend) Option {
	return func(o *options) {
		o.backend = backend
	}
}
