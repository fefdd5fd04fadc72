// Package configwatch reloads the retry policy of a running store when its
// configuration file changes.
package configwatch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/fragstore/internal/app"
	"github.com/bft-labs/fragstore/internal/cliconfig"
	"github.com/bft-labs/fragstore/pkg/log"
)

// PolicyTarget receives reloaded retry policies. *app.Store implements it.
type PolicyTarget interface {
	RetryPolicy() app.RetryPolicy
	SetRetryPolicy(app.RetryPolicy)
}

// Config holds configuration options for the watcher.
type Config struct {
	// Path is the TOML file to watch.
	Path string

	// Base is the configuration the file is layered onto: the defaults
	// plus command line flags, without any file values.
	Base cliconfig.Config

	// Changed names the flags set on the command line; the file never
	// overrides them.
	Changed map[string]bool

	// DebounceDelay is the delay to wait after a file change before reloading.
	// Default: 100 milliseconds
	DebounceDelay time.Duration
}

// Watcher applies retry policy changes from a config file.
type Watcher struct {
	path    string
	base    cliconfig.Config
	changed map[string]bool
	delay   time.Duration
	target  PolicyTarget
	logger  log.Logger

	mu       sync.Mutex
	debounce *time.Timer
	reloads  int
}

// New creates a watcher for cfg.Path that updates target.
func New(cfg Config, target PolicyTarget, logger log.Logger) *Watcher {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 100 * time.Millisecond
	}
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &Watcher{
		path:    cfg.Path,
		base:    cfg.Base,
		changed: cfg.Changed,
		delay:   cfg.DebounceDelay,
		target:  target,
		logger:  logger,
	}
}

// Run watches the file until ctx is canceled.
// The parent directory is watched so editors that replace the file by
// rename are still seen.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Info("config watcher started", log.String("path", w.path))

	name := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			w.stopDebounce()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("config watcher error", log.Err(err))
		}
	}
}

// Reloads returns how many reloads were applied.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *Watcher) scheduleReload(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(w.delay, func() {
		if ctx.Err() != nil {
			return
		}
		if err := w.Reload(); err != nil {
			w.logger.Warn("config reload failed", log.String("path", w.path), log.Err(err))
		}
	})
}

func (w *Watcher) stopDebounce() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
}

// Reload re-reads the file and hands the resulting retry policy to the
// target. An unparsable or invalid file leaves the current policy in place.
func (w *Watcher) Reload() error {
	if !cliconfig.FileExists(w.path) {
		return fmt.Errorf("config file %s not found", w.path)
	}
	cfg, err := cliconfig.Resolve(w.base, w.path, w.changed)
	if err != nil {
		return err
	}

	policy := cfg.RetryPolicy()
	if policy == w.target.RetryPolicy() {
		return nil
	}
	w.target.SetRetryPolicy(policy)

	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()

	w.logger.Info("retry policy reloaded",
		log.Int("max_retries", policy.MaxRetries),
		log.Duration("delay", policy.Delay),
		log.Duration("max_delay", policy.MaxDelay))
	return nil
}
