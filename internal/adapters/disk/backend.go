// Package disk implements a fragment backend on a local directory tree.
//
// Each fragment is one file, written to a temporary name and renamed into
// place so a reader never sees a partial fragment:
//
//	<dir>/<event mod 256, hex>/<event>.<index>.frag
//
// Renamed files are not yet durable. Sync fsyncs every file and directory
// written since the previous Sync.
package disk

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/bft-labs/fragstore/internal/domain"
	"github.com/bft-labs/fragstore/internal/header"
)

// Name is the backend kind name.
const Name = "disk"

// Default values.
const (
	DefaultMaxChunkSize = 4 << 20
	DefaultConcurrency  = 16
)

const fragSuffix = ".frag"

// Options configures a disk backend.
type Options struct {
	Dir          string
	MaxChunkSize int

	// Concurrency bounds the number of fragment files written at once.
	Concurrency int
}

// Backend stores fragments as files.
type Backend struct {
	dir      string
	maxChunk int
	sem      *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	closed     bool
	dirtyFiles map[string]struct{}
	dirtyDirs  map[string]struct{}

	// syncMu serializes barriers.
	syncMu sync.Mutex
}

// Open creates the root directory if needed and returns a backend over it.
func Open(opts Options) (*Backend, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("%w: disk backend needs a directory", domain.ErrInvalidConfig)
	}
	if opts.MaxChunkSize == 0 {
		opts.MaxChunkSize = DefaultMaxChunkSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if err := os.MkdirAll(opts.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Backend{
		dir:        opts.Dir,
		maxChunk:   opts.MaxChunkSize,
		sem:        semaphore.NewWeighted(int64(opts.Concurrency)),
		ctx:        ctx,
		cancel:     cancel,
		dirtyFiles: make(map[string]struct{}),
		dirtyDirs:  make(map[string]struct{}),
	}, nil
}

func (b *Backend) Name() string { return Name }

func (b *Backend) MaxChunkSize() int { return b.maxChunk }

// Path returns the file a fragment is stored in.
func (b *Backend) Path(key domain.ChunkKey) string {
	return filepath.Join(b.eventDir(key.Event),
		strconv.FormatUint(key.Event, 10)+"."+strconv.FormatUint(uint64(key.Index), 10)+fragSuffix)
}

func (b *Backend) eventDir(event uint64) string {
	return filepath.Join(b.dir, fmt.Sprintf("%02x", event%256))
}

// WriteChunk writes header||payload on a background goroutine once a write
// slot is free.
func (b *Backend) WriteChunk(key domain.ChunkKey, hdr, payload []byte, onComplete func(error)) {
	if !b.begin() {
		onComplete(domain.ErrClosed)
		return
	}
	go func() {
		defer b.wg.Done()
		if err := b.sem.Acquire(b.ctx, 1); err != nil {
			onComplete(domain.ErrClosed)
			return
		}
		err := b.write(key, hdr, payload)
		b.sem.Release(1)
		onComplete(err)
	}()
}

// begin registers a background operation unless the backend is closed.
func (b *Backend) begin() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.wg.Add(1)
	return true
}

// write stores the record atomically: write to a temp file, then rename.
func (b *Backend) write(key domain.ChunkKey, hdr, payload []byte) error {
	dir := b.eventDir(key.Event)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create event dir: %w", err)
	}

	path := b.Path(key)
	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create fragment %s: %w", key, err)
	}
	tmp := f.Name()
	_, err = f.Write(header.Join(hdr, payload))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write fragment %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename fragment %s: %w", key, err)
	}

	b.mu.Lock()
	b.dirtyFiles[path] = struct{}{}
	b.dirtyDirs[dir] = struct{}{}
	b.mu.Unlock()
	return nil
}

// ReadChunk reads and splits the fragment file for key.
func (b *Backend) ReadChunk(ctx context.Context, key domain.ChunkKey) ([]byte, []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	rec, err := os.ReadFile(b.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read fragment %s: %w", key, err)
	}
	return header.SplitRecord(rec)
}

// Sync fsyncs everything written since the last barrier on a background
// goroutine. Failed paths stay dirty and are retried by the next Sync.
func (b *Backend) Sync(onComplete func(error)) {
	if !b.begin() {
		onComplete(domain.ErrClosed)
		return
	}
	go func() {
		defer b.wg.Done()
		onComplete(b.sync())
	}()
}

func (b *Backend) sync() error {
	b.syncMu.Lock()
	defer b.syncMu.Unlock()

	b.mu.Lock()
	files, dirs := b.dirtyFiles, b.dirtyDirs
	b.dirtyFiles = make(map[string]struct{})
	b.dirtyDirs = make(map[string]struct{})
	b.mu.Unlock()

	// The root directory holds the event directories.
	if len(dirs) > 0 {
		dirs[b.dir] = struct{}{}
	}

	var errs []error
	for path := range files {
		if err := fsync(path); err != nil {
			errs = append(errs, err)
			b.redirty(path, true)
		}
	}
	for dir := range dirs {
		if err := fsync(dir); err != nil {
			errs = append(errs, err)
			b.redirty(dir, false)
		}
	}
	return errors.Join(errs...)
}

func (b *Backend) redirty(path string, file bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if file {
		b.dirtyFiles[path] = struct{}{}
	} else {
		b.dirtyDirs[path] = struct{}{}
	}
}

func fsync(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s for sync: %w", path, err)
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	return nil
}

// Close stops accepting writes and waits for running ones to finish.
// Writes still waiting for a slot complete with domain.ErrClosed.
func (b *Backend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cancel()
	b.wg.Wait()
	return nil
}
