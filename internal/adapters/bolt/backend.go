// Package bolt implements a fragment backend on a bbolt database.
//
// Fragments live in a single bucket keyed by the big-endian event number
// followed by the big-endian fragment index, so the fragments of one event
// are adjacent and ordered. Every commit is fsynced, so Sync has nothing
// left to do.
package bolt

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/bft-labs/fragstore/internal/domain"
	"github.com/bft-labs/fragstore/internal/header"
)

// Name is the backend kind name.
const Name = "bolt"

// Default values.
const (
	DefaultMaxChunkSize = 256 << 10
	DefaultFileName     = "fragments.bolt"
)

var fragmentsBucketName = []byte("fragments")

const keySize = 8 + 4

// Options configures a bbolt backend.
type Options struct {
	Path         string
	MaxChunkSize int
}

// Backend stores fragments in a bbolt bucket.
type Backend struct {
	db       *bolt.DB
	maxChunk int

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// Open creates or opens the database file at opts.Path.
func Open(opts Options) (*Backend, error) {
	if opts.Path == "" {
		return nil, errors.Wrap(domain.ErrInvalidConfig, "bolt backend needs a database path")
	}
	if opts.MaxChunkSize == 0 {
		opts.MaxChunkSize = DefaultMaxChunkSize
	}
	if err := ensureDirectory(filepath.Dir(opts.Path)); err != nil {
		return nil, errors.Wrap(err, "create database dir")
	}

	db, err := bolt.Open(opts.Path, 0600, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", opts.Path)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(fragmentsBucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to initialize database")
	}
	return &Backend{db: db, maxChunk: opts.MaxChunkSize}, nil
}

func ensureDirectory(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0700)
	}
	return nil
}

// Key returns the bucket key of a fragment.
func Key(key domain.ChunkKey) []byte {
	k := make([]byte, keySize)
	binary.BigEndian.PutUint64(k, key.Event)
	binary.BigEndian.PutUint32(k[8:], key.Index)
	return k
}

func (b *Backend) Name() string { return Name }

func (b *Backend) MaxChunkSize() int { return b.maxChunk }

// WriteChunk puts the record through db.Batch, which coalesces concurrent
// writers into one transaction.
func (b *Backend) WriteChunk(key domain.ChunkKey, hdr, payload []byte, onComplete func(error)) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		onComplete(domain.ErrClosed)
		return
	}
	b.wg.Add(1)
	b.mu.RUnlock()

	k, rec := Key(key), header.Join(hdr, payload)
	go func() {
		defer b.wg.Done()
		err := b.db.Batch(func(tx *bolt.Tx) error {
			return tx.Bucket(fragmentsBucketName).Put(k, rec)
		})
		if err != nil {
			err = errors.Wrapf(err, "put fragment %s", key)
		}
		onComplete(err)
	}()
}

// ReadChunk looks up the record for key.
func (b *Backend) ReadChunk(ctx context.Context, key domain.ChunkKey) ([]byte, []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	var rec []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(fragmentsBucketName).Get(Key(key))
		if v == nil {
			return errors.Wrapf(domain.ErrNotFound, "fragment %s", key)
		}
		// v is only valid inside the transaction.
		rec = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return header.SplitRecord(rec)
}

// Sync completes immediately: every acknowledged write is a committed,
// fsynced transaction.
func (b *Backend) Sync(onComplete func(error)) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		onComplete(domain.ErrClosed)
		return
	}
	onComplete(nil)
}

// Close waits for in-flight writes and closes the database.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.wg.Wait()
	return b.db.Close()
}
