// Package sqlite implements a fragment backend on a SQLite database.
//
// The database runs in WAL mode with synchronous=NORMAL: commits are
// atomic but only reach stable storage at a checkpoint, which Sync forces.
// All writes go through one writer goroutine, which groups queued inserts
// into a single transaction.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/bft-labs/fragstore/internal/domain"
	"github.com/bft-labs/fragstore/internal/header"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - fragments table
const currentSchemaVersion = 1

// Name is the backend kind name.
const Name = "sqlite"

// Default values.
const (
	DefaultMaxChunkSize = 1 << 20
	DefaultFileName     = "fragments.db"

	maxBatch   = 256
	queueDepth = 1024
)

// Options configures a SQLite backend.
type Options struct {
	// Path is the database file. Use ":memory:" only in tests.
	Path         string
	MaxChunkSize int
}

// job is one unit of work for the writer goroutine: a fragment insert, or a
// checkpoint when sync is set.
type job struct {
	event  int64
	index  uint32
	record []byte
	sync   bool
	done   func(error)
}

// Backend stores fragments as rows.
type Backend struct {
	db       *sql.DB
	maxChunk int

	mu     sync.RWMutex
	closed bool
	jobs   chan job
	done   chan struct{}
}

// Open creates or opens the database at opts.Path and starts the writer.
func Open(opts Options) (*Backend, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("%w: sqlite backend needs a database path", domain.ErrInvalidConfig)
	}
	if opts.MaxChunkSize == 0 {
		opts.MaxChunkSize = DefaultMaxChunkSize
	}
	if opts.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o700); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	b := &Backend{
		db:       db,
		maxChunk: opts.MaxChunkSize,
		jobs:     make(chan job, queueDepth),
		done:     make(chan struct{}),
	}
	go b.writer()
	return b, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func (b *Backend) Name() string { return Name }

func (b *Backend) MaxChunkSize() int { return b.maxChunk }

// WriteChunk queues an insert for the writer goroutine.
func (b *Backend) WriteChunk(key domain.ChunkKey, hdr, payload []byte, onComplete func(error)) {
	b.enqueue(job{
		event:  int64(key.Event),
		index:  key.Index,
		record: header.Join(hdr, payload),
		done:   onComplete,
	})
}

// Sync queues a checkpoint behind every write queued before it.
func (b *Backend) Sync(onComplete func(error)) {
	b.enqueue(job{sync: true, done: onComplete})
}

func (b *Backend) enqueue(j job) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		j.done(domain.ErrClosed)
		return
	}
	b.jobs <- j
}

func (b *Backend) writer() {
	defer close(b.done)
	for j := range b.jobs {
		if j.sync {
			j.done(b.checkpoint())
			continue
		}

		batch := []job{j}
		var pendingSync *job
	drain:
		for len(batch) < maxBatch {
			select {
			case next, ok := <-b.jobs:
				if !ok {
					break drain
				}
				if next.sync {
					pendingSync = &next
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}

		err := b.insert(batch)
		for _, w := range batch {
			w.done(err)
		}
		if pendingSync != nil {
			pendingSync.done(b.checkpoint())
		}
	}
}

func (b *Backend) insert(batch []job) error {
	tx, err := b.db.Begin()
	if err != nil {
		return classify(fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT OR REPLACE INTO fragments (event, idx, record) VALUES (?, ?, ?)")
	if err != nil {
		return classify(fmt.Errorf("prepare insert: %w", err))
	}
	defer stmt.Close()

	for _, j := range batch {
		if _, err := stmt.Exec(j.event, j.index, j.record); err != nil {
			return classify(fmt.Errorf("insert fragment %d/%d: %w", uint64(j.event), j.index, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (b *Backend) checkpoint() error {
	var busy, logFrames, checkpointed int
	err := b.db.QueryRow("PRAGMA wal_checkpoint(FULL)").Scan(&busy, &logFrames, &checkpointed)
	if err != nil {
		return classify(fmt.Errorf("checkpoint: %w", err))
	}
	if busy != 0 {
		return domain.Transient(errors.New("checkpoint blocked by a reader"))
	}
	return nil
}

// classify marks lock contention as transient.
func classify(err error) error {
	var serr sqlite3.Error
	if errors.As(err, &serr) && (serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked) {
		return domain.Transient(err)
	}
	return err
}

// ReadChunk selects the record for key.
func (b *Backend) ReadChunk(ctx context.Context, key domain.ChunkKey) ([]byte, []byte, error) {
	var rec []byte
	err := b.db.QueryRowContext(ctx,
		"SELECT record FROM fragments WHERE event = ? AND idx = ?",
		int64(key.Event), key.Index,
	).Scan(&rec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read fragment %s: %w", key, err)
	}
	return header.SplitRecord(rec)
}

// Close drains queued jobs, stops the writer and closes the database.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.jobs)
	b.mu.Unlock()

	<-b.done
	return b.db.Close()
}
