// Package backend selects and opens a storage backend from configuration.
package backend

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bft-labs/fragstore/internal/adapters/bolt"
	"github.com/bft-labs/fragstore/internal/adapters/disk"
	"github.com/bft-labs/fragstore/internal/adapters/memory"
	"github.com/bft-labs/fragstore/internal/adapters/s3"
	"github.com/bft-labs/fragstore/internal/adapters/sqlite"
	"github.com/bft-labs/fragstore/internal/domain"
	"github.com/bft-labs/fragstore/internal/ports"
)

// Kind names one of the supported backends.
type Kind string

const (
	KindMemory Kind = memory.Name
	KindDisk   Kind = disk.Name
	KindSQLite Kind = sqlite.Name
	KindBolt   Kind = bolt.Name
	KindS3     Kind = s3.Name
)

// Kinds returns every supported kind.
func Kinds() []Kind {
	return []Kind{KindMemory, KindDisk, KindSQLite, KindBolt, KindS3}
}

// ParseKind returns the kind named s.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if strings.EqualFold(s, string(k)) {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown backend %q (want one of %v)", domain.ErrInvalidConfig, s, Kinds())
}

// Persistent reports whether data written through the kind outlives the process.
func (k Kind) Persistent() bool {
	return k != KindMemory
}

// S3Config holds the object store settings.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
}

// Config selects and configures a backend.
type Config struct {
	Kind Kind

	// Dir is the data directory of the disk, sqlite and bolt backends.
	Dir string

	// MaxChunkSize overrides the backend default. Zero keeps the default.
	MaxChunkSize int

	// Concurrency bounds concurrent writes for disk and s3.
	Concurrency int

	S3 S3Config
}

// Open creates the backend described by cfg.
func Open(ctx context.Context, cfg Config) (ports.Backend, error) {
	switch cfg.Kind {
	case KindMemory:
		return memory.New(memory.Options{MaxChunkSize: cfg.MaxChunkSize, Async: true}), nil
	case KindDisk:
		return opened(disk.Open(disk.Options{
			Dir:          cfg.Dir,
			MaxChunkSize: cfg.MaxChunkSize,
			Concurrency:  cfg.Concurrency,
		}))
	case KindSQLite:
		if cfg.Dir == "" {
			return nil, fmt.Errorf("%w: sqlite backend needs a data dir", domain.ErrInvalidConfig)
		}
		return opened(sqlite.Open(sqlite.Options{
			Path:         filepath.Join(cfg.Dir, sqlite.DefaultFileName),
			MaxChunkSize: cfg.MaxChunkSize,
		}))
	case KindBolt:
		if cfg.Dir == "" {
			return nil, fmt.Errorf("%w: bolt backend needs a data dir", domain.ErrInvalidConfig)
		}
		return opened(bolt.Open(bolt.Options{
			Path:         filepath.Join(cfg.Dir, bolt.DefaultFileName),
			MaxChunkSize: cfg.MaxChunkSize,
		}))
	case KindS3:
		return opened(s3.Open(ctx, s3.Options{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			Prefix:          cfg.S3.Prefix,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			MaxChunkSize:    cfg.MaxChunkSize,
			Concurrency:     cfg.Concurrency,
		}))
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", domain.ErrInvalidConfig, cfg.Kind)
	}
}

// opened keeps a failed constructor from yielding a non-nil interface
// holding a nil pointer.
func opened[B ports.Backend](b B, err error) (ports.Backend, error) {
	if err != nil {
		return nil, err
	}
	return b, nil
}
