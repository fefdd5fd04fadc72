package ports

import "github.com/bft-labs/fragstore/pkg/log"

// Logger is the structured logging port. See package pkg/log.
type Logger = log.Logger

// Field is a structured log field.
type Field = log.Field

// NoopLogger discards all log messages.
type NoopLogger = log.NoopLogger

// Field constructors re-exported for adapters that only import ports.
var (
	String   = log.String
	Int      = log.Int
	Uint64   = log.Uint64
	Duration = log.Duration
	Err      = log.Err
	Event    = log.Event
	Chunk    = log.Chunk
)
