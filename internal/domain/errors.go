package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent error conditions in the fragstore domain.
// These errors are returned by the public API and can be checked with errors.Is.
var (
	// ErrTruncatedHeader is returned when a buffer ends before the header it declares.
	ErrTruncatedHeader = errors.New("fragstore: truncated fragment header")

	// ErrInvalidHeader is returned for headers with unknown width classes,
	// a zero total, or an index outside [0, total).
	ErrInvalidHeader = errors.New("fragstore: invalid fragment header")

	// ErrFragmentMismatch is returned when fragments of one atom disagree,
	// e.g. two fragments declare different totals.
	ErrFragmentMismatch = errors.New("fragstore: fragment mismatch")

	// ErrIncompleteAtom is returned when an atom is finalized before every
	// fragment has arrived.
	ErrIncompleteAtom = errors.New("fragstore: incomplete atom")

	// ErrPrematureConfirm is returned when confirmation is requested before
	// every fragment write has been acknowledged.
	ErrPrematureConfirm = errors.New("fragstore: confirm requested before send complete")

	// ErrInvalidEvent is returned when an event number already has a write in flight.
	ErrInvalidEvent = errors.New("fragstore: event already in flight")

	// ErrUnknownEvent is returned when no write is tracked for an event number.
	ErrUnknownEvent = errors.New("fragstore: unknown event")

	// ErrNotFound is returned when no record exists for a key or event.
	ErrNotFound = errors.New("fragstore: not found")

	// ErrTransient marks a backend failure that may succeed if retried
	// (throughput limiting, busy database). Only the retry coordinator inspects it.
	ErrTransient = errors.New("fragstore: transient backend error")

	// ErrPersistFailed is the terminal write failure delivered on the
	// write-completion callback.
	ErrPersistFailed = errors.New("fragstore: persist failed")

	// ErrInvalidTransition is returned when a writ state change is not allowed.
	ErrInvalidTransition = errors.New("fragstore: invalid state transition")

	// ErrInvalidChunkSize is returned for a chunk size below one byte.
	ErrInvalidChunkSize = errors.New("fragstore: invalid chunk size")

	// ErrAtomTooLarge is returned when an atom needs more fragments than a header can count.
	ErrAtomTooLarge = errors.New("fragstore: atom too large")

	// ErrClosed is returned when the store or backend has been closed.
	ErrClosed = errors.New("fragstore: closed")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("fragstore: invalid configuration")
)

// Transient wraps err so that errors.Is(err, ErrTransient) reports true.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// PersistError describes a fragment write that failed permanently.
// It matches both ErrPersistFailed and the underlying cause.
type PersistError struct {
	Event    uint64
	Index    uint32
	Attempts int
	Err      error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("fragstore: persist failed: event %d fragment %d after %d attempt(s): %v",
		e.Event, e.Index, e.Attempts, e.Err)
}

// Unwrap exposes both the sentinel and the cause to errors.Is / errors.As.
func (e *PersistError) Unwrap() []error {
	return []error{ErrPersistFailed, e.Err}
}
