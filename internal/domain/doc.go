// Package domain contains the core value types and errors for fragstore.
//
// This package is the innermost layer. It has no dependencies on
// infrastructure concerns (storage engines, logging, configuration) and
// contains only the vocabulary shared by every other package.
//
// # Types
//
//   - [ChunkKey]: Locates one stored fragment (event number, fragment index)
//   - [Result]: Outcome delivered on write and confirm callbacks
//   - [PersistError]: Terminal fragment write failure
//
// # Errors
//
// Integrity errors ([ErrTruncatedHeader], [ErrInvalidHeader],
// [ErrFragmentMismatch], [ErrIncompleteAtom]) are fatal to a read.
// Contract errors ([ErrPrematureConfirm], [ErrInvalidEvent],
// [ErrUnknownEvent]) are returned synchronously to the caller.
// [ErrTransient] classifies retryable backend failures and
// [ErrPersistFailed] is the terminal write outcome.
package domain
