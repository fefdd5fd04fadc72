package domain

import "fmt"

// ChunkKey identifies one stored fragment.
type ChunkKey struct {
	// Event is the caller-assigned event number of the atom.
	Event uint64

	// Index is the zero-based position of the fragment within its atom.
	Index uint32
}

// String returns "event/index".
func (k ChunkKey) String() string {
	return fmt.Sprintf("%d/%d", k.Event, k.Index)
}

// Result is the outcome of a write or confirm request, delivered on the
// request's callback. Err is nil on success.
type Result struct {
	Event uint64
	Err   error
}

// OK reports whether the request succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}
