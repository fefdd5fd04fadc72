package app

import (
	"fmt"
	"time"

	"github.com/bft-labs/fragstore/internal/domain"
)

// State is the lifecycle state of one in-flight write (a writ).
//
//	Pending -> Sending -> Sent -> Confirming -> Confirmed
//	              \
//	               -> Failed
//
// States only move forward; Confirmed and Failed are terminal.
type State int

const (
	StatePending State = iota
	StateSending
	StateSent
	StateConfirming
	StateConfirmed
	StateFailed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateSending:
		return "Sending"
	case StateSent:
		return "Sent"
	case StateConfirming:
		return "Confirming"
	case StateConfirmed:
		return "Confirmed"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// SendRequested reports whether the atom has been handed to the backend.
func (s State) SendRequested() bool {
	return s != StatePending
}

// SendComplete reports whether every fragment write has been acknowledged.
func (s State) SendComplete() bool {
	return s == StateSent || s == StateConfirming || s == StateConfirmed
}

// ConfirmRequested reports whether a durability barrier has been requested.
func (s State) ConfirmRequested() bool {
	return s == StateConfirming || s == StateConfirmed
}

// ConfirmComplete reports whether the durability barrier was acknowledged.
func (s State) ConfirmComplete() bool {
	return s == StateConfirmed
}

// Terminal reports whether the writ can be retired.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// transitions lists the states reachable from each state.
var transitions = map[State][]State{
	StatePending:    {StateSending},
	StateSending:    {StateSent, StateFailed},
	StateSent:       {StateConfirming},
	StateConfirming: {StateConfirmed},
}

// Writ tracks one atom being persisted under an event number.
// A writ is owned by the tracker goroutine; nothing else mutates it.
type Writ struct {
	Event   uint64
	Session string

	state       State
	total       uint32
	outstanding uint32
	settled     []bool
	submitted   time.Time
	onComplete  func(domain.Result)

	// failure is the first permanent fragment error. A failed writ stays
	// tracked until every fragment write has settled.
	failure error
	retries retryGroup

	// waiters are confirm requests whose barrier has not been acknowledged.
	waiters []*confirmWaiter
}

// confirmWaiter is one RequestConfirm call awaiting its barrier.
type confirmWaiter struct {
	onConfirmed func(domain.Result)
	requested   time.Time
}

func newWrit(event uint64, session string, total uint32, onComplete func(domain.Result)) *Writ {
	return &Writ{
		Event:       event,
		Session:     session,
		state:       StatePending,
		total:       total,
		outstanding: total,
		settled:     make([]bool, total),
		submitted:   time.Now(),
		onComplete:  onComplete,
	}
}

// State returns the current state.
func (w *Writ) State() State {
	return w.state
}

// Total returns the number of fragments the atom was split into.
func (w *Writ) Total() uint32 {
	return w.total
}

// Outstanding returns the number of fragment writes not yet settled.
func (w *Writ) Outstanding() uint32 {
	return w.outstanding
}

// transitionTo moves the writ to next.
// Returns ErrInvalidTransition, leaving the state unchanged, if next is not
// reachable from the current state.
func (w *Writ) transitionTo(next State) error {
	for _, allowed := range transitions[w.state] {
		if allowed == next {
			w.state = next
			return nil
		}
	}
	return fmt.Errorf("%w: event %d %s -> %s", domain.ErrInvalidTransition, w.Event, w.state, next)
}

// ack records a successful write of fragment index. It returns true exactly
// once: on the acknowledgement that completes the atom. Duplicate or late
// acknowledgements return false.
func (w *Writ) ack(index uint32) bool {
	if w.state != StateSending || !w.settle(index) || w.outstanding > 0 {
		return false
	}
	return w.transitionTo(StateSent) == nil
}

// settle records that the write of fragment index has finished, whatever
// its outcome. It returns false for an out-of-range or already settled index.
func (w *Writ) settle(index uint32) bool {
	if index >= w.total || w.settled[index] {
		return false
	}
	w.settled[index] = true
	w.outstanding--
	return true
}

// drained reports whether every fragment write has settled.
func (w *Writ) drained() bool {
	return w.outstanding == 0
}

// removeWaiter drops cw from the waiter list and reports whether it was present.
func (w *Writ) removeWaiter(cw *confirmWaiter) bool {
	for i, x := range w.waiters {
		if x == cw {
			w.waiters = append(w.waiters[:i], w.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// fail marks the writ permanently failed. It returns true only for the
// first failure of a writ that was still sending.
func (w *Writ) fail() bool {
	if w.state != StateSending {
		return false
	}
	return w.transitionTo(StateFailed) == nil
}
