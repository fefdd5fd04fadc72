package app

import (
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/fragstore/internal/domain"
	"github.com/bft-labs/fragstore/internal/ports"
)

// Tracker messages. Requests carry a buffered reply channel so the tracker
// never blocks answering them.
type (
	submitMsg struct {
		event      uint64
		total      uint32
		onComplete func(domain.Result)
		reply      chan submitReply
	}
	submitReply struct {
		writ *Writ
		err  error
	}

	fragmentDoneMsg struct {
		writ  *Writ
		index uint32
		err   error
	}

	confirmMsg struct {
		event       uint64
		onConfirmed func(domain.Result)
		reply       chan confirmReply
	}
	confirmReply struct {
		writ   *Writ
		waiter *confirmWaiter
		err    error
	}

	barrierDoneMsg struct {
		writ   *Writ
		waiter *confirmWaiter
		err    error
	}

	statusMsg struct {
		event uint64
		reply chan statusReply
	}
	statusReply struct {
		state State
		ok    bool
	}

	inFlightMsg struct {
		reply chan int
	}
)

// tracker owns every writ of a store session. All writ state changes happen
// on the tracker goroutine; backend completions reach it as messages.
type tracker struct {
	session  string
	retrier  *retrier
	observer ports.Observer
	logger   ports.Logger
	notify   *notifier

	inbox    chan any
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	writs map[uint64]*Writ
}

func newTracker(session string, retrier *retrier, observer ports.Observer, logger ports.Logger) *tracker {
	t := &tracker{
		session:  session,
		retrier:  retrier,
		observer: observer,
		logger:   logger,
		notify:   newNotifier(),
		inbox:    make(chan any, 256),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		writs:    make(map[uint64]*Writ),
	}
	go t.run()
	return t
}

// post delivers msg to the tracker. It returns false once the tracker is stopped.
func (t *tracker) post(msg any) bool {
	select {
	case t.inbox <- msg:
		return true
	case <-t.quit:
		return false
	}
}

func (t *tracker) run() {
	defer close(t.done)
	for {
		select {
		case <-t.quit:
			t.shutdown()
			return
		case msg := <-t.inbox:
			t.handle(msg)
		}
	}
}

func (t *tracker) handle(msg any) {
	switch m := msg.(type) {
	case submitMsg:
		m.reply <- t.handleSubmit(m)
	case fragmentDoneMsg:
		t.handleFragmentDone(m)
	case confirmMsg:
		m.reply <- t.handleConfirm(m)
	case barrierDoneMsg:
		t.handleBarrierDone(m)
	case statusMsg:
		w, ok := t.writs[m.event]
		if !ok {
			m.reply <- statusReply{}
			return
		}
		m.reply <- statusReply{state: w.state, ok: true}
	case inFlightMsg:
		m.reply <- len(t.writs)
	default:
		t.logger.Error("tracker received unknown message", ports.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (t *tracker) handleSubmit(m submitMsg) submitReply {
	if _, exists := t.writs[m.event]; exists {
		return submitReply{err: fmt.Errorf("%w: %d", domain.ErrInvalidEvent, m.event)}
	}
	w := newWrit(m.event, t.session, m.total, m.onComplete)
	if err := w.transitionTo(StateSending); err != nil {
		return submitReply{err: err}
	}
	t.writs[m.event] = w
	return submitReply{writ: w}
}

func (t *tracker) handleFragmentDone(m fragmentDoneMsg) {
	w := m.writ
	if t.writs[w.Event] != w {
		t.logger.Debug("dropping completion for retired writ",
			ports.Chunk(domain.ChunkKey{Event: w.Event, Index: m.index}))
		return
	}

	switch {
	case w.state == StateFailed:
		w.settle(m.index)
	case m.err == nil:
		if w.ack(m.index) {
			t.completeWrite(w, nil)
		}
		return
	case w.fail():
		w.settle(m.index)
		w.failure = m.err
		t.logger.Warn("event persist failed", ports.Event(w.Event), ports.Err(m.err))
		// Pending retries of sibling fragments would rewrite stale bytes.
		for _, key := range t.retrier.abandon(&w.retries) {
			w.settle(key.Index)
		}
	default:
		return
	}

	// The event is released for rewriting only once no write of the failed
	// attempt can still land.
	if w.drained() {
		delete(t.writs, w.Event)
		t.completeWrite(w, w.failure)
	}
}

func (t *tracker) completeWrite(w *Writ, err error) {
	t.observer.OnWriteComplete(w.Event, time.Since(w.submitted), err)
	if cb := w.onComplete; cb != nil {
		res := domain.Result{Event: w.Event, Err: err}
		t.notify.post(func() { cb(res) })
	}
}

func (t *tracker) handleConfirm(m confirmMsg) confirmReply {
	w, ok := t.writs[m.event]
	if !ok {
		return confirmReply{err: fmt.Errorf("%w: %d", domain.ErrUnknownEvent, m.event)}
	}
	switch w.state {
	case StateSent:
		if err := w.transitionTo(StateConfirming); err != nil {
			return confirmReply{err: err}
		}
	case StateConfirming:
	default:
		return confirmReply{err: fmt.Errorf("%w: event %d is %s", domain.ErrPrematureConfirm, m.event, w.state)}
	}

	cw := &confirmWaiter{onConfirmed: m.onConfirmed, requested: time.Now()}
	w.waiters = append(w.waiters, cw)
	return confirmReply{writ: w, waiter: cw}
}

func (t *tracker) handleBarrierDone(m barrierDoneMsg) {
	w := m.writ
	if t.writs[w.Event] != w || !w.removeWaiter(m.waiter) {
		return
	}

	if m.err != nil {
		t.logger.Warn("durability barrier failed", ports.Event(w.Event), ports.Err(m.err))
		t.completeConfirm(w.Event, m.waiter, m.err)
		return
	}

	if err := w.transitionTo(StateConfirmed); err != nil {
		t.logger.Error("confirm transition rejected", ports.Event(w.Event), ports.Err(err))
		return
	}
	delete(t.writs, w.Event)

	// One acknowledged barrier makes the event durable for every waiter.
	t.completeConfirm(w.Event, m.waiter, nil)
	for _, cw := range w.waiters {
		t.completeConfirm(w.Event, cw, nil)
	}
	w.waiters = nil
}

func (t *tracker) completeConfirm(event uint64, cw *confirmWaiter, err error) {
	t.observer.OnConfirm(event, time.Since(cw.requested), err)
	if cb := cw.onConfirmed; cb != nil {
		res := domain.Result{Event: event, Err: err}
		t.notify.post(func() { cb(res) })
	}
}

// shutdown fails everything still outstanding with ErrClosed.
func (t *tracker) shutdown() {
	for event, w := range t.writs {
		switch w.state {
		case StateSending:
			t.completeWrite(w, domain.ErrClosed)
		case StateFailed:
			t.completeWrite(w, w.failure)
		}
		for _, cw := range w.waiters {
			t.completeConfirm(event, cw, domain.ErrClosed)
		}
		w.waiters = nil
	}
	t.writs = make(map[uint64]*Writ)
}

// stop terminates the tracker goroutine and waits for queued callbacks to run.
func (t *tracker) stop() {
	t.stopOnce.Do(func() {
		close(t.quit)
		<-t.done
		t.notify.close()
	})
}

// await waits for the reply to a posted request. It reports false if the
// tracker stopped before answering.
func await[T any](t *tracker, reply chan T) (T, bool) {
	select {
	case r := <-reply:
		return r, true
	case <-t.done:
		// A reply sent before shutdown is already buffered.
		select {
		case r := <-reply:
			return r, true
		default:
			var zero T
			return zero, false
		}
	}
}

func (t *tracker) submit(event uint64, total uint32, onComplete func(domain.Result)) (*Writ, error) {
	reply := make(chan submitReply, 1)
	if !t.post(submitMsg{event: event, total: total, onComplete: onComplete, reply: reply}) {
		return nil, domain.ErrClosed
	}
	r, ok := await(t, reply)
	if !ok {
		return nil, domain.ErrClosed
	}
	return r.writ, r.err
}

func (t *tracker) fragmentDone(w *Writ, index uint32, err error) {
	t.post(fragmentDoneMsg{writ: w, index: index, err: err})
}

func (t *tracker) confirm(event uint64, onConfirmed func(domain.Result)) (*Writ, *confirmWaiter, error) {
	reply := make(chan confirmReply, 1)
	if !t.post(confirmMsg{event: event, onConfirmed: onConfirmed, reply: reply}) {
		return nil, nil, domain.ErrClosed
	}
	r, ok := await(t, reply)
	if !ok {
		return nil, nil, domain.ErrClosed
	}
	return r.writ, r.waiter, r.err
}

func (t *tracker) barrierDone(w *Writ, cw *confirmWaiter, err error) {
	t.post(barrierDoneMsg{writ: w, waiter: cw, err: err})
}

func (t *tracker) status(event uint64) (State, bool) {
	reply := make(chan statusReply, 1)
	if !t.post(statusMsg{event: event, reply: reply}) {
		return 0, false
	}
	r, _ := await(t, reply)
	return r.state, r.ok
}

func (t *tracker) inFlight() int {
	reply := make(chan int, 1)
	if !t.post(inFlightMsg{reply: reply}) {
		return 0
	}
	n, _ := await(t, reply)
	return n
}
