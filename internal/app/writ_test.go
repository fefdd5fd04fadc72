package app

import (
	"errors"
	"testing"

	"github.com/bft-labs/fragstore/internal/domain"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StatePending, "Pending"},
		{StateSending, "Sending"},
		{StateSent, "Sent"},
		{StateConfirming, "Confirming"},
		{StateConfirmed, "Confirmed"},
		{StateFailed, "Failed"},
		{State(99), "Unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
}

func TestState_Flags(t *testing.T) {
	tests := []struct {
		state                                             State
		sendReq, sendDone, confirmReq, confirmDone, final bool
	}{
		{StatePending, false, false, false, false, false},
		{StateSending, true, false, false, false, false},
		{StateSent, true, true, false, false, false},
		{StateConfirming, true, true, true, false, false},
		{StateConfirmed, true, true, true, true, true},
		{StateFailed, true, false, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			s := tt.state
			if s.SendRequested() != tt.sendReq || s.SendComplete() != tt.sendDone ||
				s.ConfirmRequested() != tt.confirmReq || s.ConfirmComplete() != tt.confirmDone ||
				s.Terminal() != tt.final {
				t.Errorf("flags = (%v %v %v %v %v), want (%v %v %v %v %v)",
					s.SendRequested(), s.SendComplete(), s.ConfirmRequested(), s.ConfirmComplete(), s.Terminal(),
					tt.sendReq, tt.sendDone, tt.confirmReq, tt.confirmDone, tt.final)
			}
			// confirm-requested implies send-requested, confirm-complete implies send-complete.
			if s.ConfirmRequested() && !s.SendRequested() {
				t.Error("confirm requested without send requested")
			}
			if s.ConfirmComplete() && !s.SendComplete() {
				t.Error("confirm complete without send complete")
			}
		})
	}
}

func TestWrit_TransitionTo_Valid(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
	}{
		{"pending to sending", StatePending, StateSending},
		{"sending to sent", StateSending, StateSent},
		{"sending to failed", StateSending, StateFailed},
		{"sent to confirming", StateSent, StateConfirming},
		{"confirming to confirmed", StateConfirming, StateConfirmed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWrit(1, "s", 1, nil)
			w.state = tt.from

			if err := w.transitionTo(tt.to); err != nil {
				t.Fatalf("transitionTo() error = %v", err)
			}
			if w.State() != tt.to {
				t.Errorf("state = %v, want %v", w.State(), tt.to)
			}
		})
	}
}

func TestWrit_TransitionTo_Invalid(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
	}{
		{"pending to sent", StatePending, StateSent},
		{"sending to confirming", StateSending, StateConfirming},
		{"sent to sending", StateSent, StateSending},
		{"sent to failed", StateSent, StateFailed},
		{"confirming to sent", StateConfirming, StateSent},
		{"confirmed to pending", StateConfirmed, StatePending},
		{"failed to sent", StateFailed, StateSent},
		{"failed to sending", StateFailed, StateSending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWrit(1, "s", 1, nil)
			w.state = tt.from

			err := w.transitionTo(tt.to)
			if !errors.Is(err, domain.ErrInvalidTransition) {
				t.Errorf("transitionTo() error = %v, want ErrInvalidTransition", err)
			}
			if w.State() != tt.from {
				t.Errorf("state changed to %v on invalid transition, want %v", w.State(), tt.from)
			}
		})
	}
}

func TestWrit_AckCompletesOnce(t *testing.T) {
	w := newWrit(9, "s", 3, nil)
	_ = w.transitionTo(StateSending)

	order := []uint32{2, 0, 2, 1, 1, 0}
	completions := 0
	for _, i := range order {
		if w.ack(i) {
			completions++
		}
	}

	if completions != 1 {
		t.Errorf("completions = %d, want 1", completions)
	}
	if w.State() != StateSent {
		t.Errorf("state = %v, want Sent", w.State())
	}
	if w.Outstanding() != 0 {
		t.Errorf("outstanding = %d, want 0", w.Outstanding())
	}
}

func TestWrit_AckIgnoredOutsideSending(t *testing.T) {
	w := newWrit(1, "s", 1, nil)
	if w.ack(0) {
		t.Error("ack in Pending completed the writ")
	}

	_ = w.transitionTo(StateSending)
	if !w.fail() {
		t.Fatal("fail() = false for a sending writ")
	}
	if w.ack(0) {
		t.Error("ack after failure completed the writ")
	}
	if w.fail() {
		t.Error("second fail() = true")
	}
	if !w.State().SendRequested() || w.State().SendComplete() {
		t.Errorf("failed writ flags: send-requested=%v send-complete=%v",
			w.State().SendRequested(), w.State().SendComplete())
	}
}

func TestWrit_AckOutOfRange(t *testing.T) {
	w := newWrit(1, "s", 2, nil)
	_ = w.transitionTo(StateSending)
	if w.ack(5) {
		t.Error("out-of-range ack completed the writ")
	}
	if w.Outstanding() != 2 {
		t.Errorf("outstanding = %d, want 2", w.Outstanding())
	}
}

func TestWrit_FailedWritDrains(t *testing.T) {
	w := newWrit(4, "s", 3, nil)
	_ = w.transitionTo(StateSending)

	if w.ack(0) {
		t.Fatal("first ack completed the writ")
	}
	if !w.fail() || !w.settle(1) {
		t.Fatal("failing fragment 1 was not recorded")
	}
	if w.drained() {
		t.Fatal("drained with fragment 2 outstanding")
	}
	if w.settle(1) || w.settle(7) {
		t.Error("settle accepted a duplicate or out-of-range index")
	}
	if !w.settle(2) || !w.drained() {
		t.Errorf("outstanding = %d after settling every fragment, want 0", w.Outstanding())
	}
	if w.State() != StateFailed {
		t.Errorf("state = %v, want Failed", w.State())
	}
}
