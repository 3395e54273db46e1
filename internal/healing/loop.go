package healing

import (
	"fmt"
	"time"
)

// LoopState is the lifecycle state of a healing loop.
type LoopState string

const (
	StateIdle      LoopState = "idle"
	StateRunning   LoopState = "running"
	StateSucceeded LoopState = "succeeded"
	StateExhausted LoopState = "exhausted"
	StateTimedOut  LoopState = "timed_out"
	StateCancelled LoopState = "cancelled"
)

// terminal reports whether a state admits no further attempts.
func (s LoopState) terminal() bool {
	switch s {
	case StateSucceeded, StateExhausted, StateTimedOut, StateCancelled:
		return true
	}
	return false
}

// Slot is one yielded attempt: its 1-indexed number and the deadline by which
// the caller must finish (or abort) all work for the attempt.
type Slot struct {
	Attempt  int
	Deadline time.Time
}

// Loop is the attempt/timeout state machine for one healing session. It
// yields attempt slots until success is marked, the attempt budget is spent,
// or the total session timeout elapses. A loop is not restartable once
// terminal; construct a fresh one (or call Reset) to start over.
//
// Loops are not safe for concurrent use; a session is a single logical
// thread of control.
type Loop struct {
	maxAttempts    int
	attemptTimeout time.Duration
	totalTimeout   time.Duration

	now func() time.Time // injectable clock for tests

	state   LoopState
	attempt int
	start   time.Time
}

// NewLoop validates the budget and returns an idle loop.
func NewLoop(maxAttempts int, attemptTimeout, totalTimeout time.Duration) (*Loop, error) {
	if maxAttempts < 1 {
		return nil, fmt.Errorf("%w: max attempts must be at least 1, got %d", ErrInvalidConfiguration, maxAttempts)
	}
	if attemptTimeout <= 0 {
		return nil, fmt.Errorf("%w: attempt timeout must be positive, got %s", ErrInvalidConfiguration, attemptTimeout)
	}
	if totalTimeout < attemptTimeout {
		return nil, fmt.Errorf("%w: total timeout %s is shorter than attempt timeout %s", ErrInvalidConfiguration, totalTimeout, attemptTimeout)
	}
	return &Loop{
		maxAttempts:    maxAttempts,
		attemptTimeout: attemptTimeout,
		totalTimeout:   totalTimeout,
		now:            time.Now,
		state:          StateIdle,
	}, nil
}

// Next yields the next attempt slot, or false if the loop has terminated.
// The first call starts the session clock. Before yielding any attempt after
// the first, the loop checks elapsed session time against the total timeout
// and transitions to TimedOut instead of yielding when it has been exceeded.
func (l *Loop) Next() (Slot, bool) {
	if l.state.terminal() {
		return Slot{}, false
	}

	if l.state == StateIdle {
		l.start = l.now()
		l.state = StateRunning
	} else {
		if l.attempt >= l.maxAttempts {
			l.state = StateExhausted
			return Slot{}, false
		}
		if l.Elapsed() >= l.totalTimeout {
			l.state = StateTimedOut
			return Slot{}, false
		}
	}

	l.attempt++
	deadline := l.now().Add(l.attemptTimeout)
	if sessionEnd := l.start.Add(l.totalTimeout); sessionEnd.Before(deadline) {
		deadline = sessionEnd
	}
	return Slot{Attempt: l.attempt, Deadline: deadline}, true
}

// MarkSuccess forces an immediate transition to Succeeded regardless of
// attempts remaining. It is the only way to stop the loop early; marking a
// terminal loop is a no-op.
func (l *Loop) MarkSuccess() {
	if l.state.terminal() {
		return
	}
	l.state = StateSucceeded
}

// Cancel transitions the loop to Cancelled. Terminal states are not
// overwritten.
func (l *Loop) Cancel() {
	if l.state.terminal() {
		return
	}
	l.state = StateCancelled
}

// State returns the current lifecycle state.
func (l *Loop) State() LoopState { return l.state }

// Elapsed returns time since the session clock started, or zero before the
// first attempt is yielded. Uses the monotonic clock carried by time.Time.
func (l *Loop) Elapsed() time.Duration {
	if l.start.IsZero() {
		return 0
	}
	return l.now().Sub(l.start)
}

// Remaining returns time left before the total timeout, floored at zero.
func (l *Loop) Remaining() time.Duration {
	if l.start.IsZero() {
		return 0
	}
	remaining := l.totalTimeout - l.Elapsed()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// AttemptsRemaining returns how many attempts are left in the budget.
func (l *Loop) AttemptsRemaining() int {
	remaining := l.maxAttempts - l.attempt
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset returns the loop to Idle and clears attempt counters. This is the
// only way to reuse a loop after it reaches a terminal state.
func (l *Loop) Reset() {
	l.state = StateIdle
	l.attempt = 0
	l.start = time.Time{}
}
