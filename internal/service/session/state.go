package session

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a live session.
type State int

const (
	// StateCreated - Session opened, no audio yet.
	StateCreated State = iota
	// StateStreaming - Fragments are arriving.
	StateStreaming
	// StateFinalizing - End received, outstanding work draining.
	StateFinalizing
	// StateComplete - Transcript assembled and handed off. Terminal.
	StateComplete
	// StateError - Aborted by the transport or client. Terminal.
	StateError
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateStreaming:
		return "STREAMING"
	case StateFinalizing:
		return "FINALIZING"
	case StateComplete:
		return "COMPLETE"
	case StateError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if no further transitions are allowed.
func (s State) IsTerminal() bool {
	return s == StateComplete || s == StateError
}

// Errors for invalid session operations.
var (
	ErrSessionClosed     = errors.New("session is closed")
	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidTransition = errors.New("invalid session state transition")
)

// Lifecycle manages the state machine for a single session.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	CREATED → STREAMING → FINALIZING → COMPLETE
//	   │          │            │
//	   └──────────┴────────────┴── Abort() ──→ ERROR
//
// Rules:
//   - CREATED/STREAMING: fragments accepted; End() moves to FINALIZING
//   - FINALIZING: fragments rejected; End() is a no-op; Complete() finishes
//   - COMPLETE/ERROR: terminal, nothing moves out of them
type Lifecycle struct {
	mu    sync.RWMutex
	state State
}

// NewLifecycle creates a lifecycle in CREATED state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateCreated}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// AcceptsFragments returns true while audio may still be appended.
func (l *Lifecycle) AcceptsFragments() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateCreated || l.state == StateStreaming
}

// Stream validates a fragment append, moving CREATED to STREAMING.
func (l *Lifecycle) Stream() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateCreated:
		l.state = StateStreaming
		return nil
	case StateStreaming:
		return nil
	default:
		return ErrSessionClosed
	}
}

// End moves the session to FINALIZING. It reports whether this call made
// the transition; repeated calls after the first are no-ops. Ending an
// aborted session returns ErrSessionClosed.
func (l *Lifecycle) End() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateCreated, StateStreaming:
		l.state = StateFinalizing
		return true, nil
	case StateFinalizing, StateComplete:
		return false, nil
	default:
		return false, ErrSessionClosed
	}
}

// Abort moves any non-terminal session to ERROR.
// Returns true if the session was aborted, false if already terminal.
func (l *Lifecycle) Abort() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateError
	return true
}

// Complete moves FINALIZING to COMPLETE.
func (l *Lifecycle) Complete() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateFinalizing {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.state, StateComplete)
	}
	l.state = StateComplete
	return nil
}
