// Package session provides media session ids and the lifecycle state machine
// shared by a media connection and its transcription session.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State represents the lifecycle state of a media session.
type State int

const (
	// StateAwaitingStart - socket is open, no start frame seen yet.
	StateAwaitingStart State = iota
	// StateStreaming - transcription session is running and accepts audio.
	StateStreaming
	// StateClosed - session ended normally (stop frame or socket close).
	StateClosed
	// StateDropped - session abandoned after an engine error or limit breach.
	StateDropped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateAwaitingStart:
		return "AWAITING_START"
	case StateStreaming:
		return "STREAMING"
	case StateClosed:
		return "CLOSED"
	case StateDropped:
		return "DROPPED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal (CLOSED or DROPPED).
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateDropped
}

// Errors for invalid state transitions.
var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrNotStreaming   = errors.New("session is not streaming")
	ErrSessionClosed  = errors.New("session is closed")
)

// Lifecycle manages the state machine for a single media session.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	AWAITING_START → STREAMING → CLOSED
//	       │             │
//	       │             └── Drop() ──→ DROPPED
//	       └── Close() ──→ CLOSED
//
// Rules:
//   - AWAITING_START: Start() once, audio is rejected
//   - STREAMING: audio accepted, partial transcripts are forwarded
//   - CLOSED / DROPPED: terminal, everything is rejected
type Lifecycle struct {
	mu        sync.RWMutex
	sessionId string
	state     State
	startedAt time.Time
	endReason string
}

// NewLifecycle creates a new session lifecycle in AWAITING_START state.
func NewLifecycle(sessionId string) *Lifecycle {
	return &Lifecycle{
		sessionId: sessionId,
		state:     StateAwaitingStart,
	}
}

// SessionId returns the session ID.
func (l *Lifecycle) SessionId() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sessionId
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// StartedAt returns when the session entered STREAMING, or the zero time.
func (l *Lifecycle) StartedAt() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.startedAt
}

// EndReason returns why the session reached a terminal state.
func (l *Lifecycle) EndReason() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.endReason
}

// IsStreaming returns true while audio is accepted.
func (l *Lifecycle) IsStreaming() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateStreaming
}

// IsClosed returns true if the session is in a terminal state.
func (l *Lifecycle) IsClosed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.IsTerminal()
}

// IsDropped returns true if the session was dropped.
func (l *Lifecycle) IsDropped() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateDropped
}

// Start transitions AWAITING_START → STREAMING.
func (l *Lifecycle) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateAwaitingStart:
		l.state = StateStreaming
		l.startedAt = time.Now()
		return nil
	case StateStreaming:
		return ErrAlreadyStarted
	case StateClosed, StateDropped:
		return ErrSessionClosed
	default:
		return fmt.Errorf("unexpected state: %v", l.state)
	}
}

// AcceptAudio validates that an audio frame may be applied.
func (l *Lifecycle) AcceptAudio() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	switch l.state {
	case StateStreaming:
		return nil
	case StateAwaitingStart:
		return ErrNotStreaming
	case StateClosed, StateDropped:
		return ErrSessionClosed
	default:
		return fmt.Errorf("unexpected state: %v", l.state)
	}
}

// Close transitions to CLOSED. Returns false if already terminal.
func (l *Lifecycle) Close(reason string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateClosed
	l.endReason = reason
	return true
}

// Drop transitions to DROPPED. Returns false if already terminal.
func (l *Lifecycle) Drop(reason string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateDropped
	l.endReason = reason
	return true
}
