// Package calltracker follows the native calls the device is a party to and
// merges the assistant call into the conversation once both legs are up.
package calltracker

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"ai-fraud-guard/internal/observability/logging"
)

// CallState mirrors the telephony call states the tracker cares about.
type CallState int

const (
	StateNew CallState = iota
	StateDialing
	StateRinging
	StateActive
	StateHolding
	StateDisconnected
)

// String returns the string representation of the state.
func (s CallState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateDialing:
		return "DIALING"
	case StateRinging:
		return "RINGING"
	case StateActive:
		return "ACTIVE"
	case StateHolding:
		return "HOLDING"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// Capability is a call capability flag.
type Capability int

const (
	CapabilityHold Capability = 1 << iota
	CapabilityMergeConference
)

// ErrNoActiveCall is returned when an action needs an ACTIVE call and none is tracked.
var ErrNoActiveCall = errors.New("no active call")

// Call is one native call as seen by the platform telephony layer.
type Call interface {
	ID() string
	State() CallState
	Can(c Capability) bool
	Hold() error
	MergeConference() error
	Disconnect() error
	// Subscribe registers fn for state changes and returns its unsubscribe func.
	Subscribe(fn func(CallState)) (unsubscribe func())
}

// MergeOutcome reports what TryMerge did.
type MergeOutcome struct {
	Attempted bool
	Held      bool
	Merged    bool
	// Reason is set when the attempt stopped short of a merge.
	Reason string
}

type record struct {
	call        Call
	unsubscribe func()
}

// Tracker owns the set of tracked calls and their state listeners.
type Tracker struct {
	mu    sync.Mutex
	calls map[string]*record
	order []string
	log   zerolog.Logger
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{
		calls: make(map[string]*record),
		log:   logging.WithComponent("calltracker"),
	}
}

// Add starts tracking c. A transition of c to ACTIVE triggers TryMerge.
// Adding an already tracked id is a no-op.
func (t *Tracker) Add(c Call) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := c.ID()
	if _, ok := t.calls[id]; ok {
		return
	}
	unsub := c.Subscribe(func(s CallState) {
		t.log.Debug().Str("callId", id).Str("state", s.String()).Msg("Call state changed")
		if s == StateActive {
			t.TryMerge()
		}
	})
	t.calls[id] = &record{call: c, unsubscribe: unsub}
	t.order = append(t.order, id)
	t.log.Info().Str("callId", id).Int("calls", len(t.order)).Msg("Call added")
}

// Remove stops tracking the call and unsubscribes its listener.
// Returns false if the id is unknown.
func (t *Tracker) Remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.calls[id]
	if !ok {
		return false
	}
	rec.unsubscribe()
	delete(t.calls, id)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	t.log.Info().Str("callId", id).Int("calls", len(t.order)).Msg("Call removed")
	return true
}

// Len returns the number of tracked calls.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.order)
}

// Calls returns the tracked calls in insertion order.
func (t *Tracker) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot()
}

func (t *Tracker) snapshot() []Call {
	out := make([]Call, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.calls[id].call)
	}
	return out
}

// TryMerge holds the non-active call and merges it into the active one.
// It needs exactly two tracked calls. Safe to call on every ACTIVE
// transition; nothing is retried after a failure or a capability denial.
func (t *Tracker) TryMerge() MergeOutcome {
	t.mu.Lock()
	calls := t.snapshot()
	t.mu.Unlock()

	if len(calls) != 2 {
		return MergeOutcome{Reason: fmt.Sprintf("need 2 calls, have %d", len(calls))}
	}

	active, other := calls[1], calls[0]
	if calls[0].State() == StateActive {
		active, other = calls[0], calls[1]
	}

	out := MergeOutcome{Attempted: true}
	log := t.log.With().Str("activeCallId", active.ID()).Str("otherCallId", other.ID()).Logger()

	if other.State() != StateHolding {
		if !other.Can(CapabilityHold) {
			log.Warn().Msg("Call cannot be held")
		} else if err := other.Hold(); err != nil {
			log.Error().Err(err).Msg("Hold failed")
			out.Reason = "hold failed"
			return out
		} else {
			out.Held = true
		}
	}

	if !active.Can(CapabilityMergeConference) {
		log.Warn().Msg("Call cannot be merged")
		out.Reason = "merge not permitted"
		return out
	}
	if err := active.MergeConference(); err != nil {
		log.Error().Err(err).Msg("Merge failed")
		out.Reason = "merge failed"
		return out
	}
	out.Merged = true
	log.Info().Bool("held", out.Held).Msg("Merge requested")
	return out
}

// ActiveCall returns the first tracked call in the ACTIVE state.
func (t *Tracker) ActiveCall() (Call, bool) {
	for _, c := range t.Calls() {
		if c.State() == StateActive {
			return c, true
		}
	}
	return nil, false
}

// HangUpActive disconnects the current ACTIVE call.
func (t *Tracker) HangUpActive() error {
	c, ok := t.ActiveCall()
	if !ok {
		return ErrNoActiveCall
	}
	if err := c.Disconnect(); err != nil {
		return fmt.Errorf("disconnect %s: %w", c.ID(), err)
	}
	t.log.Info().Str("callId", c.ID()).Msg("Active call disconnected")
	return nil
}
