// Package overlay drives the companion app's on-screen guard: connecting to
// the relay, guiding the user through the call merge and raising fraud alerts.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-fraud-guard/internal/observability/logging"
	"ai-fraud-guard/internal/protocol"
)

// State is the overlay state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateWaitingForMerge
	StateProtected
	StateAlerting
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateWaitingForMerge:
		return "WAITING_FOR_MERGE"
	case StateProtected:
		return "PROTECTED"
	case StateAlerting:
		return "ALERTING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// Spoken prompts and on-screen texts.
const (
	ActionProtect    = "Protect this call"
	ActionConnecting = "Connecting..."
	ActionHangUp     = "Hang Up"

	StatusWaitingForMerge = "Tap 'Merge Calls' on your screen!"
	StatusProtected       = "Call is Protected"
	StatusAlertPrefix     = "High Risk: "

	PromptMerge = "Please tap merge calls"
	PromptAlert = "Fraud detected. Please hang up."
)

var (
	// ErrPermissionDenied is wrapped by Telecom implementations when the
	// device refuses to place a call.
	ErrPermissionDenied = errors.New("call permission not granted")
	// ErrBusy is returned by Start outside the Idle state.
	ErrBusy = errors.New("protection already started")
	// ErrClosed is returned once the overlay has been torn down.
	ErrClosed = errors.New("overlay closed")
)

// Tone is the overlay background.
type Tone int

const (
	ToneNeutral Tone = iota
	ToneSuccess
	ToneDanger
)

// View is everything the renderer needs to draw the overlay.
type View struct {
	State         State
	Status        string
	Tone          Tone
	Action        string // empty hides the action button
	ActionEnabled bool
}

// Renderer draws the overlay.
type Renderer interface {
	Render(v View)
	// Pulse flashes the status text once.
	Pulse()
	// Dismiss removes the overlay from the screen.
	Dismiss()
}

// Speaker reads prompts aloud, replacing anything still being spoken.
type Speaker interface {
	Speak(text string)
}

// ControlDialer opens the control channel to the relay.
type ControlDialer interface {
	Dial(ctx context.Context, h func(protocol.ControlEvent)) (io.Closer, error)
}

// DialerFunc adapts a function to ControlDialer.
type DialerFunc func(ctx context.Context, h func(protocol.ControlEvent)) (io.Closer, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, h func(protocol.ControlEvent)) (io.Closer, error) {
	return f(ctx, h)
}

// Telecom places the assistant call.
type Telecom interface {
	PlaceCall(number string) error
}

// CallHangUpper ends the currently active call.
type CallHangUpper interface {
	HangUpActive() error
}

// Scheduler runs fn every d until the returned stop func is called.
type Scheduler func(d time.Duration, fn func()) (stop func())

// Every is the default Scheduler backed by time.Ticker.
func Every(d time.Duration, fn func()) func() {
	t := time.NewTicker(d)
	quit := make(chan struct{})
	go func() {
		for {
			select {
			case <-t.C:
				fn()
			case <-quit:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			t.Stop()
			close(quit)
		})
	}
}

// Config tunes the overlay.
type Config struct {
	AssistantNumber string
	PromptInterval  time.Duration
	AlertInterval   time.Duration
}

// DefaultConfig returns the intervals used on device.
func DefaultConfig() Config {
	return Config{
		PromptInterval: 3500 * time.Millisecond,
		AlertInterval:  4 * time.Second,
	}
}

// Deps are the platform ports the overlay drives.
type Deps struct {
	Renderer Renderer
	Speaker  Speaker
	Dialer   ControlDialer
	Telecom  Telecom
	Calls    CallHangUpper
	// Every defaults to the package Every.
	Every Scheduler
}

// Machine is the overlay state machine. Safe for concurrent use; renderer
// and speaker calls are made with the machine lock held and must not call
// back into the machine.
type Machine struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger

	mu       sync.Mutex
	state    State
	reason   string
	conn     io.Closer
	loopGen  uint64
	loopStop func()
	closed   bool
	// earlyMerge is a merge_successful seen while still Connecting.
	earlyMerge bool
}

// New creates a machine in the Idle state and renders it.
func New(cfg Config, d Deps) *Machine {
	def := DefaultConfig()
	if cfg.PromptInterval <= 0 {
		cfg.PromptInterval = def.PromptInterval
	}
	if cfg.AlertInterval <= 0 {
		cfg.AlertInterval = def.AlertInterval
	}
	if d.Every == nil {
		d.Every = Every
	}
	m := &Machine{
		cfg:  cfg,
		deps: d,
		log:  logging.WithComponent("overlay"),
	}
	m.deps.Renderer.Render(m.view(""))
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start begins protection: connect to the relay, place the assistant call
// and prompt the user to merge. On failure the overlay is back in Idle.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state != StateIdle {
		m.mu.Unlock()
		return ErrBusy
	}
	m.earlyMerge = false
	m.setState(StateConnecting, "")
	m.mu.Unlock()

	conn, err := m.deps.Dialer.Dial(ctx, m.HandleEvent)
	if err != nil {
		m.log.Warn().Err(err).Msg("Control connection failed")
		m.mu.Lock()
		if m.state == StateConnecting {
			m.setState(StateIdle, fmt.Sprintf("Connection failed: %v", err))
		}
		m.mu.Unlock()
		return fmt.Errorf("connect: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	m.conn = conn
	m.mu.Unlock()
	m.log.Info().Msg("Connected to guard server")

	if err := m.deps.Telecom.PlaceCall(m.cfg.AssistantNumber); err != nil {
		m.log.Error().Err(err).Str("number", m.cfg.AssistantNumber).Msg("Assistant call not placed")
		notice := fmt.Sprintf("Could not place assistant call: %v", err)
		if errors.Is(err, ErrPermissionDenied) {
			notice = "Call permission not granted"
		}
		m.mu.Lock()
		m.releaseConn()
		if m.state == StateConnecting {
			m.setState(StateIdle, notice)
		}
		m.mu.Unlock()
		return fmt.Errorf("place assistant call: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnecting {
		return nil
	}
	if m.earlyMerge {
		m.setState(StateProtected, "")
		return nil
	}
	m.setState(StateWaitingForMerge, "")
	return nil
}

// HandleEvent applies a control event from the relay.
func (m *Machine) HandleEvent(ev protocol.ControlEvent) {
	switch ev.Type {
	case protocol.TypeMergeSuccessful:
		m.merged()
	case protocol.TypeFraudAlert:
		m.Alert(ev.Reason)
	default:
		m.log.Debug().Str("type", ev.Type).Msg("Ignoring control event")
	}
}

func (m *Machine) merged() {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateWaitingForMerge, StateProtected:
		m.setState(StateProtected, "")
	case StateConnecting:
		// The assistant call can be merged before PlaceCall returns.
		m.earlyMerge = true
	default:
		m.log.Debug().Str("state", m.state.String()).Msg("Ignoring merge_successful")
	}
}

// Alert switches to the alerting state from any state. A repeated alert
// updates the reason and keeps the running alert loop.
func (m *Machine) Alert(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reason = reason
	m.setState(StateAlerting, "")
}

// HangUp ends the active call and tears the overlay down. Only available
// while alerting.
func (m *Machine) HangUp() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state != StateAlerting {
		m.mu.Unlock()
		return fmt.Errorf("hang up unavailable in state %s", m.state)
	}
	m.mu.Unlock()

	err := m.deps.Calls.HangUpActive()
	if err != nil {
		m.log.Error().Err(err).Msg("Hang up failed")
	}
	m.Close()
	return err
}

// Close stops any loop, closes the control connection and dismisses the
// overlay. Safe to call more than once.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.cancelLoop()
	m.releaseConn()
	m.deps.Renderer.Dismiss()
	m.log.Info().Str("state", m.state.String()).Msg("Overlay closed")
}

// setState must be called with mu held. Entering a state always cancels
// the running loop first, except re-entering Alerting which keeps it.
func (m *Machine) setState(s State, notice string) {
	if m.closed {
		return
	}
	prev := m.state
	m.state = s
	if prev != s {
		m.log.Info().Str("from", prev.String()).Str("to", s.String()).Msg("Overlay state changed")
	}

	switch {
	case s == StateAlerting && prev == StateAlerting:
	case s == StateWaitingForMerge && prev == StateWaitingForMerge:
	default:
		m.cancelLoop()
	}

	m.deps.Renderer.Render(m.view(notice))

	switch {
	case s == StateWaitingForMerge && prev != StateWaitingForMerge:
		m.arm(m.cfg.PromptInterval, func() {
			m.deps.Renderer.Pulse()
			m.deps.Speaker.Speak(PromptMerge)
		})
	case s == StateAlerting && prev != StateAlerting:
		m.arm(m.cfg.AlertInterval, func() {
			m.deps.Speaker.Speak(PromptAlert)
		})
	}
}

func (m *Machine) view(notice string) View {
	v := View{State: m.state, Status: notice}
	switch m.state {
	case StateIdle:
		v.Action, v.ActionEnabled = ActionProtect, true
	case StateConnecting:
		v.Action = ActionConnecting
	case StateWaitingForMerge:
		v.Status = StatusWaitingForMerge
	case StateProtected:
		v.Status, v.Tone = StatusProtected, ToneSuccess
	case StateAlerting:
		v.Status, v.Tone = StatusAlertPrefix+m.reason, ToneDanger
		v.Action, v.ActionEnabled = ActionHangUp, true
	}
	return v
}

// arm runs prompt now and then on every interval until the loop is
// cancelled. Must be called with mu held.
func (m *Machine) arm(interval time.Duration, prompt func()) {
	m.cancelLoop()
	m.loopGen++
	gen := m.loopGen
	prompt()
	m.loopStop = m.deps.Every(interval, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed || m.loopGen != gen {
			return
		}
		prompt()
	})
}

func (m *Machine) cancelLoop() {
	m.loopGen++
	if m.loopStop != nil {
		m.loopStop()
		m.loopStop = nil
	}
}

func (m *Machine) releaseConn() {
	if m.conn == nil {
		return
	}
	if err := m.conn.Close(); err != nil {
		m.log.Debug().Err(err).Msg("Control connection close failed")
	}
	m.conn = nil
}
