// Package control tracks the single companion app connection and delivers
// control events to it.
package control

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ai-fraud-guard/internal/observability/logging"
	"ai-fraud-guard/internal/observability/metrics"
	"ai-fraud-guard/internal/protocol"
)

var (
	// ErrNoConnection is returned when no companion app is registered.
	ErrNoConnection = errors.New("no control connection registered")
	// ErrConnectionClosed is returned when the registered connection is no longer open.
	ErrConnectionClosed = errors.New("control connection closed")
)

// Writer is the write side of a websocket connection.
type Writer interface {
	SetWriteDeadline(t time.Time) error
	WriteJSON(v any) error
}

// Connection is a companion app socket. Writes are serialized.
type Connection struct {
	id           string
	w            Writer
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// NewConnection wraps w. A positive writeTimeout bounds every send.
func NewConnection(id string, w Writer, writeTimeout time.Duration) *Connection {
	return &Connection{id: id, w: w, writeTimeout: writeTimeout}
}

// ID returns the connection id.
func (c *Connection) ID() string {
	return c.id
}

// Send writes ev as JSON. A failed write marks the connection closed.
func (c *Connection) Send(ev protocol.ControlEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}
	if c.writeTimeout > 0 {
		if err := c.w.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			c.closed = true
			return errors.Join(ErrConnectionClosed, err)
		}
	}
	if err := c.w.WriteJSON(ev); err != nil {
		c.closed = true
		return errors.Join(ErrConnectionClosed, err)
	}
	return nil
}

// MarkClosed records that the underlying socket has gone away.
func (c *Connection) MarkClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// IsClosed reports whether the connection can no longer be written.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Registry holds at most one companion connection. The last registration wins.
type Registry struct {
	current atomic.Pointer[Connection]
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(m *metrics.Metrics) *Registry {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Registry{
		metrics: m,
		log:     logging.WithComponent("control"),
	}
}

// Register makes c the control connection. A previously registered
// connection is replaced without notice.
func (r *Registry) Register(c *Connection) {
	prev := r.current.Swap(c)
	r.metrics.SetControlConnected(true)

	ev := r.log.Info().Str("connectionId", c.ID())
	if prev != nil && prev != c {
		ev = ev.Str("replacedConnectionId", prev.ID())
	}
	ev.Msg("Companion app registered")
}

// Clear unregisters c if it is still the current connection.
func (r *Registry) Clear(c *Connection) bool {
	if c == nil || !r.current.CompareAndSwap(c, nil) {
		return false
	}
	r.metrics.SetControlConnected(false)
	r.log.Info().Str("connectionId", c.ID()).Msg("Companion app disconnected")
	return true
}

// Current returns the registered connection or nil.
func (r *Registry) Current() *Connection {
	return r.current.Load()
}

// Send delivers ev to the registered connection. It never queues or retries.
func (r *Registry) Send(ev protocol.ControlEvent) error {
	c := r.current.Load()
	if c == nil {
		r.metrics.RecordControlSend(ev.Type, false)
		r.log.Warn().Str("event", ev.Type).Msg("Companion app not connected, event dropped")
		return ErrNoConnection
	}

	if err := c.Send(ev); err != nil {
		r.metrics.RecordControlSend(ev.Type, false)
		r.log.Warn().
			Err(err).
			Str("event", ev.Type).
			Str("connectionId", c.ID()).
			Msg("Control event not delivered")
		return err
	}

	r.metrics.RecordControlSend(ev.Type, true)
	r.log.Debug().Str("event", ev.Type).Str("connectionId", c.ID()).Msg("Control event sent")
	return nil
}

// NotifyMergeSuccessful tells the companion app that the media stream started.
func (r *Registry) NotifyMergeSuccessful() error {
	return r.Send(protocol.MergeSuccessful())
}

// SendFraudAlert tells the companion app that fraud was detected.
func (r *Registry) SendFraudAlert(reason string) error {
	return r.Send(protocol.FraudAlert(reason))
}
