// Package media serves the websocket that carries provider media streams and
// the companion app's control connection.
package media

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ai-fraud-guard/internal/observability/logging"
	"ai-fraud-guard/internal/observability/metrics"
	"ai-fraud-guard/internal/protocol"
	"ai-fraud-guard/internal/service/audio"
	"ai-fraud-guard/internal/service/control"
	"ai-fraud-guard/internal/service/g711"
	"ai-fraud-guard/internal/service/session"
	"ai-fraud-guard/internal/service/stt"
)

// Conn is the subset of *websocket.Conn the channel uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	WriteJSON(v any) error
	Close() error
}

// Config tunes the channel.
type Config struct {
	ReadLimit          int64
	IdleTimeout        time.Duration
	WriteTimeout       time.Duration
	STTProvider        string
	MinTranscriptChars int
	Limits             audio.Limits
}

// Channel accepts media/control sockets.
type Channel struct {
	cfg        Config
	registry   *control.Registry
	newAdapter stt.Factory
	dispatcher audio.Dispatcher
	metrics    *metrics.Metrics
	upgrader   websocket.Upgrader

	mu       sync.Mutex
	live     map[*connState]struct{}
	wg       sync.WaitGroup
	shutdown bool
}

// ErrShuttingDown is returned for sockets that arrive after Shutdown.
var ErrShuttingDown = errors.New("media channel shutting down")

// NewChannel creates a Channel. Each media session gets its own adapter from newAdapter.
func NewChannel(cfg Config, registry *control.Registry, newAdapter stt.Factory, d audio.Dispatcher, m *metrics.Metrics) *Channel {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Channel{
		cfg:        cfg,
		registry:   registry,
		newAdapter: newAdapter,
		dispatcher: d,
		metrics:    m,
		live:       make(map[*connState]struct{}),
		upgrader: websocket.Upgrader{
			// The provider and the companion app are not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and runs the read loop until the socket closes.
func (c *Channel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remoteAddr", r.RemoteAddr).Msg("Websocket upgrade failed")
		return
	}
	if c.cfg.ReadLimit > 0 {
		conn.SetReadLimit(c.cfg.ReadLimit)
	}
	c.Serve(r.Context(), conn, r.RemoteAddr)
}

// connState is owned by one read loop.
type connState struct {
	id      string
	conn    Conn
	control *control.Connection
	bridge  *audio.Bridge
	log     zerolog.Logger
}

// Serve reads frames from conn until it fails or closes. On return the media
// session is released and, if this socket was the control connection, it
// is unregistered.
func (c *Channel) Serve(ctx context.Context, conn Conn, remoteAddr string) {
	st := &connState{
		id:   session.NewConnectionID(),
		conn: conn,
	}
	st.log = logging.WithConnection(st.id, remoteAddr)
	if err := c.track(st); err != nil {
		st.log.Info().Err(err).Msg("Websocket refused")
		_ = conn.Close()
		return
	}
	defer c.untrack(st)

	start := time.Now()
	c.metrics.RecordConnectionStart()
	st.log.Info().Msg("Websocket connection established")

	defer func() {
		c.release(st)
		c.metrics.RecordConnectionEnd(time.Since(start).Seconds())
		st.log.Info().Dur("duration", time.Since(start)).Msg("Websocket connection closed")
	}()

	for {
		// The companion app may stay silent for the whole call.
		if c.cfg.IdleTimeout > 0 && st.control == nil {
			_ = conn.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
		}
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				st.log.Warn().Err(err).Msg("Websocket read failed")
			} else {
				st.log.Debug().Err(err).Msg("Websocket read ended")
			}
			return
		}
		c.handleFrame(ctx, st, frame)
	}
}

func (c *Channel) handleFrame(ctx context.Context, st *connState, frame []byte) {
	env, err := protocol.Decode(frame)
	if err != nil {
		c.metrics.RecordFrameDiscarded("not_json")
		st.log.Debug().Err(err).Msg("Non-JSON frame ignored")
		return
	}

	switch env.Kind() {
	case protocol.KindConnected:
		st.log.Debug().Msg("Media stream connected")

	case protocol.KindAppConnect:
		if st.control == nil {
			st.control = control.NewConnection(st.id, st.conn, c.cfg.WriteTimeout)
			_ = st.conn.SetReadDeadline(time.Time{})
		}
		c.registry.Register(st.control)

	case protocol.KindStart:
		c.handleStart(ctx, st, env)

	case protocol.KindMedia:
		c.handleMedia(ctx, st, env)

	case protocol.KindStop:
		if st.bridge != nil {
			st.log.Info().Msg("Media stream stopped by provider")
			st.bridge.Close("stream stopped")
		}

	default:
		c.metrics.RecordFrameDiscarded("unknown_event")
		st.log.Debug().Str("event", env.Event).Str("type", env.Type).Msg("Unknown frame ignored")
	}
}

func (c *Channel) handleStart(ctx context.Context, st *connState, env *protocol.Envelope) {
	if st.bridge != nil {
		c.metrics.RecordFrameDiscarded("duplicate_start")
		st.log.Warn().Str("sessionId", st.bridge.SessionID()).Msg("Second start on the same socket ignored")
		return
	}

	// Audio is flowing, so the three-way merge succeeded.
	if c.registry.Current() != nil {
		_ = c.registry.NotifyMergeSuccessful()
	} else {
		st.log.Info().Msg("Media stream started with no companion app connected")
	}

	sessionID := session.NewID()
	callSid := env.CallSid()
	sessLog := logging.WithSession(sessionID, callSid)

	adapter, err := c.newAdapter(ctx)
	if err != nil {
		sessLog.Error().Err(err).Msg("Failed to create STT adapter, call will not be transcribed")
		return
	}

	bridge := audio.NewBridge(adapter, c.dispatcher, audio.Config{
		SessionID:          sessionID,
		CallSID:            callSid,
		Provider:           c.cfg.STTProvider,
		MinTranscriptChars: c.cfg.MinTranscriptChars,
		Limits:             c.cfg.Limits,
	}, c.metrics)
	st.bridge = bridge

	if err := bridge.Start(ctx); err != nil {
		sessLog.Error().Err(err).Msg("Failed to start transcription, call will not be transcribed")
		return
	}
	sessLog.Info().Str("streamSid", env.StreamSid).Msg("Media stream started")
}

func (c *Channel) handleMedia(ctx context.Context, st *connState, env *protocol.Envelope) {
	if st.bridge == nil {
		c.metrics.RecordFrameDiscarded("no_session")
		return
	}
	ulaw, err := env.Audio()
	if err != nil {
		c.metrics.RecordFrameDiscarded("bad_payload")
		st.log.Debug().Err(err).Msg("Media frame ignored")
		return
	}
	if err := st.bridge.Write(ctx, g711.Decode(ulaw)); err != nil {
		reason := "session_closed"
		if !errors.Is(err, session.ErrSessionClosed) && !errors.Is(err, session.ErrNotStreaming) {
			reason = "write_failed"
			st.log.Debug().Err(err).Msg("Media frame not transcribed")
		}
		c.metrics.RecordFrameDiscarded(reason)
	}
}

func (c *Channel) release(st *connState) {
	if st.bridge != nil {
		if err := st.bridge.Close("socket closed"); err != nil {
			st.log.Warn().Err(err).Msg("Error closing transcription session")
		}
	}
	if st.control != nil {
		st.control.MarkClosed()
		c.registry.Clear(st.control)
	}
	_ = st.conn.Close()
}

func (c *Channel) track(st *connState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return ErrShuttingDown
	}
	c.live[st] = struct{}{}
	c.wg.Add(1)
	return nil
}

func (c *Channel) untrack(st *connState) {
	c.mu.Lock()
	delete(c.live, st)
	c.mu.Unlock()
	c.wg.Done()
}

// Shutdown refuses new sockets, closes every live one and waits until their
// transcription sessions are released or ctx ends. Hijacked websockets are
// invisible to http.Server.Shutdown, so the server must call this too.
func (c *Channel) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.shutdown = true
	n := len(c.live)
	for st := range c.live {
		_ = st.conn.Close()
	}
	c.mu.Unlock()

	if n > 0 {
		log.Info().Int("connections", n).Msg("Closing live websockets")
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
