// Package controlclient is the companion app's side of the control channel:
// it connects to the relay, announces itself and delivers control events.
package controlclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ai-fraud-guard/internal/observability/logging"
	"ai-fraud-guard/internal/protocol"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
)

// Handler receives control events in arrival order on the client's read goroutine.
type Handler func(ev protocol.ControlEvent)

// Client is one control connection to the relay.
type Client struct {
	conn    *websocket.Conn
	handler Handler
	log     zerolog.Logger

	writeMu sync.Mutex

	closeOnce sync.Once
	closing   atomic.Bool
	done      chan struct{}
	mu        sync.Mutex
	err       error
}

// Dial connects to the relay at url and sends the app_connect handshake.
// Events are delivered to h until the connection ends.
func Dial(ctx context.Context, url string, h Handler) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	c := &Client{
		conn:    conn,
		handler: h,
		log:     logging.WithComponent("controlclient").With().Str("url", url).Logger(),
		done:    make(chan struct{}),
	}
	if err := c.write(protocol.AppConnect()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send app_connect: %w", err)
	}
	c.log.Info().Msg("Connected to relay as companion app")

	go c.readLoop()
	return c, nil
}

func (c *Client) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closing.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Info().Msg("Control connection closed")
			} else {
				c.log.Warn().Err(err).Msg("Control connection read failed")
				c.setErr(err)
			}
			return
		}

		ev, err := protocol.DecodeControlEvent(data)
		if err != nil {
			c.log.Debug().Err(err).Msg("Ignoring control frame")
			continue
		}
		c.log.Debug().Str("type", ev.Type).Msg("Control event received")
		if c.handler != nil {
			c.handler(ev)
		}
	}
}

func (c *Client) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// Done is closed when the read loop ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the read failure that ended the connection, or nil if it
// ended normally or is still open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close sends a normal close frame and closes the socket. Safe to call
// more than once, including from the handler.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.writeMu.Lock()
		werr := c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout),
		)
		c.writeMu.Unlock()
		if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			c.log.Debug().Err(werr).Msg("Failed to send close frame")
		}
		err = c.conn.Close()
		c.log.Info().Msg("Control connection released")
	})
	return err
}
