// Command companion simulates the companion app against a running relay.
// It drives the overlay, call tracker and message scanner from stdin:
//
//	incoming          a call from the suspected scammer is answered
//	protect           tap "Protect this call"
//	msg <text>        on-screen message text changed
//	hangup            tap "Hang Up" on the alert overlay
//	quit
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ai-fraud-guard/internal/companion/calltracker"
	"ai-fraud-guard/internal/companion/controlclient"
	"ai-fraud-guard/internal/companion/messagescan"
	"ai-fraud-guard/internal/companion/overlay"
	"ai-fraud-guard/internal/config"
	"ai-fraud-guard/internal/observability/logging"
	"ai-fraud-guard/internal/protocol"
	"ai-fraud-guard/internal/service/scoring"
)

func main() {
	cfg := config.Load()
	logging.Init(logging.Config{
		Level:   cfg.Observability.LogLevel,
		Format:  "console",
		Service: "ai-fraud-guard-companion",
	})

	predictURL, err := predictEndpoint(cfg.Companion.RelayURL)
	if err != nil {
		log.Fatal().Err(err).Str("relayUrl", cfg.Companion.RelayURL).Msg("Invalid relay URL")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracker := calltracker.New()
	phone := &simPhone{tracker: tracker, log: logging.WithComponent("phone")}

	machine := overlay.New(overlay.Config{
		AssistantNumber: cfg.Companion.AssistantNumber,
		PromptInterval:  cfg.Companion.PromptInterval,
		AlertInterval:   cfg.Companion.AlertInterval,
	}, overlay.Deps{
		Renderer: logRenderer{log: logging.WithComponent("screen")},
		Speaker:  logSpeaker{log: logging.WithComponent("tts")},
		Dialer: overlay.DialerFunc(func(ctx context.Context, h func(protocol.ControlEvent)) (io.Closer, error) {
			c, err := controlclient.Dial(ctx, cfg.Companion.RelayURL, h)
			if err != nil {
				return nil, err
			}
			return c, nil
		}),
		Telecom: phone,
		Calls:   tracker,
	})
	defer machine.Close()

	scanner := messagescan.New(
		scoring.NewClient(predictURL, cfg.Scoring.Timeout),
		machine,
		cfg.Companion.MessageThreshold,
		nil,
	)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	log.Info().Str("relayUrl", cfg.Companion.RelayURL).Msg("Companion ready")
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !handle(ctx, line, machine, scanner, phone) {
				return
			}
		}
	}
}

func handle(ctx context.Context, line string, m *overlay.Machine, s *messagescan.Scanner, phone *simPhone) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch cmd {
	case "":
	case "incoming":
		phone.answer("caller")
	case "protect":
		if err := m.Start(ctx); err != nil {
			log.Error().Err(err).Msg("Protection not started")
		}
	case "msg":
		go s.Observe(ctx, arg)
	case "hangup":
		if err := m.HangUp(); err != nil {
			log.Error().Err(err).Msg("Hang up failed")
		}
	case "quit", "exit":
		return false
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
	}
	return true
}

// predictEndpoint maps the relay socket URL to its /predict proxy.
func predictEndpoint(relay string) (string, error) {
	u, err := url.Parse(relay)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/predict"
	return u.String(), nil
}

type logRenderer struct {
	log zerolog.Logger
}

func (r logRenderer) Render(v overlay.View) {
	r.log.Info().
		Str("state", v.State.String()).
		Str("status", v.Status).
		Str("action", v.Action).
		Bool("actionEnabled", v.ActionEnabled).
		Msg("Overlay")
}

func (r logRenderer) Pulse()   { r.log.Debug().Msg("Pulse") }
func (r logRenderer) Dismiss() { r.log.Info().Msg("Overlay dismissed") }

type logSpeaker struct {
	log zerolog.Logger
}

func (s logSpeaker) Speak(text string) {
	s.log.Info().Str("text", text).Msg("Speaking")
}

// simPhone is an in-memory telephony layer. Placed calls connect after a
// short ring.
type simPhone struct {
	tracker *calltracker.Tracker
	log     zerolog.Logger
}

func (p *simPhone) answer(id string) {
	c := newSimCall(id, calltracker.StateRinging, p)
	p.tracker.Add(c)
	c.set(calltracker.StateActive)
}

// PlaceCall dials the assistant; the tracker merges once it answers.
func (p *simPhone) PlaceCall(number string) error {
	if number == "" {
		return fmt.Errorf("no assistant number: %w", overlay.ErrPermissionDenied)
	}
	// Dialing out puts the current call on hold, as the platform does.
	if active, ok := p.tracker.ActiveCall(); ok {
		active.(*simCall).set(calltracker.StateHolding)
	}
	c := newSimCall("assistant", calltracker.StateDialing, p)
	p.tracker.Add(c)
	p.log.Info().Str("number", number).Msg("Dialing assistant")
	go func() {
		time.Sleep(time.Second)
		c.set(calltracker.StateActive)
	}()
	return nil
}

type simCall struct {
	id    string
	phone *simPhone

	mu        sync.Mutex
	state     calltracker.CallState
	listeners map[int]func(calltracker.CallState)
	next      int
}

func newSimCall(id string, s calltracker.CallState, p *simPhone) *simCall {
	return &simCall{id: id, phone: p, state: s, listeners: map[int]func(calltracker.CallState){}}
}

func (c *simCall) ID() string { return c.id }

func (c *simCall) State() calltracker.CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *simCall) Can(calltracker.Capability) bool { return true }

func (c *simCall) Hold() error {
	c.phone.log.Info().Str("callId", c.id).Msg("Hold")
	c.set(calltracker.StateHolding)
	return nil
}

func (c *simCall) MergeConference() error {
	c.phone.log.Info().Str("callId", c.id).Msg("Merging into conference")
	return nil
}

func (c *simCall) Disconnect() error {
	c.set(calltracker.StateDisconnected)
	if !c.phone.tracker.Remove(c.id) {
		return errors.New("call not tracked")
	}
	c.phone.log.Info().Str("callId", c.id).Msg("Disconnected")
	return nil
}

func (c *simCall) Subscribe(fn func(calltracker.CallState)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.next
	c.next++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *simCall) set(s calltracker.CallState) {
	c.mu.Lock()
	c.state = s
	fns := make([]func(calltracker.CallState), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}
