// Package audio bridges decoded call audio into a streaming transcription
// session and hands significant partial transcripts to fraud scoring.
package audio

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"ai-fraud-guard/internal/observability/logging"
	"ai-fraud-guard/internal/observability/metrics"
	"ai-fraud-guard/internal/service/scoring"
	"ai-fraud-guard/internal/service/session"
	"ai-fraud-guard/internal/service/stt"
)

// Limits bounds a single media session.
type Limits struct {
	MaxAudioBytes int64         // Max decoded PCM pushed into the engine
	MaxDuration   time.Duration // Max session duration
}

// DefaultLimits returns limits sized for a call held open by a 600 second pause.
func DefaultLimits() Limits {
	return Limits{
		MaxAudioBytes: 12 * 1024 * 1024, // ~13 minutes at 8kHz 16-bit mono
		MaxDuration:   11 * time.Minute,
	}
}

// DefaultMinTranscriptChars is the length a partial transcript must exceed to be scored.
const DefaultMinTranscriptChars = 10

// Dispatcher accepts fragments for asynchronous scoring.
type Dispatcher interface {
	Dispatch(f scoring.Fragment)
}

// Config identifies a session and tunes the bridge.
type Config struct {
	SessionID          string
	CallSID            string
	Provider           string
	MinTranscriptChars int
	Limits             Limits
}

// Stats holds session usage counters.
type Stats struct {
	AudioBytes int64
	Partials   int
	Finals     int
	Dispatched int
	Duration   time.Duration
}

// Bridge owns one transcription session for one media session.
// It implements stt.Callback.
type Bridge struct {
	adapter    stt.Adapter
	dispatcher Dispatcher
	cfg        Config
	lifecycle  *session.Lifecycle
	metrics    *metrics.Metrics
	log        zerolog.Logger

	mu    sync.Mutex
	stats Stats

	closeOnce sync.Once
	closeErr  error
}

// NewBridge creates a bridge. Start must be called before Write.
func NewBridge(adapter stt.Adapter, d Dispatcher, cfg Config, m *metrics.Metrics) *Bridge {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	if cfg.MinTranscriptChars <= 0 {
		cfg.MinTranscriptChars = DefaultMinTranscriptChars
	}
	return &Bridge{
		adapter:    adapter,
		dispatcher: d,
		cfg:        cfg,
		lifecycle:  session.NewLifecycle(cfg.SessionID),
		metrics:    m,
		log:        logging.WithStream(cfg.SessionID, cfg.CallSID, cfg.Provider),
	}
}

// Start opens the transcription session with this bridge as the callback receiver.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.lifecycle.Start(); err != nil {
		return err
	}
	if err := b.adapter.Start(ctx, b); err != nil {
		b.Drop(fmt.Sprintf("stt start failed: %v", err))
		return fmt.Errorf("start transcription: %w", err)
	}
	b.metrics.RecordSessionStart()
	b.log.Info().Msg("Transcription session started")
	return nil
}

// Write pushes 16-bit little-endian PCM into the engine synchronously.
// Exceeding a session limit drops the session.
func (b *Bridge) Write(ctx context.Context, pcm []byte) error {
	if err := b.lifecycle.AcceptAudio(); err != nil {
		return err
	}

	b.mu.Lock()
	b.stats.AudioBytes += int64(len(pcm))
	total := b.stats.AudioBytes
	b.mu.Unlock()

	if b.cfg.Limits.MaxAudioBytes > 0 && total > b.cfg.Limits.MaxAudioBytes {
		reason := fmt.Sprintf("max audio bytes exceeded: %d > %d", total, b.cfg.Limits.MaxAudioBytes)
		b.Drop(reason)
		return fmt.Errorf("session limit exceeded: %s", reason)
	}
	if elapsed := time.Since(b.lifecycle.StartedAt()); b.cfg.Limits.MaxDuration > 0 && elapsed > b.cfg.Limits.MaxDuration {
		reason := fmt.Sprintf("max duration exceeded: %v > %v", elapsed.Round(time.Second), b.cfg.Limits.MaxDuration)
		b.Drop(reason)
		return fmt.Errorf("session limit exceeded: %s", reason)
	}

	if err := b.adapter.SendAudio(ctx, pcm); err != nil {
		return fmt.Errorf("send audio: %w", err)
	}
	b.metrics.RecordAudioReceived(len(pcm))
	return nil
}

// Close stops the transcription session and releases the engine. Safe to
// call more than once and after Drop.
func (b *Bridge) Close(reason string) error {
	b.closeOnce.Do(func() {
		if b.lifecycle.Close(reason) {
			b.metrics.RecordSessionEnd("closed")
		}
		b.closeErr = b.adapter.Close()

		s := b.Stats()
		b.log.Info().
			Str("reason", b.lifecycle.EndReason()).
			Str("state", b.lifecycle.State().String()).
			Int64("audioBytes", s.AudioBytes).
			Int("partials", s.Partials).
			Int("finals", s.Finals).
			Int("dispatched", s.Dispatched).
			Dur("duration", s.Duration).
			Msg("Transcription session closed")
	})
	return b.closeErr
}

// Drop abandons the session: later audio and transcripts are ignored.
// Returns false if the session already ended.
func (b *Bridge) Drop(reason string) bool {
	if !b.lifecycle.Drop(reason) {
		return false
	}
	b.metrics.RecordSessionEnd("dropped")
	b.log.Warn().Str("reason", reason).Msg("Transcription session dropped")
	return true
}

// SessionID returns the media session id.
func (b *Bridge) SessionID() string {
	return b.cfg.SessionID
}

// State returns the session lifecycle state.
func (b *Bridge) State() session.State {
	return b.lifecycle.State()
}

// Stats returns current usage counters.
func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	if started := b.lifecycle.StartedAt(); !started.IsZero() {
		s.Duration = time.Since(started)
	}
	return s
}

// --- stt.Callback implementation ---

// OnPartial dispatches transcripts longer than the minimum length for
// scoring. It never waits on the scoring result.
func (b *Bridge) OnPartial(text string) {
	if !b.lifecycle.IsStreaming() {
		b.log.Debug().Str("state", b.lifecycle.State().String()).Msg("Partial ignored")
		return
	}
	b.metrics.RecordPartialTranscript()

	dispatch := utf8.RuneCountInString(text) > b.cfg.MinTranscriptChars
	b.mu.Lock()
	b.stats.Partials++
	if dispatch {
		b.stats.Dispatched++
	}
	b.mu.Unlock()
	b.metrics.RecordFragment(dispatch)

	if !dispatch {
		return
	}
	b.log.Debug().Str("text", text).Msg("Partial transcript dispatched for scoring")
	b.dispatcher.Dispatch(scoring.Fragment{
		SessionID: b.cfg.SessionID,
		CallSID:   b.cfg.CallSID,
		Text:      text,
	})
}

// OnFinal records a final transcript. Finals are not scored.
func (b *Bridge) OnFinal(text string, confidence float64) {
	if !b.lifecycle.IsStreaming() {
		return
	}
	b.metrics.RecordFinalTranscript()
	b.mu.Lock()
	b.stats.Finals++
	b.mu.Unlock()
	b.log.Debug().Str("text", text).Float64("confidence", confidence).Msg("Final transcript")
}

// OnError drops the session. The call keeps flowing but is no longer transcribed.
func (b *Bridge) OnError(err error) {
	b.metrics.RecordSTTError(b.cfg.Provider, "stream")
	b.log.Error().Err(err).Msg("STT stream error")
	b.Drop(fmt.Sprintf("stt error: %v", err))
}
