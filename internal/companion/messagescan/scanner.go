// Package messagescan scores on-screen message text and raises the overlay
// alert when it looks like a scam.
package messagescan

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-fraud-guard/internal/observability/logging"
	"ai-fraud-guard/internal/observability/metrics"
	"ai-fraud-guard/internal/service/scoring"
)

// AlertReason is shown on the overlay for a risky message.
const AlertReason = "Suspicious message detected!"

// DefaultThreshold is the configured default for the message path.
const DefaultThreshold = 0.40

// Alerter raises the overlay alert.
type Alerter interface {
	Alert(reason string)
}

// Scanner scores each new screen text once.
type Scanner struct {
	predictor scoring.Predictor
	alerter   Alerter
	threshold float64
	metrics   *metrics.Metrics
	log       zerolog.Logger

	mu   sync.Mutex
	last string
}

// New creates a scanner that alerts on scores strictly above threshold.
func New(p scoring.Predictor, a Alerter, threshold float64, m *metrics.Metrics) *Scanner {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Scanner{
		predictor: p,
		alerter:   a,
		threshold: threshold,
		metrics:   m,
		log:       logging.WithComponent("messagescan"),
	}
}

// Observe scores text unless it is blank or identical to the previous
// text. It returns whether an alert was raised. Scoring failures are
// logged and dropped.
func (s *Scanner) Observe(ctx context.Context, text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	s.mu.Lock()
	if text == s.last {
		s.mu.Unlock()
		return false
	}
	s.last = text
	s.mu.Unlock()

	start := time.Now()
	pred, err := s.predictor.Predict(ctx, text)
	s.metrics.RecordScoring(scoring.ChannelMessage, err, time.Since(start).Seconds())
	if err != nil {
		s.log.Error().Err(err).Msg("Message scoring failed")
		return false
	}

	s.log.Debug().Float64("score", pred.Score).Msg("Message scored")
	if pred.Score <= s.threshold {
		return false
	}
	s.log.Warn().
		Float64("score", pred.Score).
		Float64("threshold", s.threshold).
		Msg("Suspicious message detected")
	s.metrics.RecordFraudAlert(scoring.ChannelMessage)
	s.alerter.Alert(AlertReason)
	return true
}
