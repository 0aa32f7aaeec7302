package scoring

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"ai-fraud-guard/internal/models"
	"ai-fraud-guard/internal/observability/logging"
	"ai-fraud-guard/internal/observability/metrics"
)

// CallAlertReason is the reason carried by every live-call fraud alert.
const CallAlertReason = "High risk activity detected in call."

// Channels label metrics and audit events by the path that produced the text.
const (
	ChannelCall    = "call"
	ChannelMessage = "message"
)

// Fragment is one partial transcript selected for scoring.
type Fragment struct {
	SessionID string
	CallSID   string
	Text      string
}

// Alerter delivers a fraud alert to the companion app.
type Alerter interface {
	SendFraudAlert(reason string) error
}

// AuditPublisher records scoring decisions.
type AuditPublisher interface {
	PublishScore(ctx context.Context, key string, event any) error
	PublishAlert(ctx context.Context, key string, event any) error
}

// Outcome summarizes one evaluation.
type Outcome struct {
	Score     float64
	Alerted   bool
	Delivered bool
}

// Evaluator scores fragments and raises an alert for every fragment whose
// score is strictly above the threshold. Alerts are not de-duplicated.
type Evaluator struct {
	predictor Predictor
	alerter   Alerter
	publisher AuditPublisher
	threshold float64
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

// NewEvaluator creates an Evaluator. publisher may be nil.
func NewEvaluator(p Predictor, a Alerter, publisher AuditPublisher, threshold float64, m *metrics.Metrics) *Evaluator {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Evaluator{
		predictor: p,
		alerter:   a,
		publisher: publisher,
		threshold: threshold,
		metrics:   m,
		log:       logging.WithComponent("scoring"),
	}
}

// Threshold returns the call threshold.
func (e *Evaluator) Threshold() float64 {
	return e.threshold
}

// Evaluate scores f. Scoring failures are logged and returned; no alert is
// raised for them.
func (e *Evaluator) Evaluate(ctx context.Context, f Fragment) (Outcome, error) {
	start := time.Now()
	pred, err := e.predictor.Predict(ctx, f.Text)
	e.metrics.RecordScoring(ChannelCall, err, time.Since(start).Seconds())
	if err != nil {
		e.log.Error().
			Err(err).
			Str("sessionId", f.SessionID).
			Str("callSid", f.CallSID).
			Msg("Scoring failed, fragment dropped")
		return Outcome{}, err
	}

	out := Outcome{Score: pred.Score}
	e.log.Info().
		Str("sessionId", f.SessionID).
		Float64("score", pred.Score).
		Float64("threshold", e.threshold).
		Msg("Fragment scored")

	e.audit(ctx, f.SessionID, func(ctx context.Context, key string) error {
		return e.publisher.PublishScore(ctx, key, models.FragmentScored{
			EventType: models.EventTypeScored,
			SessionID: f.SessionID,
			CallSID:   f.CallSID,
			Channel:   ChannelCall,
			Text:      f.Text,
			Score:     pred.Score,
			Threshold: e.threshold,
			Timestamp: time.Now().UnixMilli(),
		})
	})

	if pred.Score <= e.threshold {
		return out, nil
	}

	out.Alerted = true
	e.metrics.RecordFraudAlert(ChannelCall)
	if err := e.alerter.SendFraudAlert(CallAlertReason); err != nil {
		e.log.Warn().
			Err(err).
			Str("sessionId", f.SessionID).
			Float64("score", pred.Score).
			Msg("Fraud detected but companion app not reachable, alert dropped")
	} else {
		out.Delivered = true
		e.log.Warn().
			Str("sessionId", f.SessionID).
			Float64("score", pred.Score).
			Msg("Fraud detected, alert sent")
	}

	e.audit(ctx, f.SessionID, func(ctx context.Context, key string) error {
		return e.publisher.PublishAlert(ctx, key, models.FraudAlertRaised{
			EventType: models.EventTypeAlert,
			SessionID: f.SessionID,
			CallSID:   f.CallSID,
			Channel:   ChannelCall,
			Reason:    CallAlertReason,
			Score:     pred.Score,
			Delivered: out.Delivered,
			Timestamp: time.Now().UnixMilli(),
		})
	})
	return out, nil
}

func (e *Evaluator) audit(ctx context.Context, key string, publish func(context.Context, string) error) {
	if e.publisher == nil {
		return
	}
	if err := publish(ctx, key); err != nil {
		e.log.Error().Err(err).Str("sessionId", key).Msg("Failed to publish audit event")
	}
}
