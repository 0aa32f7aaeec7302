package events

import (
	"context"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"

	"ai-fraud-guard/internal/models"
	"ai-fraud-guard/internal/observability/metrics"
)

func TestNew_LogOnlyMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"nil brokers", &Config{Enabled: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			if p.Enabled() {
				t.Error("expected log-only publisher")
			}
			if p.score.w != nil || p.alert.w != nil {
				t.Error("expected no writers in log-only mode")
			}
		})
	}
}

func TestNew_KeepsTopicsInLogOnlyMode(t *testing.T) {
	p := New(&Config{
		Brokers:    []string{"localhost:9092"},
		TopicScore: "fraud.call.scored",
		TopicAlert: "fraud.call.alert",
		Principal:  "svc-test",
	})

	if p.score.topic != "fraud.call.scored" || p.alert.topic != "fraud.call.alert" {
		t.Errorf("unexpected topics %q/%q", p.score.topic, p.alert.topic)
	}
	if p.principal != "svc-test" {
		t.Errorf("expected principal svc-test, got %q", p.principal)
	}
}

func TestNew_EnabledWriters(t *testing.T) {
	p := New(&Config{
		Enabled:    true,
		Brokers:    []string{"localhost:9092"},
		TopicScore: "s",
		TopicAlert: "a",
	})
	defer p.Close()

	if !p.Enabled() {
		t.Fatal("expected Kafka publisher")
	}
	if p.score.w.Topic != "s" || p.alert.w.Topic != "a" {
		t.Errorf("unexpected writer topics %s/%s", p.score.w.Topic, p.alert.w.Topic)
	}
	if !p.score.w.Async || p.alert.w.Async {
		t.Error("expected async score writer and sync alert writer")
	}
	if p.score.w.RequiredAcks != kafka.RequireOne || p.alert.w.RequiredAcks != kafka.RequireAll {
		t.Errorf("unexpected acks score=%v alert=%v", p.score.w.RequiredAcks, p.alert.w.RequiredAcks)
	}
}

func TestPublish_LogOnlyRecordsMetrics(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	p := New(&Config{TopicScore: "scores", TopicAlert: "alerts", Metrics: m})
	ctx := context.Background()

	score := models.FragmentScored{EventType: models.EventTypeScored, SessionID: "ms-1", Text: "your account is locked", Score: 0.2}
	if err := p.PublishScore(ctx, "ms-1", score); err != nil {
		t.Errorf("PublishScore: %v", err)
	}
	alert := models.FraudAlertRaised{EventType: models.EventTypeAlert, SessionID: "ms-1", Reason: "r", Score: 0.9}
	if err := p.PublishAlert(ctx, "ms-1", alert); err != nil {
		t.Errorf("PublishAlert: %v", err)
	}

	if got := testutil.ToFloat64(m.KafkaPublishTotal.WithLabelValues("scores", "scored")); got != 1 {
		t.Errorf("expected 1 score publish, got %v", got)
	}
	if got := testutil.ToFloat64(m.KafkaPublishTotal.WithLabelValues("alerts", "alert")); got != 1 {
		t.Errorf("expected 1 alert publish, got %v", got)
	}
	if got := testutil.CollectAndCount(m.KafkaPublishErrors); got != 0 {
		t.Errorf("expected no publish errors, got %d series", got)
	}
}

func TestPublish_MarshalError(t *testing.T) {
	p := New(nil)

	if err := p.PublishScore(context.Background(), "k", map[string]float64{"score": math.NaN()}); err == nil {
		t.Error("expected marshal error for NaN")
	}
}

func TestClose_LogOnly(t *testing.T) {
	if err := New(nil).Close(); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}
