package app

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"ai-fraud-guard/internal/config"
	"ai-fraud-guard/internal/observability/metrics"
	"ai-fraud-guard/internal/service/stt/mock"
)

func testConfig() *config.Configuration {
	cfg := config.Defaults()
	cfg.Service.HTTPPort = "0"
	cfg.Service.GRPCPort = "0"
	cfg.Service.MetricsPort = "0"
	cfg.Observability.LogLevel = "error"
	return cfg
}

func TestNewSTTFactory(t *testing.T) {
	tests := []struct {
		provider string
		wantErr  bool
	}{
		{"mock", false},
		{"", false},
		{"google", false},
		{"azure", true},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			f, err := NewSTTFactory(config.STTConfig{Provider: tt.provider})
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewSTTFactory(%q) error = %v, wantErr %v", tt.provider, err, tt.wantErr)
			}
			if !tt.wantErr && f == nil {
				t.Error("expected a factory")
			}
		})
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	cfg := testConfig()
	cfg.STT.Provider = "azure"

	if _, err := New(cfg, WithMetrics(metrics.NewMetrics(prometheus.NewRegistry()))); err == nil {
		t.Fatal("expected error for unknown STT provider")
	}
}

func TestNew_WiresComponents(t *testing.T) {
	a, err := New(testConfig(),
		WithMetrics(metrics.NewMetrics(prometheus.NewRegistry())),
		WithSTTFactory(mock.NewFactory()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if a.Router == nil || a.Channel == nil || a.Dispatcher == nil || a.Registry == nil {
		t.Fatal("expected all components to be wired")
	}
	if a.Evaluator.Threshold() != 0.8 {
		t.Errorf("expected call threshold 0.8, got %v", a.Evaluator.Threshold())
	}
	if a.Ready() {
		t.Error("application must not be ready before Run")
	}
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	a, err := New(testConfig(), WithMetrics(metrics.NewMetrics(prometheus.NewRegistry())))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !a.Ready() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !a.Ready() {
		t.Fatal("application never became ready")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if a.Ready() {
		t.Error("application must not be ready after shutdown")
	}
}

func TestRun_ShutdownClosesMediaSockets(t *testing.T) {
	scorer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"score":0.1}`))
	}))
	defer scorer.Close()

	cfg := testConfig()
	cfg.Scoring.URL = scorer.URL
	m := metrics.NewMetrics(prometheus.NewRegistry())
	a, err := New(cfg, WithMetrics(m), WithSTTFactory(mock.NewFactory()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for a.HTTPAddr() == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	addr, ok := a.HTTPAddr().(*net.TCPAddr)
	if !ok {
		t.Fatal("relay listener never came up")
	}

	url := fmt.Sprintf("ws://127.0.0.1:%d/", addr.Port)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	start := map[string]any{"event": "start", "start": map[string]string{"callSid": "CA1"}}
	media := map[string]any{"event": "media", "media": map[string]string{
		"payload": base64.StdEncoding.EncodeToString(make([]byte, 160)),
	}}
	if err := conn.WriteJSON(start); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := conn.WriteJSON(media); err != nil {
		t.Fatalf("media: %v", err)
	}
	for testutil.ToFloat64(m.AudioBytesReceived) == 0 && time.Now().Before(deadline.Add(time.Second)) {
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if got := testutil.ToFloat64(m.ConnectionsActive); got != 0 {
		t.Errorf("expected no live connections after Run, got %v", got)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err = conn.ReadMessage(); err != nil {
			break
		}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		t.Error("media socket still open after Run returned")
	}
}
