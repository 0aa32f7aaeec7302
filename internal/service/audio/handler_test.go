package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"ai-fraud-guard/internal/observability/metrics"
	"ai-fraud-guard/internal/service/scoring"
	"ai-fraud-guard/internal/service/session"
	"ai-fraud-guard/internal/service/stt"
)

// testAdapter implements stt.Adapter for testing
type testAdapter struct {
	mu       sync.Mutex
	started  bool
	closed   int
	audio    [][]byte
	cb       stt.Callback
	startErr error
}

func (a *testAdapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.startErr != nil {
		return a.startErr
	}
	a.started = true
	a.cb = cb
	return nil
}

func (a *testAdapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.audio = append(a.audio, audio)
	return nil
}

func (a *testAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed++
	return nil
}

// recordingDispatcher captures fragments instead of scoring them.
type recordingDispatcher struct {
	mu        sync.Mutex
	fragments []scoring.Fragment
}

func (d *recordingDispatcher) Dispatch(f scoring.Fragment) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fragments = append(d.fragments, f)
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.fragments)
}

func newTestBridge(t *testing.T, limits Limits) (*Bridge, *testAdapter, *recordingDispatcher, *metrics.Metrics) {
	t.Helper()
	adapter := &testAdapter{}
	d := &recordingDispatcher{}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	b := NewBridge(adapter, d, Config{
		SessionID: "ms-1",
		CallSID:   "CA1",
		Provider:  "mock",
		Limits:    limits,
	}, m)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return b, adapter, d, m
}

func TestBridge_WriteForwardsAudioInOrder(t *testing.T) {
	b, adapter, _, m := newTestBridge(t, DefaultLimits())

	frames := [][]byte{{1, 2}, {3, 4}, {5, 6}}
	for _, f := range frames {
		if err := b.Write(context.Background(), f); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	if len(adapter.audio) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(adapter.audio))
	}
	for i, f := range frames {
		if adapter.audio[i][0] != f[0] {
			t.Errorf("frame %d out of order", i)
		}
	}
	if got := testutil.ToFloat64(m.AudioBytesReceived); got != 6 {
		t.Errorf("expected 6 audio bytes, got %v", got)
	}
}

func TestBridge_WriteBeforeStart(t *testing.T) {
	b := NewBridge(&testAdapter{}, &recordingDispatcher{}, Config{SessionID: "ms-1"}, metrics.NewMetrics(prometheus.NewRegistry()))

	if err := b.Write(context.Background(), []byte{1, 2}); !errors.Is(err, session.ErrNotStreaming) {
		t.Errorf("expected ErrNotStreaming, got %v", err)
	}
}

func TestBridge_StartFailureDropsSession(t *testing.T) {
	adapter := &testAdapter{startErr: errors.New("no credentials")}
	b := NewBridge(adapter, &recordingDispatcher{}, Config{SessionID: "ms-1"}, metrics.NewMetrics(prometheus.NewRegistry()))

	if err := b.Start(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
	if b.State() != session.StateDropped {
		t.Errorf("expected DROPPED, got %v", b.State())
	}
}

func TestBridge_PartialLengthThreshold(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected int
	}{
		{"empty", "", 0},
		{"short", "hello", 0},
		{"exactly ten", "0123456789", 0},
		{"eleven", "0123456789a", 1},
		{"sentence", "this is the irs calling", 1},
		{"multibyte ten", "éééééééééé", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _, d, _ := newTestBridge(t, DefaultLimits())
			b.OnPartial(tt.text)
			if d.count() != tt.expected {
				t.Errorf("OnPartial(%q) dispatched %d fragments, want %d", tt.text, d.count(), tt.expected)
			}
		})
	}
}

func TestBridge_FragmentCarriesSessionContext(t *testing.T) {
	b, _, d, m := newTestBridge(t, DefaultLimits())

	b.OnPartial("this is the irs calling")

	f := d.fragments[0]
	if f.SessionID != "ms-1" || f.CallSID != "CA1" || f.Text != "this is the irs calling" {
		t.Errorf("unexpected fragment %+v", f)
	}
	if got := testutil.ToFloat64(m.FragmentsScored); got != 1 {
		t.Errorf("expected one scored fragment metric, got %v", got)
	}
}

func TestBridge_FinalsAreNotScored(t *testing.T) {
	b, _, d, _ := newTestBridge(t, DefaultLimits())

	b.OnFinal("this is the irs calling about your taxes", 0.9)

	if d.count() != 0 {
		t.Error("final transcripts must not be dispatched")
	}
	if b.Stats().Finals != 1 {
		t.Errorf("expected one final, got %d", b.Stats().Finals)
	}
}

func TestBridge_MaxAudioBytesLimit(t *testing.T) {
	b, adapter, _, _ := newTestBridge(t, Limits{MaxAudioBytes: 100, MaxDuration: time.Hour})
	ctx := context.Background()

	if err := b.Write(ctx, make([]byte, 50)); err != nil {
		t.Fatalf("first write should succeed: %v", err)
	}
	if err := b.Write(ctx, make([]byte, 60)); err == nil {
		t.Fatal("expected error when exceeding max audio bytes")
	}
	if b.State() != session.StateDropped {
		t.Errorf("expected DROPPED, got %v", b.State())
	}
	if err := b.Write(ctx, make([]byte, 2)); !errors.Is(err, session.ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed after drop, got %v", err)
	}
	if len(adapter.audio) != 1 {
		t.Errorf("expected only the first frame forwarded, got %d", len(adapter.audio))
	}
}

func TestBridge_MaxDurationLimit(t *testing.T) {
	b, _, _, _ := newTestBridge(t, Limits{MaxDuration: time.Millisecond})

	time.Sleep(5 * time.Millisecond)
	if err := b.Write(context.Background(), []byte{1, 2}); err == nil {
		t.Fatal("expected error when exceeding max duration")
	}
	if b.State() != session.StateDropped {
		t.Errorf("expected DROPPED, got %v", b.State())
	}
}

func TestBridge_ErrorDropsSession(t *testing.T) {
	b, _, d, m := newTestBridge(t, DefaultLimits())

	b.OnError(errors.New("stream reset"))
	b.OnPartial("this is the irs calling")

	if b.State() != session.StateDropped {
		t.Errorf("expected DROPPED, got %v", b.State())
	}
	if d.count() != 0 {
		t.Error("partials after a dropped session must be ignored")
	}
	if got := testutil.ToFloat64(m.STTErrors.WithLabelValues("mock", "stream")); got != 1 {
		t.Errorf("expected one STT error, got %v", got)
	}
}

func TestBridge_CloseStopsEngine(t *testing.T) {
	b, adapter, d, _ := newTestBridge(t, DefaultLimits())

	if err := b.Close("socket closed"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close("again"); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if adapter.closed != 1 {
		t.Errorf("expected engine closed once, got %d", adapter.closed)
	}
	if b.State() != session.StateClosed {
		t.Errorf("expected CLOSED, got %v", b.State())
	}

	b.OnPartial("this is the irs calling")
	if d.count() != 0 {
		t.Error("partials after close must be ignored")
	}
	if err := b.Write(context.Background(), []byte{1, 2}); !errors.Is(err, session.ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
}

func TestBridge_CloseAfterDropReleasesEngine(t *testing.T) {
	b, adapter, _, _ := newTestBridge(t, DefaultLimits())

	b.Drop("max audio bytes exceeded")
	b.Close("socket closed")

	if adapter.closed != 1 {
		t.Errorf("expected engine released after drop, got %d closes", adapter.closed)
	}
	if b.State() != session.StateDropped {
		t.Errorf("expected DROPPED to stick, got %v", b.State())
	}
}
