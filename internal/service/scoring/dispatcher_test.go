package scoring

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// blockingPredictor records peak concurrency and blocks until released.
type blockingPredictor struct {
	release chan struct{}
	started chan struct{}
	active  atomic.Int32
	peak    atomic.Int32
	calls   atomic.Int32
	score   float64
}

func (p *blockingPredictor) Predict(ctx context.Context, text string) (Prediction, error) {
	n := p.active.Add(1)
	defer p.active.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	p.calls.Add(1)
	p.started <- struct{}{}
	<-p.release
	return Prediction{Score: p.score}, ctx.Err()
}

func TestDispatcher_BoundsConcurrency(t *testing.T) {
	pred := &blockingPredictor{release: make(chan struct{}), started: make(chan struct{}, 16)}
	e := NewEvaluator(pred, &recordingAlerter{}, nil, 0.8, newTestMetrics())
	d := NewDispatcher(context.Background(), e, 2, newTestMetrics())

	for i := 0; i < 6; i++ {
		d.Dispatch(Fragment{SessionID: "ms-1", Text: "fragment text number"})
	}

	// Two tasks may run; the rest wait for a slot.
	<-pred.started
	<-pred.started
	select {
	case <-pred.started:
		t.Fatal("more than two scoring requests in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(pred.release)
	d.Wait()

	if pred.calls.Load() != 6 {
		t.Errorf("expected 6 scoring calls, got %d", pred.calls.Load())
	}
	if pred.peak.Load() > 2 {
		t.Errorf("expected peak concurrency <= 2, got %d", pred.peak.Load())
	}
}

func TestDispatcher_DoesNotBlockCaller(t *testing.T) {
	pred := &blockingPredictor{release: make(chan struct{}), started: make(chan struct{}, 16)}
	e := NewEvaluator(pred, &recordingAlerter{}, nil, 0.8, newTestMetrics())
	d := NewDispatcher(context.Background(), e, 1, newTestMetrics())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 3; i++ {
			d.Dispatch(Fragment{Text: "fragment text number"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on an in-flight scoring request")
	}
	close(pred.release)
	d.Wait()
}

func TestDispatcher_SurvivesParentCancellation(t *testing.T) {
	pred := &blockingPredictor{release: make(chan struct{}), started: make(chan struct{}, 1), score: 0.9}
	alerter := &recordingAlerter{}
	e := NewEvaluator(pred, alerter, nil, 0.8, newTestMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(ctx, e, 4, newTestMetrics())

	d.Dispatch(Fragment{SessionID: "ms-1", Text: "this is the irs calling"})
	<-pred.started
	cancel()
	close(pred.release)
	d.Wait()

	if alerter.count() != 1 {
		t.Errorf("expected the in-flight task to complete and alert, got %d alerts", alerter.count())
	}
}

func TestDispatcher_RefusesWorkWhileDraining(t *testing.T) {
	pred := &blockingPredictor{release: make(chan struct{}), started: make(chan struct{}, 4)}
	e := NewEvaluator(pred, &recordingAlerter{}, nil, 0.8, newTestMetrics())
	d := NewDispatcher(context.Background(), e, 4, newTestMetrics())

	d.Dispatch(Fragment{SessionID: "ms-1", Text: "before shutdown begins"})
	<-pred.started

	waited := make(chan struct{})
	go func() {
		d.Wait()
		close(waited)
	}()
	// Wait must have marked the dispatcher draining before it blocks.
	deadline := time.Now().Add(time.Second)
	for {
		d.mu.Lock()
		draining := d.draining
		d.mu.Unlock()
		if draining || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	d.Dispatch(Fragment{SessionID: "ms-1", Text: "arrives during shutdown"})
	close(pred.release)

	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return")
	}
	if got := pred.calls.Load(); got != 1 {
		t.Errorf("expected only the fragment dispatched before Wait to be scored, got %d", got)
	}
}
