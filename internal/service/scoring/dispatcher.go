package scoring

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"ai-fraud-guard/internal/observability/logging"
	"ai-fraud-guard/internal/observability/metrics"
)

// Dispatcher runs one scoring task per fragment in its own goroutine.
// Tasks are bounded by a weighted semaphore, unordered, and outlive the
// media connection that produced them.
type Dispatcher struct {
	evaluator *Evaluator
	sem       *semaphore.Weighted
	ctx       context.Context
	metrics   *metrics.Metrics
	log       zerolog.Logger

	mu       sync.Mutex
	wg       sync.WaitGroup
	draining bool
}

// NewDispatcher creates a Dispatcher allowing at most maxInFlight concurrent
// scoring requests. ctx carries values only; its cancellation does not stop tasks.
func NewDispatcher(ctx context.Context, e *Evaluator, maxInFlight int64, m *metrics.Metrics) *Dispatcher {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Dispatcher{
		evaluator: e,
		sem:       semaphore.NewWeighted(maxInFlight),
		ctx:       context.WithoutCancel(ctx),
		metrics:   m,
		log:       logging.WithComponent("scoring-dispatcher"),
	}
}

// Dispatch schedules f for scoring and returns immediately. Fragments
// arriving after Wait has begun are dropped.
func (d *Dispatcher) Dispatch(f Fragment) {
	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		d.log.Warn().Str("sessionId", f.SessionID).Msg("Dispatcher draining, fragment dropped")
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		if err := d.sem.Acquire(d.ctx, 1); err != nil {
			d.log.Error().Err(err).Str("sessionId", f.SessionID).Msg("Scoring slot unavailable")
			return
		}
		defer d.sem.Release(1)

		d.metrics.ScoringInFlight.Inc()
		defer d.metrics.ScoringInFlight.Dec()

		_, _ = d.evaluator.Evaluate(d.ctx, f)
	}()
}

// Wait stops accepting fragments and blocks until every dispatched task
// has finished.
func (d *Dispatcher) Wait() {
	d.mu.Lock()
	d.draining = true
	d.mu.Unlock()
	d.wg.Wait()
}
