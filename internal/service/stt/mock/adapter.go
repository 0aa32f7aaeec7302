// Package mock provides a mock STT adapter for running without cloud credentials.
// It replays scripted utterances: one partial per audio frame, then exactly
// one final once the partials are exhausted.
package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ai-fraud-guard/internal/service/stt"
)

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials   []string // Progressive partial transcripts
	Final      string   // Final transcript text
	Confidence float64  // Confidence score for final
}

// DefaultUtterances are typical scam call openings.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials: []string{
			"This is the",
			"This is the IRS calling",
			"This is the IRS calling about your unpaid taxes",
		},
		Final:      "This is the IRS calling about your unpaid taxes and a warrant for your arrest",
		Confidence: 0.93,
	},
	{
		Partials: []string{
			"Your bank",
			"Your bank account has been",
			"Your bank account has been compromised please",
		},
		Final:      "Your bank account has been compromised please read me the code we just sent",
		Confidence: 0.91,
	},
	{
		Partials: []string{
			"You need to",
			"You need to buy gift cards",
			"You need to buy gift cards right now",
		},
		Final:      "You need to buy gift cards right now to avoid the penalty",
		Confidence: 0.88,
	},
	{
		Partials: []string{
			"Hi grandma",
			"Hi grandma it's me I'm in",
			"Hi grandma it's me I'm in trouble",
		},
		Final:      "Hi grandma it's me I'm in trouble and I need bail money",
		Confidence: 0.9,
	},
}

// DefaultDelay simulates recognizer latency.
const DefaultDelay = 50 * time.Millisecond

// Adapter implements stt.Adapter with scripted responses. Results are
// delivered in order from a single goroutine after the simulated delay.
type Adapter struct {
	mu           sync.Mutex
	utterances   []SimulatedUtterance
	delay        time.Duration
	current      int // index into utterances
	partialIndex int // next partial to send
	framesSeen   int
	results      chan func(stt.Callback)
	done         chan struct{}

	closed atomic.Bool
}

// utteranceCounter picks the starting script for each new adapter.
var (
	utteranceCounter int
	counterMu        sync.Mutex
)

// New creates a mock adapter starting at the next default utterance.
func New() *Adapter {
	counterMu.Lock()
	idx := utteranceCounter % len(DefaultUtterances)
	utteranceCounter++
	counterMu.Unlock()

	script := append(append([]SimulatedUtterance{}, DefaultUtterances[idx:]...), DefaultUtterances[:idx]...)
	return NewWithScript(script, DefaultDelay)
}

// NewWithScript creates a mock adapter that plays utterances in order.
func NewWithScript(utterances []SimulatedUtterance, delay time.Duration) *Adapter {
	return &Adapter{
		utterances: utterances,
		delay:      delay,
	}
}

// NewFactory returns an stt.Factory producing mock adapters.
func NewFactory() stt.Factory {
	return func(ctx context.Context) (stt.Adapter, error) {
		return New(), nil
	}
}

// Start begins a mock transcription session.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.results != nil || a.closed.Load() {
		return nil
	}
	a.results = make(chan func(stt.Callback), 256)
	a.done = make(chan struct{})
	go a.run(cb, a.results, a.done)
	return nil
}

func (a *Adapter) run(cb stt.Callback, results <-chan func(stt.Callback), done chan<- struct{}) {
	defer close(done)
	for fn := range results {
		if a.closed.Load() {
			continue
		}
		time.Sleep(a.delay)
		if a.closed.Load() {
			continue
		}
		fn(cb)
	}
}

// SendAudio advances the script by one step per frame.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed.Load() || a.results == nil || len(a.utterances) == 0 {
		return nil
	}
	a.framesSeen++

	utt := a.utterances[a.current%len(a.utterances)]
	if a.partialIndex < len(utt.Partials) {
		text := utt.Partials[a.partialIndex]
		a.partialIndex++
		a.results <- func(cb stt.Callback) { cb.OnPartial(text) }
		return nil
	}

	// Partials exhausted: emit the final and move on to the next utterance.
	a.partialIndex = 0
	a.current++
	a.results <- func(cb stt.Callback) { cb.OnFinal(utt.Final, utt.Confidence) }
	return nil
}

// FramesSeen returns the number of audio frames accepted.
func (a *Adapter) FramesSeen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.framesSeen
}

// Close ends the mock session. Pending results are discarded.
func (a *Adapter) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	a.mu.Lock()
	results, done := a.results, a.done
	if results != nil {
		close(results)
	}
	a.mu.Unlock()

	if done != nil {
		<-done
	}
	return nil
}
