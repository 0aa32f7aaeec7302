// Package stt is the port between a media session and a streaming
// speech recognition engine.
package stt

import "context"

// Callback receives recognition results for one session. Calls may come
// from an engine goroutine.
type Callback interface {
	// OnPartial receives an in-progress hypothesis. Later partials replace earlier ones.
	OnPartial(text string)
	// OnFinal receives a settled transcript for one utterance.
	OnFinal(text string, confidence float64)
	// OnError reports a stream failure. No results follow it.
	OnError(err error)
}

// Adapter is one streaming recognition session fed with 8 kHz mono
// 16-bit little-endian PCM.
type Adapter interface {
	Start(ctx context.Context, cb Callback) error
	// SendAudio pushes PCM in arrival order.
	SendAudio(ctx context.Context, pcm []byte) error
	// Close stops recognition and releases the engine.
	Close() error
}

// Factory opens one Adapter per media session.
type Factory func(ctx context.Context) (Adapter, error)
