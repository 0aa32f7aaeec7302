// Package google provides a Google Cloud Speech-to-Text adapter.
package google

import (
	"context"
	"errors"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ai-fraud-guard/internal/service/stt"
)

// Config holds Google STT configuration.
type Config struct {
	LanguageCode    string
	SampleRateHz    int
	InterimResults  bool
	CredentialsFile string
}

// DefaultConfig returns the telephony defaults: 8kHz mono LINEAR16, en-US, interim results on.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   8000,
		InterimResults: true,
	}
}

// recognizeStream is the subset of the streaming client the adapter uses.
type recognizeStream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

// Adapter implements stt.Adapter using Google Cloud Speech-to-Text.
type Adapter struct {
	client *speech.Client
	config Config

	mu     sync.Mutex
	stream recognizeStream
	cb     stt.Callback
	closed bool
	done   chan struct{}
}

// New creates a new Google STT adapter. Without an explicit credentials
// file, Application Default Credentials are used.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Adapter{client: c, config: cfg}, nil
}

// NewFactory returns an stt.Factory creating one Google client per session.
func NewFactory(cfg Config) stt.Factory {
	return func(ctx context.Context) (stt.Adapter, error) {
		return New(ctx, cfg)
	}
}

// Start opens a streaming recognition session, sends the initial config and
// starts receiving results.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	stream, err := a.client.StreamingRecognize(ctx)
	if err != nil {
		return err
	}
	return a.start(stream, cb)
}

func (a *Adapter) start(stream recognizeStream, cb stt.Callback) error {
	if err := stream.Send(streamingConfigRequest(a.config)); err != nil {
		return err
	}

	a.mu.Lock()
	a.stream = stream
	a.cb = cb
	a.done = make(chan struct{})
	a.mu.Unlock()

	go a.listen(stream, cb, a.done)

	log.Debug().
		Str("language", a.config.LanguageCode).
		Int("sampleRateHz", a.config.SampleRateHz).
		Msg("Google STT stream started")
	return nil
}

// SendAudio sends audio bytes to Google Speech-to-Text.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.stream == nil {
		return nil
	}
	return a.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// Close half-closes the stream, waits for the receiver to drain and
// releases the client.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	stream := a.stream
	done := a.done
	a.mu.Unlock()

	var err error
	if stream != nil {
		err = stream.CloseSend()
		<-done
	}
	if a.client != nil {
		if cerr := a.client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// listen receives transcript responses and invokes callbacks until the
// stream ends. A clean end of stream or a cancellation is not reported.
func (a *Adapter) listen(stream recognizeStream, cb stt.Callback, done chan struct{}) {
	defer close(done)
	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled || errors.Is(err, context.Canceled) {
				return
			}
			cb.OnError(err)
			return
		}
		if st := resp.GetError(); st != nil && st.GetCode() != int32(codes.OK) {
			cb.OnError(status.ErrorProto(st))
			return
		}

		for _, r := range resp.GetResults() {
			if len(r.GetAlternatives()) == 0 {
				continue
			}
			alt := r.GetAlternatives()[0]
			if r.GetIsFinal() {
				cb.OnFinal(alt.GetTranscript(), float64(alt.GetConfidence()))
			} else {
				cb.OnPartial(alt.GetTranscript())
			}
		}
	}
}

func streamingConfigRequest(cfg Config) *speechpb.StreamingRecognizeRequest {
	return &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					// The bridge always delivers decoded 16-bit PCM.
					Encoding:          speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz:   int32(cfg.SampleRateHz),
					AudioChannelCount: 1,
					LanguageCode:      cfg.LanguageCode,
				},
				InterimResults: cfg.InterimResults,
			},
		},
	}
}
