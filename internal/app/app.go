package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"ai-fraud-guard/internal/config"
	"ai-fraud-guard/internal/events"
	httpapi "ai-fraud-guard/internal/http"
	"ai-fraud-guard/internal/observability"
	"ai-fraud-guard/internal/observability/logging"
	"ai-fraud-guard/internal/observability/metrics"
	"ai-fraud-guard/internal/service/audio"
	"ai-fraud-guard/internal/service/control"
	"ai-fraud-guard/internal/service/media"
	"ai-fraud-guard/internal/service/scoring"
	"ai-fraud-guard/internal/service/stt"
	"ai-fraud-guard/internal/service/stt/google"
	"ai-fraud-guard/internal/service/stt/mock"
)

// HealthServiceName is the gRPC health service reported alongside "".
const HealthServiceName = "ai.fraud.guard.MediaStream"

const shutdownTimeout = 10 * time.Second

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	Metrics    *metrics.Metrics
	Publisher  *events.Publisher
	Registry   *control.Registry
	Scorer     *scoring.Client
	Evaluator  *scoring.Evaluator
	Dispatcher *scoring.Dispatcher
	Channel    *media.Channel
	Router     http.Handler

	ready    atomic.Bool
	httpAddr net.Addr
}

// Option customizes an Application.
type Option func(*options)

type options struct {
	metrics    *metrics.Metrics
	sttFactory stt.Factory
}

// WithMetrics uses m instead of the default registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithSTTFactory overrides the configured STT provider.
func WithSTTFactory(f stt.Factory) Option {
	return func(o *options) { o.sttFactory = f }
}

// New wires the service from cfg.
func New(cfg *config.Configuration, opts ...Option) (*Application, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.DefaultMetrics
	}

	a := &Application{
		Cfg:     cfg,
		Metrics: o.metrics,
	}
	a.setupLogger()

	factory := o.sttFactory
	if factory == nil {
		var err error
		if factory, err = NewSTTFactory(cfg.STT); err != nil {
			return nil, err
		}
	}

	a.Publisher = events.New(&events.Config{
		Enabled:    cfg.Kafka.Enabled,
		Brokers:    cfg.Kafka.Brokers,
		TopicScore: cfg.Kafka.TopicScore,
		TopicAlert: cfg.Kafka.TopicAlert,
		Principal:  cfg.Kafka.Principal,
		Metrics:    a.Metrics,
	})
	a.Registry = control.NewRegistry(a.Metrics)
	a.Scorer = scoring.NewClient(cfg.Scoring.URL, cfg.Scoring.Timeout)
	a.Evaluator = scoring.NewEvaluator(a.Scorer, a.Registry, a.Publisher, cfg.Scoring.CallThreshold, a.Metrics)
	a.Dispatcher = scoring.NewDispatcher(context.Background(), a.Evaluator, cfg.Scoring.MaxInFlight, a.Metrics)
	a.Channel = media.NewChannel(media.Config{
		ReadLimit:          cfg.Control.ReadLimit,
		IdleTimeout:        cfg.Control.IdleTimeout,
		WriteTimeout:       cfg.Control.WriteTimeout,
		STTProvider:        cfg.STT.Provider,
		MinTranscriptChars: cfg.Scoring.MinTranscriptChars,
		Limits: audio.Limits{
			MaxAudioBytes: cfg.SessionLimits.MaxAudioBytes,
			MaxDuration:   cfg.SessionLimits.MaxDuration,
		},
	}, a.Registry, factory, a.Dispatcher, a.Metrics)
	a.Router = httpapi.NewRouter(httpapi.Dependencies{
		Media:      a.Channel,
		Predictor:  a.Scorer,
		Webhook:    cfg.Webhook,
		PublicHost: cfg.Service.PublicHost,
		Metrics:    a.Metrics,
		Ready:      a.Ready,
	})

	a.Logger.Info().
		Str("sttProvider", cfg.STT.Provider).
		Str("scoringUrl", cfg.Scoring.URL).
		Float64("callThreshold", cfg.Scoring.CallThreshold).
		Msg("AI Fraud Guard application created")
	return a, nil
}

// NewSTTFactory selects the STT provider named in cfg.
func NewSTTFactory(cfg config.STTConfig) (stt.Factory, error) {
	switch cfg.Provider {
	case "mock", "":
		return mock.NewFactory(), nil
	case "google":
		return google.NewFactory(google.Config{
			LanguageCode:    cfg.LanguageCode,
			SampleRateHz:    cfg.SampleRateHz,
			InterimResults:  cfg.InterimResults,
			CredentialsFile: cfg.CredentialsFile,
		}), nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q", cfg.Provider)
	}
}

// setupLogger configures zerolog for the service.
func (a *Application) setupLogger() {
	logging.Init(logging.Config{
		Level:   a.Cfg.Observability.LogLevel,
		Format:  a.Cfg.Observability.LogFormat,
		Service: "ai-fraud-guard",
	})
	a.Logger = logging.WithComponent("application")

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("logFormat", a.Cfg.Observability.LogFormat).
		Msg("Logger setup completed")
}

// HTTPAddr returns the relay listener address once Run is serving.
func (a *Application) HTTPAddr() net.Addr {
	if !a.ready.Load() {
		return nil
	}
	return a.httpAddr
}

// Ready reports whether the service accepts traffic.
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// Run serves the relay, metrics and gRPC health endpoints until ctx is
// cancelled or a listener fails, then shuts everything down.
func (a *Application) Run(ctx context.Context) error {
	cfg := a.Cfg
	a.StartupTime = time.Now().UTC()

	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(observability.UnaryServerInterceptor()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(HealthServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(grpcServer)

	httpLis, err := net.Listen("tcp", ":"+cfg.Service.HTTPPort)
	if err != nil {
		_ = lis.Close()
		return fmt.Errorf("http listen: %w", err)
	}
	a.httpAddr = httpLis.Addr()
	httpServer := &http.Server{
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	obsServer := observability.NewServer(":"+cfg.Service.MetricsPort, a.Ready)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info().Str("addr", httpLis.Addr().String()).Msg("Relay HTTP server started")
		if err := httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	g.Go(obsServer.ListenAndServe)
	g.Go(func() error {
		a.Logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC health server started")
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})

	a.ready.Store(true)
	a.Logger.Info().Time("startupTime", a.StartupTime).Msg("AI Fraud Guard started")

	g.Go(func() error {
		<-gctx.Done()
		a.ready.Store(false)
		a.Logger.Info().Msg("AI Fraud Guard shutting down")
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		healthServer.SetServingStatus(HealthServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn().Err(err).Msg("Relay HTTP server shutdown")
		}
		// Upgraded sockets are hijacked and outlive httpServer.Shutdown.
		if err := a.Channel.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn().Err(err).Msg("Media channel shutdown")
		}
		if err := obsServer.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn().Err(err).Msg("Observability server shutdown")
		}
		grpcServer.GracefulStop()
		return nil
	})

	err = g.Wait()

	// Sockets are closed, so no new fragments arrive. In-flight scoring
	// finishes before the audit writers close.
	a.Dispatcher.Wait()
	if cerr := a.Publisher.Close(); cerr != nil {
		a.Logger.Warn().Err(cerr).Msg("Publisher close")
	}
	return err
}
