package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ai-fraud-guard/internal/config"
	"ai-fraud-guard/internal/observability"
	"ai-fraud-guard/internal/observability/metrics"
	"ai-fraud-guard/internal/service/scoring"
)

// Dependencies are the collaborators the router serves.
type Dependencies struct {
	// Media upgrades GET / to the media/control websocket.
	Media http.Handler
	// Predictor backs the /predict proxy.
	Predictor scoring.Predictor
	Webhook   config.WebhookConfig
	// PublicHost overrides the request Host in the stream URL.
	PublicHost string
	Metrics    *metrics.Metrics
	Ready      observability.ReadinessFunc
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(d Dependencies) http.Handler {
	if d.Metrics == nil {
		d.Metrics = metrics.DefaultMetrics
	}
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.HTTPMiddleware(d.Metrics))

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if d.Ready != nil && !d.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if d.Media != nil {
		r.Get("/", d.Media.ServeHTTP)
	}
	r.Post("/handle-call", handleCall(d.Webhook, d.PublicHost))
	r.Post("/predict", predictProxy(d.Predictor, d.Metrics))

	return r
}
