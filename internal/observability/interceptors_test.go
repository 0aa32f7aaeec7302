package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ai-fraud-guard/internal/observability/metrics"
)

func TestUnaryServerInterceptor_PassesThrough(t *testing.T) {
	interceptor := UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	resp, err := interceptor(context.Background(), "req", info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return "resp", nil
	})
	if err != nil || resp != "resp" {
		t.Errorf("expected handler result, got %v, %v", resp, err)
	}

	want := status.Error(codes.Unavailable, "down")
	_, err = interceptor(context.Background(), "req", info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, want
	})
	if err != want {
		t.Errorf("expected handler error to be returned unchanged, got %v", err)
	}
}

func TestHTTPMiddleware_RecordsRoutePattern(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())

	r := chi.NewRouter()
	r.Use(HTTPMiddleware(m))
	r.Get("/calls/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	r.Get("/implicit", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	for _, path := range []string{"/calls/1", "/calls/2", "/implicit"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/calls/{id}", "202")); got != 2 {
		t.Errorf("expected 2 requests on the route pattern, got %v", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/implicit", "200")); got != 1 {
		t.Errorf("expected implicit 200 recorded, got %v", got)
	}
}
