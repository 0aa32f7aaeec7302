package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newScoringServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Predict_SendsTextAsJSON(t *testing.T) {
	var got predictRequest
	var method, contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		contentType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"score":0.42}`))
	}))
	defer srv.Close()

	pred, err := NewClient(srv.URL, time.Second).Predict(context.Background(), "please buy gift cards")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pred.Score != 0.42 {
		t.Errorf("expected score 0.42, got %v", pred.Score)
	}
	if method != http.MethodPost {
		t.Errorf("expected POST, got %s", method)
	}
	if contentType != "application/json" {
		t.Errorf("expected JSON content type, got %s", contentType)
	}
	if got.Text != "please buy gift cards" {
		t.Errorf("unexpected request text %q", got.Text)
	}
}

func TestClient_Predict_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"upstream error with message", http.StatusInternalServerError, `{"error":"model not loaded"}`, ErrUpstream},
		{"upstream error without body", http.StatusBadGateway, ``, ErrUpstream},
		{"bad request", http.StatusBadRequest, `{"error":"Text is required"}`, ErrUpstream},
		{"not json", http.StatusOK, `<html>oops</html>`, ErrMalformedResponse},
		{"missing score", http.StatusOK, `{"label":"scam"}`, ErrMalformedResponse},
		{"score not a number", http.StatusOK, `{"score":"high"}`, ErrMalformedResponse},
		{"score above one", http.StatusOK, `{"score":1.5}`, ErrMalformedResponse},
		{"negative score", http.StatusOK, `{"score":-0.1}`, ErrMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newScoringServer(t, tt.status, tt.body)
			_, err := NewClient(srv.URL, time.Second).Predict(context.Background(), "text")
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestClient_Predict_UpstreamMessageIncluded(t *testing.T) {
	srv := newScoringServer(t, http.StatusInternalServerError, `{"error":"model not loaded"}`)

	_, err := NewClient(srv.URL, time.Second).Predict(context.Background(), "text")
	if err == nil || !strings.Contains(err.Error(), "model not loaded") {
		t.Errorf("expected upstream message in error, got %v", err)
	}
}

func TestClient_Predict_BoundaryScores(t *testing.T) {
	for _, body := range []string{`{"score":0}`, `{"score":1}`} {
		srv := newScoringServer(t, http.StatusOK, body)
		if _, err := NewClient(srv.URL, time.Second).Predict(context.Background(), "text"); err != nil {
			t.Errorf("%s: unexpected error %v", body, err)
		}
	}
}

func TestClient_Predict_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	_, err := NewClient(srv.URL, 50*time.Millisecond).Predict(context.Background(), "text")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout was not enforced")
	}
}

func TestClient_Predict_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if _, err := NewClient(url, time.Second).Predict(context.Background(), "text"); err == nil {
		t.Fatal("expected transport error")
	}
}
