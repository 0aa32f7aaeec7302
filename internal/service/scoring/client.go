// Package scoring sends transcript text to the fraud scoring service and
// turns high scores into companion alerts.
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrUpstream is returned when the scoring service answers with a non-2xx status.
	ErrUpstream = errors.New("scoring service error")
	// ErrMalformedResponse is returned when a 2xx body carries no usable score.
	ErrMalformedResponse = errors.New("malformed scoring response")
)

// Prediction is the scoring service's verdict for one text.
type Prediction struct {
	Score float64 `json:"score"`
	// Body is the service's response as received, including fields this
	// client does not interpret. Empty for predictions not read off the wire.
	Body json.RawMessage `json:"-"`
}

type predictRequest struct {
	Text string `json:"text"`
}

type predictResponse struct {
	Score *float64 `json:"score"`
	Error string   `json:"error,omitempty"`
}

// Predictor scores text.
type Predictor interface {
	Predict(ctx context.Context, text string) (Prediction, error)
}

// Client is a JSON-over-HTTP scoring client. It never retries.
type Client struct {
	url     string
	timeout time.Duration
	c       *http.Client
}

// NewClient creates a client for the predict endpoint at url. A positive
// timeout bounds every request.
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		url:     url,
		timeout: timeout,
		c:       &http.Client{},
	}
}

// URL returns the predict endpoint.
func (c *Client) URL() string {
	return c.url
}

// Predict posts {"text": text} and returns the score.
func (c *Client) Predict(ctx context.Context, text string) (Prediction, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := json.Marshal(predictRequest{Text: text})
	if err != nil {
		return Prediction{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Prediction{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.c.Do(req)
	if err != nil {
		return Prediction{}, fmt.Errorf("predict: %w", err)
	}
	defer resp.Body.Close()

	const maxBody = 64 * 1024
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return Prediction{}, fmt.Errorf("predict read: %w", err)
	}

	var out predictResponse
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := resp.Status
		if decodeErr == nil && out.Error != "" {
			msg = out.Error
		} else if s := strings.TrimSpace(string(raw)); s != "" && decodeErr != nil {
			msg = s
		}
		return Prediction{}, fmt.Errorf("%w: %d %s", ErrUpstream, resp.StatusCode, msg)
	}

	if decodeErr != nil {
		return Prediction{}, fmt.Errorf("%w: %v", ErrMalformedResponse, decodeErr)
	}
	if out.Score == nil {
		return Prediction{}, fmt.Errorf("%w: missing score", ErrMalformedResponse)
	}
	if *out.Score < 0 || *out.Score > 1 {
		return Prediction{}, fmt.Errorf("%w: score %v out of range", ErrMalformedResponse, *out.Score)
	}
	return Prediction{Score: *out.Score, Body: json.RawMessage(raw)}, nil
}
