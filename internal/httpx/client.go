package httpx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/transfa/corebank/internal/domain"
	"github.com/transfa/corebank/internal/logging"
	"github.com/transfa/corebank/internal/metrics"
)

const maxResponseBytes = 4 << 20

// Response is a downstream reply read in full.
type Response struct {
	StatusCode int
	Body       []byte
}

// Client calls one internal peer with the shared secret and trace id attached. Transport
// failures count against a circuit breaker; any HTTP status, including 5xx, is a reply.
type Client struct {
	name    string
	baseURL string
	apiKey  string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker[*Response]
}

// NewClient builds a client for baseURL. name labels the breaker in logs and metrics.
func NewClient(name, baseURL, apiKey string, timeout time.Duration) *Client {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	log := logging.WithComponent("http_client")

	cb := gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		cb:      cb,
	}
}

// Do sends body (nil for none) to path. A non-nil error is always DownstreamUnreachable:
// the peer could not be reached, timed out, or the breaker is open.
func (c *Client) Do(ctx context.Context, method, path string, body []byte) (*Response, error) {
	resp, err := c.cb.Execute(func() (*Response, error) {
		return c.do(ctx, method, path, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, domain.Wrap(domain.KindDownstreamUnreachable, c.name+" circuit open", err)
		}
		return nil, domain.Wrap(domain.KindDownstreamUnreachable, c.name+" unreachable", err)
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(HeaderInternalAPIKey, c.apiKey)
	if traceID := logging.TraceIDFromContext(ctx); traceID != "" {
		req.Header.Set(HeaderTraceID, traceID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
