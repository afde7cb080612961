package lead

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hearthline/hearthline/internal/observe"
	"github.com/hearthline/hearthline/internal/resilience"
)

// WebhookSink POSTs each record as JSON to a CRM webhook endpoint. A circuit
// breaker guards the endpoint so a dead CRM stops costing a full HTTP
// timeout per lead.
type WebhookSink struct {
	url     string
	client  *http.Client
	metrics *observe.Metrics
	breaker *resilience.CircuitBreaker
}

var _ Sink = (*WebhookSink)(nil)

// WebhookOption configures a WebhookSink.
type WebhookOption func(*WebhookSink)

// WithHTTPClient overrides the HTTP client. Primarily used in tests.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(s *WebhookSink) { s.client = c }
}

// WithMetrics sets the metrics set. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) WebhookOption {
	return func(s *WebhookSink) { s.metrics = m }
}

// NewWebhookSink creates a sink delivering to url.
func NewWebhookSink(url string, opts ...WebhookOption) *WebhookSink {
	s := &WebhookSink{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(s)
	}
	s.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "lead-webhook",
		MaxFailures:  3,
		ResetTimeout: time.Minute,
		OnStateChange: func(name string, _, to resilience.State) {
			s.metrics.RecordBreakerTransition(context.Background(), name, to.String())
		},
	})
	return s
}

// Name labels the sink in delivery metrics.
func (*WebhookSink) Name() string { return "webhook" }

// Submit POSTs the record. Any non-2xx status counts as a delivery failure.
func (s *WebhookSink) Submit(ctx context.Context, rec Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("lead: marshal webhook payload: %w", err)
	}

	return s.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("lead: build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("lead: post webhook: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("lead: webhook returned status %d", resp.StatusCode)
		}
		return nil
	})
}
