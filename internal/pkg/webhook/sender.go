package webhook

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/anshitraj/arcpay-core/internal/pkg/env"
)

// SendResult captures the outcome of a single delivery attempt.
type SendResult struct {
	StatusCode int
	Err        error
}

// Acknowledged reports whether the endpoint accepted the delivery. Only a
// 2xx response counts; everything else is retried up to the cap.
func (r SendResult) Acknowledged() bool {
	return r.Err == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Sender POSTs signed payloads to subscription endpoints. Retry policy is
// owned by the dispatcher, not the HTTP client, so resty's own retries stay
// off and every attempt is exactly one request.
type Sender struct {
	client *resty.Client
}

// NewSender builds a sender with the delivery timeout from
// WEBHOOK_TIMEOUT_SECONDS (default 10).
func NewSender() *Sender {
	timeout := time.Duration(env.GetEnvInt("WEBHOOK_TIMEOUT_SECONDS", 10)) * time.Second
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", "arcpay-webhooks/1.0")
	return &Sender{client: client}
}

// Send performs one POST of the raw payload with signature headers.
func (s *Sender) Send(url string, payload []byte, secret, eventType, eventID string) SendResult {
	resp, err := s.client.R().
		SetHeader("Content-Type", "application/json").
		SetHeader(SignatureHeader, Sign(payload, secret)).
		SetHeader(EventTypeHeader, eventType).
		SetHeader(IdempotencyHeader, eventID).
		SetBody(payload).
		Post(url)
	if err != nil {
		return SendResult{Err: fmt.Errorf("webhook POST to %s: %w", url, err)}
	}
	return SendResult{StatusCode: resp.StatusCode()}
}
