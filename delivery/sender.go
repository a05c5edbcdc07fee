package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tallyhq/webhooks/signature"
	"github.com/tallyhq/webhooks/subscription"
)

const userAgent = "tallyhq-webhooks/1.0"

// Sender performs the signed HTTP POST for a delivery attempt. It is the
// single transport implementation; selection of transport happens at
// construction, never per call.
type Sender struct {
	client *http.Client
}

// NewSender creates a sender with the given per-attempt HTTP timeout.
func NewSender(timeout time.Duration) *Sender {
	return &Sender{
		client: &http.Client{Timeout: timeout},
	}
}

// Send posts the payload to the subscription's endpoint and returns the
// attempt result. The signature is recomputed over the stored payload bytes
// with the subscription's current secret, so a rotated secret applies to
// retries immediately.
func (s *Sender) Send(ctx context.Context, sub *subscription.Subscription, deliveryID string, payload []byte) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return Result{Error: fmt.Sprintf("create request: %v", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(signature.Header, signature.Sign(sub.Secret, payload))
	req.Header.Set("X-Webhook-ID", sub.ID.String())
	req.Header.Set("X-Delivery-ID", deliveryID)

	// Custom subscription headers.
	for k, v := range sub.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := s.client.Do(req) //nolint:gosec // G704: URL is a tenant-configured webhook destination; SSRF is by design.
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return Result{
			Error:     err.Error(),
			LatencyMs: int(latency),
		}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBody))
	if readErr != nil {
		return Result{
			StatusCode: resp.StatusCode,
			Error:      fmt.Sprintf("read response: %v", readErr),
			LatencyMs:  int(latency),
		}
	}

	return Result{
		StatusCode: resp.StatusCode,
		Response:   string(respBody),
		LatencyMs:  int(latency),
	}
}
