package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// WebhookSink POSTs escalation events to an external endpoint, typically the
// human support console.
type WebhookSink struct {
	client *resty.Client
	url    string
}

// NewWebhookSink builds a sink for the given endpoint. An auth token is
// optional and sent as a bearer header when present.
func NewWebhookSink(url, authToken string, timeout time.Duration) *WebhookSink {
	client := resty.New().SetTimeout(timeout)
	if authToken != "" {
		client.SetAuthToken(authToken)
	}
	return &WebhookSink{client: client, url: url}
}

func (s *WebhookSink) Publish(ctx context.Context, eventType string, payload interface{}) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Event-Type", eventType).
		SetBody(payload).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}
	return nil
}
