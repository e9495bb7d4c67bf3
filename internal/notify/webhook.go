package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Webhook POSTs every event as JSON to a URL.
type Webhook struct {
	client *resty.Client
	url    string
}

// WebhookOpts holds parameters for creating a Webhook.
type WebhookOpts struct {
	URL        string
	Headers    map[string]string
	Timeout    time.Duration // defaults to 10s
	RetryCount int
}

// NewWebhook creates a Webhook subscriber.
func NewWebhook(opts WebhookOpts) (*Webhook, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("notify: webhook: url is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(opts.RetryCount).
		SetHeader("Content-Type", "application/json").
		SetHeaders(opts.Headers)
	return &Webhook{client: client, url: opts.URL}, nil
}

// Notify implements Subscriber.
func (w *Webhook) Notify(ctx context.Context, evt Event) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(evt).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("notify: webhook: post: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("notify: webhook: status %d", resp.StatusCode())
	}
	return nil
}
