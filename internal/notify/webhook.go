package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Chat services commonly reject payloads above this length.
const webhookContentLimit = 2000

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebhookChannel posts notifications as Discord-compatible JSON payloads.
type WebhookChannel struct {
	url    string
	client HTTPClient
}

// NewWebhookChannel creates a webhook channel with a default HTTP client.
func NewWebhookChannel(url string) *WebhookChannel {
	return &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// NewWebhookChannelWithClient creates a webhook channel with a custom HTTP
// client (useful for testing).
func NewWebhookChannelWithClient(url string, client HTTPClient) *WebhookChannel {
	return &WebhookChannel{url: url, client: client}
}

// Name implements Channel.
func (c *WebhookChannel) Name() string { return "webhook" }

// Send implements Channel.
func (c *WebhookChannel) Send(ctx context.Context, n Notification) error {
	content := "**" + n.Title + "**\n" + n.Text
	if len(content) > webhookContentLimit {
		content = content[:webhookContentLimit]
	}

	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
