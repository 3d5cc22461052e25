package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"
)

const (
	// maxContentLength is Discord's limit for a message body
	maxContentLength = 2000
	defaultTimeout   = 10 * time.Second
)

// Notifier delivers a formatted message to a chat channel
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Webhook posts messages to a Discord-compatible incoming webhook
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a Webhook notifier for url
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: defaultTimeout},
	}
}

type webhookPayload struct {
	Content string `json:"content"`
}

// Notify posts message, truncated to the webhook's length limit
func (w *Webhook) Notify(ctx context.Context, message string) error {
	body, err := json.Marshal(webhookPayload{Content: truncate(message, maxContentLength)})
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(detail))
	}
	return nil
}

// truncate shortens s to at most limit runes, marking the cut with an ellipsis
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + "…"
}
