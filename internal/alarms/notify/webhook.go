package notify

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

// Channel delivers rendered content.
type Channel interface {
	Send(ctx context.Context, content string) error
}

// webhookPayload is the chat-bot message shape accepted by most incoming webhooks.
type webhookPayload struct {
	MsgType  string       `json:"msgtype"`
	Text     *webhookBody `json:"text,omitempty"`
	Markdown *webhookBody `json:"markdown,omitempty"`
}

type webhookBody struct {
	Content string `json:"content"`
}

// WebhookChannel posts notifications to an incoming webhook.
type WebhookChannel struct {
	url      string
	client   *http.Client
	markdown bool
	headers  http.Header
	attempts int
	backoff  time.Duration
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// WithMarkdown sends content as a markdown message.
func WithMarkdown() WebhookOption {
	return func(ch *WebhookChannel) {
		ch.markdown = true
	}
}

// WithHeader adds a request header, for example an access token.
func WithHeader(key, value string) WebhookOption {
	return func(ch *WebhookChannel) {
		ch.headers.Add(key, value)
	}
}

// WithRetry retries failed posts up to attempts times in total, doubling backoff each time.
func WithRetry(attempts int, backoff time.Duration) WebhookOption {
	return func(ch *WebhookChannel) {
		if attempts > 0 {
			ch.attempts = attempts
		}
		if backoff > 0 {
			ch.backoff = backoff
		}
	}
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(url string, opts ...WebhookOption) (*WebhookChannel, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("webhook channel: empty url")
	}
	ch := &WebhookChannel{
		url:      url,
		client:   &http.Client{Timeout: 10 * time.Second},
		headers:  make(http.Header),
		attempts: 1,
		backoff:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch, nil
}

// Send posts content. Client errors (4xx) are not retried.
func (w *WebhookChannel) Send(ctx context.Context, content string) error {
	body, err := json.Marshal(w.payload(content))
	if err != nil {
		return err
	}
	wait := w.backoff
	for attempt := 1; ; attempt++ {
		retry, err := w.post(ctx, body)
		if err == nil {
			return nil
		}
		if !retry || attempt >= w.attempts {
			return err
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}
}

func (w *WebhookChannel) payload(content string) webhookPayload {
	if w.markdown {
		return webhookPayload{MsgType: "markdown", Markdown: &webhookBody{Content: content}}
	}
	return webhookPayload{MsgType: "text", Text: &webhookBody{Content: content}}
}

// post sends one request and reports whether a failure is worth retrying.
func (w *WebhookChannel) post(ctx context.Context, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	for key, values := range w.headers {
		req.Header[key] = values
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("webhook channel: %w", err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	if resp.StatusCode/100 == 2 {
		return false, nil
	}
	err = fmt.Errorf("webhook channel: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests, err
}
