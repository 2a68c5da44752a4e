package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WebhookConfig configures one HTTP gateway adapter. The concrete provider
// behind the URL (SMS bridge, voice dialer, mail relay) is out of scope; the
// adapter speaks a small JSON contract and maps HTTP status to retry advice.
type WebhookConfig struct {
	Name    string
	URL     string
	Token   string // optional bearer token
	Timeout time.Duration
}

// Webhook posts notifications to an HTTP gateway endpoint.
type Webhook struct {
	cfg  WebhookConfig
	http *http.Client
}

func NewWebhook(cfg WebhookConfig) (*Webhook, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("webhook %q: url is empty", cfg.Name)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{cfg: cfg, http: &http.Client{Timeout: timeout}}, nil
}

func (w *Webhook) Name() string {
	if w.cfg.Name != "" {
		return "webhook:" + w.cfg.Name
	}
	return "webhook"
}

type webhookPayload struct {
	ClientID  string `json:"client_id"`
	Text      string `json:"text"`
	Decision  bool   `json:"decision,omitempty"`
	Aggregate bool   `json:"aggregate,omitempty"`
	Count     int    `json:"count,omitempty"`
	SentAt    string `json:"sent_at"`
}

func (w *Webhook) Deliver(ctx context.Context, clientID string, msg Message) error {
	body, err := json.Marshal(webhookPayload{
		ClientID:  clientID,
		Text:      msg.Text,
		Decision:  msg.Decision,
		Aggregate: msg.Aggregate,
		Count:     msg.Count,
		SentAt:    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return &DeliveryError{Err: err, Permanent: true}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Err: err, Permanent: true}
	}
	req.Header.Set("Content-Type", "application/json")
	if tok := strings.TrimSpace(w.cfg.Token); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := w.http.Do(req)
	if err != nil {
		return err // timeouts and connection failures are transient
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	switch {
	case resp.StatusCode/100 == 2:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return Transient("%s: throttled (http %d)", w.Name(), resp.StatusCode)
	case resp.StatusCode/100 == 4:
		return Permanent("%s: rejected (http %d)", w.Name(), resp.StatusCode)
	default:
		return Transient("%s: gateway error (http %d)", w.Name(), resp.StatusCode)
	}
}
