// Package notify publishes session events to an external channel.
//
// The Publisher capability is narrow on purpose: core logic never depends
// on it, and a failed publish never fails the operation that triggered it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Status is the tri-state outcome reported alongside a successful
// operation that carries a notification side effect.
type Status string

const (
	StatusSent    Status = "sent"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Event is one session-lifecycle notification.
type Event struct {
	Type    string `json:"type"`
	Tenant  string `json:"tenant"`
	Agent   string `json:"agent"`
	Project string `json:"project"`
	Summary string `json:"summary,omitempty"`
	At      string `json:"at"`
}

// Publisher emits events to an external channel.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Webhook posts events as JSON to a configured URL with a short timeout.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a webhook publisher. An empty URL returns nil, which
// callers report as StatusSkipped.
func NewWebhook(url string) *Webhook {
	if url == "" {
		return nil
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Publish posts the event. Errors are for the caller's status metadata
// only — they must never propagate into a request failure.
func (w *Webhook) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return goerr.Wrap(err, "encode event")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return goerr.Wrap(err, "build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return goerr.Wrap(err, "post webhook")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return goerr.New("webhook rejected event", goerr.V("status", resp.StatusCode))
	}
	return nil
}
