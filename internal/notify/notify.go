// Package notify delivers healing session outcomes to chat and webhook
// channels. Delivery failures are logged, never propagated; notifications
// must not affect session results.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mendtool/mend/internal/healing"
)

// Event is one session outcome to deliver.
type Event struct {
	Script    string                    `json:"script"`
	Reason    healing.TerminationReason `json:"reason"`
	Attempts  int                       `json:"attempts"`
	Elapsed   time.Duration             `json:"elapsed"`
	Summary   string                    `json:"summary,omitempty"`
	PRURL     string                    `json:"pr_url,omitempty"`
	Timestamp time.Time                 `json:"timestamp"`
}

// Succeeded reports whether the event is a successful repair.
func (e Event) Succeeded() bool { return e.Reason == healing.TerminationSuccess }

// Notifier delivers an event to one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, e Event) error
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any, headers map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// message renders the human-readable outcome line shared by chat channels.
func message(e Event) string {
	icon := "❌"
	verdict := "could not be healed"
	if e.Succeeded() {
		icon = "✅"
		verdict = "healed"
	}
	msg := fmt.Sprintf("%s `%s` %s after %d attempt(s) in %s (%s)",
		icon, e.Script, verdict, e.Attempts, e.Elapsed.Round(time.Second), e.Reason)
	if e.Summary != "" {
		msg += "\n" + e.Summary
	}
	if e.PRURL != "" {
		msg += "\nPR: " + e.PRURL
	}
	return msg
}

// Slack posts outcomes to a Slack incoming webhook.
type Slack struct {
	WebhookURL string
	Channel    string
	Client     *http.Client
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Notify(ctx context.Context, e Event) error {
	payload := map[string]any{"text": message(e)}
	if s.Channel != "" {
		payload["channel"] = s.Channel
	}
	return postJSON(ctx, httpClient(s.Client), s.WebhookURL, payload, nil)
}

// Discord posts outcomes to a Discord webhook.
type Discord struct {
	WebhookURL string
	Client     *http.Client
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Notify(ctx context.Context, e Event) error {
	return postJSON(ctx, httpClient(d.Client), d.WebhookURL, map[string]any{"content": message(e)}, nil)
}

// Webhook posts the full event as JSON to an arbitrary endpoint.
type Webhook struct {
	URL     string
	Headers map[string]string
	Client  *http.Client
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Notify(ctx context.Context, e Event) error {
	return postJSON(ctx, httpClient(w.Client), w.URL, e, w.Headers)
}

func httpClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: 10 * time.Second}
}
