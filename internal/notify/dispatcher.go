package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mendtool/mend/internal/config"
	"github.com/mendtool/mend/internal/redact"
)

// Dispatcher fans an event out to all configured channels, applying the
// notify_on filter and a per-script rate limit.
type Dispatcher struct {
	notifiers   []Notifier
	onSuccess   bool
	onFailure   bool
	minInterval time.Duration
	redactor    *redact.Redactor
	log         *zap.Logger

	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

// NewDispatcher builds a dispatcher from the notifications config. Channels
// without a URL are skipped. A nil logger defaults to a no-op logger.
func NewDispatcher(cfg config.Notifications, redactor *redact.Redactor, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{
		minInterval: cfg.MinInterval.Std(),
		redactor:    redactor,
		log:         log,
		last:        make(map[string]time.Time),
		now:         time.Now,
	}

	for _, on := range cfg.NotifyOn {
		switch on {
		case "success":
			d.onSuccess = true
		case "failure":
			d.onFailure = true
		case "all":
			d.onSuccess = true
			d.onFailure = true
		}
	}

	if cfg.Slack.WebhookURL != "" {
		d.notifiers = append(d.notifiers, &Slack{WebhookURL: cfg.Slack.WebhookURL, Channel: cfg.Slack.Channel})
	}
	if cfg.Discord.WebhookURL != "" {
		d.notifiers = append(d.notifiers, &Discord{WebhookURL: cfg.Discord.WebhookURL})
	}
	if cfg.Webhook.URL != "" {
		d.notifiers = append(d.notifiers, &Webhook{URL: cfg.Webhook.URL, Headers: cfg.Webhook.Headers})
	}
	return d
}

// Add registers an extra notifier, mostly for tests.
func (d *Dispatcher) Add(n Notifier) { d.notifiers = append(d.notifiers, n) }

// Dispatch sends the event to every channel. Filtered or rate-limited events
// are dropped silently; per-channel failures are logged and do not stop the
// remaining channels.
func (d *Dispatcher) Dispatch(ctx context.Context, e Event) {
	if len(d.notifiers) == 0 {
		return
	}
	if e.Succeeded() && !d.onSuccess {
		return
	}
	if !e.Succeeded() && !d.onFailure {
		return
	}
	if !d.admit(e.Script) {
		d.log.Debug("notification rate limited", zap.String("script", e.Script))
		return
	}

	if d.redactor != nil {
		e.Summary = d.redactor.Scrub(e.Summary)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = d.now().UTC()
	}

	for _, n := range d.notifiers {
		if err := n.Notify(ctx, e); err != nil {
			d.log.Warn("notification delivery failed",
				zap.String("channel", n.Name()),
				zap.String("script", e.Script),
				zap.Error(err))
		}
	}
}

// admit enforces the per-script minimum interval between notifications.
func (d *Dispatcher) admit(script string) bool {
	if d.minInterval <= 0 {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if last, ok := d.last[script]; ok && now.Sub(last) < d.minInterval {
		return false
	}
	d.last[script] = now
	return true
}
