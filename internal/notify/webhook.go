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

	"github.com/google/uuid"

	"procureiq/internal/config"
)

// WebhookNotifier POSTs summaries to configured endpoints whose event filter
// matches the summary kind.
type WebhookNotifier struct {
	hooks  []config.Webhook
	client *http.Client
	now    func() time.Time
}

func NewWebhookNotifier(hooks []config.Webhook, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	return &WebhookNotifier{hooks: hooks, client: &http.Client{Timeout: timeout}, now: time.Now}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

type webhookBody struct {
	Recipient  string  `json:"recipient"`
	Kind       string  `json:"kind"`
	Subject    string  `json:"subject"`
	Body       string  `json:"body"`
	Urgency    Urgency `json:"urgency"`
	EntityKind string  `json:"entity_kind"`
	EntityID   string  `json:"entity_id,omitempty"`
	TS         string  `json:"ts"`
}

// Notify delivers to every matching hook and joins the failures.
func (w *WebhookNotifier) Notify(ctx context.Context, recipient string, s Summary) error {
	var errs []error
	for _, hook := range w.hooks {
		if strings.TrimSpace(hook.URL) == "" || !newEventFilter(hook.Events).match(s.Kind) {
			continue
		}
		if err := w.post(ctx, hook, recipient, s); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", hook.URL, err))
		}
	}
	return errors.Join(errs...)
}

func (w *WebhookNotifier) post(ctx context.Context, hook config.Webhook, recipient string, s Summary) error {
	data, err := json.Marshal(webhookBody{
		Recipient:  recipient,
		Kind:       s.Kind,
		Subject:    s.Subject,
		Body:       s.Body,
		Urgency:    s.Urgency,
		EntityKind: s.EntityKind,
		EntityID:   s.EntityID,
		TS:         w.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-ProcureIQ-Event", s.Kind)
	req.Header.Set("X-ProcureIQ-Delivery", uuid.NewString())
	req.Header.Set("X-ProcureIQ-Urgency", string(s.Urgency))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-ProcureIQ-Secret", hook.Secret)
	}
	res, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(kinds []string) eventFilter {
	set := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		if key := strings.TrimSpace(k); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(kind string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[kind]
	return ok
}
