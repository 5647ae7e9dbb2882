package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/clinicops/sentinel/internal/config"
	"github.com/clinicops/sentinel/internal/event"
)

// WebhookSet delivers notifications to a set of configured webhook targets.
// Delivery succeeds when every resolvable target accepts the message; a
// target whose URL environment variable is unset is skipped.
type WebhookSet struct {
	targets []config.WebhookConfig
	client  *http.Client
}

// NewWebhookSet creates a WebhookSet from the notification configuration.
func NewWebhookSet(targets []config.WebhookConfig) *WebhookSet {
	return &WebhookSet{
		targets: targets,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Deliver sends the item to all configured webhook targets.
func (w *WebhookSet) Deliver(ctx context.Context, item Item) error {
	var errs []error
	delivered := 0
	for _, t := range w.targets {
		url := t.URL()
		if url == "" {
			continue
		}

		var err error
		switch t.Type {
		case "slack":
			err = w.sendSlack(ctx, url, item)
		case "teams":
			err = w.sendTeams(ctx, url, item)
		case "http":
			err = w.sendHTTP(ctx, url, item)
		default:
			slog.Warn("notify: unknown webhook type - skipping", "type", t.Type)
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Type, err))
			continue
		}
		delivered++
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if delivered == 0 {
		return errors.New("no webhook target configured")
	}
	return nil
}

func (w *WebhookSet) sendSlack(ctx context.Context, url string, item Item) error {
	body, _ := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s* %s - %s", priorityLabel(item.Priority), item.Subject, item.Body),
	})
	return w.post(ctx, url, body)
}

func (w *WebhookSet) sendTeams(ctx context.Context, url string, item Item) error {
	payload := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": priorityColor(item.Priority),
		"summary":    item.Subject,
		"title":      item.Subject,
		"text":       item.Body,
	}
	body, _ := json.Marshal(payload)
	return w.post(ctx, url, body)
}

func (w *WebhookSet) sendHTTP(ctx context.Context, url string, item Item) error {
	body, _ := json.Marshal(map[string]interface{}{"notification": item})
	return w.post(ctx, url, body)
}

func (w *WebhookSet) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func priorityLabel(s event.Severity) string {
	switch s {
	case event.SeverityCritical:
		return "[CRITICAL]"
	case event.SeverityHigh:
		return "[HIGH]"
	case event.SeverityMedium:
		return "[MEDIUM]"
	case event.SeverityLow:
		return "[LOW]"
	default:
		return "[INFO]"
	}
}

func priorityColor(s event.Severity) string {
	switch s {
	case event.SeverityCritical:
		return "FF4F6A"
	case event.SeverityHigh:
		return "FF7A45"
	case event.SeverityMedium:
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
