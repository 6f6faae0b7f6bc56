// Package connector delivers alerts to external services.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconnect/internal/config"
	"github.com/energizer-project/rconnect/internal/events"
)

// Alert levels, which pick the embed color.
const (
	LevelError   = "error"
	LevelWarning = "warning"
	LevelInfo    = "info"
)

// WebhookNotifier posts health and disconnect alerts to a Discord-compatible
// webhook.
type WebhookNotifier struct {
	cfg      config.AlertsConfig
	eventBus *events.EventBus
	client   *http.Client
}

// NewWebhookNotifier creates a notifier for cfg.
func NewWebhookNotifier(cfg config.AlertsConfig, eventBus *events.EventBus) *WebhookNotifier {
	return &WebhookNotifier{
		cfg:      cfg,
		eventBus: eventBus,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Attach subscribes to the events that raise alerts.
func (wn *WebhookNotifier) Attach() {
	wn.eventBus.Subscribe(events.EventHealthFailed, "webhook.notify", wn.onEvent)
	wn.eventBus.Subscribe(events.EventHealthRecovered, "webhook.notify", wn.onEvent)
	if wn.cfg.NotifyDisconnects {
		wn.eventBus.Subscribe(events.EventEnd, "webhook.notify", wn.onEvent)
	}
}

// Detach removes the subscriptions.
func (wn *WebhookNotifier) Detach() {
	wn.eventBus.Unsubscribe(events.EventHealthFailed, "webhook.notify")
	wn.eventBus.Unsubscribe(events.EventHealthRecovered, "webhook.notify")
	wn.eventBus.Unsubscribe(events.EventEnd, "webhook.notify")
}

func (wn *WebhookNotifier) onEvent(ctx context.Context, event events.Event) error {
	title, message, level, ok := describe(event)
	if !ok {
		return nil
	}
	return wn.Send(ctx, title, message, level)
}

// describe turns an event into alert text. ok is false for events that
// should not alert.
func describe(event events.Event) (title, message, level string, ok bool) {
	switch p := event.Payload.(type) {
	case events.HealthPayload:
		if event.Type == events.EventHealthRecovered {
			return "Server recovered: " + p.Server, "RCON probe is answering again.", LevelInfo, true
		}
		return "Server unhealthy: " + p.Server,
			fmt.Sprintf("RCON probe failed %d time(s): %s", p.Failures, p.Reason), LevelError, true
	case events.EndPayload:
		// A clean end carries no cause.
		if p.Cause == "" {
			return "", "", "", false
		}
		return "Connection lost: " + event.Source, p.Cause, LevelWarning, true
	}
	return "", "", "", false
}

// Send posts one embed to the webhook.
func (wn *WebhookNotifier) Send(ctx context.Context, title, message, level string) error {
	// Color based on level
	var color int
	switch level {
	case LevelError:
		color = 0xFF0000 // Red
	case LevelWarning:
		color = 0xFFAA00 // Orange
	default:
		color = 0x00FF00 // Green
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       title,
				"description": message,
				"color":       color,
				"timestamp":   time.Now().Format(time.RFC3339),
				"footer": map[string]string{
					"text": "rconnect",
				},
			},
		},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wn.cfg.WebhookURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := wn.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(body))
	}

	log.Debug().Str("title", title).Msg("webhook notification sent")
	return nil
}
