package notify

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/forge/internal/config"
	"github.com/timmy/forge/internal/logger"
)

// Event types pushed on the notification channel.
const (
	EventStageCompleted      = "stage.completed"
	EventProjectFailed       = "project.failed"
	EventProjectDeployed     = "project.deployed"
	EventModificationDecided = "modification.decided"
)

// Notifier pushes events to a configured webhook. Delivery is
// fire-and-forget and best-effort: failures are logged and swallowed,
// never surfaced to the pipeline.
type Notifier struct {
	client     *resty.Client
	webhookURL string
}

// New creates a Notifier. With no webhook URL configured every Push is
// a no-op.
func New(cfg *config.NotifyConfig) *Notifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New()
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(timeout)
	return &Notifier{
		client:     client,
		webhookURL: cfg.WebhookURL,
	}
}

// Push sends one event. No acknowledgment, no retry.
func (n *Notifier) Push(ctx context.Context, eventType string, payload map[string]interface{}) {
	if n.webhookURL == "" {
		return
	}
	body := map[string]interface{}{
		"event_type": eventType,
		"payload":    payload,
		"sent_at":    time.Now().UTC(),
	}
	_, err := n.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(n.webhookURL)
	if err != nil {
		logger.CtxWarn(ctx, "Notification push failed (dropped): event=%s, err=%v", eventType, err)
	}
}
