package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/healthbook/healthbook/internal/platform/webhook"
)

// WebhookPublisher POSTs each event, signed, to a downstream HTTP endpoint.
type WebhookPublisher struct {
	sender *webhook.Sender
}

func NewWebhookPublisher(sender *webhook.Sender) *WebhookPublisher {
	return &WebhookPublisher{sender: sender}
}

func (p *WebhookPublisher) Publish(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := p.sender.Send(ctx, evt.ID, evt.Type, body); err != nil {
		return err
	}
	return nil
}

func (p *WebhookPublisher) Close() error { return nil }
