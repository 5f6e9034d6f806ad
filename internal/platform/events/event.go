// Package events publishes domain events to a downstream sink: the
// application log, Kafka, RabbitMQ or a signed HTTP webhook.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	CancellationCreated = "cancellation.created"
	RefundPending       = "refund.pending"
	RefundProcessed     = "refund.processed"
	RefundFailed        = "refund.failed"
	RefundFailedAlert   = "refund.failed.alert"
)

// Event is the envelope written to every sink. Key groups related events
// (the appointment id) so ordered sinks keep them on one partition.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Key        string          `json:"key"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// New builds an Event with a fresh id, marshalling data as the body.
func New(eventType, key string, data interface{}) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		Key:        key,
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	}, nil
}

// Publisher delivers events. Publish must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}
