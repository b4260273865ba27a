// Package pubsub publishes run events to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/album-publisher/internal/notify"
)

// Publisher implements notify.Notifier over one topic.
type Publisher struct {
	topic *pubsub.Topic
}

// New returns a Publisher for topicID after checking the topic exists.
func New(ctx context.Context, client *pubsub.Client, topicID string) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if topicID == "" {
		return nil, fmt.Errorf("topic id is required")
	}
	topic := client.Topic(topicID)
	ok, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %s: %w", topicID, err)
	}
	if !ok {
		return nil, fmt.Errorf("pubsub topic %q does not exist", topicID)
	}
	return &Publisher{topic: topic}, nil
}

// Notify marshals event to JSON and waits for the server to accept it.
func (p *Publisher) Notify(ctx context.Context, event notify.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"run_id": event.RunID,
			"kind":   event.Kind,
			"row":    strconv.Itoa(event.Row),
		},
	}
	if _, err := p.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close flushes pending messages.
func (p *Publisher) Close() {
	p.topic.Stop()
}
