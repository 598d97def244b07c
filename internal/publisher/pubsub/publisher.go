// Package pubsub implements a Google Cloud Pub/Sub run notification publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	topic      *pubsub.Topic
	attributes map[string]string
}

// New creates a Publisher for the provided topic. attributes are attached to every message.
func New(topic *pubsub.Topic, attributes map[string]string) *Publisher {
	return &Publisher{topic: topic, attributes: attributes}
}

// Open connects to projectID and returns a Publisher for topicName with a
// close function that flushes pending messages.
func Open(ctx context.Context, projectID, topicName string, attributes map[string]string) (*Publisher, func(), error) {
	if projectID == "" || topicName == "" {
		return nil, nil, fmt.Errorf("pubsub project id and topic name are required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicName)
	closeFn := func() {
		topic.Stop()
		_ = client.Close()
	}
	return New(topic, attributes), closeFn, nil
}

// Publish marshals the payload to JSON and publishes it to the topic.
func (p *Publisher) Publish(ctx context.Context, payload any) (string, error) {
	if p.topic == nil {
		return "", fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: make(map[string]string, len(p.attributes))}
	for k, v := range p.attributes {
		msg.Attributes[k] = v
	}

	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}
