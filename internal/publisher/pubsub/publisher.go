// Package pubsub publishes result messages to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
)

// Publisher wraps a Pub/Sub publisher client.
type Publisher struct {
	publisher *pubsub.Publisher
	attrs     map[string]string
}

// New creates a Publisher for the provided topic publisher. attrs are copied
// onto every message.
func New(publisher *pubsub.Publisher, attrs map[string]string) *Publisher {
	copied := make(map[string]string, len(attrs))
	for k, v := range attrs {
		copied[k] = v
	}
	return &Publisher{publisher: publisher, attrs: copied}
}

// Publish sends body and waits for the server acknowledgement.
func (p *Publisher) Publish(ctx context.Context, body []byte) error {
	if p.publisher == nil {
		return fmt.Errorf("pubsub publisher is not configured")
	}
	msg := &pubsub.Message{Data: body, Attributes: messageAttributes(ctx, p.attrs)}
	result := p.publisher.Publish(ctx, msg)
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Stop flushes pending messages.
func (p *Publisher) Stop() {
	if p.publisher != nil {
		p.publisher.Stop()
	}
}

func messageAttributes(ctx context.Context, base map[string]string) map[string]string {
	attrs := make(map[string]string, len(base)+2)
	for k, v := range base {
		attrs[k] = v
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: attrs})
	return attrs
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
