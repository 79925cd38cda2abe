package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"cloud.google.com/go/pubsub"

	"github.com/Lllllllleong/paperlessflow/internal/gcp"
)

// PubSub is a Broker backed by Google Cloud Pub/Sub. A logical topic maps to
// a Pub/Sub topic of the same name and a consumer group to the subscription
// "<topic>-<group>".
//
// Pub/Sub only reports delivery attempts on subscriptions with a dead-letter
// policy, so when Options.MaxAttempts is set every subscription gets one,
// pointing at Options.DeadLetterTopic or "<topic>-deadletter".
type PubSub struct {
	client *pubsub.Client
	opts   Options

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewPubSub wraps an existing client. Topics and subscriptions are created
// on first use.
func NewPubSub(client *pubsub.Client, opts Options) *PubSub {
	return &PubSub{
		client: client,
		opts:   opts.withDefaults(),
		topics: make(map[string]*pubsub.Topic),
	}
}

func (b *PubSub) topic(ctx context.Context, id string) (*pubsub.Topic, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[id]; ok {
		return t, nil
	}
	t, err := gcp.EnsureTopic(ctx, b.client, id)
	if err != nil {
		return nil, err
	}
	b.topics[id] = t
	return t, nil
}

// Publish encodes msg as JSON and waits for the server to accept it.
func (b *PubSub) Publish(ctx context.Context, topic string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message for %s: %w", topic, err)
	}
	_, attrs, err := newEvent(topic, data)
	if err != nil {
		return err
	}
	return b.PublishRaw(ctx, topic, data, attrs)
}

// PublishRaw publishes data unchanged.
func (b *PubSub) PublishRaw(ctx context.Context, topic string, data []byte, attrs map[string]string) error {
	t, err := b.topic(ctx, topic)
	if err != nil {
		return err
	}
	id, err := t.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	slog.Debug("Published message.", "topic", topic, "messageId", id)
	return nil
}

// Subscribe receives from the group's subscription until ctx is cancelled.
func (b *PubSub) Subscribe(ctx context.Context, topic, group string, h Handler) error {
	t, err := b.topic(ctx, topic)
	if err != nil {
		return err
	}
	spec := gcp.SubscriptionSpec{
		ID:          topic + "-" + group,
		Topic:       t,
		AckDeadline: b.opts.AckDeadline,
		MaxAttempts: b.opts.MaxAttempts,
	}
	deadLetter := b.deadLetterTopic(topic)
	if deadLetter != "" {
		if spec.DeadLetterTopic, err = b.topic(ctx, deadLetter); err != nil {
			return err
		}
	}
	sub, err := gcp.EnsureSubscription(ctx, b.client, spec)
	if err != nil {
		return err
	}
	sub.ReceiveSettings.MaxOutstandingMessages = b.opts.Concurrency
	sub.ReceiveSettings.NumGoroutines = 1

	logCtx := slog.With("topic", topic, "group", group, "subscription", spec.ID)
	logCtx.Info("Subscribed.", "concurrency", b.opts.Concurrency)

	err = sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		d := Delivery{ID: m.ID, Topic: topic, Data: m.Data, Attributes: m.Attributes}
		if m.DeliveryAttempt != nil {
			d.Attempt = *m.DeliveryAttempt
		}

		out, herr := Settle(ctx, h, d, b.opts.MaxAttempts)
		switch out {
		case OutcomeAck:
			m.Ack()
		case OutcomeRetry:
			m.Nack()
		case OutcomeDrop:
			if deadLetter != "" {
				if err := b.PublishRaw(ctx, deadLetter, d.Data, deadLetterAttributes(d, herr)); err != nil {
					logCtx.Error("Failed to dead-letter message, leaving it for redelivery.", "messageId", d.ID, "error", err)
					m.Nack()
					return
				}
			}
			m.Ack()
		}
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("receive on %s failed: %w", spec.ID, err)
	}
	logCtx.Info("Subscription stopped.")
	return nil
}

// deadLetterTopic names where dropped messages from topic go, or "" when
// they are discarded.
func (b *PubSub) deadLetterTopic(topic string) string {
	if b.opts.DeadLetterTopic != "" {
		return b.opts.DeadLetterTopic
	}
	if b.opts.MaxAttempts > 0 {
		return topic + "-deadletter"
	}
	return ""
}

// Close flushes pending publishes and releases the client.
func (b *PubSub) Close() error {
	b.mu.Lock()
	for _, t := range b.topics {
		t.Stop()
	}
	b.mu.Unlock()
	return b.client.Close()
}
