package gcp

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
)

// NewPubSubClient creates a Pub/Sub client. PUBSUB_EMULATOR_HOST is honoured
// by the client library itself.
func NewPubSubClient(ctx context.Context, projectID string) (*pubsub.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a pubsub client")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pub/Sub client: %w", err)
	}
	return client, nil
}

// EnsureTopic returns the topic handle, creating the topic when missing.
func EnsureTopic(ctx context.Context, client *pubsub.Client, id string) (*pubsub.Topic, error) {
	topic := client.Topic(id)
	ok, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check topic %s: %w", id, err)
	}
	if ok {
		return topic, nil
	}
	topic, err = client.CreateTopic(ctx, id)
	if err != nil {
		// Another instance may have won the race.
		if ok, existsErr := client.Topic(id).Exists(ctx); existsErr == nil && ok {
			return client.Topic(id), nil
		}
		return nil, fmt.Errorf("failed to create topic %s: %w", id, err)
	}
	return topic, nil
}

// SubscriptionSpec describes a durable subscription bound to a topic.
type SubscriptionSpec struct {
	ID              string
	Topic           *pubsub.Topic
	AckDeadline     time.Duration
	DeadLetterTopic *pubsub.Topic
	MaxAttempts     int
}

// EnsureSubscription returns the subscription handle, creating it when missing.
// Every consumer group maps to one subscription, so members of the group
// compete for messages while different groups each see every message.
// An existing subscription without a dead-letter policy gains one when spec
// names a dead-letter topic.
func EnsureSubscription(ctx context.Context, client *pubsub.Client, spec SubscriptionSpec) (*pubsub.Subscription, error) {
	sub := client.Subscription(spec.ID)
	ok, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check subscription %s: %w", spec.ID, err)
	}
	if ok {
		if err := ensureDeadLetterPolicy(ctx, sub, spec); err != nil {
			return nil, err
		}
		return sub, nil
	}

	cfg := pubsub.SubscriptionConfig{
		Topic:       spec.Topic,
		AckDeadline: spec.AckDeadline,
		RetryPolicy: &pubsub.RetryPolicy{
			MinimumBackoff: 10 * time.Second,
			MaximumBackoff: 10 * time.Minute,
		},
		DeadLetterPolicy: deadLetterPolicy(spec),
	}
	sub, err = client.CreateSubscription(ctx, spec.ID, cfg)
	if err != nil {
		// Another instance may have won the race.
		if ok, existsErr := client.Subscription(spec.ID).Exists(ctx); existsErr == nil && ok {
			return client.Subscription(spec.ID), nil
		}
		return nil, fmt.Errorf("failed to create subscription %s: %w", spec.ID, err)
	}
	return sub, nil
}

func ensureDeadLetterPolicy(ctx context.Context, sub *pubsub.Subscription, spec SubscriptionSpec) error {
	policy := deadLetterPolicy(spec)
	if policy == nil {
		return nil
	}
	cfg, err := sub.Config(ctx)
	if err != nil {
		return fmt.Errorf("failed to read subscription %s: %w", spec.ID, err)
	}
	if cfg.DeadLetterPolicy != nil {
		return nil
	}
	if _, err := sub.Update(ctx, pubsub.SubscriptionConfigToUpdate{DeadLetterPolicy: policy}); err != nil {
		return fmt.Errorf("failed to add dead-letter policy to %s: %w", spec.ID, err)
	}
	return nil
}

// deadLetterPolicy is nil when spec has no dead-letter topic. Pub/Sub
// accepts 5..100 delivery attempts on a policy.
func deadLetterPolicy(spec SubscriptionSpec) *pubsub.DeadLetterPolicy {
	if spec.DeadLetterTopic == nil {
		return nil
	}
	return &pubsub.DeadLetterPolicy{
		DeadLetterTopic:     spec.DeadLetterTopic.String(),
		MaxDeliveryAttempts: min(max(spec.MaxAttempts, 5), 100),
	}
}
