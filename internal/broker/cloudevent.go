package broker

import (
	"context"
	"log/slog"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// MessagePublishedData is the payload Eventarc delivers for a Pub/Sub message
// (google.cloud.pubsub.topic.v1.messagePublished).
type MessagePublishedData struct {
	Message      PubSubMessage `json:"message"`
	Subscription string        `json:"subscription"`
}

// PubSubMessage is the message inside MessagePublishedData.
type PubSubMessage struct {
	Data       []byte            `json:"data"`
	Attributes map[string]string `json:"attributes"`
	MessageID  string            `json:"messageId"`
}

// CloudEventFunc adapts h to a Functions Framework CloudEvent function fed by
// an Eventarc Pub/Sub trigger on topic. Returning an error makes Eventarc
// redeliver; permanent failures and undecodable envelopes are acknowledged.
func CloudEventFunc(topic string, h Handler) func(ctx context.Context, e cloudevents.Event) error {
	return func(ctx context.Context, e cloudevents.Event) error {
		var msg MessagePublishedData
		if err := e.DataAs(&msg); err != nil {
			slog.Error("Failed to unmarshal event data, discarding.", "eventId", e.ID(), "error", err)
			return nil
		}

		d := Delivery{
			ID:         msg.Message.MessageID,
			Topic:      topic,
			Data:       msg.Message.Data,
			Attributes: msg.Message.Attributes,
		}
		if d.ID == "" {
			d.ID = e.ID()
		}
		// Eventarc owns the retry budget, so every failure is settled here
		// without an attempt bound.
		if out, err := Settle(ctx, h, d, 0); out == OutcomeRetry {
			return err
		}
		return nil
	}
}
