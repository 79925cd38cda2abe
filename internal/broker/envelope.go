package broker

import (
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// EventSource is the CloudEvents source stamped on every published message.
const EventSource = "//paperlessflow/pipeline"

// EventType returns the CloudEvents type for messages on topic.
func EventType(topic string) string {
	return "com.paperlessflow." + topic + ".v1"
}

// newEvent builds the CloudEvents context for a message published to topic.
// The JSON payload travels as the message body; the context travels as
// ce-* attributes (the Pub/Sub binary content mode).
func newEvent(topic string, data []byte) (cloudevents.Event, map[string]string, error) {
	e := cloudevents.NewEvent()
	e.SetID(uuid.NewString())
	e.SetSource(EventSource)
	e.SetType(EventType(topic))
	e.SetTime(time.Now().UTC())
	if err := e.SetData(cloudevents.ApplicationJSON, data); err != nil {
		return e, nil, fmt.Errorf("failed to set event data: %w", err)
	}
	if err := e.Validate(); err != nil {
		return e, nil, fmt.Errorf("invalid event: %w", err)
	}

	attrs := map[string]string{
		"ce-specversion": e.SpecVersion(),
		"ce-id":          e.ID(),
		"ce-source":      e.Source(),
		"ce-type":        e.Type(),
		"ce-time":        e.Time().Format(time.RFC3339Nano),
		"content-type":   cloudevents.ApplicationJSON,
	}
	return e, attrs, nil
}
