// Package broker carries processing jobs and OCR results between process
// roles. Delivery is at-least-once: handlers must be idempotent.
//
// A handler reports how its message went by the error it returns:
//
//   - nil: the message is acknowledged.
//   - an error wrapped with Permanent: the message is dropped (and
//     dead-lettered when a dead-letter topic is configured).
//   - any other error: the message is redelivered until the attempt
//     budget runs out, then dropped like a permanent failure.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/paperlessflow/internal/metrics"
)

// Logical topic names.
const (
	TopicProcessing = "processing"
	TopicResults    = "results"
)

// ErrMalformed marks a message whose payload could not be decoded.
var ErrMalformed = errors.New("malformed message")

// Delivery is one attempt at handing a message to a handler.
type Delivery struct {
	ID         string
	Topic      string
	Data       []byte
	Attributes map[string]string
	// Attempt is 1 for the first delivery. Zero means the substrate does not
	// report attempts.
	Attempt int
}

// Handler processes one delivery.
type Handler func(ctx context.Context, d Delivery) error

// Publisher sends messages to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg any) error
}

// Subscriber registers a handler for a topic within a competing consumer
// group. Subscribe blocks until ctx is cancelled.
type Subscriber interface {
	Subscribe(ctx context.Context, topic, group string, h Handler) error
}

// Broker is a Publisher and Subscriber.
type Broker interface {
	Publisher
	Subscriber
	Close() error
}

// Options tune delivery for both broker implementations.
type Options struct {
	// Concurrency bounds the number of handlers running at once per subscription.
	Concurrency int
	// MaxAttempts bounds redelivery of transient failures. Zero means unbounded.
	MaxAttempts int
	// DeadLetterTopic receives dropped messages when set.
	DeadLetterTopic string
	// AckDeadline is how long a delivery may stay unacknowledged.
	AckDeadline time.Duration
	// RedeliveryDelay is the pause before a retried message is handed out again.
	RedeliveryDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	if o.AckDeadline <= 0 {
		o.AckDeadline = 60 * time.Second
	}
	return o
}

// PermanentError marks a failure that redelivery cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the broker drops the message instead of retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var perr *PermanentError
	return errors.As(err, &perr)
}

// JSON adapts a typed handler to a Handler. Payloads that do not decode are
// dropped as malformed.
func JSON[T any](fn func(ctx context.Context, msg T) error) Handler {
	return func(ctx context.Context, d Delivery) error {
		var msg T
		if err := json.Unmarshal(d.Data, &msg); err != nil {
			return Permanent(fmt.Errorf("%w: %v", ErrMalformed, err))
		}
		return fn(ctx, msg)
	}
}

// Outcome is how a delivery is settled with the substrate.
type Outcome int

const (
	OutcomeAck Outcome = iota
	OutcomeRetry
	OutcomeDrop
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAck:
		return "ack"
	case OutcomeRetry:
		return "retry"
	case OutcomeDrop:
		return "drop"
	}
	return "unknown"
}

// Settle runs h for d and decides how to settle the delivery. A panicking
// handler is treated as a permanent failure so it cannot stop the consumer.
func Settle(ctx context.Context, h Handler, d Delivery, maxAttempts int) (out Outcome, err error) {
	logCtx := slog.With("topic", d.Topic, "messageId", d.ID, "attempt", d.Attempt)
	defer func() {
		metrics.Messages.WithLabelValues(d.Topic, out.String()).Inc()
	}()

	err = invoke(ctx, h, d)
	switch {
	case err == nil:
		return OutcomeAck, nil
	case IsPermanent(err):
		logCtx.Error("Dropping message after permanent failure.", "error", err)
		return OutcomeDrop, err
	case maxAttempts > 0 && d.Attempt >= maxAttempts:
		logCtx.Error("Dropping message after exhausting delivery attempts.", "maxAttempts", maxAttempts, "error", err)
		return OutcomeDrop, err
	default:
		logCtx.Warn("Message handling failed, requeueing.", "error", err)
		return OutcomeRetry, err
	}
}

func invoke(ctx context.Context, h Handler, d Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return h(ctx, d)
}

// deadLetterAttributes annotates a dropped message for the dead-letter topic.
func deadLetterAttributes(d Delivery, cause error) map[string]string {
	attrs := make(map[string]string, len(d.Attributes)+3)
	for k, v := range d.Attributes {
		attrs[k] = v
	}
	attrs["deadletter-source-topic"] = d.Topic
	attrs["deadletter-attempt"] = fmt.Sprint(d.Attempt)
	if cause != nil {
		attrs["deadletter-reason"] = cause.Error()
	}
	return attrs
}
