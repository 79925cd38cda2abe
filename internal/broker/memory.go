package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned when publishing to a closed broker.
var ErrClosed = errors.New("broker closed")

// Memory is an in-process Broker used by single-binary deployments and tests.
// Each (topic, group) pair owns one queue; publishing fans a message out to
// every group bound to the topic and the members of a group compete for it.
type Memory struct {
	opts Options

	mu     sync.Mutex
	topics map[string]map[string]*queue
	closed bool
}

// NewMemory creates an in-process broker.
func NewMemory(opts Options) *Memory {
	return &Memory{
		opts:   opts.withDefaults(),
		topics: make(map[string]map[string]*queue),
	}
}

// Declare binds group to topic so messages published before the first
// Subscribe call are retained for it.
func (b *Memory) Declare(topic, group string) {
	b.queueFor(topic, group)
}

// Publish encodes msg as JSON and delivers it to every group bound to topic.
func (b *Memory) Publish(ctx context.Context, topic string, msg any) error {
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

// PublishRaw delivers data unchanged. It lets callers inject payloads that
// Publish would refuse to encode.
func (b *Memory) PublishRaw(ctx context.Context, topic string, data []byte, attrs map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	groups := make([]*queue, 0, len(b.topics[topic]))
	for _, q := range b.topics[topic] {
		groups = append(groups, q)
	}
	b.mu.Unlock()

	if len(groups) == 0 {
		slog.Warn("Publishing to a topic with no bound groups, message discarded.", "topic", topic)
		return nil
	}
	id := uuid.NewString()
	for _, q := range groups {
		q.push(Delivery{ID: id, Topic: topic, Data: data, Attributes: attrs, Attempt: 1})
	}
	return nil
}

// Subscribe runs Options.Concurrency handlers for the group until ctx is
// cancelled. Several Subscribe calls on the same group share one queue.
func (b *Memory) Subscribe(ctx context.Context, topic, group string, h Handler) error {
	q := b.queueFor(topic, group)
	logCtx := slog.With("topic", topic, "group", group)
	logCtx.Info("Subscribed.", "concurrency", b.opts.Concurrency)

	g, gctx := errgroup.WithContext(ctx)
	for range b.opts.Concurrency {
		g.Go(func() error {
			for {
				d, ok := q.pop(gctx)
				if !ok {
					return nil
				}
				b.settle(gctx, q, h, d)
			}
		})
	}
	err := g.Wait()
	logCtx.Info("Subscription stopped.")
	return err
}

func (b *Memory) settle(ctx context.Context, q *queue, h Handler, d Delivery) {
	hctx, cancel := context.WithTimeout(ctx, b.opts.AckDeadline)
	out, err := Settle(hctx, h, d, b.opts.MaxAttempts)
	cancel()

	switch out {
	case OutcomeRetry:
		d.Attempt++
		if b.opts.RedeliveryDelay > 0 {
			time.AfterFunc(b.opts.RedeliveryDelay, func() { q.push(d) })
			return
		}
		q.push(d)
	case OutcomeDrop:
		if b.opts.DeadLetterTopic == "" {
			return
		}
		if dlErr := b.PublishRaw(context.Background(), b.opts.DeadLetterTopic, d.Data, deadLetterAttributes(d, err)); dlErr != nil {
			slog.Error("Failed to dead-letter message.", "topic", d.Topic, "messageId", d.ID, "error", dlErr)
		}
	}
}

// Pending reports how many messages wait in the group's queue.
func (b *Memory) Pending(topic, group string) int {
	return b.queueFor(topic, group).len()
}

// Close rejects further publishes. Running subscriptions stop with their context.
func (b *Memory) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *Memory) queueFor(topic, group string) *queue {
	b.mu.Lock()
	defer b.mu.Unlock()
	groups, ok := b.topics[topic]
	if !ok {
		groups = make(map[string]*queue)
		b.topics[topic] = groups
	}
	q, ok := groups[group]
	if !ok {
		q = &queue{signal: make(chan struct{}, 1)}
		groups[group] = q
	}
	return q
}

// queue is an unbounded FIFO. signal holds at most one pending wake-up; a
// consumer that pops while items remain passes the wake-up on.
type queue struct {
	mu     sync.Mutex
	items  []Delivery
	signal chan struct{}
}

func (q *queue) push(d Delivery) {
	q.mu.Lock()
	q.items = append(q.items, d)
	q.mu.Unlock()
	q.wake()
}

func (q *queue) pop(ctx context.Context) (Delivery, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			d := q.items[0]
			q.items[0] = Delivery{}
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.wake()
			}
			return d, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Delivery{}, false
		case <-q.signal:
		}
	}
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
