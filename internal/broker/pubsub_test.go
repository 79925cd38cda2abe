package broker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/Lllllllleong/paperlessflow/internal/models"
)

const testProject = "paperless-test"

// newFakePubSub returns a broker and a raw client talking to an in-process
// Pub/Sub fake.
func newFakePubSub(t *testing.T, opts Options) (*PubSub, *pubsub.Client, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	ctx := context.Background()
	client, err := pubsub.NewClient(ctx, testProject, option.WithGRPCConn(conn))
	require.NoError(t, err)
	admin, err := pubsub.NewClient(ctx, testProject, option.WithGRPCConn(conn))
	require.NoError(t, err)

	b := NewPubSub(client, opts)
	t.Cleanup(func() {
		_ = b.Close()
		_ = admin.Close()
		_ = conn.Close()
		_ = srv.Close()
	})
	return b, admin, srv
}

// startSubscriber runs Subscribe in the background and waits until its
// subscription exists, so later publishes are retained for it.
func startSubscriber(t *testing.T, b *PubSub, admin *pubsub.Client, topic, group string, h Handler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Subscribe(ctx, topic, group, h) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("subscriber did not stop")
		}
	})

	require.Eventually(t, func() bool {
		ok, err := admin.Subscription(topic + "-" + group).Exists(context.Background())
		return err == nil && ok
	}, 10*time.Second, 20*time.Millisecond)
}

// attemptRecorder records the attempt number of every delivery it sees and
// fails the ones fail selects.
type attemptRecorder struct {
	mu       sync.Mutex
	attempts []int
	fail     func(attempt int) error
}

func (r *attemptRecorder) handle(ctx context.Context, d Delivery) error {
	r.mu.Lock()
	r.attempts = append(r.attempts, d.Attempt)
	r.mu.Unlock()
	if r.fail == nil {
		return nil
	}
	return r.fail(d.Attempt)
}

func (r *attemptRecorder) seen() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.attempts...)
}

func deadLettered(srv *pstest.Server, topic string) []*pstest.Message {
	var out []*pstest.Message
	for _, m := range srv.Messages() {
		if strings.HasSuffix(m.Topic, "/"+topic) && m.Attributes["deadletter-source-topic"] != "" {
			out = append(out, m)
		}
	}
	return out
}

func TestPubSubAcksHandledMessage(t *testing.T) {
	b, admin, srv := newFakePubSub(t, Options{Concurrency: 2, MaxAttempts: 5})

	got := make(chan Delivery, 1)
	startSubscriber(t, b, admin, TopicProcessing, "ocr-workers", func(ctx context.Context, d Delivery) error {
		got <- d
		return nil
	})

	require.NoError(t, b.Publish(context.Background(), TopicProcessing, models.ProcessingJob{DocumentID: "D1", Filename: "report.pdf"}))

	var d Delivery
	select {
	case d = <-got:
	case <-time.After(10 * time.Second):
		t.Fatal("message was not delivered")
	}
	assert.Equal(t, TopicProcessing, d.Topic)
	assert.Equal(t, 1, d.Attempt)
	assert.JSONEq(t, `{"documentId":"D1","filename":"report.pdf"}`, string(d.Data))
	assert.Equal(t, EventType(TopicProcessing), d.Attributes["ce-type"])

	require.Eventually(t, func() bool {
		m := srv.Message(d.ID)
		return m != nil && m.Acks == 1
	}, 10*time.Second, 20*time.Millisecond)
	assert.Empty(t, deadLettered(srv, TopicProcessing+"-deadletter"))
}

func TestPubSubRedeliversTransientFailure(t *testing.T) {
	b, admin, srv := newFakePubSub(t, Options{MaxAttempts: 5})

	rec := &attemptRecorder{fail: func(attempt int) error {
		if attempt < 3 {
			return errors.New("metadata store unavailable")
		}
		return nil
	}}
	startSubscriber(t, b, admin, TopicResults, "result-correlators", rec.handle)

	require.NoError(t, b.Publish(context.Background(), TopicResults, models.OcrResult{DocumentID: "D1", OCRText: "hello"}))

	require.Eventually(t, func() bool { return len(rec.seen()) == 3 }, 10*time.Second, 20*time.Millisecond)
	assert.Equal(t, []int{1, 2, 3}, rec.seen())
	assert.Empty(t, deadLettered(srv, TopicResults+"-deadletter"))
}

func TestPubSubDeadLettersAfterMaxAttempts(t *testing.T) {
	b, admin, srv := newFakePubSub(t, Options{MaxAttempts: 5})

	rec := &attemptRecorder{fail: func(int) error { return errors.New("blob store timeout") }}
	startSubscriber(t, b, admin, TopicProcessing, "ocr-workers", rec.handle)

	require.NoError(t, b.Publish(context.Background(), TopicProcessing, models.ProcessingJob{DocumentID: "D1"}))

	require.Eventually(t, func() bool {
		return len(deadLettered(srv, TopicProcessing+"-deadletter")) == 1
	}, 10*time.Second, 20*time.Millisecond)

	dl := deadLettered(srv, TopicProcessing+"-deadletter")[0]
	assert.Equal(t, TopicProcessing, dl.Attributes["deadletter-source-topic"])
	assert.Equal(t, "5", dl.Attributes["deadletter-attempt"])
	assert.Equal(t, "blob store timeout", dl.Attributes["deadletter-reason"])
	assert.JSONEq(t, `{"documentId":"D1","filename":""}`, string(dl.Data))
	assert.Equal(t, []int{1, 2, 3, 4, 5}, rec.seen())
}

func TestPubSubDropsPermanentFailureOnFirstAttempt(t *testing.T) {
	b, admin, srv := newFakePubSub(t, Options{MaxAttempts: 5, DeadLetterTopic: "paperless-dead"})

	rec := &attemptRecorder{fail: func(int) error { return Permanent(ErrMalformed) }}
	startSubscriber(t, b, admin, TopicResults, "result-correlators", rec.handle)

	require.NoError(t, b.PublishRaw(context.Background(), TopicResults, []byte("{not json"), nil))

	require.Eventually(t, func() bool {
		return len(deadLettered(srv, "paperless-dead")) == 1
	}, 10*time.Second, 20*time.Millisecond)
	assert.Equal(t, "1", deadLettered(srv, "paperless-dead")[0].Attributes["deadletter-attempt"])
	assert.Equal(t, []int{1}, rec.seen())
}

func TestPubSubSubscriptionGetsDeadLetterPolicy(t *testing.T) {
	ctx := context.Background()
	b, admin, _ := newFakePubSub(t, Options{MaxAttempts: 3})

	// A subscription created before dead-lettering existed is upgraded in place.
	topic, err := admin.CreateTopic(ctx, TopicProcessing)
	require.NoError(t, err)
	_, err = admin.CreateSubscription(ctx, TopicProcessing+"-ocr-workers", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	startSubscriber(t, b, admin, TopicProcessing, "ocr-workers", func(context.Context, Delivery) error { return nil })
	startSubscriber(t, b, admin, TopicResults, "result-correlators", func(context.Context, Delivery) error { return nil })

	tests := []struct {
		subscription string
		deadLetter   string
	}{
		{TopicProcessing + "-ocr-workers", TopicProcessing + "-deadletter"},
		{TopicResults + "-result-correlators", TopicResults + "-deadletter"},
	}
	for _, tt := range tests {
		t.Run(tt.subscription, func(t *testing.T) {
			cfg, err := admin.Subscription(tt.subscription).Config(ctx)
			require.NoError(t, err)
			require.NotNil(t, cfg.DeadLetterPolicy)
			assert.Equal(t, "projects/"+testProject+"/topics/"+tt.deadLetter, cfg.DeadLetterPolicy.DeadLetterTopic)
			// Pub/Sub's lower bound wins over the configured three attempts.
			assert.Equal(t, 5, cfg.DeadLetterPolicy.MaxDeliveryAttempts)
		})
	}
}

func TestPubSubWithoutAttemptBoundHasNoDeadLetterTopic(t *testing.T) {
	b, _, _ := newFakePubSub(t, Options{})
	assert.Empty(t, b.deadLetterTopic(TopicProcessing))

	b.opts.MaxAttempts = 4
	assert.Equal(t, TopicProcessing+"-deadletter", b.deadLetterTopic(TopicProcessing))

	b.opts.DeadLetterTopic = "shared-dead"
	assert.Equal(t, "shared-dead", b.deadLetterTopic(TopicResults))
}
