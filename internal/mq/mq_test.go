package mq

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/taskflow/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sent struct {
	exchange   string
	routingKey string
	msg        amqp.Publishing
}

func recordingPublisher(out *[]sent, err error) *Publisher {
	return newPublisher(func(_ context.Context, exchange, routingKey string, msg amqp.Publishing) error {
		if err != nil {
			return err
		}
		*out = append(*out, sent{exchange, routingKey, msg})
		return nil
	}, discardLogger())
}

func TestPublisherNotifyPosted(t *testing.T) {
	var out []sent
	p := recordingPublisher(&out, nil)

	job := domain.Job{
		ID:       uuid.New(),
		Name:     "provision",
		State:    domain.JobStateUnclaimed,
		PostedOn: []string{"main"},
		PostedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := p.NotifyPosted(context.Background(), job); err != nil {
		t.Fatalf("NotifyPosted: %v", err)
	}

	if len(out) != 1 {
		t.Fatalf("expected 1 message, got %d", len(out))
	}
	if out[0].exchange != string(ExchangeJobs) || out[0].routingKey != string(RoutingKeyPosted) {
		t.Errorf("unexpected route %s/%s", out[0].exchange, out[0].routingKey)
	}
	if out[0].msg.DeliveryMode != amqp.Persistent {
		t.Errorf("expected persistent delivery")
	}

	var msg Message
	if err := json.Unmarshal(out[0].msg.Body, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != MessageTypeJobPosted {
		t.Errorf("expected type %s, got %s", MessageTypeJobPosted, msg.Type)
	}
	if msg.ID != out[0].msg.MessageId {
		t.Errorf("message id mismatch: %s vs %s", msg.ID, out[0].msg.MessageId)
	}

	payload, err := ParsePayload[JobEventPayload](&msg)
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if payload.JobID != job.ID || payload.Name != "provision" {
		t.Errorf("unexpected payload: %+v", payload)
	}
	if !payload.PostedAt.Equal(job.PostedAt) {
		t.Errorf("expected posted_at %v, got %v", job.PostedAt, payload.PostedAt)
	}
}

func TestPublisherNotifyErased(t *testing.T) {
	var out []sent
	p := recordingPublisher(&out, nil)

	if err := p.NotifyErased(context.Background(), domain.Job{ID: uuid.New(), State: domain.JobStateSuccess}); err != nil {
		t.Fatalf("NotifyErased: %v", err)
	}
	if len(out) != 1 || out[0].routingKey != string(RoutingKeyErased) {
		t.Fatalf("expected one erased message, got %+v", out)
	}
}

func TestPublisherError(t *testing.T) {
	var out []sent
	p := recordingPublisher(&out, ErrNoChannel)

	err := p.NotifyPosted(context.Background(), domain.Job{ID: uuid.New()})
	if !errors.Is(err, ErrNoChannel) {
		t.Fatalf("expected ErrNoChannel, got %v", err)
	}
}

func TestConsumerHandle(t *testing.T) {
	var woke int
	c := &Consumer{
		logger:  discardLogger(),
		queue:   QueueJobsPosted,
		handler: WakeHandler(func() { woke++ }),
	}

	body, _ := json.Marshal(newJobMessage(MessageTypeJobPosted, domain.Job{ID: uuid.New()}))
	if got := c.handle(context.Background(), body); got != ackOK {
		t.Errorf("expected ackOK, got %d", got)
	}
	if woke != 1 {
		t.Errorf("expected one wake-up, got %d", woke)
	}

	body, _ = json.Marshal(newJobMessage(MessageTypeJobErased, domain.Job{ID: uuid.New()}))
	if got := c.handle(context.Background(), body); got != ackOK {
		t.Errorf("expected ackOK, got %d", got)
	}
	if woke != 1 {
		t.Errorf("erased message must not wake, got %d", woke)
	}

	if got := c.handle(context.Background(), []byte("{broken")); got != ackReject {
		t.Errorf("expected ackReject for broken body, got %d", got)
	}
}

func TestConsumerHandlerFailureRequeues(t *testing.T) {
	c := &Consumer{
		logger: discardLogger(),
		handler: func(context.Context, *Message) error {
			return errors.New("boom")
		},
	}
	body, _ := json.Marshal(newJobMessage(MessageTypeJobPosted, domain.Job{ID: uuid.New()}))
	if got := c.handle(context.Background(), body); got != ackRequeue {
		t.Errorf("expected ackRequeue, got %d", got)
	}
}

func TestTopology(t *testing.T) {
	var postedHasDLQ bool
	for _, q := range topology {
		if q.queue == QueueJobsPosted {
			postedHasDLQ = q.deadLetter
		}
	}
	if !postedHasDLQ {
		t.Errorf("jobs.posted must dead-letter to %s", ExchangeDLQ)
	}

	args := queueArgs(true)
	if args["x-dead-letter-exchange"] != string(ExchangeDLQ) {
		t.Errorf("unexpected dlq args: %v", args)
	}
	if queueArgs(false) != nil {
		t.Errorf("expected nil args without dlq")
	}
}

func TestConnectionOptions(t *testing.T) {
	c := newConnection("amqp://example", discardLogger())
	if c.topology {
		t.Errorf("topology must be opt-in")
	}
	if c.backoff != [2]time.Duration{defaultMinBackoff, defaultMaxBackoff} {
		t.Errorf("unexpected default backoff %v", c.backoff)
	}

	c = newConnection("amqp://example", discardLogger(),
		WithTopology(),
		WithBackoff(100*time.Millisecond, 2*time.Second),
	)
	if !c.topology {
		t.Errorf("expected topology declaration on connect")
	}
	if c.backoff != [2]time.Duration{100 * time.Millisecond, 2 * time.Second} {
		t.Errorf("unexpected backoff %v", c.backoff)
	}

	// нулевые значения из окружения оставляют умолчания
	c = newConnection("", discardLogger(), WithBackoff(0, 0))
	if c.backoff != [2]time.Duration{defaultMinBackoff, defaultMaxBackoff} {
		t.Errorf("zero backoff must keep defaults, got %v", c.backoff)
	}
	if c.url != DefaultURL() {
		t.Errorf("expected default url, got %s", c.url)
	}
}

func TestNextBackoff(t *testing.T) {
	delay := time.Second
	var got []time.Duration
	for range 6 {
		delay = nextBackoff(delay, 10*time.Second)
		got = append(got, delay)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second, 10 * time.Second}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("step %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestReconnectStopsOnClose(t *testing.T) {
	c := newConnection("amqp://example", discardLogger(), WithBackoff(time.Hour, time.Hour))
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	done := make(chan bool, 1)
	go func() { done <- c.reconnect() }()

	select {
	case ok := <-done:
		if ok {
			t.Errorf("reconnect must give up after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("reconnect kept waiting after Close")
	}
	if c.IsConnected() {
		t.Errorf("closed connection reports connected")
	}
}
