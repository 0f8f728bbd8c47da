package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/taskflow/internal/domain"
	"github.com/shaiso/taskflow/internal/jobboard"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeJobPosted MessageType = "job.posted"
	MessageTypeJobErased MessageType = "job.erased"
)

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// JobEventPayload — payload событий доски.
type JobEventPayload struct {
	JobID    uuid.UUID       `json:"job_id"`
	Name     string          `json:"name"`
	State    domain.JobState `json:"state"`
	Owner    string          `json:"owner,omitempty"`
	PostedOn []string        `json:"posted_on,omitempty"`
	PostedAt time.Time       `json:"posted_at"`
}

// publishFunc отправляет готовое AMQP сообщение.
type publishFunc func(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error

// Publisher публикует события доски в RabbitMQ.
type Publisher struct {
	publish publishFunc
	logger  *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return newPublisher(func(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
		return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
			return ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
		})
	}, logger)
}

func newPublisher(publish publishFunc, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		publish: publish,
		logger:  logger.With("component", "mq_publisher"),
	}
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = p.publish(ctx, string(exchange), string(routingKey), amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
		MessageId:    msg.ID,
		Timestamp:    msg.Timestamp,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
	}

	p.logger.Debug("published message",
		"exchange", exchange,
		"routing_key", routingKey,
		"message_id", msg.ID,
		"type", msg.Type,
	)
	return nil
}

// NotifyPosted публикует job.posted. Потребитель: Conductor.
func (p *Publisher) NotifyPosted(ctx context.Context, job domain.Job) error {
	return p.Publish(ctx, ExchangeJobs, RoutingKeyPosted, newJobMessage(MessageTypeJobPosted, job))
}

// NotifyErased публикует job.erased.
func (p *Publisher) NotifyErased(ctx context.Context, job domain.Job) error {
	return p.Publish(ctx, ExchangeJobs, RoutingKeyErased, newJobMessage(MessageTypeJobErased, job))
}

func newJobMessage(t MessageType, job domain.Job) *Message {
	return &Message{
		ID:   uuid.New().String(),
		Type: t,
		Payload: JobEventPayload{
			JobID:    job.ID,
			Name:     job.Name,
			State:    job.State,
			Owner:    job.Owner,
			PostedOn: job.PostedOn,
			PostedAt: job.PostedAt,
		},
		Timestamp: time.Now().UTC(),
	}
}

var _ jobboard.Notifier = (*Publisher)(nil)
