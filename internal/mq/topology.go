package mq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeJobs Exchange = "taskflow.jobs"
	ExchangeDLQ  Exchange = "taskflow.dlq"
)

// Queues — имена очередей.
const (
	QueueJobsPosted Queue = "jobs.posted"
	QueueJobsErased Queue = "jobs.erased"
	QueueDLQJobs    Queue = "dlq.jobs"
)

// Routing keys.
const (
	RoutingKeyPosted  RoutingKey = "posted"
	RoutingKeyErased  RoutingKey = "erased"
	RoutingKeyDLQJobs RoutingKey = "jobs"
)

// binding — привязка очереди к обменнику.
type binding struct {
	queue      Queue
	routingKey RoutingKey
	exchange   Exchange
}

// topology — объявляемые очереди и их привязки.
var topology = []struct {
	binding
	deadLetter bool
}{
	// jobs.posted — с DLQ: сообщение, которое не удалось обработать, не теряется
	{binding{QueueJobsPosted, RoutingKeyPosted, ExchangeJobs}, true},
	// jobs.erased — аудит удалений
	{binding{QueueJobsErased, RoutingKeyErased, ExchangeJobs}, false},
	{binding{QueueDLQJobs, RoutingKeyDLQJobs, ExchangeDLQ}, false},
}

// declareTopology объявляет exchanges, queues и bindings.
// Операции идемпотентны.
func declareTopology(ch *amqp.Channel) error {
	if err := declareExchanges(ch); err != nil {
		return err
	}
	if err := declareQueues(ch); err != nil {
		return err
	}
	return bindQueues(ch)
}

func declareExchanges(ch *amqp.Channel) error {
	for _, name := range []Exchange{ExchangeJobs, ExchangeDLQ} {
		err := ch.ExchangeDeclare(
			string(name), // name
			"direct",     // type
			true,         // durable
			false,        // auto-deleted
			false,        // internal
			false,        // no-wait
			nil,          // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", name, err)
		}
	}
	return nil
}

func declareQueues(ch *amqp.Channel) error {
	for _, q := range topology {
		_, err := ch.QueueDeclare(
			string(q.queue), // name
			true,            // durable
			false,           // delete when unused
			false,           // exclusive
			false,           // no-wait
			queueArgs(q.deadLetter),
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.queue, err)
		}
	}
	return nil
}

func bindQueues(ch *amqp.Channel) error {
	for _, b := range topology {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}
	return nil
}

// queueArgs возвращает аргументы очереди с DLQ или nil.
func queueArgs(deadLetter bool) amqp.Table {
	if !deadLetter {
		return nil
	}
	return amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQJobs),
	}
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  taskflow RabbitMQ topology:

    taskflow.jobs (direct)
    ├── jobs.posted [routing: posted]
    │       Consumer: Conductor (wake-up)
    │       DLQ: dlq.jobs
    └── jobs.erased [routing: erased]

    taskflow.dlq (direct)
    └── dlq.jobs [routing: jobs]
            Manual processing
  `
}
