// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с RabbitMQ: reconnect с backoff, graceful shutdown,
//     объявление топологии при каждом подключении (WithTopology)
//   - topology.go   — exchanges, queues, bindings
//   - publisher.go  — публикация событий доски (реализует jobboard.Notifier)
//   - consumer.go   — потребление событий, пробуждение conductor'а
//
// Типы сообщений:
//   - job.posted — job опубликован на доске
//   - job.erased — завершённый job стёрт с доски
//
// Exchanges:
//   - taskflow.jobs — события доски
//   - taskflow.dlq  — dead letter queue
package mq
