package mq

import "errors"

// ErrNoChannel — AMQP канал недоступен (соединение разорвано).
var ErrNoChannel = errors.New("mq: no channel available")
