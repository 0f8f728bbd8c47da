// Package api содержит HTTP API над доской job'ов и каталогом.
//
// Структура:
//   - handler.go      — Handler с DI (доска, каталог, реестр flow, logger)
//   - routes.go       — регистрация маршрутов
//   - middleware.go   — middleware (logging, recovery)
//   - response.go     — унифицированные JSON-ответы и обработка ошибок
//   - dto.go          — Data Transfer Objects (request/response)
//   - job_handler.go  — обработчики для /jobs
//   - flow_handler.go — обработчики для /flows
package api
