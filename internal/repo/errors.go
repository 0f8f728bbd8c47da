package repo

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/shaiso/taskflow/internal/domain"
)

// Общие ошибки репозиториев.
// Совпадают с видами ошибок domain, чтобы вызывающий код
// не зависел от backend'а.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = domain.ErrNotFound

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = domain.ErrAlreadyExists

	// ErrInvalidState — операция невозможна в текущем состоянии.
	ErrInvalidState = domain.ErrInvalidState
)

// pgUniqueViolation — код ошибки PostgreSQL unique_violation.
const pgUniqueViolation = "23505"

// isUniqueViolation проверяет, что ошибка — нарушение уникальности.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
