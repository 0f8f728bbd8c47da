package domain

import "errors"

// Общие виды ошибок.
//
// Пакеты оборачивают их через %w или типизированные ошибки,
// поэтому вызывающий код проверяет вид через errors.Is.
var (
	// ErrInvalidState — операция невозможна в текущем состоянии
	// (граф не валиден, повторный запуск, стирание незавершённого job).
	ErrInvalidState = errors.New("invalid state")

	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — запись уже существует.
	ErrAlreadyExists = errors.New("already exists")

	// ErrClosed — обращение к закрытому объекту.
	ErrClosed = errors.New("closed")

	// ErrJobNotFound — job отсутствует на доске.
	ErrJobNotFound = errors.New("job not found")

	// ErrUnclaimable — job нельзя захватить или освободить этим владельцем.
	ErrUnclaimable = errors.New("job can not be claimed")
)
