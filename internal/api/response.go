package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shaiso/taskflow/internal/domain"
	"github.com/shaiso/taskflow/internal/engine"
)

// ErrorCode — код ошибки API.
type ErrorCode string

const (
	ErrCodeBadRequest     ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"
	ErrCodeConflict       ErrorCode = "CONFLICT"
	ErrCodeInvalidState   ErrorCode = "INVALID_STATE"
	ErrCodeUnclaimable    ErrorCode = "UNCLAIMABLE"
	ErrCodeInvalidFlow    ErrorCode = "INVALID_FLOW"
	ErrCodeUnavailable    ErrorCode = "UNAVAILABLE"
	ErrCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrCodeMethodNotAllow ErrorCode = "METHOD_NOT_ALLOWED"
)

// ErrorResponse — структура ответа с ошибкой.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail — детали ошибки.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// DataResponse — структура успешного ответа.
type DataResponse struct {
	Data any `json:"data"`
}

// ListResponse — структура ответа со списком.
type ListResponse struct {
	Data  any `json:"data"`
	Total int `json:"total,omitempty"`
}

// JSON отправляет JSON ответ.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Success отправляет успешный ответ с данными.
func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, DataResponse{Data: data})
}

// Created отправляет ответ о создании ресурса.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, DataResponse{Data: data})
}

// NoContent отправляет ответ без тела (204).
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// List отправляет ответ со списком.
func List(w http.ResponseWriter, data any, total int) {
	JSON(w, http.StatusOK, ListResponse{Data: data, Total: total})
}

// Error отправляет ответ с ошибкой.
func Error(w http.ResponseWriter, status int, code ErrorCode, message string) {
	JSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// BadRequest отправляет ошибку 400.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// NotFound отправляет ошибку 404.
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// Conflict отправляет ошибку 409.
func Conflict(w http.ResponseWriter, message string) {
	Error(w, http.StatusConflict, ErrCodeConflict, message)
}

// InvalidState отправляет ошибку 422.
func InvalidState(w http.ResponseWriter, message string) {
	Error(w, http.StatusUnprocessableEntity, ErrCodeInvalidState, message)
}

// InternalError отправляет ошибку 500.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

// Unavailable отправляет ошибку 503.
func Unavailable(w http.ResponseWriter, message string) {
	Error(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

// MethodNotAllowed отправляет ошибку 405.
func MethodNotAllowed(w http.ResponseWriter) {
	Error(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
}

// HandleError преобразует ошибку доски, каталога или engine в HTTP ответ.
//
//	NotFound, JobNotFound       → 404
//	AlreadyExists               → 409
//	Unclaimable                 → 422
//	ошибки графа и spec'а flow  → 422
//	InvalidState                → 422
//	Closed                      → 503
//	остальное                   → 500
func HandleError(w http.ResponseWriter, logger *slog.Logger, err error) bool {
	if err == nil {
		return false
	}

	var validationErr *engine.ValidationError
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrJobNotFound):
		NotFound(w, err.Error())
	case errors.Is(err, domain.ErrAlreadyExists):
		Conflict(w, err.Error())
	case errors.Is(err, domain.ErrUnclaimable):
		Error(w, http.StatusUnprocessableEntity, ErrCodeUnclaimable, err.Error())
	case errors.As(err, &validationErr), isGraphError(err):
		Error(w, http.StatusUnprocessableEntity, ErrCodeInvalidFlow, err.Error())
	case errors.Is(err, domain.ErrInvalidState):
		InvalidState(w, err.Error())
	case errors.Is(err, domain.ErrClosed):
		Unavailable(w, err.Error())
	default:
		InternalError(w, logger, err)
	}
	return true
}

func isGraphError(err error) bool {
	for _, target := range []error{
		engine.ErrDuplicateTask,
		engine.ErrAmbiguousProvider,
		engine.ErrUnresolvedRequirement,
		engine.ErrCyclicDependency,
		engine.ErrEmptyTasks,
		engine.ErrMalformedSpec,
		engine.ErrUnsupportedFormat,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
