// Package errors provides HTTP-mappable application errors.
// Handlers use the constructors to translate domain failures into
// responses with distinct status codes.
package errors

import "net/http"

// AppError is an error that carries the HTTP status it should map to.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return e.Message
}

// BadRequest returns a 400 error for malformed or invalid requests.
func BadRequest(message string) *AppError {
	return &AppError{
		Code:       "bad_request",
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// Unprocessable returns a 422 error for well-formed requests that fail
// semantic validation.
func Unprocessable(message string) *AppError {
	return &AppError{
		Code:       "unprocessable",
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// NotFound returns a 404 error for unknown resources.
func NotFound(message string) *AppError {
	return &AppError{
		Code:       "not_found",
		Message:    message,
		HTTPStatus: http.StatusNotFound,
	}
}

// Conflict returns a 409 error for identifier collisions.
func Conflict(message string) *AppError {
	return &AppError{
		Code:       "conflict",
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// Internal returns a 500 error for unexpected failures.
func Internal(message string) *AppError {
	return &AppError{
		Code:       "internal",
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
	}
}
