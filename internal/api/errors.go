// errors.go - Structured error handling for API responses
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pdf-intake/backend/internal/docstore"
	"github.com/pdf-intake/backend/internal/intake"
	"github.com/pdf-intake/backend/internal/logger"
	"github.com/pdf-intake/backend/internal/queue"
)

// APIError represents a structured API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	// Admitted lists ids queued by a batch before it failed.
	Admitted []string `json:"admitted,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewValidationError creates a 400 validation error for a specific field
func NewValidationError(field string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("validation failed for field: %s", field),
	}
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(resource string, id string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewServiceUnavailableError creates a 503 Service Unavailable error
func NewServiceUnavailableError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusServiceUnavailable,
		Code:    "SERVICE_UNAVAILABLE",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// classify maps a domain error onto an APIError. message describes the
// operation that failed and is used for server-side failures.
func classify(err error, message string) *APIError {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, intake.ErrInvalidDirectory):
		return NewBadRequestError("Invalid directory path", err)
	case errors.Is(err, intake.ErrInvalidFilename):
		return NewBadRequestError("Invalid filename", err)
	case errors.Is(err, docstore.ErrUnindexedField):
		return NewBadRequestError("Field cannot be searched", err)
	case errors.Is(err, docstore.ErrUnavailable):
		return NewServiceUnavailableError("document store unavailable", err)
	case errors.Is(err, queue.ErrClosed):
		return NewServiceUnavailableError("server is shutting down", err)
	default:
		return NewInternalError(message, err)
	}
}

// NewErrorHandler returns an echo.HTTPErrorHandler that renders APIError
// bodies. Server-side failures are logged; their details are only sent to
// the client when exposeDetails is set.
// Usage: e.HTTPErrorHandler = api.NewErrorHandler(log, cfg.Logging.Mode != "production")
func NewErrorHandler(log *logger.Logger, exposeDetails bool) echo.HTTPErrorHandler {
	if log == nil {
		log = logger.Nop()
	}
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var apiErr *APIError
		var httpErr *echo.HTTPError
		switch {
		case errors.As(err, &apiErr):
		case errors.As(err, &httpErr):
			apiErr = &APIError{
				Status:  httpErr.Code,
				Code:    "HTTP_ERROR",
				Message: fmt.Sprintf("%v", httpErr.Message),
			}
		default:
			apiErr = classify(err, "An unexpected error occurred")
		}

		if apiErr.Status >= http.StatusInternalServerError {
			log.Error("request failed",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", apiErr.Status,
				"error", err,
			)
			if !exposeDetails {
				redacted := *apiErr
				redacted.Details = ""
				apiErr = &redacted
			}
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(apiErr.Status)
			return
		}
		_ = c.JSON(apiErr.Status, apiErr)
	}
}
