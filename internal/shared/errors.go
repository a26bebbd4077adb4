package shared

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

var (
	// ErrSessionNotFound covers both unknown session IDs and sessions
	// silently reaped by the store TTL.
	ErrSessionNotFound  = errors.New("session not found")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrSerialization    = errors.New("serialization error")
	ErrInvalidFrame     = errors.New("invalid frame")
)

type APIError struct {
	Code    string `json:"code" example:"invalid_request"`
	Message string `json:"message" example:"Invalid request body"`
	Details any    `json:"details,omitempty"`
}

func NewAPIError(code, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
	}
}

func (e *APIError) ToHTTP(status int) *echo.HTTPError {
	return echo.NewHTTPError(status, e)
}

func BadRequest(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusBadRequest)
}

func NotFound(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusNotFound)
}

func InternalError(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusInternalServerError)
}

func ServiceUnavailable(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusServiceUnavailable)
}
