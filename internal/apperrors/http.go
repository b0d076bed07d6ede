package apperrors

import (
	"context"
	"errors"
	"net/http"
)

// Machine-readable error codes sent in API error bodies.
const (
	CodeValidation  = "validation_failed"
	CodeNotFound    = "not_found"
	CodeConflict    = "conflict"
	CodeTimeout     = "timeout"
	CodeUnavailable = "unavailable"
	CodeInternal    = "internal"
)

// Body is the JSON body of an API error response.
type Body struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

// HTTPStatus maps an error to the appropriate HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrInfrastructure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the error code matching HTTPStatus(err).
func Code(err error) string {
	switch HTTPStatus(err) {
	case http.StatusBadRequest:
		return CodeValidation
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	case http.StatusGatewayTimeout:
		return CodeTimeout
	case http.StatusServiceUnavailable:
		return CodeUnavailable
	default:
		return CodeInternal
	}
}

// ToBody builds the response body for err. Internal errors hide their cause.
func ToBody(err error) Body {
	b := Body{Error: err.Error(), Code: Code(err)}
	if b.Code == CodeInternal {
		b.Error = "internal error"
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		b.Field = appErr.Field
	}
	return b
}
