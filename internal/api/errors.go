package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/chainmgr/internal/apperr"
)

// APIError represents a structured API error with HTTP status code.
type APIError struct {
	Code       int               `json:"code"`
	Kind       string            `json:"kind,omitempty"`
	Message    string            `json:"message"`
	Details    string            `json:"details,omitempty"`
	FieldError map[string]string `json:"field_errors,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

// NewAPIError creates a new API error.
func NewAPIError(code int, message string, details string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Common error constructors
func BadRequestError(message, details string) *APIError {
	apiErr := NewAPIError(http.StatusBadRequest, message, details)
	apiErr.Kind = apperr.InvalidArgument.String()
	return apiErr
}

func ValidationError(message string, fieldErrors map[string]string) *APIError {
	return &APIError{
		Code:       http.StatusBadRequest,
		Kind:       apperr.InvalidArgument.String(),
		Message:    message,
		FieldError: fieldErrors,
	}
}

// kindStatus maps error kinds to HTTP status codes.
var kindStatus = map[apperr.Kind]int{
	apperr.InvalidArgument:     http.StatusBadRequest,
	apperr.NotFound:            http.StatusNotFound,
	apperr.ConstraintViolation: http.StatusConflict,
	apperr.ConnectivityFailure: http.StatusBadGateway,
	apperr.PreconditionFailed:  http.StatusPreconditionFailed,
	apperr.ConfigIOFailure:     http.StatusInternalServerError,
	apperr.ProvisioningFailure: http.StatusInternalServerError,
	apperr.Internal:            http.StatusInternalServerError,
}

// StatusForKind returns the HTTP status code of an error kind.
func StatusForKind(kind apperr.Kind) int {
	if code, ok := kindStatus[kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// fromAppError converts a classified error into an APIError.
func fromAppError(err *apperr.Error) *APIError {
	code := StatusForKind(err.Kind)
	apiErr := &APIError{
		Code:    code,
		Kind:    err.Kind.String(),
		Message: getHTTPMessage(code),
		Details: err.Message,
	}
	if err.Cause != nil {
		apiErr.Details = err.Error()
	}
	return apiErr
}

// toAPIError classifies any handler error.
func toAPIError(err error) *APIError {
	var apiErr *APIError
	var he *echo.HTTPError
	var ae *apperr.Error
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.As(err, &ae):
		return fromAppError(ae)
	case errors.As(err, &he):
		return &APIError{
			Code:    he.Code,
			Message: getHTTPMessage(he.Code),
			Details: fmt.Sprintf("%v", he.Message),
		}
	}
	return &APIError{
		Code:    http.StatusInternalServerError,
		Kind:    apperr.Internal.String(),
		Message: "Internal server error",
		Details: err.Error(),
	}
}

// HTTPErrorHandler is a custom error handler for Echo.
func HTTPErrorHandler(err error, c echo.Context) {
	// Don't send response if already sent
	if c.Response().Committed {
		return
	}

	apiErr := toAPIError(err)

	// Don't expose internal errors in production
	if apiErr.Kind == apperr.Internal.String() && !c.Echo().Debug {
		redacted := *apiErr
		redacted.Details = "An internal error occurred. Please try again later."
		apiErr = &redacted
	}

	if err := c.JSON(apiErr.Code, apiErr); err != nil {
		c.Logger().Error(err)
	}
}

// getHTTPMessage returns a user-friendly message for HTTP status codes.
func getHTTPMessage(code int) string {
	messages := map[int]string{
		http.StatusBadRequest:          "Bad request",
		http.StatusUnauthorized:        "Unauthorized",
		http.StatusForbidden:           "Forbidden",
		http.StatusNotFound:            "Resource not found",
		http.StatusMethodNotAllowed:    "Method not allowed",
		http.StatusConflict:            "Conflict",
		http.StatusPreconditionFailed:  "Precondition failed",
		http.StatusUnprocessableEntity: "Unprocessable entity",
		http.StatusTooManyRequests:     "Too many requests",
		http.StatusInternalServerError: "Internal server error",
		http.StatusBadGateway:          "Bad gateway",
		http.StatusServiceUnavailable:  "Service unavailable",
	}

	if msg, ok := messages[code]; ok {
		return msg
	}
	return http.StatusText(code)
}
