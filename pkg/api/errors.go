package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nimburion/monjobs/pkg/jobs"
	"github.com/nimburion/monjobs/pkg/middleware"
)

// Error codes returned in ErrorResponse.Error.
const (
	CodeInvalidRequest   = "invalid_request"
	CodeValidation       = "validation_error"
	CodeInvalidQuery     = "invalid_query"
	CodeNotFound         = "not_found"
	CodeAlreadyCompleted = "already_completed"
	CodeConflict         = "conflict"
	CodeRequestTooLarge  = "request_too_large"
	CodeUnavailable      = "service_unavailable"
	CodeInternal         = "internal_server_error"
)

// ErrorResponse represents the consistent error response format.
type ErrorResponse struct {
	Error     string         `json:"error"`
	Message   string         `json:"message,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// MapError maps jobs errors to an HTTP status and response body. Unclassified errors become a
// generic 500 so store internals do not leak to clients.
func MapError(err error) (int, ErrorResponse) {
	var invalidQuery *jobs.InvalidQueryError
	var tooLarge *http.MaxBytesError

	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, ErrorResponse{
			Error:   CodeRequestTooLarge,
			Message: "request body is too large",
			Details: map[string]any{"max_size": tooLarge.Limit},
		}
	case errors.As(err, &invalidQuery):
		return http.StatusBadRequest, ErrorResponse{
			Error:   CodeInvalidQuery,
			Message: err.Error(),
			Details: map[string]any{"query": invalidQuery.Query},
		}
	case errors.Is(err, jobs.ErrInvalidQuery):
		return http.StatusBadRequest, ErrorResponse{Error: CodeInvalidQuery, Message: err.Error()}
	case errors.Is(err, jobs.ErrValidation):
		return http.StatusBadRequest, ErrorResponse{Error: CodeValidation, Message: err.Error()}
	case errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: CodeNotFound, Message: err.Error()}
	case errors.Is(err, jobs.ErrAlreadyCompleted):
		return http.StatusConflict, ErrorResponse{Error: CodeAlreadyCompleted, Message: err.Error()}
	case errors.Is(err, jobs.ErrConflict):
		return http.StatusConflict, ErrorResponse{Error: CodeConflict, Message: err.Error()}
	case errors.Is(err, jobs.ErrClosed), errors.Is(err, jobs.ErrNotInitialized):
		return http.StatusServiceUnavailable, ErrorResponse{Error: CodeUnavailable, Message: "job service is not available"}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: CodeInternal, Message: "an unexpected error occurred"}
	}
}

func (h *handlers) abortWithError(c *gin.Context, err error) {
	status, body := MapError(err)
	body.RequestID = middleware.GetRequestID(c)
	if status >= http.StatusInternalServerError {
		h.log.WithContext(c.Request.Context()).Error("request failed", "error", err, "route", c.FullPath())
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

func (h *handlers) abortWithBindError(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		h.abortWithError(c, err)
		return
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Error:     CodeInvalidRequest,
		Message:   err.Error(),
		RequestID: middleware.GetRequestID(c),
	})
}
