package response

import (
	"errors"
	"net/http"
	"time"

	"offchain-settlement/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDKey is the gin context key holding the request correlation ID.
const RequestIDKey = "request_id"

// SuccessResponse is the standard success envelope.
type SuccessResponse struct {
	Data      any    `json:"data"`
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// ErrorResponse is the standard error envelope. Wrapped causes are never serialized.
// Retryable tells the caller whether resubmitting the identical request may succeed.
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// OK sends a 200 response with data.
func OK(c *gin.Context, data any) {
	success(c, http.StatusOK, data)
}

// Created sends a 201 response with data.
func Created(c *gin.Context, data any) {
	success(c, http.StatusCreated, data)
}

func success(c *gin.Context, status int, data any) {
	c.JSON(status, SuccessResponse{
		Data:      data,
		RequestID: requestID(c),
		Timestamp: timestamp(),
	})
}

// Error sends an error response. Errors outside the apperror taxonomy are
// reported as SYS_001 infrastructure failures.
func Error(c *gin.Context, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		appErr = apperror.InternalError(err)
	}

	c.JSON(appErr.HTTPStatus, ErrorResponse{
		ErrorCode: appErr.Code,
		Message:   appErr.Message,
		Retryable: apperror.Retryable(appErr),
		RequestID: requestID(c),
		Timestamp: timestamp(),
	})
}

// requestID retrieves the request ID set by middleware, or generates one.
func requestID(c *gin.Context) string {
	if id, ok := c.Get(RequestIDKey); ok {
		if s, ok := id.(string); ok && s != "" {
			return s
		}
	}
	return uuid.New().String()
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
