package response

import (
	"net/http"
	"time"

	"runbox/pkg/errors"
	"runbox/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorBody is the JSON shape of every failed response.
type ErrorBody struct {
	Error     string      `json:"error"`
	Details   interface{} `json:"details,omitempty"`
	Success   bool        `json:"success"`
	Timestamp string      `json:"timestamp"`
}

// OK sends a 200 response with the given payload as-is.
func OK(c *gin.Context, payload interface{}) {
	c.JSON(http.StatusOK, payload)
}

// Error sends an error response, deriving the HTTP status from the error code.
func Error(c *gin.Context, err error) {
	customErr := errors.GetError(err)

	logger.Error(c.Request.Context(), "request error",
		zap.Int("code", int(customErr.Code)),
		zap.String("message", customErr.Error()),
		zap.Any("details", customErr.Details),
	)

	body := ErrorBody{
		Error:     customErr.Error(),
		Success:   false,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if detail, ok := customErr.Details["stderr"]; ok {
		body.Details = detail
	}

	c.JSON(customErr.Code.HTTPStatus(), body)
}

// ErrorWithCode sends an error response with a specific error code and message.
func ErrorWithCode(c *gin.Context, code errors.ErrorCode, message string) {
	if message == "" {
		message = code.Message()
	}

	logger.Error(c.Request.Context(), "request error",
		zap.Int("code", int(code)),
		zap.String("message", message),
	)

	c.JSON(code.HTTPStatus(), ErrorBody{
		Error:     message,
		Success:   false,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// BadRequest sends a 400 bad request error
func BadRequest(c *gin.Context, message string) {
	ErrorWithCode(c, errors.InvalidParams, message)
}

// NotFound sends a 404 not found error
func NotFound(c *gin.Context, message string) {
	ErrorWithCode(c, errors.TokenNotFound, message)
}

// Gone sends a 410 gone error
func Gone(c *gin.Context, message string) {
	ErrorWithCode(c, errors.TokenExpired, message)
}

// AbortWithError aborts the request and sends error response
func AbortWithError(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}
