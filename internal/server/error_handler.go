// file: internal/server/error_handler.go
// version: 2.0.0
// guid: 5d6e7f8a-9b0c-1d2e-3f4a-5b6c7d8e9f0a

package server

import (
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jdfalk/exam-results/internal/config"
	"github.com/jdfalk/exam-results/internal/dataerr"
	"github.com/jdfalk/exam-results/internal/server/middleware"
	"golang.org/x/text/language"
)

// ErrorResponse provides a consistent error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Status  int    `json:"status"`
	Details string `json:"details,omitempty"`
}

// RespondWithError sends a standardized error response and logs the error
func RespondWithError(c *gin.Context, statusCode int, message string, code string) {
	logErrorWithContext(c, statusCode, message)

	c.JSON(statusCode, ErrorResponse{
		Error:  message,
		Code:   code,
		Status: statusCode,
	})
}

// RespondWithBadRequest sends a 400 Bad Request error response
func RespondWithBadRequest(c *gin.Context, message string) {
	RespondWithError(c, http.StatusBadRequest, message, "BAD_REQUEST")
}

// RespondWithValidationError sends a 400 error for validation failures
func RespondWithValidationError(c *gin.Context, field string, reason string) {
	message := "validation error: " + field
	if reason != "" {
		message = message + " (" + reason + ")"
	}
	RespondWithError(c, http.StatusBadRequest, message, "VALIDATION_ERROR")
}

// RespondWithNotFound sends a 404 Not Found error response
func RespondWithNotFound(c *gin.Context, resourceType string, id string) {
	message := resourceType + " not found"
	if id != "" {
		message = message + ": " + id
	}
	RespondWithError(c, http.StatusNotFound, message, "NOT_FOUND")
}

// StatusForKind maps a failure class to the HTTP status reported to clients.
func StatusForKind(kind dataerr.Kind) int {
	switch kind {
	case dataerr.KindConcurrentOperation:
		return http.StatusConflict
	case dataerr.KindInvalidSession:
		return http.StatusBadRequest
	case dataerr.KindNetwork:
		return http.StatusBadGateway
	case dataerr.KindUnknown:
		return http.StatusInternalServerError
	default:
		return http.StatusServiceUnavailable
	}
}

// requestLanguage picks the response language from Accept-Language,
// falling back to the configured language.
func requestLanguage(c *gin.Context) language.Tag {
	accept := c.GetHeader("Accept-Language")
	if accept == "" {
		accept = config.AppConfig.Language
	}
	return dataerr.MatchLanguage(accept)
}

// RespondWithDataError reports a data access failure. The message is the
// localized user message; the technical error is only included when
// show_error_details is enabled.
func RespondWithDataError(c *gin.Context, err error) {
	kind := dataerr.KindOf(err)
	status := StatusForKind(kind)
	logErrorWithContext(c, status, err.Error())

	resp := ErrorResponse{
		Error:  dataerr.UserMessage(err, requestLanguage(c)),
		Code:   kind.String(),
		Status: status,
	}
	if config.AppConfig.ShowErrorDetails {
		resp.Details = err.Error()
	}
	c.JSON(status, resp)
}

// RespondWithOK sends a 200 OK response
func RespondWithOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

// logErrorWithContext logs an error with request context for debugging
func logErrorWithContext(c *gin.Context, statusCode int, message string) {
	method := c.Request.Method
	path := c.Request.URL.Path
	clientIP := c.ClientIP()

	logLevel := "WARN"
	if statusCode >= 500 {
		logLevel = "ERROR"
	}

	log.Printf("[%s] %s %s %d - %s (from %s) [request-id: %s]",
		logLevel, method, path, statusCode, message, clientIP, middleware.GetRequestID(c))
}

// HandleBindError handles JSON binding errors with a consistent response
func HandleBindError(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}

	errMsg := err.Error()
	if strings.Contains(errMsg, "required") || strings.Contains(errMsg, "binding") {
		RespondWithValidationError(c, "request body", errMsg)
	} else {
		RespondWithBadRequest(c, "invalid request: "+errMsg)
	}
	return true
}

// ParseQueryInt parses an integer query parameter with a default value
func ParseQueryInt(c *gin.Context, key string, defaultValue int) int {
	valueStr := c.DefaultQuery(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// ParseQueryFloat parses a float query parameter with a default value
func ParseQueryFloat(c *gin.Context, key string, defaultValue float64) float64 {
	valueStr := c.DefaultQuery(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
