package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ksred/tradejournal-api/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// ErrorBody is the body of every non-2xx response
type ErrorBody struct {
	Error string `json:"error"`
}

// Handle writes data on success or maps err onto a status code
func Handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}
	handleError(c, err)
}

// Success sends a 200 response
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// Created sends a 201 response
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

// NoContent sends a 204 response
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error body with the given status
func Error(c *gin.Context, status int, message string) {
	c.JSON(status, ErrorBody{Error: message})
}

// NotFound sends a 404 response
func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, message)
}

// BadRequest sends a 400 response
func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, message)
}

// Unauthorized sends a 401 response
func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, message)
}

// TooManyRequests sends a 429 response
func TooManyRequests(c *gin.Context, message string) {
	Error(c, http.StatusTooManyRequests, message)
}

// InternalError sends a 500 response
func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, message)
}

// Conflict sends a 409 response
func Conflict(c *gin.Context, message string) {
	Error(c, http.StatusConflict, message)
}

// StatusFor returns the HTTP status for err
func StatusFor(err error) int {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return http.StatusConflict
	}

	switch types.KindOf(err) {
	case types.KindAuth:
		return http.StatusUnauthorized
	case types.KindValidation:
		return http.StatusBadRequest
	case types.KindConflict:
		return http.StatusConflict
	case types.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// handleError determines the appropriate error response
func handleError(c *gin.Context, err error) {
	status := StatusFor(err)

	var appErr *types.Error
	switch {
	case errors.As(err, &appErr) && status != http.StatusInternalServerError:
		Error(c, status, appErr.Message)
	case status == http.StatusNotFound:
		NotFound(c, "Resource not found")
	case status == http.StatusConflict:
		Conflict(c, "Resource already exists")
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		msg := "An unexpected error occurred"
		if appErr != nil {
			msg = appErr.Message
		}
		InternalError(c, msg)
	}
}
