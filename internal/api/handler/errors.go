package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/ipenrich/internal/api/middleware"
	"github.com/timmy/ipenrich/internal/logger"
	"github.com/timmy/ipenrich/internal/repository"
	"github.com/timmy/ipenrich/internal/service"
	"github.com/timmy/ipenrich/internal/source"
	"github.com/timmy/ipenrich/internal/storage"
)

// statusFor maps service and store errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrJobNotFound), errors.Is(err, storage.ErrObjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrJobFinalized),
		errors.Is(err, repository.ErrInvalidTransition),
		errors.Is(err, repository.ErrJobExists),
		errors.Is(err, service.ErrJobNotCompleted):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, source.ErrColumnNotFound):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as a JSON error body. Server errors are logged and
// their detail is not echoed to the client; the request ID is returned so the
// log entry can be found.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		middleware.GetLogger(c).WithError(err).Error("Request failed")
		c.JSON(status, gin.H{
			"error":      "internal error",
			"request_id": logger.GetRequestID(c.Request.Context()),
		})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
