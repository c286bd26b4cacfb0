package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/ipenrich/internal/api/middleware"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	check func(ctx context.Context) error
}

// NewHealthHandler creates a health handler. check probes the job store and
// may be nil.
func NewHealthHandler(check func(ctx context.Context) error) *HealthHandler {
	return &HealthHandler{check: check}
}

// Health returns the health status of the service
func (h *HealthHandler) Health(c *gin.Context) {
	if h.check != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.check(ctx); err != nil {
			middleware.GetLogger(c).WithError(err).Warn("Health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unavailable",
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}
