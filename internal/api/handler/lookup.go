package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/ipenrich/internal/domain"
	"github.com/timmy/ipenrich/internal/service"
)

// LookupHandler serves single-address enrichment.
type LookupHandler struct {
	jobs *service.JobService
}

// NewLookupHandler creates a new lookup handler.
// Parameters:
//   - jobs: job service that owns the enricher.
// Returns:
//   - *LookupHandler: initialized handler.
func NewLookupHandler(jobs *service.JobService) *LookupHandler {
	return &LookupHandler{jobs: jobs}
}

// Lookup handles GET /api/v1/lookup/:ip.
// Invalid addresses answer 400 with the failed outcome; lookup failures
// answer 200 with success=false, the same shape a job row would carry.
func (h *LookupHandler) Lookup(c *gin.Context) {
	opts, err := parseOptions(c.GetQuery)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	outcome := h.jobs.Lookup(c.Request.Context(), c.Param("ip"), opts)
	if !outcome.Success && outcome.ErrorMessage() == domain.ErrInvalidIP {
		c.JSON(http.StatusBadRequest, outcome)
		return
	}
	c.JSON(http.StatusOK, outcome)
}
