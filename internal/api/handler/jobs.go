package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/ipenrich/internal/api/middleware"
	"github.com/timmy/ipenrich/internal/domain"
	"github.com/timmy/ipenrich/internal/logger"
	"github.com/timmy/ipenrich/internal/service"
)

const (
	defaultJobListLimit = 20
	maxJobListLimit     = 100
)

// JobHandler handles enrichment job endpoints.
type JobHandler struct {
	jobs           *service.JobService
	maxUploadBytes int64
}

// NewJobHandler creates a new job handler.
// Parameters:
//   - jobs: job service instance.
//   - maxUploadBytes: largest accepted upload; non-positive disables the check.
// Returns:
//   - *JobHandler: initialized handler.
func NewJobHandler(jobs *service.JobService, maxUploadBytes int64) *JobHandler {
	return &JobHandler{
		jobs:           jobs,
		maxUploadBytes: maxUploadBytes,
	}
}

// CreateJob handles POST /api/v1/jobs.
// Expects a multipart form with "file", "ip_column" and optional include_*
// flags. Answers 202 with the pending job.
func (h *JobHandler) CreateJob(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "file is required")
		return
	}
	if h.maxUploadBytes > 0 && fileHeader.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("file exceeds %d bytes", h.maxUploadBytes),
		})
		return
	}

	ipColumn := strings.TrimSpace(c.PostForm("ip_column"))
	if ipColumn == "" {
		badRequest(c, "ip_column is required")
		return
	}
	opts, err := parseOptions(c.GetPostForm)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respondError(c, fmt.Errorf("open upload: %w", err))
		return
	}
	defer file.Close()

	job, err := h.jobs.CreateJob(c.Request.Context(), service.CreateJobRequest{
		FileName: fileHeader.Filename,
		IPColumn: ipColumn,
		Options:  opts,
		Data:     file,
		Size:     fileHeader.Size,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	middleware.GetLogger(c).WithField(logger.FieldJobID, job.ID).Info("Job accepted")
	c.JSON(http.StatusAccepted, job)
}

// ListJobs handles GET /api/v1/jobs.
// Query: status (comma separated), limit, offset.
func (h *JobHandler) ListJobs(c *gin.Context) {
	limit, err := queryInt(c, "limit", defaultJobListLimit)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if limit <= 0 || limit > maxJobListLimit {
		limit = maxJobListLimit
	}
	if offset < 0 {
		offset = 0
	}

	var statuses []domain.JobStatus
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status := domain.JobStatus(strings.TrimSpace(part))
			switch status {
			case domain.JobStatusPending, domain.JobStatusProcessing, domain.JobStatusCompleted, domain.JobStatusFailed:
				statuses = append(statuses, status)
			default:
				badRequest(c, fmt.Sprintf("unknown status %q", part))
				return
			}
		}
	}

	jobs, err := h.jobs.ListJobs(c.Request.Context(), statuses, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs":   jobs,
		"limit":  limit,
		"offset": offset,
	})
}

// GetJob handles GET /api/v1/jobs/:id.
func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.jobs.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// Results handles GET /api/v1/jobs/:id/results.
// Clients poll with since set to the previous page's next value.
func (h *JobHandler) Results(c *gin.Context) {
	since, err := queryInt(c, "since", 0)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	page, err := h.jobs.Results(c.Request.Context(), c.Param("id"), since, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Download handles GET /api/v1/jobs/:id/download?type=enriched|filtered.
func (h *JobHandler) Download(c *gin.Context) {
	id := c.Param("id")
	kind := service.ArtifactKind(c.DefaultQuery("type", string(service.ArtifactEnriched)))

	rc, err := h.jobs.OpenArtifact(c.Request.Context(), id, kind)
	if err != nil {
		respondError(c, err)
		return
	}
	defer rc.Close()

	c.DataFromReader(http.StatusOK, -1, "text/csv", rc, map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="%s-%s.csv"`, id, kind),
	})
}

// Cancel handles POST /api/v1/jobs/:id/cancel.
func (h *JobHandler) Cancel(c *gin.Context) {
	job, err := h.jobs.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// Delete handles DELETE /api/v1/jobs/:id.
func (h *JobHandler) Delete(c *gin.Context) {
	if err := h.jobs.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return v, nil
}
