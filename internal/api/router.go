package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/timmy/ipenrich/internal/api/handler"
	"github.com/timmy/ipenrich/internal/api/middleware"
	"github.com/timmy/ipenrich/internal/config"
	"github.com/timmy/ipenrich/internal/service"
)

// SetupRouter configures the Gin router with all routes.
// Parameters:
//   - jobs: job service behind every endpoint.
//   - healthCheck: store probe for /health; may be nil.
//   - cfg: server configuration (mode, CORS, upload limit).
// Returns:
//   - *gin.Engine: configured router.
func SetupRouter(
	jobs *service.JobService,
	healthCheck func(ctx context.Context) error,
	cfg *config.ServerConfig,
) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	maxUpload := cfg.MaxUploadMB << 20
	if maxUpload > 0 {
		r.MaxMultipartMemory = maxUpload
	}

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.CORS.AllowAllOrigins,
	}))

	healthHandler := handler.NewHealthHandler(healthCheck)
	lookupHandler := handler.NewLookupHandler(jobs)
	jobHandler := handler.NewJobHandler(jobs, maxUpload)

	r.GET("/health", healthHandler.Health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", healthHandler.Health)

		// Single address
		v1.GET("/lookup/:ip", lookupHandler.Lookup)

		// Jobs
		v1.POST("/jobs", jobHandler.CreateJob)
		v1.GET("/jobs", jobHandler.ListJobs)
		v1.GET("/jobs/:id", jobHandler.GetJob)
		v1.GET("/jobs/:id/results", jobHandler.Results)
		v1.GET("/jobs/:id/download", jobHandler.Download)
		v1.POST("/jobs/:id/cancel", jobHandler.Cancel)
		v1.DELETE("/jobs/:id", jobHandler.Delete)
	}

	return r
}
