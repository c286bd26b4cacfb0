package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/ipenrich/internal/api"
	"github.com/timmy/ipenrich/internal/app"
	"github.com/timmy/ipenrich/internal/config"
	"github.com/timmy/ipenrich/internal/logger"
)

func main() {
	appLogger := logger.New(logger.OptionsFromEnv())
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	ctx := context.Background()
	components, err := app.New(ctx, cfg)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize components")
	}
	defer components.Close()

	resumed, err := components.Jobs.ResumeInterrupted(ctx)
	if err != nil {
		appLogger.WithError(err).Error("Failed to resume interrupted jobs")
	} else if resumed > 0 {
		appLogger.WithField(logger.FieldCount, resumed).Info("Resumed interrupted jobs")
	}

	router := api.SetupRouter(components.Jobs, components.HealthCheck, &cfg.Server)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}
	// Running jobs stop at the next row boundary and resume on the next start.
	if err := components.Jobs.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Jobs did not stop before the shutdown deadline")
	}

	appLogger.Info("Server exited")
}
