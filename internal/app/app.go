// Package app wires configuration into the running components shared by the
// server and the command line tool.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/timmy/ipenrich/internal/classifier"
	"github.com/timmy/ipenrich/internal/config"
	"github.com/timmy/ipenrich/internal/ipaddr"
	"github.com/timmy/ipenrich/internal/logger"
	"github.com/timmy/ipenrich/internal/lookup"
	"github.com/timmy/ipenrich/internal/repository"
	"github.com/timmy/ipenrich/internal/service"
	"github.com/timmy/ipenrich/internal/storage"
)

// App holds the wired components.
type App struct {
	Store    repository.JobStore
	Storage  storage.ObjectStorage
	Enricher *service.RowEnricher
	Pipeline *service.Pipeline
	Jobs     *service.JobService

	closeStore func() error
}

// New builds every component from cfg. Call Close when done.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	store, closeStore, err := repository.NewJobStore(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init job store: %w", err)
	}

	objects, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		_ = closeStore()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		_ = closeStore()
		return nil, fmt.Errorf("ensure storage bucket: %w", err)
	}

	if dir := cfg.Enrichment.TempDir; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			_ = closeStore()
			return nil, fmt.Errorf("create temp dir: %w", err)
		}
	}

	limiter := lookup.NewLimiter(cfg.Lookup.RateLimit, cfg.Lookup.RateWindow)
	gateway := lookup.NewGateway(lookup.Config{
		BaseURL:    cfg.Lookup.BaseURL,
		Timeout:    cfg.Lookup.Timeout,
		DNSTimeout: cfg.Lookup.DNSTimeout,
		Retries:    cfg.Lookup.Retries,
		Limiter:    limiter,
	})

	isp := classifier.New(cfg.Enrichment.ConsumerISPKeywords)
	enricher := service.NewRowEnricher(gateway, ipaddr.Validator{AllowIPv6: cfg.Enrichment.AllowIPv6}, isp)

	pipeline := service.NewPipeline(store, objects, enricher, service.PipelineConfig{
		Checkpoint: service.CheckpointConfig{
			BatchSize:      cfg.Enrichment.BatchSize,
			MaxPendingRows: cfg.Enrichment.MaxPendingRows,
			FlushRetries:   cfg.Enrichment.FlushRetries,
			FlushBackoff:   cfg.Enrichment.FlushBackoff,
		},
		TempDir: cfg.Enrichment.TempDir,
	})

	jobs := service.NewJobService(store, objects, pipeline, enricher, service.JobServiceConfig{
		MaxConcurrentJobs: cfg.Enrichment.MaxConcurrentJobs,
	})

	logger.GetDefault().WithFields(logger.Fields{
		"database":         cfg.Database.Driver,
		"storage":          cfg.Storage.Type,
		"lookup_base_url":  cfg.Lookup.BaseURL,
		"rate_limit":       cfg.Lookup.RateLimit,
		"rate_window":      cfg.Lookup.RateWindow.String(),
		"batch_size":       cfg.Enrichment.BatchSize,
		"consumer_keyword": len(isp.Keywords()),
	}).Info("Components initialized")

	return &App{
		Store:      store,
		Storage:    objects,
		Enricher:   enricher,
		Pipeline:   pipeline,
		Jobs:       jobs,
		closeStore: closeStore,
	}, nil
}

// HealthCheck probes the job store.
func (a *App) HealthCheck(ctx context.Context) error {
	_, err := a.Store.ListJobs(ctx, nil, 1, 0)
	return err
}

// Close releases the job store.
func (a *App) Close() error {
	if a.closeStore == nil {
		return nil
	}
	return a.closeStore()
}
