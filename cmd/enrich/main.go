package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/timmy/ipenrich/internal/app"
	"github.com/timmy/ipenrich/internal/config"
	"github.com/timmy/ipenrich/internal/domain"
	"github.com/timmy/ipenrich/internal/logger"
	"github.com/timmy/ipenrich/internal/service"
)

func main() {
	appLogger := logger.New(logger.Options{
		Level:       "info",
		Format:      "text",
		ServiceName: "ipenrich-cli",
	})
	logger.SetDefaultLogger(appLogger)

	filePath := flag.String("file", "", "CSV or XLSX file to enrich")
	ipColumn := flag.String("ip-column", "ip", "Header of the column holding IP addresses")
	geo := flag.Bool("include-geolocation", true, "Add country, city, region and coordinates")
	dns := flag.Bool("include-domain", true, "Add reverse DNS name")
	company := flag.Bool("include-company", true, "Add company name and consumer ISP flag")
	network := flag.Bool("include-network", true, "Add ISP and AS number")
	output := flag.String("out", "", "Write the enriched CSV here (default: <file>.enriched.csv)")
	filtered := flag.String("filtered-out", "", "Write the filtered CSV here (default: <file>.filtered.csv)")
	resume := flag.Bool("resume", false, "Resume interrupted jobs instead of starting a new one")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := app.New(ctx, cfg)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize components")
	}
	defer components.Close()

	jobs := components.Jobs
	go func() {
		<-ctx.Done()
		appLogger.Info("Interrupted, pausing jobs at the next row")
		_ = jobs.Shutdown(context.Background())
	}()

	if *resume {
		n, err := jobs.ResumeInterrupted(ctx)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to resume jobs")
		}
		appLogger.WithField(logger.FieldCount, n).Info("Resuming interrupted jobs")
		jobs.Wait()
		return
	}

	if *filePath == "" {
		flag.Usage()
		os.Exit(2)
	}

	f, err := os.Open(*filePath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to open input")
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to stat input")
	}

	job, err := jobs.CreateJob(ctx, service.CreateJobRequest{
		FileName: info.Name(),
		IPColumn: *ipColumn,
		Options: domain.EnrichmentOptions{
			IncludeGeolocation: *geo,
			IncludeDomain:      *dns,
			IncludeCompany:     *company,
			IncludeNetwork:     *network,
		},
		Data: f,
		Size: info.Size(),
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to create job")
	}
	jobs.Wait()

	final, err := jobs.GetJob(context.Background(), job.ID)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to read job")
	}
	log := appLogger.WithFields(logger.Fields{
		logger.FieldJobID:  final.ID,
		logger.FieldStatus: string(final.Status),
		"processed":        final.ProcessedRows,
		"successful":       final.SuccessfulRows,
		"failed":           final.FailedRows,
		"filtered":         final.FilteredRows,
		"checkpoint":       final.Checkpoint,
	})
	if final.Status != domain.JobStatusCompleted {
		if final.Error != nil {
			log = log.WithField("error", *final.Error)
		}
		log.Error("Job did not complete; rerun with -resume if it was interrupted")
		os.Exit(1)
	}

	enrichedPath := *output
	if enrichedPath == "" {
		enrichedPath = *filePath + ".enriched.csv"
	}
	filteredPath := *filtered
	if filteredPath == "" {
		filteredPath = *filePath + ".filtered.csv"
	}
	for kind, path := range map[service.ArtifactKind]string{
		service.ArtifactEnriched: enrichedPath,
		service.ArtifactFiltered: filteredPath,
	} {
		if err := saveArtifact(jobs, final.ID, kind, path); err != nil {
			appLogger.WithError(err).Fatalf("Failed to save %s output", kind)
		}
	}
	log.WithFields(logger.Fields{"enriched": enrichedPath, "filtered": filteredPath}).Info("Enrichment finished")
}

func saveArtifact(jobs *service.JobService, id string, kind service.ArtifactKind, path string) (err error) {
	rc, err := jobs.OpenArtifact(context.Background(), id, kind)
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, out.Close())
	}()
	_, err = out.ReadFrom(rc)
	return err
}
