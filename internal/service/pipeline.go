package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/timmy/ipenrich/internal/domain"
	"github.com/timmy/ipenrich/internal/logger"
	"github.com/timmy/ipenrich/internal/repository"
	"github.com/timmy/ipenrich/internal/source"
	"github.com/timmy/ipenrich/internal/storage"
)

var (
	// ErrJobCancelled is the cancellation cause for a user cancel. The job
	// ends failed with this message.
	ErrJobCancelled = errors.New("job cancelled")
	// ErrServiceStopping is the cancellation cause on shutdown. The job is
	// flushed and left processing so it resumes on the next start.
	ErrServiceStopping = errors.New("service stopping")
)

const replayPageSize = 1000

// PipelineConfig tunes a Pipeline.
type PipelineConfig struct {
	Checkpoint CheckpointConfig
	TempDir    string
}

// Pipeline runs one job from its uploaded source to its published artifacts.
// Rows are processed strictly in stream order.
type Pipeline struct {
	store    repository.JobStore
	storage  storage.ObjectStorage
	enricher *RowEnricher
	cfg      PipelineConfig
}

// NewPipeline creates a Pipeline.
func NewPipeline(store repository.JobStore, objects storage.ObjectStorage, enricher *RowEnricher, cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		store:    store,
		storage:  objects,
		enricher: enricher,
		cfg:      cfg,
	}
}

// Run processes job and returns its final snapshot. The returned error is the
// reason the job did not complete; the job itself has already been marked.
//
// Cancellation of ctx is honored between rows. Lookups and store writes run on
// contexts detached from it so an in-flight row always finishes.
func (p *Pipeline) Run(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	ctx = logger.SetJobID(ctx, job.ID)
	ctx = logger.SetComponent(ctx, "pipeline")
	work := context.WithoutCancel(ctx)
	start := time.Now()

	update := domain.JobUpdate{Status: statusPtr(domain.JobStatusProcessing)}
	if job.StartedAt == nil {
		now := time.Now()
		update.StartedAt = &now
	}
	job, err := p.store.UpdateJob(work, job.ID, update)
	if err != nil {
		return nil, fmt.Errorf("mark job processing: %w", err)
	}
	logger.CtxInfo(ctx, "Processing job %s (resume from row %d)", job.ID, job.Checkpoint)

	rc, err := p.storage.Download(work, job.SourceKey)
	if err != nil {
		return p.fail(work, job, nil, nil, fmt.Errorf("open source: %w", err))
	}
	defer rc.Close()

	reader, err := source.Open(job.SourceName, rc)
	if err != nil {
		return p.fail(work, job, nil, nil, fmt.Errorf("read source: %w", err))
	}
	defer reader.Close()

	header := reader.Header()
	if job, err = p.store.UpdateJob(work, job.ID, domain.JobUpdate{Columns: header}); err != nil {
		return nil, fmt.Errorf("record columns: %w", err)
	}
	if err := source.RequireColumn(header, job.IPColumn); err != nil {
		return p.fail(work, job, nil, nil, err)
	}

	artifacts, err := newArtifactWriter(p.cfg.TempDir, header, job.EnrichmentOptions)
	if err != nil {
		return p.fail(work, job, nil, nil, err)
	}
	defer artifacts.Close()

	checkpointer, err := p.restore(work, job, artifacts)
	if err != nil {
		return p.fail(work, job, nil, nil, err)
	}

	rowsRead := 0
	var streamErr error
	for {
		if ctx.Err() != nil {
			return p.interrupted(ctx, work, job, checkpointer)
		}

		row, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			streamErr = fmt.Errorf("read source: %w", err)
			break
		}
		rowsRead = row.Index + 1
		if row.Index < job.Checkpoint {
			continue
		}

		outcome := p.enricher.Enrich(work, row, job.IPColumn, job.EnrichmentOptions)
		if !outcome.Success {
			logger.FromContext(work).WithFields(logger.Fields{
				logger.FieldRowIndex: row.Index,
				logger.FieldIP:       outcome.IP,
			}).Debugf("Row not enriched: %s", outcome.ErrorMessage())
		}
		if err := artifacts.Write(row.Fields, outcome); err != nil {
			streamErr = err
			break
		}
		if err := checkpointer.Append(row, outcome); err != nil {
			streamErr = err
			break
		}
		checkpointer.FlushIfFull(work)
	}

	if streamErr != nil {
		if err := checkpointer.FlushRemaining(work); err != nil {
			logger.FromContext(ctx).WithError(err).Error("Final flush failed")
		}
		return p.fail(work, job, checkpointer, nil, streamErr)
	}

	total := rowsRead
	if err := checkpointer.FlushRemaining(work); err != nil {
		return p.fail(work, job, checkpointer, &total, err)
	}

	enrichedKey, filteredKey, err := artifacts.Publish(work, p.storage, job.ID)
	if err != nil {
		return p.fail(work, job, checkpointer, &total, err)
	}

	completedAt := time.Now()
	partial := true
	cp := checkpointer.Checkpoint()
	done := domain.JobUpdate{
		Status:                  statusPtr(domain.JobStatusCompleted),
		TotalRows:               &total,
		Checkpoint:              &cp,
		PartialResultsAvailable: &partial,
		EnrichedKey:             &enrichedKey,
		FilteredKey:             &filteredKey,
		CompletedAt:             &completedAt,
	}.WithTally(checkpointer.Tally())
	if job, err = p.store.UpdateJob(work, job.ID, done); err != nil {
		return nil, fmt.Errorf("mark job completed: %w", err)
	}

	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldStatus:     string(job.Status),
		logger.FieldCount:      total,
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
		"successful":           job.SuccessfulRows,
		"failed":               job.FailedRows,
		"filtered":             job.FilteredRows,
	}).Info("Job completed")
	return job, nil
}

// restore seeds the checkpointer and replays rows persisted by an earlier
// run into the artifacts.
func (p *Pipeline) restore(ctx context.Context, job *domain.Job, artifacts *artifactWriter) (*BatchCheckpointer, error) {
	if job.Checkpoint == 0 {
		return NewBatchCheckpointer(p.store, job.ID, p.cfg.Checkpoint, 0, domain.Tally{}), nil
	}

	summary, err := p.store.SummarizeResults(ctx, job.ID, job.Checkpoint)
	if err != nil {
		return nil, fmt.Errorf("summarize persisted results: %w", err)
	}
	if summary.Count != job.Checkpoint {
		return nil, fmt.Errorf("checkpoint %d but %d results persisted", job.Checkpoint, summary.Count)
	}

	for offset := 0; offset < job.Checkpoint; offset += replayPageSize {
		records, err := p.store.ListResults(ctx, job.ID, offset, replayPageSize)
		if err != nil {
			return nil, fmt.Errorf("replay persisted results: %w", err)
		}
		for _, rec := range records {
			if rec.RowIndex >= job.Checkpoint {
				break
			}
			if err := artifacts.Write(rec.Row, rec.Outcome); err != nil {
				return nil, err
			}
		}
	}

	logger.FromContext(ctx).WithField(logger.FieldCount, summary.Count).Info("Replayed persisted results")
	return NewBatchCheckpointer(p.store, job.ID, p.cfg.Checkpoint, job.Checkpoint, summary.Tally), nil
}

// interrupted handles a cancelled run context.
func (p *Pipeline) interrupted(ctx, work context.Context, job *domain.Job, cp *BatchCheckpointer) (*domain.Job, error) {
	flushErr := cp.FlushRemaining(work)
	if flushErr != nil {
		logger.FromContext(ctx).WithError(flushErr).Error("Flush on cancellation failed")
	}

	cause := context.Cause(ctx)
	if errors.Is(cause, ErrServiceStopping) {
		logger.FromContext(ctx).WithField("checkpoint", cp.Checkpoint()).Info("Job paused for shutdown")
		current, err := p.store.GetJob(work, job.ID)
		if err != nil {
			return nil, err
		}
		return current, ErrServiceStopping
	}
	return p.fail(work, job, cp, nil, ErrJobCancelled)
}

// fail marks the job failed. Results flushed so far stay available.
func (p *Pipeline) fail(ctx context.Context, job *domain.Job, cp *BatchCheckpointer, total *int, cause error) (*domain.Job, error) {
	msg := cause.Error()
	update := domain.JobUpdate{
		Status:    statusPtr(domain.JobStatusFailed),
		Error:     &msg,
		TotalRows: total,
	}
	partial := job.Checkpoint > 0
	if cp != nil {
		update = update.WithTally(cp.Tally())
		partial = cp.Checkpoint() > 0
	}
	update.PartialResultsAvailable = &partial

	logger.CtxError(ctx, "Job failed: %v", cause)
	failed, err := p.store.UpdateJob(ctx, job.ID, update)
	if err != nil {
		return nil, fmt.Errorf("mark job failed (%v): %w", cause, err)
	}
	return failed, cause
}

func statusPtr(s domain.JobStatus) *domain.JobStatus {
	return &s
}
