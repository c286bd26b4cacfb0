package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/ipenrich/internal/domain"
	"github.com/timmy/ipenrich/internal/logger"
	"github.com/timmy/ipenrich/internal/repository"
	"github.com/timmy/ipenrich/internal/storage"
	"golang.org/x/sync/semaphore"
)

var (
	ErrJobNotCompleted = errors.New("job has not completed")
	ErrInvalidRequest  = errors.New("invalid request")
)

const (
	defaultResultLimit = 100
	maxResultLimit     = 1000
)

// CreateJobRequest describes an uploaded source to enrich.
type CreateJobRequest struct {
	FileName string
	IPColumn string
	Options  domain.EnrichmentOptions
	Data     io.Reader
	Size     int64
}

// ResultPage is one slice of a job's persisted results. Next is the index to
// poll from for the following page.
type ResultPage struct {
	Records []domain.ResultRecord `json:"records"`
	Next    int                   `json:"next"`
}

// JobServiceConfig tunes a JobService.
type JobServiceConfig struct {
	MaxConcurrentJobs int
}

type worker struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// JobService is the caller-facing API over jobs. Each job runs in its own
// goroutine; at most MaxConcurrentJobs run at once and the rest wait pending.
type JobService struct {
	store    repository.JobStore
	storage  storage.ObjectStorage
	pipeline *Pipeline
	enricher *RowEnricher
	slots    *semaphore.Weighted

	workers sync.Map // job ID -> *worker
	wg      sync.WaitGroup
}

// NewJobService creates a JobService.
func NewJobService(store repository.JobStore, objects storage.ObjectStorage, pipeline *Pipeline, enricher *RowEnricher, cfg JobServiceConfig) *JobService {
	slots := cfg.MaxConcurrentJobs
	if slots <= 0 {
		slots = 1
	}
	return &JobService{
		store:    store,
		storage:  objects,
		pipeline: pipeline,
		enricher: enricher,
		slots:    semaphore.NewWeighted(int64(slots)),
	}
}

// CreateJob stores the upload, records a pending job and starts it. It
// returns as soon as the job is queued.
func (s *JobService) CreateJob(ctx context.Context, req CreateJobRequest) (*domain.Job, error) {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(req.FileName), "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return nil, fmt.Errorf("%w: file name is required", ErrInvalidRequest)
	}
	column := strings.TrimSpace(req.IPColumn)
	if column == "" {
		return nil, fmt.Errorf("%w: ip column is required", ErrInvalidRequest)
	}
	if req.Data == nil {
		return nil, fmt.Errorf("%w: file content is required", ErrInvalidRequest)
	}

	id := uuid.New().String()
	key := fmt.Sprintf("uploads/%s/%s", id, name)
	if err := s.storage.Upload(ctx, key, req.Data, req.Size, uploadContentType(name)); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	job := &domain.Job{
		ID:                id,
		SourceName:        name,
		SourceKey:         key,
		IPColumn:          column,
		EnrichmentOptions: req.Options,
		Status:            domain.JobStatusPending,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		_ = s.storage.Delete(context.WithoutCancel(ctx), key)
		return nil, fmt.Errorf("create job: %w", err)
	}

	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldJobID: id,
		"source":          name,
		"ip_column":       column,
	}).Info("Job created")

	s.launch(job.Clone())
	return job, nil
}

func uploadContentType(name string) string {
	if strings.EqualFold(path.Ext(name), ".xlsx") {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return csvContentType
}

// launch runs the pipeline for job in the background.
func (s *JobService) launch(job *domain.Job) {
	ctx, cancel := context.WithCancelCause(context.Background())
	w := &worker{cancel: cancel, done: make(chan struct{})}
	if _, running := s.workers.LoadOrStore(job.ID, w); running {
		cancel(nil)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(w.done)
		defer s.workers.Delete(job.ID)
		defer cancel(nil)

		ctx := logger.SetJobID(ctx, job.ID)
		defer func() {
			if rec := recover(); rec != nil {
				s.failJob(ctx, job.ID, fmt.Errorf("panic: %v", rec))
			}
		}()

		if err := s.slots.Acquire(ctx, 1); err != nil {
			if errors.Is(context.Cause(ctx), ErrServiceStopping) {
				return
			}
			s.failJob(ctx, job.ID, ErrJobCancelled)
			return
		}
		defer s.slots.Release(1)

		final, err := s.pipeline.Run(ctx, job)
		switch {
		case err == nil:
		case errors.Is(err, ErrServiceStopping):
			logger.CtxInfo(ctx, "Job %s left for resume", job.ID)
		case final == nil:
			s.failJob(ctx, job.ID, err)
		default:
			logger.FromContext(ctx).WithError(err).Warn("Job did not complete")
		}
	}()
}

func (s *JobService) failJob(ctx context.Context, id string, cause error) {
	msg := cause.Error()
	_, err := s.store.UpdateJob(context.WithoutCancel(ctx), id, domain.JobUpdate{
		Status: statusPtr(domain.JobStatusFailed),
		Error:  &msg,
	})
	if err != nil && !errors.Is(err, repository.ErrJobFinalized) {
		logger.FromContext(ctx).WithError(err).Errorf("Failed to mark job failed (cause: %v)", cause)
	}
}

// GetJob returns a snapshot of a job.
func (s *JobService) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	return s.store.GetJob(ctx, id)
}

// ListJobs lists jobs newest first.
func (s *JobService) ListJobs(ctx context.Context, statuses []domain.JobStatus, limit, offset int) ([]domain.Job, error) {
	return s.store.ListJobs(ctx, statuses, limit, offset)
}

// Results returns persisted results with row index >= since.
func (s *JobService) Results(ctx context.Context, id string, since, limit int) (*ResultPage, error) {
	if since < 0 {
		return nil, fmt.Errorf("%w: since must not be negative", ErrInvalidRequest)
	}
	if limit <= 0 {
		limit = defaultResultLimit
	}
	if limit > maxResultLimit {
		limit = maxResultLimit
	}
	if _, err := s.store.GetJob(ctx, id); err != nil {
		return nil, err
	}

	records, err := s.store.ListResults(ctx, id, since, limit)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []domain.ResultRecord{}
	}
	return &ResultPage{Records: records, Next: since + len(records)}, nil
}

// OpenArtifact opens a completed job's enriched or filtered CSV.
func (s *JobService) OpenArtifact(ctx context.Context, id string, kind ArtifactKind) (io.ReadCloser, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusCompleted {
		return nil, ErrJobNotCompleted
	}

	var key string
	switch kind {
	case ArtifactEnriched:
		key = job.EnrichedKey
	case ArtifactFiltered:
		key = job.FilteredKey
	default:
		return nil, fmt.Errorf("%w: unknown artifact %q", ErrInvalidRequest, kind)
	}
	return s.storage.Download(ctx, key)
}

// Cancel stops a pending or processing job. The job ends failed once its
// current row finishes and buffered results are flushed.
func (s *JobService) Cancel(ctx context.Context, id string) (*domain.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return job, repository.ErrJobFinalized
	}

	if v, ok := s.workers.Load(id); ok {
		w := v.(*worker)
		w.cancel(ErrJobCancelled)
		select {
		case <-w.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else {
		s.failJob(ctx, id, ErrJobCancelled)
	}
	return s.store.GetJob(ctx, id)
}

// Delete cancels a job if needed and removes it with its results and files.
func (s *JobService) Delete(ctx context.Context, id string) error {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}

	if v, ok := s.workers.Load(id); ok {
		w := v.(*worker)
		w.cancel(ErrJobCancelled)
		select {
		case <-w.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := s.store.DeleteJob(ctx, id); err != nil {
		return err
	}
	for _, key := range []string{job.SourceKey, ArtifactKey(id, ArtifactEnriched), ArtifactKey(id, ArtifactFiltered)} {
		if err := s.storage.Delete(ctx, key); err != nil {
			logger.FromContext(ctx).WithError(err).Warnf("Failed to delete object %s", key)
		}
	}
	return nil
}

// ResumeInterrupted relaunches jobs left pending or processing by a previous
// process and returns how many were started.
func (s *JobService) ResumeInterrupted(ctx context.Context) (int, error) {
	jobs, err := s.store.ListJobs(ctx, []domain.JobStatus{domain.JobStatusPending, domain.JobStatusProcessing}, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("list interrupted jobs: %w", err)
	}
	for i := range jobs {
		job := jobs[i]
		logger.FromContext(ctx).WithFields(logger.Fields{
			logger.FieldJobID:  job.ID,
			logger.FieldStatus: string(job.Status),
			"checkpoint":       job.Checkpoint,
		}).Info("Resuming interrupted job")
		s.launch(&job)
	}
	return len(jobs), nil
}

// Shutdown pauses every running job at its next row boundary and waits for
// the workers to exit. Paused jobs stay resumable.
func (s *JobService) Shutdown(ctx context.Context) error {
	s.workers.Range(func(_, v any) bool {
		v.(*worker).cancel(ErrServiceStopping)
		return true
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every launched job has finished.
func (s *JobService) Wait() {
	s.wg.Wait()
}

// Lookup enriches a single address synchronously.
func (s *JobService) Lookup(ctx context.Context, ip string, opts domain.EnrichmentOptions) domain.EnrichmentOutcome {
	start := time.Now()
	outcome := s.enricher.EnrichAddress(ctx, ip, opts)
	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldIP:         outcome.IP,
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
		"success":              outcome.Success,
	}).Debug("Single lookup")
	return outcome
}
