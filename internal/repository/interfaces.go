package repository

import (
	"context"
	"errors"

	"github.com/timmy/ipenrich/internal/domain"
)

var (
	ErrJobNotFound          = errors.New("job not found")
	ErrJobExists            = errors.New("job already exists")
	ErrJobFinalized         = errors.New("job already finalized")
	ErrInvalidTransition    = errors.New("invalid job status transition")
	ErrCheckpointRegression = errors.New("checkpoint cannot move backwards")
	ErrTotalRowsFixed       = errors.New("total rows already recorded")
)

// JobStore persists jobs and their per-row results.
//
// Implementations must be safe for concurrent use. Result writes are
// idempotent per (job, row index) so a retried batch never duplicates rows.
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	ListJobs(ctx context.Context, statuses []domain.JobStatus, limit, offset int) ([]domain.Job, error)
	UpdateJob(ctx context.Context, id string, update domain.JobUpdate) (*domain.Job, error)
	DeleteJob(ctx context.Context, id string) error

	AppendResultBatch(ctx context.Context, jobID string, records []domain.ResultRecord) (int, error)
	ListResults(ctx context.Context, jobID string, offset, limit int) ([]domain.ResultRecord, error)
	CountResults(ctx context.Context, jobID string) (int64, error)
	SummarizeResults(ctx context.Context, jobID string, below int) (domain.ResultSummary, error)
}

// checkUpdate enforces the job lifecycle rules shared by every store.
func checkUpdate(current *domain.Job, update domain.JobUpdate) error {
	if current.Status.IsTerminal() {
		return ErrJobFinalized
	}
	if update.Status != nil && !current.Status.CanTransitionTo(*update.Status) {
		return ErrInvalidTransition
	}
	if update.Checkpoint != nil && *update.Checkpoint < current.Checkpoint {
		return ErrCheckpointRegression
	}
	if update.TotalRows != nil && current.TotalRows != nil && *update.TotalRows != *current.TotalRows {
		return ErrTotalRowsFixed
	}
	return nil
}
