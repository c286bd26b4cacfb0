package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/timmy/ipenrich/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const resultInsertBatch = 100

// GormJobStore is the durable JobStore backed by SQLite or PostgreSQL.
type GormJobStore struct {
	db *gorm.DB
}

// NewGormJobStore creates a new GormJobStore.
// Parameters:
//   - db: GORM database handle with the job tables migrated.
// Returns:
//   - *GormJobStore: store bound to db.
func NewGormJobStore(db *gorm.DB) *GormJobStore {
	return &GormJobStore{db: db}
}

// CreateJob inserts a new job record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: job to persist; ID must be set.
// Returns:
//   - error: non-nil if the insert fails.
func (s *GormJobStore) CreateJob(ctx context.Context, job *domain.Job) error {
	if job.Status == "" {
		job.Status = domain.JobStatusPending
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&domain.Job{}).Where("id = ?", job.ID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrJobExists
		}
		return tx.Create(job).Error
	})
}

// GetJob retrieves a job by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
// Returns:
//   - *domain.Job: job snapshot.
//   - error: ErrJobNotFound if no such job exists.
func (s *GormJobStore) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	return getJob(s.db.WithContext(ctx), id)
}

func getJob(db *gorm.DB, id string) (*domain.Job, error) {
	var job domain.Job
	if err := db.First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

// ListJobs lists jobs, newest first, optionally filtered by status.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - statuses: statuses to include; empty means all.
//   - limit: maximum number of jobs; non-positive means no limit.
//   - offset: number of jobs to skip.
// Returns:
//   - []domain.Job: matching jobs.
//   - error: non-nil if the query fails.
func (s *GormJobStore) ListJobs(ctx context.Context, statuses []domain.JobStatus, limit, offset int) ([]domain.Job, error) {
	query := s.db.WithContext(ctx).Model(&domain.Job{})
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	if limit <= 0 {
		limit = -1
	}
	var jobs []domain.Job
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// UpdateJob applies a partial update inside a transaction after checking the
// lifecycle rules against the stored row.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
//   - update: fields to change.
// Returns:
//   - *domain.Job: job after the update.
//   - error: ErrJobNotFound, ErrJobFinalized, ErrInvalidTransition,
//     ErrCheckpointRegression or a database error.
func (s *GormJobStore) UpdateJob(ctx context.Context, id string, update domain.JobUpdate) (*domain.Job, error) {
	var updated *domain.Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked := tx
		if tx.Dialector.Name() == "postgres" {
			locked = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		current, err := getJob(locked, id)
		if err != nil {
			return err
		}
		if err := checkUpdate(current, update); err != nil {
			return err
		}

		values := update.ColumnValues()
		if len(values) > 0 {
			if err := tx.Model(&domain.Job{}).Where("id = ?", id).Updates(values).Error; err != nil {
				return fmt.Errorf("failed to update job: %w", err)
			}
		}

		updated, err = getJob(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteJob removes a job and all of its results.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
// Returns:
//   - error: ErrJobNotFound if no such job exists.
func (s *GormJobStore) DeleteJob(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", id).Delete(&domain.ResultRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete results: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&domain.Job{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrJobNotFound
		}
		return nil
	})
}

// AppendResultBatch durably writes a batch of results in one transaction.
// Rows already stored for the same (job, row index) are skipped.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: owning job.
//   - records: results to insert.
// Returns:
//   - int: number of rows newly inserted.
//   - error: non-nil if the transaction fails; nothing is written then.
func (s *GormJobStore) AppendResultBatch(ctx context.Context, jobID string, records []domain.ResultRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	rows := make([]domain.ResultRecord, len(records))
	for i, rec := range records {
		rec.ID = 0
		rec.JobID = jobID
		rows[i] = rec
	}

	var inserted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}, {Name: "row_index"}},
			DoNothing: true,
		}).CreateInBatches(rows, resultInsertBatch)
		if res.Error != nil {
			return res.Error
		}
		inserted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to append result batch: %w", err)
	}
	return int(inserted), nil
}

// ListResults returns results ordered by row index.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: owning job.
//   - offset: number of results to skip.
//   - limit: maximum number of results; non-positive means no limit.
// Returns:
//   - []domain.ResultRecord: results in stream order.
//   - error: non-nil if the query fails.
func (s *GormJobStore) ListResults(ctx context.Context, jobID string, offset, limit int) ([]domain.ResultRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	var records []domain.ResultRecord
	if err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("row_index ASC").
		Offset(offset).
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// CountResults counts stored results for a job.
func (s *GormJobStore) CountResults(ctx context.Context, jobID string) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&domain.ResultRecord{}).
		Where("job_id = ?", jobID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// SummarizeResults tallies stored results with row index below the given
// bound; a negative bound includes every row.
func (s *GormJobStore) SummarizeResults(ctx context.Context, jobID string, below int) (domain.ResultSummary, error) {
	var row struct {
		Total      int
		Successful int
		Filtered   int
	}
	query := s.db.WithContext(ctx).Model(&domain.ResultRecord{}).
		Select("COUNT(*) AS total, " +
			"COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS successful, " +
			"COALESCE(SUM(CASE WHEN consumer_isp THEN 1 ELSE 0 END), 0) AS filtered").
		Where("job_id = ?", jobID)
	if below >= 0 {
		query = query.Where("row_index < ?", below)
	}
	if err := query.Scan(&row).Error; err != nil {
		return domain.ResultSummary{}, err
	}
	return domain.ResultSummary{
		Count: row.Total,
		Tally: domain.Tally{
			Successful: row.Successful,
			Failed:     row.Total - row.Successful,
			Filtered:   row.Filtered,
		},
	}, nil
}
