package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/timmy/ipenrich/internal/domain"
)

// MemoryJobStore keeps jobs and results in process memory. It follows the
// same rules as GormJobStore but nothing survives a restart.
type MemoryJobStore struct {
	mu      sync.RWMutex
	jobs    map[string]*domain.Job
	results map[string][]domain.ResultRecord
	indexes map[string]map[int]struct{}
}

// NewMemoryJobStore creates an empty MemoryJobStore.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:    make(map[string]*domain.Job),
		results: make(map[string][]domain.ResultRecord),
		indexes: make(map[string]map[int]struct{}),
	}
}

func (s *MemoryJobStore) CreateJob(ctx context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return ErrJobExists
	}
	if job.Status == "" {
		job.Status = domain.JobStatusPending
	}
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryJobStore) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

func (s *MemoryJobStore) ListJobs(ctx context.Context, statuses []domain.JobStatus, limit, offset int) ([]domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[domain.JobStatus]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}

	jobs := make([]domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if len(wanted) > 0 && !wanted[job.Status] {
			continue
		}
		jobs = append(jobs, *job.Clone())
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return page(jobs, offset, limit), nil
}

func (s *MemoryJobStore) UpdateJob(ctx context.Context, id string, update domain.JobUpdate) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if err := checkUpdate(job, update); err != nil {
		return nil, err
	}
	update.Apply(job)
	job.UpdatedAt = time.Now()
	return job.Clone(), nil
}

func (s *MemoryJobStore) DeleteJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(s.jobs, id)
	delete(s.results, id)
	delete(s.indexes, id)
	return nil
}

func (s *MemoryJobStore) AppendResultBatch(ctx context.Context, jobID string, records []domain.ResultRecord) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := s.indexes[jobID]
	if seen == nil {
		seen = make(map[int]struct{})
		s.indexes[jobID] = seen
	}

	inserted := 0
	now := time.Now()
	stored := s.results[jobID]
	for _, rec := range records {
		if _, dup := seen[rec.RowIndex]; dup {
			continue
		}
		seen[rec.RowIndex] = struct{}{}
		rec.JobID = jobID
		rec.CreatedAt = now
		stored = append(stored, rec)
		inserted++
	}
	sort.SliceStable(stored, func(i, j int) bool {
		return stored[i].RowIndex < stored[j].RowIndex
	})
	s.results[jobID] = stored
	return inserted, nil
}

func (s *MemoryJobStore) ListResults(ctx context.Context, jobID string, offset, limit int) ([]domain.ResultRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := page(s.results[jobID], offset, limit)
	return append([]domain.ResultRecord(nil), stored...), nil
}

func (s *MemoryJobStore) CountResults(ctx context.Context, jobID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.results[jobID])), nil
}

func (s *MemoryJobStore) SummarizeResults(ctx context.Context, jobID string, below int) (domain.ResultSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var summary domain.ResultSummary
	for _, rec := range s.results[jobID] {
		if below >= 0 && rec.RowIndex >= below {
			break
		}
		summary.Count++
		summary.Tally.Add(rec.Outcome)
	}
	return summary, nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
