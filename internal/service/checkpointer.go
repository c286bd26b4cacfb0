package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/ipenrich/internal/domain"
	"github.com/timmy/ipenrich/internal/logger"
	"github.com/timmy/ipenrich/internal/repository"
	"github.com/timmy/ipenrich/internal/source"
)

// ErrPendingOverflow is returned by Append when failed flushes have left more
// rows buffered than the configured ceiling.
var ErrPendingOverflow = errors.New("too many unpersisted rows")

// CheckpointConfig tunes a BatchCheckpointer.
type CheckpointConfig struct {
	BatchSize      int
	MaxPendingRows int
	FlushRetries   int
	FlushBackoff   time.Duration
}

func (c CheckpointConfig) withDefaults() CheckpointConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxPendingRows < c.BatchSize {
		c.MaxPendingRows = 100 * c.BatchSize
	}
	if c.FlushRetries < 0 {
		c.FlushRetries = 0
	}
	return c
}

// BatchCheckpointer buffers results and writes them to the store in batches.
//
// After every successful flush the checkpoint is the index following the
// last persisted row. A failed write keeps the buffer for the next flush and
// still publishes counters, so ProcessedRows may run ahead of Checkpoint.
type BatchCheckpointer struct {
	store   repository.JobStore
	jobID   string
	cfg     CheckpointConfig
	pending []domain.ResultRecord
	flushAt int

	checkpoint int
	tally      domain.Tally
}

// NewBatchCheckpointer creates a checkpointer for jobID. checkpoint and tally
// seed it when a job resumes; pass zero values for a fresh job.
func NewBatchCheckpointer(store repository.JobStore, jobID string, cfg CheckpointConfig, checkpoint int, tally domain.Tally) *BatchCheckpointer {
	cfg = cfg.withDefaults()
	return &BatchCheckpointer{
		store:      store,
		jobID:      jobID,
		cfg:        cfg,
		pending:    make([]domain.ResultRecord, 0, cfg.BatchSize),
		flushAt:    cfg.BatchSize,
		checkpoint: checkpoint,
		tally:      tally,
	}
}

// Append buffers one result in arrival order.
func (c *BatchCheckpointer) Append(row source.Row, outcome domain.EnrichmentOutcome) error {
	c.pending = append(c.pending, domain.NewResultRecord(c.jobID, row.Index, row.Fields, outcome))
	c.tally.Add(outcome)
	if len(c.pending) > c.cfg.MaxPendingRows {
		return fmt.Errorf("%d rows buffered: %w", len(c.pending), ErrPendingOverflow)
	}
	return nil
}

// FlushIfFull flushes once the buffer reaches the batch size and reports
// whether a flush succeeded. After a failed write the next attempt waits
// until another full batch has been buffered.
func (c *BatchCheckpointer) FlushIfFull(ctx context.Context) bool {
	if len(c.pending) < c.flushAt {
		return false
	}
	if err := c.flush(ctx); err != nil {
		c.flushAt = len(c.pending) + c.cfg.BatchSize
		return false
	}
	return true
}

// FlushRemaining writes whatever is buffered, retrying with backoff.
func (c *BatchCheckpointer) FlushRemaining(ctx context.Context) error {
	if len(c.pending) == 0 {
		return nil
	}

	var err error
	for attempt := 0; attempt <= c.cfg.FlushRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("final flush interrupted: %w", ctx.Err())
			case <-time.After(c.cfg.FlushBackoff * time.Duration(attempt)):
			}
		}
		if err = c.flush(ctx); err == nil {
			return nil
		}
	}
	return fmt.Errorf("failed to persist %d rows after %d attempts: %w", len(c.pending), c.cfg.FlushRetries+1, err)
}

// Checkpoint returns the index below which every row is persisted.
func (c *BatchCheckpointer) Checkpoint() int {
	return c.checkpoint
}

// Tally returns counters over every appended row, flushed or not.
func (c *BatchCheckpointer) Tally() domain.Tally {
	return c.tally
}

// Pending returns the number of buffered rows.
func (c *BatchCheckpointer) Pending() int {
	return len(c.pending)
}

func (c *BatchCheckpointer) flush(ctx context.Context) error {
	log := logger.FromContext(ctx)
	start := time.Now()
	batch := c.pending

	if _, err := c.store.AppendResultBatch(ctx, c.jobID, batch); err != nil {
		log.WithFields(logger.Fields{
			logger.FieldCount:      len(batch),
			logger.FieldDurationMs: time.Since(start).Milliseconds(),
		}).WithError(err).Error("Result batch write failed, keeping rows for retry")
		c.publish(ctx, nil)
		return err
	}

	next := batch[len(batch)-1].RowIndex + 1
	if next > c.checkpoint {
		c.checkpoint = next
	}
	c.pending = make([]domain.ResultRecord, 0, c.cfg.BatchSize)
	c.flushAt = c.cfg.BatchSize
	c.publish(ctx, &c.checkpoint)

	log.WithFields(logger.Fields{
		logger.FieldCount:      len(batch),
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
		"checkpoint":           c.checkpoint,
	}).Debug("Result batch flushed")
	return nil
}

// publish pushes counters, and the checkpoint when one is given, to the job.
func (c *BatchCheckpointer) publish(ctx context.Context, checkpoint *int) {
	update := domain.JobUpdate{}.WithTally(c.tally)
	if checkpoint != nil {
		cp := *checkpoint
		partial := cp > 0
		update.Checkpoint = &cp
		update.PartialResultsAvailable = &partial
	}
	if _, err := c.store.UpdateJob(ctx, c.jobID, update); err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Failed to publish job progress")
	}
}
