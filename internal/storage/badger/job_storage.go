package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gridops/internal/interfaces"
	"github.com/ternarybob/gridops/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements the JobStorage interface for Badger.
// Status and progress updates are read-modify-write; the mutex serializes
// them so lifecycle invariants hold under concurrent writers.
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	return &job, nil
}

func (s *JobStorage) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	if !job.CanTransitionTo(status) {
		return fmt.Errorf("invalid status transition for job %s: %s -> %s", jobID, job.Status, status)
	}

	now := time.Now()
	job.Status = status
	switch status {
	case models.JobStatusRunning:
		job.StartedAt = now
	case models.JobStatusSuccess:
		job.Progress = 100
		job.CompletedAt = &now
	case models.JobStatusFailed, models.JobStatusCancelled:
		job.CompletedAt = &now
		job.ErrorMessage = errorMsg
	}

	if err := s.db.Store().Update(jobID, job); err != nil {
		return fmt.Errorf("failed to update job %s status: %w", jobID, err)
	}

	s.logger.Debug().
		Str("job_id", jobID).
		Str("status", string(status)).
		Msg("Job status updated")

	return nil
}

func (s *JobStorage) UpdateJobProgress(ctx context.Context, jobID string, progress int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}

	// Progress never decreases and terminal jobs are immutable
	if job.Status.IsTerminal() || progress <= job.Progress {
		return false, nil
	}
	if progress > 100 {
		progress = 100
	}

	job.Progress = progress
	if err := s.db.Store().Update(jobID, job); err != nil {
		return false, fmt.Errorf("failed to update job %s progress: %w", jobID, err)
	}
	return true, nil
}

func (s *JobStorage) UpdateJobMetrics(ctx context.Context, jobID string, resultsCount int, objectiveValue float64, solverTimeMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.ResultsCount = resultsCount
	job.ObjectiveValue = objectiveValue
	job.SolverTimeMs = solverTimeMs

	if err := s.db.Store().Update(jobID, job); err != nil {
		return fmt.Errorf("failed to update job %s metrics: %w", jobID, err)
	}
	return nil
}

func (s *JobStorage) FindRunOnDay(ctx context.Context, kind models.JobKind, dataSourceID string, day time.Time) (*models.Job, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	var jobs []models.Job
	query := badgerhold.Where("Kind").Eq(kind).
		And("DataSourceID").Eq(dataSourceID).
		And("StartedAt").Ge(dayStart).And("StartedAt").Lt(dayEnd).
		And("Status").In(models.JobStatusPending, models.JobStatusRunning, models.JobStatusSuccess).
		SortBy("StartedAt").Reverse().Limit(1)

	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to query runs for %s/%s: %w", kind, dataSourceID, err)
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return &jobs[0], nil
}

func (s *JobStorage) ListJobs(ctx context.Context, opts interfaces.JobListOptions) ([]*models.Job, error) {
	var query *badgerhold.Query
	if opts.Kind != "" {
		query = badgerhold.Where("Kind").Eq(opts.Kind)
	} else if opts.Status != "" {
		query = badgerhold.Where("Status").Eq(opts.Status)
	} else if opts.DataSourceID != "" {
		query = badgerhold.Where("DataSourceID").Eq(opts.DataSourceID)
	} else {
		query = badgerhold.Where("ID").Ne("")
	}

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query.SortBy("CreatedAt").Reverse()); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	// Remaining filters applied in memory; job counts stay small enough
	// that compound badgerhold indexes are not worth the bookkeeping.
	result := make([]*models.Job, 0, len(jobs))
	for i := range jobs {
		job := &jobs[i]
		if opts.Status != "" && job.Status != opts.Status {
			continue
		}
		if opts.Kind != "" && job.Kind != opts.Kind {
			continue
		}
		if opts.DataSourceID != "" && job.DataSourceID != opts.DataSourceID {
			continue
		}
		result = append(result, job)
		if opts.Limit > 0 && len(result) >= opts.Limit {
			break
		}
	}
	return result, nil
}

func (s *JobStorage) CountJobsByStatus(ctx context.Context, status models.JobStatus) (int, error) {
	count, err := s.db.Store().Count(&models.Job{}, badgerhold.Where("Status").Eq(status))
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs by status: %w", err)
	}
	return int(count), nil
}

func (s *JobStorage) ListStaleRunning(ctx context.Context, cutoff time.Time) ([]*models.Job, error) {
	var jobs []models.Job
	query := badgerhold.Where("Status").Eq(models.JobStatusRunning).And("StartedAt").Lt(cutoff)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list stale running jobs: %w", err)
	}

	result := make([]*models.Job, 0, len(jobs))
	for i := range jobs {
		result = append(result, &jobs[i])
	}
	return result, nil
}

func (s *JobStorage) DeleteJob(ctx context.Context, jobID string) error {
	if err := s.db.Store().Delete(jobID, &models.Job{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("%w: %s", interfaces.ErrJobNotFound, jobID)
		}
		return fmt.Errorf("failed to delete job %s: %w", jobID, err)
	}
	return nil
}
