package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gridops/internal/interfaces"
	"github.com/ternarybob/gridops/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobLogStorage implements the JobLogStorage interface for Badger.
// Entries are keyed by "<job_id>_<sequence>" with the sequence zero-padded
// so keys sort in append order. Sequence allocation lives in the log
// service; storage only persists what it is handed.
type JobLogStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobLogStorage creates a new JobLogStorage instance
func NewJobLogStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobLogStorage {
	return &JobLogStorage{
		db:     db,
		logger: logger,
	}
}

func logKey(jobID string, sequence int) string {
	return fmt.Sprintf("%s_%010d", jobID, sequence)
}

func (s *JobLogStorage) AppendLog(ctx context.Context, entry *models.JobLogEntry) error {
	if entry.JobID == "" {
		return fmt.Errorf("log entry job ID is required")
	}
	if entry.Sequence < 1 {
		return fmt.Errorf("log entry sequence must be >= 1, got %d", entry.Sequence)
	}

	entry.Truncate()

	if err := s.db.Store().Insert(logKey(entry.JobID, entry.Sequence), entry); err != nil {
		return fmt.Errorf("failed to append log for job %s: %w", entry.JobID, err)
	}
	return nil
}

func (s *JobLogStorage) ListLogs(ctx context.Context, jobID string, sinceSequence int, limit int) ([]models.JobLogEntry, error) {
	var logs []models.JobLogEntry
	query := badgerhold.Where("JobID").Eq(jobID).And("Sequence").Gt(sinceSequence).SortBy("Sequence")
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := s.db.Store().Find(&logs, query); err != nil {
		return nil, fmt.Errorf("failed to get logs for job %s: %w", jobID, err)
	}
	return logs, nil
}

func (s *JobLogStorage) ListLogsByLevel(ctx context.Context, jobID string, level string, limit int) ([]models.JobLogEntry, error) {
	var logs []models.JobLogEntry
	query := badgerhold.Where("JobID").Eq(jobID).And("Level").Eq(level).SortBy("Sequence")
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := s.db.Store().Find(&logs, query); err != nil {
		return nil, fmt.Errorf("failed to get logs by level for job %s: %w", jobID, err)
	}
	return logs, nil
}

func (s *JobLogStorage) CountLogs(ctx context.Context, jobID string) (int, error) {
	count, err := s.db.Store().Count(&models.JobLogEntry{}, badgerhold.Where("JobID").Eq(jobID))
	if err != nil {
		return 0, fmt.Errorf("failed to count logs for job %s: %w", jobID, err)
	}
	return int(count), nil
}

func (s *JobLogStorage) DeleteLogs(ctx context.Context, jobID string) error {
	if err := s.db.Store().DeleteMatching(&models.JobLogEntry{}, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return fmt.Errorf("failed to delete logs for job %s: %w", jobID, err)
	}
	return nil
}
