package interfaces

import (
	"context"

	"github.com/ternarybob/gridops/internal/models"
)

// LogService owns per-job sequence allocation and publishes every appended
// entry as a job_log event after the durable write.
type LogService interface {
	// Append stores a log line for a job with the next sequence number
	Append(ctx context.Context, jobID, level, message string, metadata map[string]string) (*models.JobLogEntry, error)

	// ListLogs returns entries after sinceSequence in ascending order
	ListLogs(ctx context.Context, jobID string, sinceSequence int, limit int) ([]models.JobLogEntry, error)

	// ListLogsByLevel returns entries filtered by level
	ListLogsByLevel(ctx context.Context, jobID string, level string, limit int) ([]models.JobLogEntry, error)

	// CountLogs returns the number of entries for a job
	CountLogs(ctx context.Context, jobID string) (int, error)
}

// RunSupervisor executes admitted jobs as external worker processes
type RunSupervisor interface {
	// Supervise launches the job's worker process and follows it to a
	// terminal status. Returns immediately; supervision runs in the
	// background.
	Supervise(job *models.Job)

	// Cancel kills a running job's worker process
	Cancel(jobID string) error

	// Wait blocks until all supervised jobs have reached a terminal status
	Wait()
}
