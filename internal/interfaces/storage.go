package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/gridops/internal/models"
)

// JobListOptions filters and bounds ListJobs results
type JobListOptions struct {
	Kind         models.JobKind
	DataSourceID string
	Status       models.JobStatus
	Limit        int
}

// JobStorage persists optimization jobs. Status and progress updates are
// read-modify-write and serialized inside the implementation so the job
// lifecycle invariants hold under concurrent writers.
type JobStorage interface {
	// SaveJob inserts or replaces a job row
	SaveJob(ctx context.Context, job *models.Job) error

	// GetJob retrieves a job by ID
	GetJob(ctx context.Context, jobID string) (*models.Job, error)

	// UpdateJobStatus transitions a job's status. Terminal statuses set
	// completed_at; running sets started_at. Transitions that violate the
	// status order are rejected.
	UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, errorMsg string) error

	// UpdateJobProgress raises a running job's progress. Values below the
	// current progress and updates to terminal jobs are ignored so progress
	// never decreases; the bool reports whether the value was applied, so
	// callers broadcasting progress only announce persisted changes.
	UpdateJobProgress(ctx context.Context, jobID string, progress int) (bool, error)

	// UpdateJobMetrics records solver metrics reported by the worker
	UpdateJobMetrics(ctx context.Context, jobID string, resultsCount int, objectiveValue float64, solverTimeMs int64) error

	// FindRunOnDay returns an existing run of the given kind and data source
	// whose started_at falls on the given calendar day and whose status is
	// pending, running, or success. Returns nil when no such run exists.
	FindRunOnDay(ctx context.Context, kind models.JobKind, dataSourceID string, day time.Time) (*models.Job, error)

	// ListJobs returns jobs matching the options, newest first
	ListJobs(ctx context.Context, opts JobListOptions) ([]*models.Job, error)

	// CountJobsByStatus returns the number of jobs with the given status
	CountJobsByStatus(ctx context.Context, status models.JobStatus) (int, error)

	// ListStaleRunning returns jobs still marked running whose started_at is
	// older than the cutoff. Used at startup to fail orphans left behind by
	// a crash.
	ListStaleRunning(ctx context.Context, cutoff time.Time) ([]*models.Job, error)

	// DeleteJob removes a job row
	DeleteJob(ctx context.Context, jobID string) error
}

// JobLogStorage persists per-job log entries keyed by (job_id, sequence)
type JobLogStorage interface {
	// AppendLog stores an entry. The caller owns sequence allocation.
	AppendLog(ctx context.Context, entry *models.JobLogEntry) error

	// ListLogs returns entries for a job with sequence greater than
	// sinceSequence, in ascending sequence order
	ListLogs(ctx context.Context, jobID string, sinceSequence int, limit int) ([]models.JobLogEntry, error)

	// ListLogsByLevel returns entries for a job filtered by level
	ListLogsByLevel(ctx context.Context, jobID string, level string, limit int) ([]models.JobLogEntry, error)

	// CountLogs returns the number of entries for a job. Because sequences
	// are gap-free this is also the highest allocated sequence.
	CountLogs(ctx context.Context, jobID string) (int, error)

	// DeleteLogs removes all entries for a job
	DeleteLogs(ctx context.Context, jobID string) error
}

// DataSourceStorage persists market data sources
type DataSourceStorage interface {
	SaveDataSource(ctx context.Context, ds *models.DataSource) error
	GetDataSource(ctx context.Context, id string) (*models.DataSource, error)
	ListDataSources(ctx context.Context) ([]*models.DataSource, error)
	DeleteDataSource(ctx context.Context, id string) error
}

// ModelStorage persists registered worker artifacts
type ModelStorage interface {
	SaveModel(ctx context.Context, model *models.OptimizationModel) error
	GetModel(ctx context.Context, id string) (*models.OptimizationModel, error)
	ListModels(ctx context.Context, kind models.JobKind) ([]*models.OptimizationModel, error)
	TouchModel(ctx context.Context, id string, usedAt time.Time) error
	DeleteModel(ctx context.Context, id string) error
}

// StorageManager aggregates the typed storages over a shared database
type StorageManager interface {
	JobStorage() JobStorage
	JobLogStorage() JobLogStorage
	DataSourceStorage() DataSourceStorage
	ModelStorage() ModelStorage

	// LoadDataSourcesFromFiles loads data source definitions from TOML files
	LoadDataSourcesFromFiles(ctx context.Context, dirPath string) error

	// DB returns the underlying database connection
	DB() interface{}

	// Close closes the database connection
	Close() error
}
