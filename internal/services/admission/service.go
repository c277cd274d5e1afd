package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gridops/internal/common"
	"github.com/ternarybob/gridops/internal/interfaces"
	"github.com/ternarybob/gridops/internal/models"
)

// ErrInvalidKind is returned when the requested model kind is not DMO, RMO or SO
var ErrInvalidKind = errors.New("invalid model kind")

// ErrInvalidRequest is returned when the request payload fails validation
var ErrInvalidRequest = errors.New("invalid run request")

// DuplicateRunError is returned when a one-per-day kind already has a run
// for the same data source on the current calendar day.
type DuplicateRunError struct {
	Kind          models.JobKind
	DataSourceID  string
	ExistingJobID string
}

func (e *DuplicateRunError) Error() string {
	return fmt.Sprintf("%s optimization already ran today for data source %s (job %s)", e.Kind, e.DataSourceID, e.ExistingJobID)
}

// RunRequest is the SubmitRun payload
type RunRequest struct {
	Kind         string                 `json:"model_type" validate:"required"`
	DataSourceID string                 `json:"data_source_id" validate:"required"`
	ModelID      string                 `json:"model_id,omitempty"`
	Config       map[string]interface{} `json:"model_config,omitempty"`
	TriggeredBy  string                 `json:"triggered_by,omitempty"`
}

// Service is the admission controller: the only path that creates jobs.
// Rejected requests never leave a job row behind.
type Service struct {
	jobs        interfaces.JobStorage
	dataSources interfaces.DataSourceStorage
	modelStore  interfaces.ModelStorage
	logSvc      interfaces.LogService
	events      interfaces.EventService
	validate    *validator.Validate
	logger      arbor.ILogger

	// Serializes the duplicate check and insert so two same-day requests
	// cannot both pass the one-per-day rule.
	mu sync.Mutex
}

// NewService creates a new admission service
func NewService(jobs interfaces.JobStorage, dataSources interfaces.DataSourceStorage, modelStore interfaces.ModelStorage, logSvc interfaces.LogService, events interfaces.EventService, logger arbor.ILogger) *Service {
	return &Service{
		jobs:        jobs,
		dataSources: dataSources,
		modelStore:  modelStore,
		logSvc:      logSvc,
		events:      events,
		validate:    validator.New(),
		logger:      logger,
	}
}

// Admit validates a run request and creates a pending job. Returns
// ErrInvalidKind, interfaces.ErrDataSourceNotFound or *DuplicateRunError
// on rejection; on success the job is persisted with an initial log entry
// and a job_created event published.
func (s *Service) Admit(ctx context.Context, req *RunRequest) (*models.Job, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	kind, err := models.ParseJobKind(req.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, req.Kind)
	}

	if _, err := s.dataSources.GetDataSource(ctx, req.DataSourceID); err != nil {
		return nil, err
	}

	// A pinned model that is unknown or archived is dropped rather than
	// rejected: the run proceeds on the default artifact for the kind.
	modelID := req.ModelID
	if modelID != "" {
		model, err := s.modelStore.GetModel(ctx, modelID)
		if err != nil || !model.Usable() {
			s.logger.Debug().
				Str("model_id", modelID).
				Str("kind", string(kind)).
				Msg("Pinned model not usable, falling back to default")
			modelID = ""
		}
	}

	triggeredBy := req.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = "manual"
	}

	now := time.Now()
	job := &models.Job{
		ID:           common.NewJobID(string(kind)),
		Kind:         kind,
		DataSourceID: req.DataSourceID,
		ModelID:      modelID,
		Status:       models.JobStatusPending,
		Progress:     0,
		TriggeredBy:  triggeredBy,
		Config:       req.Config,
		CreatedAt:    now,
		StartedAt:    now,
	}

	s.mu.Lock()
	if kind.OncePerDay() {
		existing, err := s.jobs.FindRunOnDay(ctx, kind, req.DataSourceID, now)
		if err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("duplicate run check failed: %w", err)
		}
		if existing != nil {
			s.mu.Unlock()
			return nil, &DuplicateRunError{
				Kind:          kind,
				DataSourceID:  req.DataSourceID,
				ExistingJobID: existing.ID,
			}
		}
	}

	if err := s.jobs.SaveJob(ctx, job); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	s.mu.Unlock()

	s.logger.Info().
		Str("job_id", job.ID).
		Str("kind", string(kind)).
		Str("data_source_id", req.DataSourceID).
		Str("triggered_by", triggeredBy).
		Msg("Job admitted")

	if _, err := s.logSvc.Append(ctx, job.ID, models.LogLevelInfo,
		fmt.Sprintf("%s optimization queued for data source %s", kind, req.DataSourceID), nil); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to append admission log")
	}

	s.events.Publish(ctx, interfaces.Event{
		Type:  interfaces.EventJobCreated,
		JobID: job.ID,
		Kind:  string(kind),
		Payload: map[string]interface{}{
			"data_source_id": job.DataSourceID,
			"status":         string(job.Status),
			"triggered_by":   job.TriggeredBy,
		},
	})

	return job, nil
}
