package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gridops/internal/common"
	"github.com/ternarybob/gridops/internal/interfaces"
	"github.com/ternarybob/gridops/internal/services/admission"
)

// Service triggers scheduled optimization runs from cron entries in the
// configuration. Scheduled submissions go through the same admission path
// as API requests, so the one-per-day rule applies to them unchanged; a
// duplicate-run rejection is expected when a manual run already happened
// and is logged, not treated as a failure.
type Service struct {
	admission  *admission.Service
	supervisor interfaces.RunSupervisor
	config     *common.SchedulerConfig
	cron       *cron.Cron
	logger     arbor.ILogger
	running    bool
}

// NewService creates a new scheduler service
func NewService(admissionSvc *admission.Service, supervisor interfaces.RunSupervisor, config *common.SchedulerConfig, logger arbor.ILogger) *Service {
	return &Service{
		admission:  admissionSvc,
		supervisor: supervisor,
		config:     config,
		cron:       cron.New(),
		logger:     logger,
	}
}

// Start registers the configured runs and starts the cron loop
func (s *Service) Start() error {
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if !s.config.Enabled {
		s.logger.Info().Msg("Scheduler disabled")
		return nil
	}

	registered := 0
	for _, run := range s.config.Runs {
		run := run
		_, err := s.cron.AddFunc(run.Schedule, func() {
			s.trigger(run)
		})
		if err != nil {
			return fmt.Errorf("failed to register scheduled run %s/%s (%q): %w", run.Kind, run.DataSourceID, run.Schedule, err)
		}
		s.logger.Info().
			Str("kind", run.Kind).
			Str("data_source_id", run.DataSourceID).
			Str("schedule", run.Schedule).
			Msg("Scheduled run registered")
		registered++
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().Int("runs", registered).Msg("Scheduler started")
	return nil
}

// Stop halts the scheduler and waits for in-flight trigger callbacks
func (s *Service) Stop() error {
	if !s.running {
		return nil
	}

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

func (s *Service) trigger(run common.ScheduledRun) {
	ctx := context.Background()

	job, err := s.admission.Admit(ctx, &admission.RunRequest{
		Kind:         run.Kind,
		DataSourceID: run.DataSourceID,
		TriggeredBy:  "scheduler",
	})
	if err != nil {
		var dup *admission.DuplicateRunError
		if errors.As(err, &dup) {
			s.logger.Debug().
				Str("kind", run.Kind).
				Str("data_source_id", run.DataSourceID).
				Str("existing_job_id", dup.ExistingJobID).
				Msg("Scheduled run skipped, already ran today")
			return
		}
		s.logger.Error().
			Err(err).
			Str("kind", run.Kind).
			Str("data_source_id", run.DataSourceID).
			Msg("Scheduled run rejected")
		return
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("kind", run.Kind).
		Msg("Scheduled run admitted")

	s.supervisor.Supervise(job)
}
