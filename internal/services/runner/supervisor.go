package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gridops/internal/common"
	"github.com/ternarybob/gridops/internal/interfaces"
	"github.com/ternarybob/gridops/internal/models"
)

// maxErrorBuffer caps accumulated stderr used for the failure message
const maxErrorBuffer = 8192

type workerLine struct {
	text   string
	stderr bool
}

type runHandle struct {
	cancel    context.CancelFunc
	cancelled bool
}

// Supervisor executes admitted jobs as external worker processes and
// follows each to a terminal status. One goroutine per job; stdout and
// stderr are merged into a single appender so log sequences stay gap-free.
type Supervisor struct {
	jobs   interfaces.JobStorage
	models interfaces.ModelStorage
	logSvc interfaces.LogService
	events interfaces.EventService
	config *common.RunnerConfig
	logger arbor.ILogger

	mu      sync.Mutex
	running map[string]*runHandle
	wg      sync.WaitGroup
}

// NewSupervisor creates a new run supervisor
func NewSupervisor(jobs interfaces.JobStorage, modelStore interfaces.ModelStorage, logSvc interfaces.LogService, events interfaces.EventService, config *common.RunnerConfig, logger arbor.ILogger) *Supervisor {
	return &Supervisor{
		jobs:    jobs,
		models:  modelStore,
		logSvc:  logSvc,
		events:  events,
		config:  config,
		logger:  logger,
		running: make(map[string]*runHandle),
	}
}

// Supervise launches the job's worker process in the background
func (s *Supervisor) Supervise(job *models.Job) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(job)
	}()
}

// Cancel kills a running job's worker process. The job transitions to
// cancelled once the process has exited. A pending job whose worker has
// not registered yet is cancelled directly, so cancelling a just-triggered
// job does not race the supervision goroutine.
func (s *Supervisor) Cancel(jobID string) error {
	s.mu.Lock()
	handle, ok := s.running[jobID]
	if ok {
		handle.cancelled = true
	}
	s.mu.Unlock()

	if ok {
		s.logger.Info().Str("job_id", jobID).Msg("Cancelling worker process")
		handle.cancel()
		return nil
	}

	ctx := context.Background()
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("job %s has no running worker", jobID)
	}
	if job.Status != models.JobStatusPending {
		return fmt.Errorf("job %s has no running worker", jobID)
	}

	// Still pending: either queued ahead of supervision or never handed to
	// a worker. Settle it here; a late running transition is rejected by
	// the status order.
	if err := s.jobs.UpdateJobStatus(ctx, jobID, models.JobStatusCancelled, "cancelled by user"); err != nil {
		return err
	}
	s.logSvc.Append(ctx, jobID, models.LogLevelWarning, "Optimization cancelled", nil)
	s.publish(ctx, interfaces.EventJobCancelled, job, nil)

	s.logger.Info().Str("job_id", jobID).Msg("Cancelled pending job before worker start")
	return nil
}

// Wait blocks until all supervised jobs have reached a terminal status
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// FailOrphans fails jobs still marked running from a previous process.
// Worker processes do not survive a server restart, so any running job
// found at startup is an orphan.
func (s *Supervisor) FailOrphans(ctx context.Context) error {
	stale, err := s.jobs.ListStaleRunning(ctx, time.Now())
	if err != nil {
		return err
	}

	for _, job := range stale {
		s.logger.Warn().Str("job_id", job.ID).Msg("Failing orphaned run from previous process")
		if err := s.jobs.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, "orphaned by server restart"); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to fail orphaned job")
			continue
		}
		s.logSvc.Append(ctx, job.ID, models.LogLevelError, "Run orphaned by server restart", nil)
		s.publish(ctx, interfaces.EventJobFailed, job, map[string]interface{}{
			"error": "orphaned by server restart",
		})
	}
	return nil
}

func (s *Supervisor) run(job *models.Job) {
	ctx, cancel := context.WithCancel(context.Background())
	handle := &runHandle{cancel: cancel}

	s.mu.Lock()
	s.running[job.ID] = handle
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.running, job.ID)
		s.mu.Unlock()
	}()

	scriptPath, err := s.resolveArtifact(ctx, job)
	if err != nil {
		s.failJob(ctx, job, err.Error(), -1)
		return
	}

	if err := s.jobs.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning, ""); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to transition job to running")
		s.failJob(ctx, job, fmt.Sprintf("failed to start run: %v", err), -1)
		return
	}
	s.logSvc.Append(ctx, job.ID, models.LogLevelInfo,
		fmt.Sprintf("Executing %s optimization for data source %s", job.Kind, job.DataSourceID), nil)
	s.publish(ctx, interfaces.EventJobStarted, job, map[string]interface{}{
		"data_source_id": job.DataSourceID,
	})

	configJSON := "{}"
	if len(job.Config) > 0 {
		if data, err := json.Marshal(job.Config); err == nil {
			configJSON = string(data)
		} else {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to marshal job config, passing empty config")
		}
	}

	cmd := exec.CommandContext(ctx, s.config.Interpreter, scriptPath,
		"--data-source-id", job.DataSourceID,
		"--job-id", job.ID,
		"--config", configJSON,
	)
	cmd.Env = append(os.Environ(),
		"GRIDOPS_JOB_ID="+job.ID,
		"GRIDOPS_MODEL_TYPE="+string(job.Kind),
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.failJob(ctx, job, fmt.Sprintf("failed to open stdout pipe: %v", err), -1)
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.failJob(ctx, job, fmt.Sprintf("failed to open stderr pipe: %v", err), -1)
		return
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		s.failJob(ctx, job, fmt.Sprintf("failed to start worker process: %v", err), -1)
		return
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("script", scriptPath).
		Int("pid", cmd.Process.Pid).
		Msg("Worker process started")

	lines := make(chan workerLine, 256)
	var pipes sync.WaitGroup
	pipes.Add(2)
	go s.readPipe(stdout, false, lines, &pipes)
	go s.readPipe(stderr, true, lines, &pipes)
	go func() {
		pipes.Wait()
		close(lines)
	}()

	var errorBuf strings.Builder
	var resultsCount int
	var objective float64

	for line := range lines {
		parsed := ParseLine(line.text, line.stderr)
		s.logSvc.Append(ctx, job.ID, parsed.Level, parsed.Message, nil)

		if line.stderr && errorBuf.Len() < maxErrorBuffer {
			errorBuf.WriteString(line.text)
			errorBuf.WriteString("\n")
		}

		if parsed.HasProgress {
			applied, err := s.jobs.UpdateJobProgress(ctx, job.ID, parsed.Progress)
			if err != nil {
				s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to update job progress")
			} else if applied {
				// Only persisted changes are announced; a marker below the
				// current progress is a no-op in storage and stays silent
				s.publish(ctx, interfaces.EventJobProgress, job, map[string]interface{}{
					"progress": parsed.Progress,
				})
			}
		}
		if parsed.HasResults {
			resultsCount = parsed.ResultsCount
		}
		if parsed.HasObjective {
			objective = parsed.ObjectiveValue
		}
	}

	waitErr := cmd.Wait()
	solverTimeMs := time.Since(started).Milliseconds()

	s.mu.Lock()
	cancelled := handle.cancelled
	s.mu.Unlock()

	if cancelled {
		if err := s.jobs.UpdateJobStatus(ctx, job.ID, models.JobStatusCancelled, "cancelled by user"); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to mark job cancelled")
			return
		}
		s.logSvc.Append(ctx, job.ID, models.LogLevelWarning, "Optimization cancelled", nil)
		s.publish(ctx, interfaces.EventJobCancelled, job, nil)
		return
	}

	if waitErr == nil {
		if err := s.jobs.UpdateJobMetrics(ctx, job.ID, resultsCount, objective, solverTimeMs); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to record solver metrics")
		}
		if err := s.jobs.UpdateJobStatus(ctx, job.ID, models.JobStatusSuccess, ""); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to mark job succeeded")
			return
		}
		s.logSvc.Append(ctx, job.ID, models.LogLevelInfo,
			fmt.Sprintf("Optimization completed successfully in %dms", solverTimeMs), nil)
		s.publish(ctx, interfaces.EventJobCompleted, job, map[string]interface{}{
			"progress":        100,
			"results_count":   resultsCount,
			"objective_value": objective,
			"solver_time_ms":  solverTimeMs,
		})
		return
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		exitCode = exitErr.ExitCode()
	}

	errMsg := strings.TrimSpace(errorBuf.String())
	if errMsg == "" {
		errMsg = fmt.Sprintf("Process exited with code %d", exitCode)
	}
	if len(errMsg) > models.MaxLogMessageLength {
		errMsg = errMsg[:models.MaxLogMessageLength]
	}

	s.failJob(ctx, job, errMsg, exitCode)
}

// failJob moves a job to failed from whatever non-terminal state it is in
func (s *Supervisor) failJob(ctx context.Context, job *models.Job, errMsg string, exitCode int) {
	if err := s.jobs.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, errMsg); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to mark job failed")
		return
	}

	message := fmt.Sprintf("Optimization failed: %s", errMsg)
	if exitCode >= 0 {
		message = fmt.Sprintf("Optimization failed with exit code %d", exitCode)
	}
	s.logSvc.Append(ctx, job.ID, models.LogLevelError, message, nil)

	payload := map[string]interface{}{
		"error": errMsg,
	}
	if exitCode >= 0 {
		payload["exit_code"] = exitCode
	}
	s.publish(ctx, interfaces.EventJobFailed, job, payload)

	s.logger.Warn().
		Str("job_id", job.ID).
		Int("exit_code", exitCode).
		Msg("Job failed")
}

// resolveArtifact picks the worker script for a job: the pinned model when
// usable, otherwise the configured default script for the kind.
func (s *Supervisor) resolveArtifact(ctx context.Context, job *models.Job) (string, error) {
	if job.ModelID != "" {
		model, err := s.models.GetModel(ctx, job.ModelID)
		if err == nil && model.Usable() {
			if _, statErr := os.Stat(model.FilePath); statErr == nil {
				if touchErr := s.models.TouchModel(ctx, model.ID, time.Now()); touchErr != nil {
					s.logger.Warn().Err(touchErr).Str("model_id", model.ID).Msg("Failed to update model last_used_at")
				}
				return model.FilePath, nil
			}
			s.logger.Warn().
				Str("model_id", job.ModelID).
				Str("path", model.FilePath).
				Msg("Pinned model file missing, falling back to default script")
		}
	}

	script, ok := s.config.DefaultScripts[string(job.Kind)]
	if !ok {
		return "", fmt.Errorf("no default script configured for kind %s", job.Kind)
	}

	path := filepath.Join(s.config.ScriptsDir, script)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("worker artifact not found: %s", path)
	}
	return path, nil
}

func (s *Supervisor) readPipe(r io.Reader, fromStderr bool, lines chan<- workerLine, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		lines <- workerLine{text: text, stderr: fromStderr}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Debug().Err(err).Bool("stderr", fromStderr).Msg("Worker pipe closed with error")
	}
}

func (s *Supervisor) publish(ctx context.Context, eventType interfaces.EventType, job *models.Job, payload map[string]interface{}) {
	s.events.Publish(ctx, interfaces.Event{
		Type:    eventType,
		JobID:   job.ID,
		Kind:    string(job.Kind),
		Payload: payload,
	})
}
