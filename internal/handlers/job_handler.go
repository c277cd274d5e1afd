package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gridops/internal/interfaces"
	"github.com/ternarybob/gridops/internal/models"
	"github.com/ternarybob/gridops/internal/services/admission"
)

// JobHandler serves the optimization job API
type JobHandler struct {
	admission  *admission.Service
	supervisor interfaces.RunSupervisor
	jobs       interfaces.JobStorage
	logSvc     interfaces.LogService
	logger     arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(admissionSvc *admission.Service, supervisor interfaces.RunSupervisor, jobs interfaces.JobStorage, logSvc interfaces.LogService, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		admission:  admissionSvc,
		supervisor: supervisor,
		jobs:       jobs,
		logSvc:     logSvc,
		logger:     logger,
	}
}

// TriggerJobHandler handles POST /api/jobs/trigger. The request runs the
// admission gauntlet; an admitted job is handed to the supervisor and the
// pending job returned immediately.
func (h *JobHandler) TriggerJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req admission.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	job, err := h.admission.Admit(r.Context(), &req)
	if err != nil {
		h.writeAdmissionError(w, err)
		return
	}

	h.supervisor.Supervise(job)

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"job_id":     job.ID,
			"model_type": job.Kind,
			"status":     job.Status,
		},
	})
}

func (h *JobHandler) writeAdmissionError(w http.ResponseWriter, err error) {
	var dup *admission.DuplicateRunError
	switch {
	case errors.As(err, &dup):
		WriteJSON(w, http.StatusConflict, map[string]interface{}{
			"success":         false,
			"error":           err.Error(),
			"existing_job_id": dup.ExistingJobID,
		})
	case errors.Is(err, admission.ErrInvalidKind), errors.Is(err, admission.ErrInvalidRequest):
		WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, interfaces.ErrDataSourceNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error().Err(err).Msg("Job admission failed")
		WriteError(w, http.StatusInternalServerError, "Failed to create job")
	}
}

// ListJobsHandler handles GET /api/jobs with optional status, kind,
// data_source_id and limit filters
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	opts := interfaces.JobListOptions{
		Kind:         models.JobKind(r.URL.Query().Get("kind")),
		Status:       models.JobStatus(r.URL.Query().Get("status")),
		DataSourceID: r.URL.Query().Get("data_source_id"),
		Limit:        QueryInt(r, "limit", 100),
	}

	jobs, err := h.jobs.ListJobs(r.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJobHandler handles GET /api/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

// JobLogsHandler handles GET /api/jobs/{id}/logs. since_sequence returns
// only entries after that sequence so clients can poll incrementally.
func (h *JobHandler) JobLogsHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	if _, err := h.jobs.GetJob(r.Context(), jobID); err != nil {
		if errors.Is(err, interfaces.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job for logs")
		WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	sinceSequence := QueryInt(r, "since_sequence", 0)
	limit := QueryInt(r, "limit", 1000)
	level := r.URL.Query().Get("level")

	var entries []models.JobLogEntry
	var err error
	if level != "" {
		entries, err = h.logSvc.ListLogsByLevel(r.Context(), jobID, level, limit)
	} else {
		entries, err = h.logSvc.ListLogs(r.Context(), jobID, sinceSequence, limit)
	}
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to list job logs")
		WriteError(w, http.StatusInternalServerError, "Failed to list logs")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"job_id": jobID,
		"logs":   entries,
		"count":  len(entries),
	})
}

// CancelJobHandler handles POST /api/jobs/{id}/cancel
func (h *JobHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job for cancel")
		WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	if job.Status.IsTerminal() {
		WriteError(w, http.StatusConflict, "Job already finished")
		return
	}

	if err := h.supervisor.Cancel(jobID); err != nil {
		WriteError(w, http.StatusConflict, err.Error())
		return
	}

	WriteSuccess(w, "Cancellation requested")
}
