package models

import (
	"fmt"
	"time"
)

// JobKind identifies the optimization model a run executes.
type JobKind string

const (
	JobKindDMO JobKind = "DMO" // day-ahead market optimization
	JobKindRMO JobKind = "RMO" // real-time market optimization
	JobKindSO  JobKind = "SO"  // storage optimization
)

// ParseJobKind validates and normalizes a kind string from an API payload.
func ParseJobKind(s string) (JobKind, error) {
	switch JobKind(s) {
	case JobKindDMO, JobKindRMO, JobKindSO:
		return JobKind(s), nil
	}
	return "", fmt.Errorf("unknown job kind: %q", s)
}

// OncePerDay reports whether the kind is subject to the one-run-per-day
// admission rule for a given data source.
func (k JobKind) OncePerDay() bool {
	return k == JobKindDMO
}

// JobStatus represents the lifecycle state of an optimization job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSuccess   JobStatus = "success"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status is final. Terminal statuses are
// written exactly once and never transition again.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailed || s == JobStatusCancelled
}

// Job represents a single optimization run from admission to completion.
// Rows are keyed by ID in badgerhold; the indexed fields back the
// one-per-day admission query.
type Job struct {
	ID           string                 `json:"job_id" badgerhold:"unique"`
	Kind         JobKind                `json:"model_type" badgerhold:"index"`
	DataSourceID string                 `json:"data_source_id" badgerhold:"index"`
	ModelID      string                 `json:"model_id,omitempty"`
	Status       JobStatus              `json:"status" badgerhold:"index"`
	Progress     int                    `json:"progress"`
	TriggeredBy  string                 `json:"triggered_by"`
	Config       map[string]interface{} `json:"config,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	StartedAt    time.Time              `json:"started_at" badgerhold:"index"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`

	// Solver metrics reported by the worker on successful completion
	ResultsCount   int     `json:"results_count,omitempty"`
	ObjectiveValue float64 `json:"objective_value,omitempty"`
	SolverTimeMs   int64   `json:"solver_time_ms,omitempty"`
}

// CanTransitionTo enforces the status order pending -> running -> terminal.
func (j *Job) CanTransitionTo(next JobStatus) bool {
	if j.Status.IsTerminal() {
		return false
	}
	switch next {
	case JobStatusRunning:
		return j.Status == JobStatusPending
	case JobStatusSuccess:
		return j.Status == JobStatusRunning
	case JobStatusFailed, JobStatusCancelled:
		return j.Status == JobStatusPending || j.Status == JobStatusRunning
	}
	return false
}

// Duration returns elapsed wall time for the run, zero if not yet completed.
func (j *Job) Duration() time.Duration {
	if j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(j.StartedAt)
}
