package models

import "time"

// ModelStatus is the lifecycle state of an uploaded worker artifact.
type ModelStatus string

const (
	ModelStatusActive   ModelStatus = "active"
	ModelStatusArchived ModelStatus = "archived"
)

// OptimizationModel is a registered worker artifact (a solver script) that
// a run request may pin via model_id. When no model is pinned, or the
// pinned model is missing or archived, the supervisor falls back to the
// configured default script for the job kind.
type OptimizationModel struct {
	ID         string      `json:"id" badgerhold:"unique"`
	Name       string      `json:"name"`
	Kind       JobKind     `json:"model_type" badgerhold:"index"`
	FilePath   string      `json:"file_path"`
	Version    string      `json:"version,omitempty"`
	Status     ModelStatus `json:"status" badgerhold:"index"`
	CreatedAt  time.Time   `json:"created_at"`
	LastUsedAt *time.Time  `json:"last_used_at,omitempty"`
}

// Usable reports whether the artifact may be selected for a run.
func (m *OptimizationModel) Usable() bool {
	return m.Status == ModelStatusActive && m.FilePath != ""
}
