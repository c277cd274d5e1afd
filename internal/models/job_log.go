package models

import "time"

// Log levels used for job log entries. Worker stdout maps to INFO and
// stderr to ERROR unless the line carries an explicit marker.
const (
	LogLevelDebug   = "DEBUG"
	LogLevelInfo    = "INFO"
	LogLevelWarning = "WARNING"
	LogLevelError   = "ERROR"
)

// MaxLogMessageLength caps stored log messages. Longer worker lines are
// truncated, never dropped.
const MaxLogMessageLength = 5000

// JobLogEntry is a single persisted log line for a job. Sequence starts at 1
// and is gap-free per job; it orders entries and drives incremental fetches.
type JobLogEntry struct {
	JobID     string            `json:"job_id" badgerhold:"index"`
	Sequence  int               `json:"sequence"`
	Level     string            `json:"level" badgerhold:"index"`
	Message   string            `json:"message"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Truncate enforces the message length cap in place.
func (e *JobLogEntry) Truncate() {
	if len(e.Message) > MaxLogMessageLength {
		e.Message = e.Message[:MaxLogMessageLength]
	}
}
