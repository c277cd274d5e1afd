package logs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gridops/internal/interfaces"
	"github.com/ternarybob/gridops/internal/models"
)

// Service implements LogService. It owns per-job sequence allocation:
// every entry gets the next integer in the job's sequence, starting at 1
// with no gaps, regardless of which goroutine appends. Counters are
// rehydrated from storage after a restart; the gap-free invariant makes
// the stored count equal to the highest allocated sequence.
type Service struct {
	storage interfaces.JobLogStorage
	events  interfaces.EventService
	logger  arbor.ILogger

	mu   sync.Mutex
	seqs map[string]int
}

// NewService creates a new log service
func NewService(storage interfaces.JobLogStorage, events interfaces.EventService, logger arbor.ILogger) interfaces.LogService {
	return &Service{
		storage: storage,
		events:  events,
		logger:  logger,
		seqs:    make(map[string]int),
	}
}

// Append stores a log line for a job with the next sequence number. The
// durable write happens before the job_log event is published; subscribers
// may miss events but storage never misses entries.
func (s *Service) Append(ctx context.Context, jobID, level, message string, metadata map[string]string) (*models.JobLogEntry, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	s.mu.Lock()
	seq, ok := s.seqs[jobID]
	if !ok {
		count, err := s.storage.CountLogs(ctx, jobID)
		if err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("failed to rehydrate log sequence for job %s: %w", jobID, err)
		}
		seq = count
	}
	seq++
	s.seqs[jobID] = seq

	entry := &models.JobLogEntry{
		JobID:     jobID,
		Sequence:  seq,
		Level:     level,
		Message:   message,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}

	if err := s.storage.AppendLog(ctx, entry); err != nil {
		// Roll the counter back so the sequence stays gap-free
		s.seqs[jobID] = seq - 1
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	if s.events != nil {
		s.events.Publish(ctx, interfaces.Event{
			Type:  interfaces.EventJobLog,
			JobID: jobID,
			Payload: map[string]interface{}{
				"sequence":  entry.Sequence,
				"level":     entry.Level,
				"message":   entry.Message,
				"timestamp": entry.Timestamp,
			},
		})
	}

	return entry, nil
}

// ListLogs returns entries after sinceSequence in ascending order
func (s *Service) ListLogs(ctx context.Context, jobID string, sinceSequence int, limit int) ([]models.JobLogEntry, error) {
	return s.storage.ListLogs(ctx, jobID, sinceSequence, limit)
}

// ListLogsByLevel returns entries filtered by level
func (s *Service) ListLogsByLevel(ctx context.Context, jobID string, level string, limit int) ([]models.JobLogEntry, error) {
	return s.storage.ListLogsByLevel(ctx, jobID, level, limit)
}

// CountLogs returns the number of entries for a job
func (s *Service) CountLogs(ctx context.Context, jobID string) (int, error) {
	return s.storage.CountLogs(ctx, jobID)
}
