package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gridops/internal/common"
	"github.com/ternarybob/gridops/internal/interfaces"
	"github.com/ternarybob/gridops/internal/logs"
	"github.com/ternarybob/gridops/internal/models"
	"github.com/ternarybob/gridops/internal/services/events"
	storage "github.com/ternarybob/gridops/internal/storage/badger"
)

type supervisorFixture struct {
	jobs   interfaces.JobStorage
	logSvc interfaces.LogService
	events interfaces.EventService
	config *common.RunnerConfig
	sup    *Supervisor
}

func newSupervisorFixture(t *testing.T) *supervisorFixture {
	t.Helper()

	dir := t.TempDir()
	logger := arbor.NewLogger()

	db, err := storage.NewBadgerDB(logger, &common.BadgerConfig{Path: filepath.Join(dir, "db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	scriptsDir := filepath.Join(dir, "scripts")
	require.NoError(t, os.MkdirAll(scriptsDir, 0755))

	eventSvc := events.NewService(logger)
	logSvc := logs.NewService(storage.NewJobLogStorage(db, logger), eventSvc, logger)
	jobs := storage.NewJobStorage(db, logger)

	config := &common.RunnerConfig{
		Interpreter: "/bin/sh",
		ScriptsDir:  scriptsDir,
		DefaultScripts: map[string]string{
			"DMO": "dmo.sh",
			"RMO": "rmo.sh",
			"SO":  "so.sh",
		},
	}

	return &supervisorFixture{
		jobs:   jobs,
		logSvc: logSvc,
		events: eventSvc,
		config: config,
		sup:    NewSupervisor(jobs, storage.NewModelStorage(db, logger), logSvc, eventSvc, config, logger),
	}
}

func (f *supervisorFixture) writeScript(t *testing.T, name, body string) {
	t.Helper()
	path := filepath.Join(f.config.ScriptsDir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
}

func (f *supervisorFixture) newJob(t *testing.T, kind models.JobKind) *models.Job {
	t.Helper()
	now := time.Now()
	job := &models.Job{
		ID:           common.NewJobID(string(kind)),
		Kind:         kind,
		DataSourceID: "nsw_grid",
		Status:       models.JobStatusPending,
		TriggeredBy:  "manual",
		CreatedAt:    now,
		StartedAt:    now,
	}
	require.NoError(t, f.jobs.SaveJob(context.Background(), job))
	return job
}

func TestSupervisorSuccessfulRun(t *testing.T) {
	f := newSupervisorFixture(t)
	f.writeScript(t, "dmo.sh", `
echo "loading market data"
echo "PROGRESS: 10"
echo "PROGRESS: 55"
echo "Results written: 48"
echo "Objective value: 1234.5"
echo "PROGRESS: 100"
exit 0
`)

	job := f.newJob(t, models.JobKindDMO)
	f.sup.Supervise(job)
	f.sup.Wait()

	ctx := context.Background()
	final, err := f.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusSuccess, final.Status)
	assert.Equal(t, 100, final.Progress)
	require.NotNil(t, final.CompletedAt)
	assert.Empty(t, final.ErrorMessage)
	assert.Equal(t, 48, final.ResultsCount)
	assert.Equal(t, 1234.5, final.ObjectiveValue)
	assert.GreaterOrEqual(t, final.SolverTimeMs, int64(0))

	entries, err := f.logSvc.ListLogs(ctx, job.ID, 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	// Sequences are gap-free from 1 even though two pipes fed the log
	for i, entry := range entries {
		assert.Equal(t, i+1, entry.Sequence)
	}

	assert.Contains(t, entries[0].Message, "Executing DMO optimization")
	assert.Contains(t, entries[len(entries)-1].Message, "completed successfully")
}

func TestSupervisorFailureCollectsStderr(t *testing.T) {
	f := newSupervisorFixture(t)
	f.writeScript(t, "dmo.sh", `
echo "starting solver"
echo "solver exploded: infeasible constraints" >&2
exit 3
`)

	job := f.newJob(t, models.JobKindDMO)
	f.sup.Supervise(job)
	f.sup.Wait()

	ctx := context.Background()
	final, err := f.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusFailed, final.Status)
	require.NotNil(t, final.CompletedAt)
	assert.Contains(t, final.ErrorMessage, "solver exploded")

	entries, err := f.logSvc.ListLogsByLevel(ctx, job.ID, models.LogLevelError, 0)
	require.NoError(t, err)

	var messages []string
	for _, e := range entries {
		messages = append(messages, e.Message)
	}
	joined := strings.Join(messages, "\n")
	assert.Contains(t, joined, "solver exploded")
	assert.Contains(t, joined, "exit code 3")
}

func TestSupervisorFailureWithoutStderr(t *testing.T) {
	f := newSupervisorFixture(t)
	f.writeScript(t, "dmo.sh", "exit 7\n")

	job := f.newJob(t, models.JobKindDMO)
	f.sup.Supervise(job)
	f.sup.Wait()

	final, err := f.jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusFailed, final.Status)
	assert.Equal(t, "Process exited with code 7", final.ErrorMessage)
}

func TestSupervisorSpawnFailure(t *testing.T) {
	f := newSupervisorFixture(t)
	f.writeScript(t, "dmo.sh", "exit 0\n")
	f.config.Interpreter = "/nonexistent/interpreter"

	job := f.newJob(t, models.JobKindDMO)
	f.sup.Supervise(job)
	f.sup.Wait()

	final, err := f.jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)

	// Spawn failure goes straight to failed, never back through pending
	assert.Equal(t, models.JobStatusFailed, final.Status)
	assert.Contains(t, final.ErrorMessage, "failed to start worker process")
}

func TestSupervisorMissingArtifact(t *testing.T) {
	f := newSupervisorFixture(t)
	// No rmo.sh written

	job := f.newJob(t, models.JobKindRMO)
	f.sup.Supervise(job)
	f.sup.Wait()

	final, err := f.jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusFailed, final.Status)
	assert.Contains(t, final.ErrorMessage, "worker artifact not found")
}

func TestSupervisorCancel(t *testing.T) {
	f := newSupervisorFixture(t)
	f.writeScript(t, "dmo.sh", `
echo "PROGRESS: 5"
sleep 30
`)

	job := f.newJob(t, models.JobKindDMO)
	f.sup.Supervise(job)

	// Wait for the worker to actually be running before cancelling
	ctx := context.Background()
	deadline := time.Now().Add(5 * time.Second)
	for {
		current, err := f.jobs.GetJob(ctx, job.ID)
		require.NoError(t, err)
		if current.Status == models.JobStatusRunning && current.Progress >= 5 {
			break
		}
		require.True(t, time.Now().Before(deadline), "worker never reached running")
		time.Sleep(20 * time.Millisecond)
	}

	require.NoError(t, f.sup.Cancel(job.ID))
	f.sup.Wait()

	final, err := f.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCancelled, final.Status)
	assert.Equal(t, "cancelled by user", final.ErrorMessage)
	require.NotNil(t, final.CompletedAt)

	// Cancelling a finished job reports an error
	assert.Error(t, f.sup.Cancel(job.ID))
}

func TestSupervisorPublishesLifecycleEvents(t *testing.T) {
	f := newSupervisorFixture(t)
	f.writeScript(t, "dmo.sh", `
echo "PROGRESS: 40"
exit 0
`)

	job := f.newJob(t, models.JobKindDMO)
	stream, cancel := f.events.SubscribeJob(job.ID, 128)
	defer cancel()

	f.sup.Supervise(job)
	f.sup.Wait()

	seen := make(map[interfaces.EventType]bool)
	timeout := time.After(5 * time.Second)
	for {
		select {
		case event, ok := <-stream:
			if !ok {
				// Stream closes itself after the terminal event
				assert.True(t, seen[interfaces.EventJobStarted])
				assert.True(t, seen[interfaces.EventJobProgress])
				assert.True(t, seen[interfaces.EventJobCompleted])
				return
			}
			assert.Equal(t, job.ID, event.JobID)
			seen[event.Type] = true
		case <-timeout:
			t.Fatal("timed out waiting for job events")
		}
	}
}

func TestSupervisorProgressEventsNeverRegress(t *testing.T) {
	f := newSupervisorFixture(t)
	f.writeScript(t, "dmo.sh", `
echo "PROGRESS: 80"
echo "PROGRESS: 30"
exit 0
`)

	job := f.newJob(t, models.JobKindDMO)
	stream, cancel := f.events.SubscribeJob(job.ID, 128)
	defer cancel()

	f.sup.Supervise(job)
	f.sup.Wait()

	// The backwards marker is a storage no-op and must not be broadcast
	var progressValues []int
	timeout := time.After(5 * time.Second)
	for {
		select {
		case event, ok := <-stream:
			if !ok {
				require.Equal(t, []int{80}, progressValues)
				final, err := f.jobs.GetJob(context.Background(), job.ID)
				require.NoError(t, err)
				assert.Equal(t, 100, final.Progress)
				return
			}
			if event.Type == interfaces.EventJobProgress {
				value, isInt := event.Payload["progress"].(int)
				require.True(t, isInt, "progress payload should be an int")
				progressValues = append(progressValues, value)
			}
		case <-timeout:
			t.Fatal("timed out waiting for job events")
		}
	}
}

func TestSupervisorFailsJobWhenRunTransitionRejected(t *testing.T) {
	f := newSupervisorFixture(t)
	f.writeScript(t, "dmo.sh", "exit 0\n")

	// A job already marked running cannot transition to running again;
	// the run must settle it as failed rather than abandoning it
	now := time.Now()
	job := &models.Job{
		ID:           common.NewJobID(string(models.JobKindDMO)),
		Kind:         models.JobKindDMO,
		DataSourceID: "nsw_grid",
		Status:       models.JobStatusRunning,
		TriggeredBy:  "manual",
		CreatedAt:    now,
		StartedAt:    now,
	}
	require.NoError(t, f.jobs.SaveJob(context.Background(), job))

	f.sup.Supervise(job)
	f.sup.Wait()

	final, err := f.jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, final.Status)
	assert.Contains(t, final.ErrorMessage, "failed to start run")
}

func TestSupervisorCancelPendingJob(t *testing.T) {
	f := newSupervisorFixture(t)
	ctx := context.Background()

	// Admitted but not yet handed to a worker
	job := f.newJob(t, models.JobKindDMO)

	stream, cancel := f.events.SubscribeJob(job.ID, 8)
	defer cancel()

	require.NoError(t, f.sup.Cancel(job.ID))

	final, err := f.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, final.Status)
	assert.Equal(t, "cancelled by user", final.ErrorMessage)

	entries, err := f.logSvc.ListLogsByLevel(ctx, job.ID, models.LogLevelWarning, 0)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Contains(t, entries[0].Message, "cancelled")

	// The terminal event reached subscribers
	sawCancelled := false
	for event := range stream {
		if event.Type == interfaces.EventJobCancelled {
			sawCancelled = true
		}
	}
	assert.True(t, sawCancelled)

	// Terminal jobs and unknown jobs both reject cancellation
	assert.Error(t, f.sup.Cancel(job.ID))
	assert.Error(t, f.sup.Cancel("missing"))
}

func TestSupervisorFailOrphans(t *testing.T) {
	f := newSupervisorFixture(t)
	ctx := context.Background()

	job := f.newJob(t, models.JobKindDMO)
	require.NoError(t, f.jobs.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning, ""))

	require.NoError(t, f.sup.FailOrphans(ctx))

	final, err := f.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, final.Status)
	assert.Equal(t, "orphaned by server restart", final.ErrorMessage)
}
