package badger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gridops/internal/common"
	"github.com/ternarybob/gridops/internal/interfaces"
	"github.com/ternarybob/gridops/internal/models"
)

func newTestDB(t *testing.T) *BadgerDB {
	t.Helper()

	db, err := NewBadgerDB(arbor.NewLogger(), &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "db"),
	})
	if err != nil {
		t.Fatalf("Failed to open badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testJob(id string, kind models.JobKind, startedAt time.Time) *models.Job {
	return &models.Job{
		ID:           id,
		Kind:         kind,
		DataSourceID: "nsw_grid",
		Status:       models.JobStatusPending,
		TriggeredBy:  "manual",
		CreatedAt:    startedAt,
		StartedAt:    startedAt,
	}
}

func TestJobLifecyclePersistence(t *testing.T) {
	db := newTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	job := testJob("dmo_1", models.JobKindDMO, time.Now())
	if err := storage.SaveJob(ctx, job); err != nil {
		t.Fatalf("Failed to save job: %v", err)
	}

	// pending -> running sets StartedAt
	before := time.Now()
	if err := storage.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning, ""); err != nil {
		t.Fatalf("Failed to transition to running: %v", err)
	}
	got, err := storage.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("Failed to get job: %v", err)
	}
	if got.Status != models.JobStatusRunning {
		t.Errorf("Expected running, got %s", got.Status)
	}
	if got.StartedAt.Before(before) {
		t.Errorf("Expected StartedAt refreshed on running transition")
	}

	// running -> success sets Progress=100 and CompletedAt
	if err := storage.UpdateJobStatus(ctx, job.ID, models.JobStatusSuccess, ""); err != nil {
		t.Fatalf("Failed to transition to success: %v", err)
	}
	got, err = storage.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("Failed to get job: %v", err)
	}
	if got.Progress != 100 {
		t.Errorf("Expected progress 100 on success, got %d", got.Progress)
	}
	if got.CompletedAt == nil {
		t.Error("Expected CompletedAt set on success")
	}
}

func TestJobStatusTransitionRejected(t *testing.T) {
	db := newTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	job := testJob("dmo_1", models.JobKindDMO, time.Now())
	if err := storage.SaveJob(ctx, job); err != nil {
		t.Fatalf("Failed to save job: %v", err)
	}

	// pending -> success skips running and must be rejected
	if err := storage.UpdateJobStatus(ctx, job.ID, models.JobStatusSuccess, ""); err == nil {
		t.Error("Expected pending -> success to be rejected")
	}

	if err := storage.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning, ""); err != nil {
		t.Fatalf("Failed to transition to running: %v", err)
	}
	if err := storage.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, "boom"); err != nil {
		t.Fatalf("Failed to transition to failed: %v", err)
	}

	// Terminal jobs are immutable
	if err := storage.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning, ""); err == nil {
		t.Error("Expected failed -> running to be rejected")
	}

	got, err := storage.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("Failed to get job: %v", err)
	}
	if got.ErrorMessage != "boom" {
		t.Errorf("Expected error message preserved, got %q", got.ErrorMessage)
	}
}

func TestJobProgressMonotonic(t *testing.T) {
	db := newTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	job := testJob("dmo_1", models.JobKindDMO, time.Now())
	if err := storage.SaveJob(ctx, job); err != nil {
		t.Fatalf("Failed to save job: %v", err)
	}
	if err := storage.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning, ""); err != nil {
		t.Fatalf("Failed to transition to running: %v", err)
	}

	applied, err := storage.UpdateJobProgress(ctx, job.ID, 60)
	if err != nil {
		t.Fatalf("Failed to update progress: %v", err)
	}
	if !applied {
		t.Error("Expected progress 60 to be applied")
	}

	// A lower value is ignored and reported as not applied
	applied, err = storage.UpdateJobProgress(ctx, job.ID, 30)
	if err != nil {
		t.Fatalf("Unexpected error ignoring lower progress: %v", err)
	}
	if applied {
		t.Error("Expected lower progress to be reported as not applied")
	}
	got, err := storage.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("Failed to get job: %v", err)
	}
	if got.Progress != 60 {
		t.Errorf("Expected progress to stay at 60, got %d", got.Progress)
	}

	// Values over 100 are clamped
	applied, err = storage.UpdateJobProgress(ctx, job.ID, 150)
	if err != nil {
		t.Fatalf("Failed to update progress: %v", err)
	}
	if !applied {
		t.Error("Expected clamped progress to be applied")
	}
	got, _ = storage.GetJob(ctx, job.ID)
	if got.Progress != 100 {
		t.Errorf("Expected progress clamped to 100, got %d", got.Progress)
	}
}

func TestJobProgressIgnoredWhenTerminal(t *testing.T) {
	db := newTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	job := testJob("dmo_1", models.JobKindDMO, time.Now())
	if err := storage.SaveJob(ctx, job); err != nil {
		t.Fatalf("Failed to save job: %v", err)
	}
	if err := storage.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning, ""); err != nil {
		t.Fatalf("Failed to transition to running: %v", err)
	}
	if err := storage.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, "boom"); err != nil {
		t.Fatalf("Failed to transition to failed: %v", err)
	}

	applied, err := storage.UpdateJobProgress(ctx, job.ID, 90)
	if err != nil {
		t.Fatalf("Unexpected error on terminal progress update: %v", err)
	}
	if applied {
		t.Error("Expected terminal progress update to be reported as not applied")
	}
	got, err := storage.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("Failed to get job: %v", err)
	}
	if got.Progress != 0 {
		t.Errorf("Expected terminal job progress unchanged, got %d", got.Progress)
	}
}

func TestFindRunOnDay(t *testing.T) {
	db := newTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	now := time.Now()
	yesterday := now.AddDate(0, 0, -1)

	if err := storage.SaveJob(ctx, testJob("dmo_old", models.JobKindDMO, yesterday)); err != nil {
		t.Fatalf("Failed to save job: %v", err)
	}
	if err := storage.SaveJob(ctx, testJob("dmo_today", models.JobKindDMO, now)); err != nil {
		t.Fatalf("Failed to save job: %v", err)
	}

	found, err := storage.FindRunOnDay(ctx, models.JobKindDMO, "nsw_grid", now)
	if err != nil {
		t.Fatalf("FindRunOnDay failed: %v", err)
	}
	if found == nil || found.ID != "dmo_today" {
		t.Fatalf("Expected dmo_today, got %+v", found)
	}

	// Yesterday's run does not block today
	found, err = storage.FindRunOnDay(ctx, models.JobKindDMO, "nsw_grid", yesterday)
	if err != nil {
		t.Fatalf("FindRunOnDay failed: %v", err)
	}
	if found == nil || found.ID != "dmo_old" {
		t.Fatalf("Expected dmo_old, got %+v", found)
	}

	// Different kind and data source are separate scopes
	if found, _ := storage.FindRunOnDay(ctx, models.JobKindRMO, "nsw_grid", now); found != nil {
		t.Errorf("Expected no RMO run, got %+v", found)
	}
	if found, _ := storage.FindRunOnDay(ctx, models.JobKindDMO, "vic_grid", now); found != nil {
		t.Errorf("Expected no vic_grid run, got %+v", found)
	}
}

func TestFindRunOnDayExcludesFailedAndCancelled(t *testing.T) {
	db := newTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	job := testJob("dmo_1", models.JobKindDMO, time.Now())
	if err := storage.SaveJob(ctx, job); err != nil {
		t.Fatalf("Failed to save job: %v", err)
	}
	if err := storage.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning, ""); err != nil {
		t.Fatalf("Failed to transition to running: %v", err)
	}
	if err := storage.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, "boom"); err != nil {
		t.Fatalf("Failed to transition to failed: %v", err)
	}

	found, err := storage.FindRunOnDay(ctx, models.JobKindDMO, "nsw_grid", time.Now())
	if err != nil {
		t.Fatalf("FindRunOnDay failed: %v", err)
	}
	if found != nil {
		t.Errorf("Expected failed run to be invisible to the day check, got %+v", found)
	}
}

func TestListJobsFilters(t *testing.T) {
	db := newTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	now := time.Now()
	jobs := []*models.Job{
		testJob("dmo_1", models.JobKindDMO, now.Add(-3*time.Minute)),
		testJob("rmo_1", models.JobKindRMO, now.Add(-2*time.Minute)),
		testJob("dmo_2", models.JobKindDMO, now.Add(-1*time.Minute)),
	}
	for _, j := range jobs {
		if err := storage.SaveJob(ctx, j); err != nil {
			t.Fatalf("Failed to save job %s: %v", j.ID, err)
		}
	}
	if err := storage.UpdateJobStatus(ctx, "rmo_1", models.JobStatusRunning, ""); err != nil {
		t.Fatalf("Failed to transition rmo_1: %v", err)
	}

	byKind, err := storage.ListJobs(ctx, interfaces.JobListOptions{Kind: models.JobKindDMO})
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(byKind) != 2 {
		t.Errorf("Expected 2 DMO jobs, got %d", len(byKind))
	}

	byStatus, err := storage.ListJobs(ctx, interfaces.JobListOptions{Status: models.JobStatusRunning})
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].ID != "rmo_1" {
		t.Errorf("Expected only rmo_1 running, got %d jobs", len(byStatus))
	}

	limited, err := storage.ListJobs(ctx, interfaces.JobListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("Expected 2 jobs with limit, got %d", len(limited))
	}

	// Newest first
	all, err := storage.ListJobs(ctx, interfaces.JobListOptions{})
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(all) != 3 || all[0].ID != "dmo_2" {
		t.Errorf("Expected dmo_2 first, got %+v", all)
	}
}

func TestListStaleRunning(t *testing.T) {
	db := newTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	job := testJob("dmo_1", models.JobKindDMO, time.Now())
	if err := storage.SaveJob(ctx, job); err != nil {
		t.Fatalf("Failed to save job: %v", err)
	}
	if err := storage.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning, ""); err != nil {
		t.Fatalf("Failed to transition to running: %v", err)
	}

	stale, err := storage.ListStaleRunning(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("ListStaleRunning failed: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != job.ID {
		t.Fatalf("Expected 1 stale job, got %d", len(stale))
	}

	// A cutoff before StartedAt matches nothing
	stale, err = storage.ListStaleRunning(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListStaleRunning failed: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("Expected no stale jobs, got %d", len(stale))
	}
}

func TestGetJobNotFound(t *testing.T) {
	db := newTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())

	_, err := storage.GetJob(context.Background(), "missing")
	if !errors.Is(err, interfaces.ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound, got %v", err)
	}
}

func TestDeleteJob(t *testing.T) {
	db := newTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	job := testJob("dmo_1", models.JobKindDMO, time.Now())
	if err := storage.SaveJob(ctx, job); err != nil {
		t.Fatalf("Failed to save job: %v", err)
	}
	if err := storage.DeleteJob(ctx, job.ID); err != nil {
		t.Fatalf("Failed to delete job: %v", err)
	}
	if _, err := storage.GetJob(ctx, job.ID); !errors.Is(err, interfaces.ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound after delete, got %v", err)
	}
	if err := storage.DeleteJob(ctx, job.ID); !errors.Is(err, interfaces.ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound on double delete, got %v", err)
	}
}
