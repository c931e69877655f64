package surrealdb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bobmcallan/vire-analytics/internal/models"
)

func snapshotJob(account, date string, priority int) *models.Job {
	return &models.Job{JobType: models.JobTypeComputeSnapshot, AccountID: account, AsOfDate: date, Priority: priority, MaxAttempts: 3}
}

func TestJobQueueStore_EnqueueAndClaim(t *testing.T) {
	db := testDB(t)
	store := NewJobQueueStore(db, testLogger())
	ctx := context.Background()

	job := snapshotJob("acc-1", "2024-03-08", models.PriorityLatestSnapshot)
	if err := store.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if job.ID == "" {
		t.Error("expected job ID to be set after enqueue")
	}
	if job.Status != models.JobStatusPending {
		t.Errorf("expected status pending, got %s", job.Status)
	}

	ok, err := store.Claim(ctx, job.ID)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if !ok {
		t.Fatal("expected first claim to succeed")
	}

	// Second claim must lose
	ok, err = store.Claim(ctx, job.ID)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if ok {
		t.Error("expected second claim to fail")
	}

	jobs, err := store.ListBySubject(ctx, "acc-1")
	if err != nil {
		t.Fatalf("ListBySubject failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != models.JobStatusRunning || jobs[0].Attempts != 1 {
		t.Errorf("unexpected job state: %+v", jobs)
	}
}

func TestJobQueueStore_ListPending_Ordering(t *testing.T) {
	db := testDB(t)
	store := NewJobQueueStore(db, testLogger())
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, j := range []*models.Job{
		snapshotJob("acc-1", "2024-03-06", models.PriorityBackfill),
		snapshotJob("acc-1", "2024-03-05", models.PriorityBackfill),
		snapshotJob("acc-2", "2024-03-08", models.PriorityLatestSnapshot),
	} {
		j.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := store.Enqueue(ctx, j); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	pending, err := store.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(pending))
	}
	want := []string{"2024-03-08", "2024-03-05", "2024-03-06"}
	for i, j := range pending {
		if j.AsOfDate != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], j.AsOfDate)
		}
	}

	count, err := store.CountPending(ctx)
	if err != nil {
		t.Fatalf("CountPending failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 pending, got %d", count)
	}
}

func TestJobQueueStore_HasPendingJob(t *testing.T) {
	db := testDB(t)
	store := NewJobQueueStore(db, testLogger())
	ctx := context.Background()

	store.Enqueue(ctx, snapshotJob("acc-1", "2024-03-08", 10))
	store.Enqueue(ctx, &models.Job{JobType: models.JobTypeComputeUserView, UserID: "u1", AsOfDate: "2024-03-08", Priority: models.PriorityUserView})

	has, err := store.HasPendingJob(ctx, models.JobTypeComputeSnapshot, "acc-1", "2024-03-08")
	if err != nil {
		t.Fatalf("HasPendingJob failed: %v", err)
	}
	if !has {
		t.Error("expected pending snapshot job")
	}

	has, _ = store.HasPendingJob(ctx, models.JobTypeComputeSnapshot, "acc-1", "2024-03-07")
	if has {
		t.Error("different as-of date must not match")
	}

	has, _ = store.HasPendingJob(ctx, models.JobTypeComputeUserView, "user:u1", "2024-03-08")
	if !has {
		t.Error("expected pending user view job")
	}
}

func TestJobQueueStore_CompleteRequeueCancel(t *testing.T) {
	db := testDB(t)
	store := NewJobQueueStore(db, testLogger())
	ctx := context.Background()

	a := snapshotJob("acc-1", "2024-03-05", 5)
	b := snapshotJob("acc-1", "2024-03-06", 5)
	store.Enqueue(ctx, a)
	store.Enqueue(ctx, b)

	store.Claim(ctx, a.ID)
	a.Error = "transient"
	if err := store.Requeue(ctx, a); err != nil {
		t.Fatalf("Requeue failed: %v", err)
	}
	if ok, _ := store.Claim(ctx, a.ID); !ok {
		t.Fatal("requeued job should be claimable")
	}
	if err := store.Complete(ctx, a.ID, errors.New("boom"), 12); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	n, err := store.CancelByAccount(ctx, "acc-1")
	if err != nil {
		t.Fatalf("CancelByAccount failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 cancelled, got %d", n)
	}

	jobs, _ := store.ListBySubject(ctx, "acc-1")
	statuses := map[string]string{}
	for _, j := range jobs {
		statuses[j.ID] = j.Status
	}
	if statuses[a.ID] != models.JobStatusFailed {
		t.Errorf("expected a failed, got %s", statuses[a.ID])
	}
	if statuses[b.ID] != models.JobStatusCancelled {
		t.Errorf("expected b cancelled, got %s", statuses[b.ID])
	}

	purged, err := store.PurgeCompleted(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("PurgeCompleted failed: %v", err)
	}
	if purged != 2 {
		t.Errorf("expected 2 purged, got %d", purged)
	}
}

func TestJobQueueStore_ResetRunningJobs(t *testing.T) {
	db := testDB(t)
	store := NewJobQueueStore(db, testLogger())
	ctx := context.Background()

	job := snapshotJob("acc-1", "2024-03-08", 10)
	store.Enqueue(ctx, job)
	store.Claim(ctx, job.ID)

	n, err := store.ResetRunningJobs(ctx)
	if err != nil {
		t.Fatalf("ResetRunningJobs failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 reset, got %d", n)
	}
	count, _ := store.CountPending(ctx)
	if count != 1 {
		t.Errorf("expected job back in pending, got %d", count)
	}
}
