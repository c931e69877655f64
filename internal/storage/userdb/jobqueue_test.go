package userdb

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bobmcallan/vire-analytics/internal/models"
)

func snapshotJob(account, date string, priority int) *models.Job {
	return &models.Job{JobType: models.JobTypeComputeSnapshot, AccountID: account, AsOfDate: date, Priority: priority, MaxAttempts: 3}
}

func TestJobQueue_EnqueueAndClaim(t *testing.T) {
	store := newUnitTestStore(t)
	ctx := context.Background()

	job := snapshotJob("acc-1", "2024-03-08", models.PriorityLatestSnapshot)
	if err := store.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if job.ID == "" || job.Status != models.JobStatusPending {
		t.Fatalf("expected id and pending status, got %+v", job)
	}

	ok, err := store.Claim(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("Claim: ok=%v err=%v", ok, err)
	}
	ok, _ = store.Claim(ctx, job.ID)
	if ok {
		t.Error("a running job must not be claimed twice")
	}

	if err := store.Complete(ctx, job.ID, nil, 42); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	jobs, _ := store.ListBySubject(ctx, "acc-1")
	if len(jobs) != 1 || jobs[0].Status != models.JobStatusCompleted || jobs[0].Attempts != 1 || jobs[0].DurationMS != 42 {
		t.Errorf("unexpected job after completion: %+v", jobs[0])
	}

	if _, err := store.Claim(ctx, "nope"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestJobQueue_CompleteWithError(t *testing.T) {
	store := newUnitTestStore(t)
	ctx := context.Background()

	job := snapshotJob("acc-1", "2024-03-08", 5)
	store.Enqueue(ctx, job)
	store.Claim(ctx, job.ID)
	if err := store.Complete(ctx, job.ID, errors.New("boom"), 1); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	jobs, _ := store.ListBySubject(ctx, "acc-1")
	if jobs[0].Status != models.JobStatusFailed || jobs[0].Error != "boom" {
		t.Errorf("expected failed job with error, got %+v", jobs[0])
	}
}

func TestJobQueue_ListPendingOrdering(t *testing.T) {
	store := newUnitTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC)
	jobs := []*models.Job{
		snapshotJob("acc-1", "2024-03-06", models.PriorityBackfill),
		snapshotJob("acc-1", "2024-03-05", models.PriorityBackfill),
		snapshotJob("acc-2", "2024-03-08", models.PriorityLatestSnapshot),
		{JobType: models.JobTypeComputeUserView, UserID: "u1", AsOfDate: "2024-03-08", Priority: models.PriorityUserView},
	}
	for i, j := range jobs {
		j.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := store.Enqueue(ctx, j); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	pending, err := store.ListPending(ctx, 0)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	want := []string{"acc-2", "user:u1", "acc-1", "acc-1"}
	for i, j := range pending {
		if j.Subject() != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], j.Subject())
		}
	}
	if pending[2].AsOfDate != "2024-03-05" {
		t.Errorf("backfill jobs must run oldest date first, got %s", pending[2].AsOfDate)
	}

	limited, _ := store.ListPending(ctx, 2)
	if len(limited) != 2 {
		t.Errorf("expected limit 2, got %d", len(limited))
	}
	n, _ := store.CountPending(ctx)
	if n != 4 {
		t.Errorf("expected 4 pending, got %d", n)
	}
}

func TestJobQueue_HasPendingJob(t *testing.T) {
	store := newUnitTestStore(t)
	ctx := context.Background()

	store.Enqueue(ctx, snapshotJob("acc-1", "2024-03-08", 10))
	store.Enqueue(ctx, &models.Job{JobType: models.JobTypeComputeUserView, UserID: "u1", AsOfDate: "2024-03-08"})

	cases := []struct {
		jobType, subject, date string
		want                   bool
	}{
		{models.JobTypeComputeSnapshot, "acc-1", "2024-03-08", true},
		{models.JobTypeComputeSnapshot, "acc-1", "2024-03-07", false},
		{models.JobTypeComputeSnapshot, "acc-2", "2024-03-08", false},
		{models.JobTypeComputeUserView, "user:u1", "2024-03-08", true},
	}
	for _, tc := range cases {
		got, err := store.HasPendingJob(ctx, tc.jobType, tc.subject, tc.date)
		if err != nil {
			t.Fatalf("HasPendingJob: %v", err)
		}
		if got != tc.want {
			t.Errorf("HasPendingJob(%s,%s,%s) = %v, want %v", tc.jobType, tc.subject, tc.date, got, tc.want)
		}
	}
}

func TestJobQueue_CancelRequeueReset(t *testing.T) {
	store := newUnitTestStore(t)
	ctx := context.Background()

	a := snapshotJob("acc-1", "2024-03-05", 5)
	b := snapshotJob("acc-1", "2024-03-06", 5)
	c := snapshotJob("acc-2", "2024-03-06", 5)
	for _, j := range []*models.Job{a, b, c} {
		store.Enqueue(ctx, j)
	}
	store.Claim(ctx, a.ID)

	n, err := store.CancelByAccount(ctx, "acc-1")
	if err != nil {
		t.Fatalf("CancelByAccount: %v", err)
	}
	if n != 1 {
		t.Errorf("expected only the pending acc-1 job cancelled, got %d", n)
	}

	reset, err := store.ResetRunningJobs(ctx)
	if err != nil {
		t.Fatalf("ResetRunningJobs: %v", err)
	}
	if reset != 1 {
		t.Errorf("expected 1 running job reset, got %d", reset)
	}

	store.Claim(ctx, c.ID)
	c.Attempts = 1
	if err := store.Requeue(ctx, c); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	if ok, _ := store.Claim(ctx, c.ID); !ok {
		t.Error("requeued job should be claimable")
	}

	if err := store.Cancel(ctx, a.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	pending, _ := store.ListPending(ctx, 0)
	if len(pending) != 0 {
		t.Errorf("expected empty queue, got %d", len(pending))
	}
}

func TestJobQueue_PurgeCompleted(t *testing.T) {
	store := newUnitTestStore(t)
	ctx := context.Background()

	done := snapshotJob("acc-1", "2024-03-05", 5)
	open := snapshotJob("acc-1", "2024-03-06", 5)
	store.Enqueue(ctx, done)
	store.Enqueue(ctx, open)
	store.Claim(ctx, done.ID)
	store.Complete(ctx, done.ID, nil, 1)

	n, err := store.PurgeCompleted(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("PurgeCompleted: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged, got %d", n)
	}
	jobs, _ := store.ListBySubject(ctx, "acc-1")
	if len(jobs) != 1 || jobs[0].ID != open.ID {
		t.Errorf("pending job must survive purge, got %+v", jobs)
	}
}

func TestJobQueue_ConcurrentClaim(t *testing.T) {
	store := newUnitTestStore(t)
	ctx := context.Background()

	job := snapshotJob("acc-1", "2024-03-08", 10)
	store.Enqueue(ctx, job)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := store.Claim(ctx, job.ID); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Errorf("expected exactly one claim to win, got %d", wins.Load())
	}
}

func TestJobQueue_ListBySubject(t *testing.T) {
	store := newUnitTestStore(t)
	ctx := context.Background()

	older := snapshotJob("acc-1", "2024-03-07", 5)
	older.CreatedAt = time.Now().Add(-time.Minute)
	store.Enqueue(ctx, older)
	store.Enqueue(ctx, snapshotJob("acc-1", "2024-03-08", 10))
	store.Enqueue(ctx, snapshotJob("acc-2", "2024-03-08", 10))
	store.Enqueue(ctx, &models.Job{JobType: models.JobTypeComputeUserView, UserID: "u1", AsOfDate: "2024-03-08"})

	jobs, err := store.ListBySubject(ctx, "acc-1")
	if err != nil {
		t.Fatalf("ListBySubject: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs for acc-1, want 2", len(jobs))
	}
	if jobs[0].AsOfDate != "2024-03-08" {
		t.Errorf("newest first: got %s", jobs[0].AsOfDate)
	}

	views, err := store.ListBySubject(ctx, "user:u1")
	if err != nil {
		t.Fatalf("ListBySubject user: %v", err)
	}
	if len(views) != 1 || views[0].JobType != models.JobTypeComputeUserView {
		t.Errorf("user subject jobs = %+v", views)
	}
}
