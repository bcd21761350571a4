package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/vibecoding/demo2apk/internal/logging"
	"github.com/vibecoding/demo2apk/internal/models"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewFromClient(rdb, logging.NewServerLogger())
}

func testTask(id string) models.Task {
	return models.Task{
		ID:         id,
		Kind:       models.KindHTML,
		AppName:    "HelloApp",
		AppID:      "com.vibecoding.helloapp",
		FileName:   "hello.html",
		UploadPath: "/uploads/" + id + "/hello.html",
		CreatedAt:  time.Now(),
	}
}

func TestEnqueueIsIdempotent(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	created, err := q.Enqueue(ctx, testTask("task00000001"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !created {
		t.Error("first enqueue should create the job")
	}

	created, err = q.Enqueue(ctx, testTask("task00000001"))
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if created {
		t.Error("second enqueue with the same id must be a no-op")
	}

	_, total, err := q.Position(ctx, "task00000001")
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if total != 1 {
		t.Errorf("queue total = %d, want 1 after duplicate admission", total)
	}
}

func TestEnqueueThenGet(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	task := testTask("task00000002")
	if _, err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	job, err := q.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.State != models.StateWaiting {
		t.Errorf("state = %q, want waiting", job.State)
	}
	if job.AppName != "HelloApp" || job.Kind != models.KindHTML {
		t.Errorf("task payload lost: %+v", job.Task)
	}
	if job.PublicStatus() != "pending" {
		t.Errorf("public status = %q, want pending", job.PublicStatus())
	}
	if job.Result != nil {
		t.Error("fresh job must not carry a result")
	}
}

func TestGetUnknown(t *testing.T) {
	q := newTestQueue(t)
	if _, err := q.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestLeaseMovesToActive(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	task := testTask("task00000003")
	if _, err := q.Enqueue(ctx, task); err != nil {
		t.Fatal(err)
	}

	job, err := q.Lease(ctx, "worker-a", 0)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if job == nil {
		t.Fatal("expected a job")
	}
	if job.ID != task.ID {
		t.Errorf("leased %q, want %q", job.ID, task.ID)
	}
	if job.State != models.StateActive {
		t.Errorf("state = %q, want active", job.State)
	}
	if job.Owner != "worker-a" {
		t.Errorf("owner = %q, want worker-a", job.Owner)
	}

	// The waiting list is empty now: a second lease finds nothing.
	again, err := q.Lease(ctx, "worker-b", 0)
	if err != nil {
		t.Fatalf("second lease: %v", err)
	}
	if again != nil {
		t.Errorf("job leased twice: %+v", again)
	}
}

func TestLeaseOrderIsFIFO(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := q.Enqueue(ctx, testTask(fmt.Sprintf("task0000001%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 3; i++ {
		job, err := q.Lease(ctx, "w", 0)
		if err != nil || job == nil {
			t.Fatalf("lease %d: %v %v", i, job, err)
		}
		want := fmt.Sprintf("task0000001%d", i)
		if job.ID != want {
			t.Errorf("lease %d = %q, want %q", i, job.ID, want)
		}
	}
}

func TestUpdateProgressNeverRegresses(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	task := testTask("task00000004")
	if _, err := q.Enqueue(ctx, task); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Lease(ctx, "w", 0); err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		percent int
		want    int
	}{
		{25, 25},
		{38, 38},
		{30, 38}, // sub-stage regression is clamped
		{55, 55},
		{150, 100},
		{70, 100},
	}
	for _, s := range steps {
		if err := q.UpdateProgress(ctx, task.ID, "working", s.percent); err != nil {
			t.Fatalf("progress %d: %v", s.percent, err)
		}
		job, err := q.Get(ctx, task.ID)
		if err != nil {
			t.Fatal(err)
		}
		if job.Progress.Percent != s.want {
			t.Errorf("after write %d: percent = %d, want %d", s.percent, job.Progress.Percent, s.want)
		}
	}
}

func TestUpdateProgressUnknownJob(t *testing.T) {
	q := newTestQueue(t)
	if err := q.UpdateProgress(context.Background(), "nope", "x", 10); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCompleteSuccess(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	task := testTask("task00000005")
	if _, err := q.Enqueue(ctx, task); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Lease(ctx, "w", 0); err != nil {
		t.Fatal(err)
	}

	result := models.Result{
		Success:  true,
		APKPath:  "/builds/HelloApp--task00000005.apk",
		Duration: 90 * time.Second,
	}
	if err := q.Complete(ctx, task.ID, result); err != nil {
		t.Fatalf("complete: %v", err)
	}

	job, err := q.Get(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if job.State != models.StateCompleted {
		t.Errorf("state = %q, want completed", job.State)
	}
	if !job.Succeeded() {
		t.Error("job should report success")
	}
	if job.Result.APKPath != result.APKPath {
		t.Errorf("apk path = %q, want %q", job.Result.APKPath, result.APKPath)
	}
	if job.Result.Duration != result.Duration {
		t.Errorf("duration = %v, want %v", job.Result.Duration, result.Duration)
	}

	_, total, err := q.Position(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 {
		t.Errorf("queue total = %d, want 0 after completion", total)
	}
}

func TestCompleteWithFailureCollapses(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	task := testTask("task00000006")
	if _, err := q.Enqueue(ctx, task); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Lease(ctx, "w", 0); err != nil {
		t.Fatal(err)
	}
	if err := q.Complete(ctx, task.ID, models.Result{Success: false, Error: "gradle exited 1"}); err != nil {
		t.Fatal(err)
	}

	job, err := q.Get(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if job.State != models.StateCompleted {
		t.Errorf("state = %q, want completed in the store", job.State)
	}
	if job.PublicStatus() != "failed" {
		t.Errorf("public status = %q, want failed", job.PublicStatus())
	}
	if job.Result.Error != "gradle exited 1" {
		t.Errorf("error = %q, want the stage error", job.Result.Error)
	}
}

func TestRemove(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	// Unknown id.
	if err := q.Remove(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("remove unknown = %v, want ErrNotFound", err)
	}

	// Waiting job: removable.
	task := testTask("task00000007")
	if _, err := q.Enqueue(ctx, task); err != nil {
		t.Fatal(err)
	}
	if err := q.Remove(ctx, task.ID); err != nil {
		t.Fatalf("remove waiting: %v", err)
	}
	if _, err := q.Get(ctx, task.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("job still present after remove: %v", err)
	}
	// The waiting list entry is gone too.
	if job, _ := q.Lease(ctx, "w", 0); job != nil {
		t.Errorf("leased a removed job: %+v", job)
	}

	// Active job: protected.
	task2 := testTask("task00000008")
	if _, err := q.Enqueue(ctx, task2); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Lease(ctx, "w", 0); err != nil {
		t.Fatal(err)
	}
	if err := q.Remove(ctx, task2.ID); !errors.Is(err, ErrActive) {
		t.Errorf("remove active = %v, want ErrActive", err)
	}
	if job, err := q.Get(ctx, task2.ID); err != nil || job.State != models.StateActive {
		t.Errorf("active job changed by rejected remove: %+v %v", job, err)
	}

	// Completed job: removable again.
	if err := q.Complete(ctx, task2.ID, models.Result{Success: true}); err != nil {
		t.Fatal(err)
	}
	if err := q.Remove(ctx, task2.ID); err != nil {
		t.Fatalf("remove completed: %v", err)
	}
}

func TestPosition(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	ids := []string{"taskA0000001", "taskB0000002", "taskC0000003"}
	for _, id := range ids {
		if _, err := q.Enqueue(ctx, testTask(id)); err != nil {
			t.Fatal(err)
		}
	}

	for i, id := range ids {
		pos, total, err := q.Position(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if pos != i+1 {
			t.Errorf("position(%s) = %d, want %d", id, pos, i+1)
		}
		if total != 3 {
			t.Errorf("total = %d, want 3", total)
		}
	}

	// Lease the head: it leaves the waiting window but stays in the total.
	if _, err := q.Lease(ctx, "w", 0); err != nil {
		t.Fatal(err)
	}
	pos, total, err := q.Position(ctx, "taskB0000002")
	if err != nil {
		t.Fatal(err)
	}
	if pos != 1 {
		t.Errorf("position after lease = %d, want 1", pos)
	}
	if total != 3 {
		t.Errorf("total after lease = %d, want 3 (2 waiting + 1 active)", total)
	}
}

func TestFinishedCapEvictsOldest(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping cap eviction in short mode")
	}
	q := newTestQueue(t)
	ctx := context.Background()

	first := "taskcap00000"
	for i := 0; i <= FinishedCap; i++ {
		id := fmt.Sprintf("taskcap%05d", i)
		if _, err := q.Enqueue(ctx, testTask(id)); err != nil {
			t.Fatal(err)
		}
		if _, err := q.Lease(ctx, "w", 0); err != nil {
			t.Fatal(err)
		}
		if err := q.Complete(ctx, id, models.Result{Success: true}); err != nil {
			t.Fatal(err)
		}
	}

	// The oldest completion fell off the cap.
	if _, err := q.Get(ctx, first); !errors.Is(err, ErrNotFound) {
		t.Errorf("oldest finished job survived the cap: %v", err)
	}
	last := fmt.Sprintf("taskcap%05d", FinishedCap)
	if _, err := q.Get(ctx, last); err != nil {
		t.Errorf("newest finished job evicted: %v", err)
	}
}

func TestIncrRate(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		st, err := q.IncrRate(ctx, "10.0.0.1", time.Hour)
		if err != nil {
			t.Fatalf("incr %d: %v", i, err)
		}
		if st.Count != i {
			t.Errorf("count = %d, want %d", st.Count, i)
		}
		if st.Remaining <= 0 || st.Remaining > time.Hour {
			t.Errorf("remaining = %v, want within (0, 1h]", st.Remaining)
		}
	}

	// A different client key counts separately.
	st, err := q.IncrRate(ctx, "10.0.0.2", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if st.Count != 1 {
		t.Errorf("second client count = %d, want 1", st.Count)
	}
}
