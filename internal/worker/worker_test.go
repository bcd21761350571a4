package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/vibecoding/demo2apk/internal/build/pipeline"
	"github.com/vibecoding/demo2apk/internal/config"
	"github.com/vibecoding/demo2apk/internal/diskspace"
	"github.com/vibecoding/demo2apk/internal/logging"
	"github.com/vibecoding/demo2apk/internal/models"
	"github.com/vibecoding/demo2apk/internal/queue"
	"github.com/vibecoding/demo2apk/internal/storage"
)

// builderFunc adapts a function to the Builder interface.
type builderFunc func(ctx context.Context, task *models.Task, progress pipeline.ProgressFunc) (*pipeline.Outcome, error)

func (f builderFunc) Run(ctx context.Context, task *models.Task, progress pipeline.ProgressFunc) (*pipeline.Outcome, error) {
	return f(ctx, task, progress)
}

func newTestWorker(t *testing.T, builder Builder) *Worker {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	orig := checkDiskSpace
	checkDiskSpace = func(string, int64) error { return nil }
	t.Cleanup(func() { checkDiskSpace = orig })

	log := logging.NewServerLogger()
	cfg := config.New()
	cfg.Worker.Concurrency = 1
	cfg.Build.UploadsDir = t.TempDir()
	cfg.Build.BuildsDir = t.TempDir()

	store, err := storage.New(cfg.Build.UploadsDir, cfg.Build.BuildsDir, log)
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	return New(cfg, queue.NewFromClient(rdb, log), store, builder, log)
}

func enqueueTask(t *testing.T, w *Worker, id string) {
	t.Helper()
	task := models.Task{
		ID:        id,
		Kind:      models.KindHTML,
		AppName:   "WorkerApp",
		AppID:     "com.vibecoding.workerapp",
		FileName:  "app.html",
		CreatedAt: time.Now(),
	}
	if _, err := w.queue.Enqueue(context.Background(), task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
}

// runUntilTerminal starts the worker, waits for the job to finish, and
// shuts the worker down.
func runUntilTerminal(t *testing.T, w *Worker, id string) *models.Job {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	deadline := time.Now().Add(10 * time.Second)
	var job *models.Job
	for time.Now().Before(deadline) {
		j, err := w.queue.Get(context.Background(), id)
		if err == nil && j.Terminal() {
			job = j
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not drain after cancel")
	}
	if job == nil {
		t.Fatal("job never reached a terminal state")
	}
	return job
}

func TestWorkerCompletesJob(t *testing.T) {
	var w *Worker
	builder := builderFunc(func(_ context.Context, task *models.Task, progress pipeline.ProgressFunc) (*pipeline.Outcome, error) {
		progress("Compiling the project", 50)
		apk := w.store.ArtifactPath(task.AppName, task.ID)
		if err := os.WriteFile(apk, []byte("built-apk"), 0o644); err != nil {
			return nil, err
		}
		progress("Build complete", 100)
		return &pipeline.Outcome{APKPath: apk, APKSize: int64(len("built-apk"))}, nil
	})
	w = newTestWorker(t, builder)
	enqueueTask(t, w, "workerok00001")

	job := runUntilTerminal(t, w, "workerok00001")
	if !job.Succeeded() {
		t.Fatalf("job = %+v, want success", job)
	}
	if job.Result.APKPath == "" {
		t.Error("result should record the artifact path")
	}
	if job.Result.Duration <= 0 {
		t.Error("result should record a duration")
	}
	if job.Progress.Percent != 100 {
		t.Errorf("progress = %d, want 100", job.Progress.Percent)
	}
	if job.Owner != w.ID() {
		t.Errorf("owner = %q, want %q", job.Owner, w.ID())
	}
}

func TestWorkerRecordsBuildFailure(t *testing.T) {
	builder := builderFunc(func(context.Context, *models.Task, pipeline.ProgressFunc) (*pipeline.Outcome, error) {
		return nil, errors.New("npm install exited 1: registry unreachable")
	})
	w := newTestWorker(t, builder)
	enqueueTask(t, w, "workerfail001")

	job := runUntilTerminal(t, w, "workerfail001")
	if job.State != models.StateCompleted {
		t.Errorf("state = %q, want completed", job.State)
	}
	if job.PublicStatus() != "failed" {
		t.Errorf("public status = %q, want failed", job.PublicStatus())
	}
	if job.Result == nil || job.Result.Success {
		t.Fatalf("result = %+v, want a recorded failure", job.Result)
	}
	if job.Result.Error != "npm install exited 1: registry unreachable" {
		t.Errorf("error = %q", job.Result.Error)
	}
}

func TestWorkerRecoversFromPanic(t *testing.T) {
	builder := builderFunc(func(context.Context, *models.Task, pipeline.ProgressFunc) (*pipeline.Outcome, error) {
		panic("nil dereference in a bad pipeline")
	})
	w := newTestWorker(t, builder)
	enqueueTask(t, w, "workerpanic01")

	job := runUntilTerminal(t, w, "workerpanic01")
	if job.Result == nil || job.Result.Success {
		t.Fatalf("result = %+v, want a recorded failure", job.Result)
	}
	if want := "build panicked"; !strings.Contains(job.Result.Error, want) {
		t.Errorf("error = %q, want it to mention %q", job.Result.Error, want)
	}
}

func TestWorkerRefusesBuildOnLowDisk(t *testing.T) {
	builder := builderFunc(func(context.Context, *models.Task, pipeline.ProgressFunc) (*pipeline.Outcome, error) {
		t.Error("pipeline must not run on a low volume")
		return nil, errors.New("unreachable")
	})
	w := newTestWorker(t, builder)
	checkDiskSpace = func(dir string, need int64) error {
		return &diskspace.LowSpaceError{Dir: dir, Need: need, Free: 12 << 20}
	}
	enqueueTask(t, w, "workerdisk001")

	job := runUntilTerminal(t, w, "workerdisk001")
	if job.Result == nil || job.Result.Success {
		t.Fatalf("result = %+v, want a recorded failure", job.Result)
	}
	if want := "not enough free disk space"; !strings.Contains(job.Result.Error, want) {
		t.Errorf("error = %q, want it to mention %q", job.Result.Error, want)
	}
}

func TestWorkerProcessesJobsInOrder(t *testing.T) {
	var order []string
	builder := builderFunc(func(_ context.Context, task *models.Task, _ pipeline.ProgressFunc) (*pipeline.Outcome, error) {
		order = append(order, task.ID)
		return nil, fmt.Errorf("stop after recording")
	})
	w := newTestWorker(t, builder)
	enqueueTask(t, w, "workerord0001")
	enqueueTask(t, w, "workerord0002")

	runUntilTerminal(t, w, "workerord0002")
	if len(order) != 2 || order[0] != "workerord0001" || order[1] != "workerord0002" {
		t.Errorf("build order = %v, want FIFO", order)
	}
}

func TestWorkerDrainsOnCancelWithEmptyQueue(t *testing.T) {
	builder := builderFunc(func(context.Context, *models.Task, pipeline.ProgressFunc) (*pipeline.Outcome, error) {
		return nil, errors.New("unused")
	})
	w := newTestWorker(t, builder)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
