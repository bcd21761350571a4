// Package worker drains the build queue: it leases jobs, runs the
// pipeline, records outcomes, and reclaims expired files on a schedule.
// A pipeline failure is recorded on the job and never crashes a slot;
// the worker process only exits on shutdown.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vibecoding/demo2apk/internal/build/pipeline"
	"github.com/vibecoding/demo2apk/internal/config"
	"github.com/vibecoding/demo2apk/internal/diskspace"
	"github.com/vibecoding/demo2apk/internal/logging"
	"github.com/vibecoding/demo2apk/internal/models"
	"github.com/vibecoding/demo2apk/internal/queue"
	"github.com/vibecoding/demo2apk/internal/storage"
)

// leaseBlock is how long a slot waits on the queue before it rechecks
// for shutdown.
const leaseBlock = 2 * time.Second

// Swapped in tests so low-disk handling runs on full volumes too.
var checkDiskSpace = diskspace.Check

// Builder runs one build. Satisfied by pipeline.Builder; tests swap in
// scripted implementations.
type Builder interface {
	Run(ctx context.Context, task *models.Task, progress pipeline.ProgressFunc) (*pipeline.Outcome, error)
}

// Worker drains the queue with a fixed number of build slots. Leases
// carry the worker id so stuck jobs can be traced to an instance.
type Worker struct {
	id      string
	cfg     *config.Config
	queue   *queue.Queue
	store   *storage.Store
	builder Builder
	log     *logging.Logger
}

// New wires a worker around the shared service dependencies.
func New(cfg *config.Config, q *queue.Queue, store *storage.Store, builder Builder, log *logging.Logger) *Worker {
	id := "worker-" + uuid.NewString()[:8]
	return &Worker{
		id:      id,
		cfg:     cfg,
		queue:   q,
		store:   store,
		builder: builder,
		log:     log.Sub("worker", id),
	}
}

// ID returns the worker's lease identity.
func (w *Worker) ID() string { return w.id }

// Run blocks until ctx is cancelled and every slot has drained. A slot
// holding a job finishes that job before it exits.
func (w *Worker) Run(ctx context.Context) error {
	slots := w.cfg.Worker.Concurrency
	w.log.Info().Int("slots", slots).Msg("Worker started")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.runSweeper(ctx)
	}()
	for i := 0; i < slots; i++ {
		wg.Add(1)
		go w.slot(ctx, &wg, i)
	}
	wg.Wait()

	w.log.Info().Msg("Worker stopped")
	return nil
}

// slot is one lease-build loop.
func (w *Worker) slot(ctx context.Context, wg *sync.WaitGroup, n int) {
	defer wg.Done()
	log := w.log.Sub("slot", strconv.Itoa(n))
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.queue.Lease(ctx, w.id, leaseBlock)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("Lease failed")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		if job == nil {
			continue
		}
		w.build(ctx, job)
	}
}

// build runs one leased job to a recorded outcome. The build context is
// detached from the run context: once leased, a job always finishes,
// even while the worker is draining.
func (w *Worker) build(ctx context.Context, job *models.Job) {
	bctx := context.WithoutCancel(ctx)
	log := w.log.Sub("task", job.ID)
	log.Info().
		Str("app", job.AppName).
		Str("type", string(job.Kind)).
		Msg("Build started")

	start := time.Now()
	progress := func(message string, percent int) {
		if err := w.queue.UpdateProgress(bctx, job.ID, message, percent); err != nil {
			log.Debug().Err(err).Msg("Progress write failed")
		}
	}

	// A build inflates its upload by orders of magnitude, so a nearly
	// full volume fails the job up front rather than mid-stage.
	var outcome *pipeline.Outcome
	err := checkDiskSpace(w.store.BuildsRoot(), diskspace.MinBuildHeadroom)
	if err == nil {
		outcome, err = w.runSafely(bctx, job, progress)
	}

	result := models.Result{Duration: time.Since(start)}
	if err != nil {
		result.Error = err.Error()
	} else {
		result.Success = true
		result.APKPath = outcome.APKPath
	}

	if cerr := w.queue.Complete(bctx, job.ID, result); cerr != nil {
		log.Error().Err(cerr).Msg("Failed to record build outcome")
		return
	}

	if result.Success {
		log.Info().
			Dur("duration", result.Duration).
			Int64("size", outcome.APKSize).
			Str("apk", outcome.APKPath).
			Msg("Build succeeded")
	} else {
		log.Error().
			Dur("duration", result.Duration).
			Str("error", result.Error).
			Msg("Build failed")
	}
}

// runSafely fences the pipeline: a panic comes back as an ordinary
// build failure instead of taking the slot down.
func (w *Worker) runSafely(ctx context.Context, job *models.Job, progress pipeline.ProgressFunc) (outcome *pipeline.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("build panicked: %v", r)
		}
	}()
	return w.builder.Run(ctx, &job.Task, progress)
}
