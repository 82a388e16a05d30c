package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"challenge-engine/internal/config"
	"challenge-engine/internal/metrics"
	"challenge-engine/internal/service"
	"challenge-engine/internal/snapshot"
	"challenge-engine/internal/syncer"
)

// Job is one periodic sweep
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Worker runs the background sweeps, each on its own cadence. Every sweep is
// idempotent, so a cadence shorter than the real deadline only costs reads.
type Worker struct {
	jobs   []Job
	logger *slog.Logger
}

// NewWorker wires the status, sync and weekly sweeps with the intervals from cfg
func NewWorker(svc *service.Service, orch *syncer.Orchestrator, snap *snapshot.Engine, cfg *config.Config) *Worker {
	return New(
		Job{
			Name:     metrics.SweepSync,
			Interval: cfg.SyncInterval,
			Run: func(ctx context.Context) error {
				_, err := orch.RunSyncSweep(ctx)
				return err
			},
		},
		Job{
			Name:     metrics.SweepStatus,
			Interval: cfg.StatusSweepInterval,
			Run: func(ctx context.Context) error {
				_, err := svc.RunDailyStatusSweep(ctx)
				return err
			},
		},
		Job{
			Name:     metrics.SweepWeekly,
			Interval: cfg.WeeklySweepInterval,
			Run: func(ctx context.Context) error {
				_, err := snap.RunWeeklySnapshotSweep(ctx)
				return err
			},
		},
	)
}

// New creates a worker for arbitrary jobs
func New(jobs ...Job) *Worker {
	return &Worker{jobs: jobs, logger: slog.Default()}
}

// Start runs every job once immediately and then on its interval until ctx is
// cancelled. Runs of the same job never overlap.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker", "jobs", len(w.jobs))
	metrics.WorkerActive.Set(1)
	defer metrics.WorkerActive.Set(0)

	var wg sync.WaitGroup
	for _, job := range w.jobs {
		job := job
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx, job)
		}()
	}

	<-ctx.Done()
	wg.Wait()
	w.logger.Info("Stopping worker")
	return ctx.Err()
}

func (w *Worker) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		w.RunJob(ctx, job)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunJob runs job once, recording its outcome. Panics are recovered so one bad
// sweep cannot take the scheduler down.
func (w *Worker) RunJob(ctx context.Context, job Job) (err error) {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s sweep: %v", job.Name, r)
		}

		metrics.SweepDuration.WithLabelValues(job.Name).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.SweepRunsTotal.WithLabelValues(job.Name, metrics.ResultFailure).Inc()
			w.logger.Error("Sweep failed", "sweep", job.Name, "error", err)
			return
		}
		metrics.SweepRunsTotal.WithLabelValues(job.Name, metrics.ResultSuccess).Inc()
		w.logger.Debug("Sweep completed", "sweep", job.Name, "duration_ms", time.Since(start).Milliseconds())
	}()

	return job.Run(ctx)
}

// RunOnce runs the named job a single time
func (w *Worker) RunOnce(ctx context.Context, name string) error {
	for _, job := range w.jobs {
		if job.Name == name {
			return w.RunJob(ctx, job)
		}
	}
	return fmt.Errorf("unknown sweep %q", name)
}
