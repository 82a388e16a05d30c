package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"challenge-engine/internal/challenge"
	"challenge-engine/internal/config"
	"challenge-engine/internal/database"
	"challenge-engine/internal/metrics"
	"challenge-engine/internal/notify"
	"challenge-engine/internal/service"
	"challenge-engine/internal/snapshot"
	"challenge-engine/internal/syncer"
)

type noActivities struct{}

func (noActivities) FetchActivities(ctx context.Context, conn *database.Connection, after, before time.Time) ([]challenge.Activity, error) {
	return nil, nil
}

func setupWorkerTest(t *testing.T) (*Worker, *database.DB) {
	t.Helper()

	db, err := database.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := db.Init(); err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}

	cfg := &config.Config{
		SyncInterval:        time.Minute,
		StatusSweepInterval: time.Minute,
		WeeklySweepInterval: time.Minute,
	}

	orch := syncer.New(db, noActivities{}, nil, syncer.Config{Concurrency: 2})
	svc := service.New(db, notify.NewNotifier(&notify.MemorySink{}, nil), orch)
	snap := snapshot.New(db)

	return NewWorker(svc, orch, snap, cfg), db
}

func TestNewWorkerWiresSweeps(t *testing.T) {
	worker, db := setupWorkerTest(t)
	defer db.Close()

	for _, name := range []string{metrics.SweepSync, metrics.SweepStatus, metrics.SweepWeekly} {
		if err := worker.RunOnce(context.Background(), name); err != nil {
			t.Errorf("Expected %s sweep to succeed on an empty database, got %v", name, err)
		}
	}

	if err := worker.RunOnce(context.Background(), "bogus"); err == nil {
		t.Error("Expected error for unknown sweep")
	}
}

func TestStart_Cancellation(t *testing.T) {
	var runs atomic.Int32
	worker := New(Job{
		Name:     "tick",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())

	// Start worker in goroutine
	done := make(chan error, 1)
	go func() {
		done <- worker.Start(ctx)
	}()

	// Let it run briefly
	time.Sleep(50 * time.Millisecond)

	// Cancel and wait
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Expected context.Canceled error, got %v", err)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Worker did not stop after context cancellation")
	}

	if runs.Load() < 2 {
		t.Errorf("Expected the job to run at least twice, got %d", runs.Load())
	}
}

func TestStart_RunsDoNotOverlap(t *testing.T) {
	var active, maxActive atomic.Int32
	worker := New(Job{
		Name:     "slow",
		Interval: time.Millisecond,
		Run: func(ctx context.Context) error {
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			return nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	if err := worker.Start(ctx); err != context.DeadlineExceeded {
		t.Errorf("Expected context.DeadlineExceeded, got %v", err)
	}
	if maxActive.Load() != 1 {
		t.Errorf("Expected at most one concurrent run, got %d", maxActive.Load())
	}
}

func TestRunJob_RecoversPanic(t *testing.T) {
	worker := New()

	err := worker.RunJob(context.Background(), Job{
		Name: "explodes",
		Run:  func(ctx context.Context) error { panic("boom") },
	})
	if err == nil {
		t.Fatal("Expected panic to be returned as an error")
	}
}

func TestRunJob_ReturnsError(t *testing.T) {
	worker := New()
	want := errors.New("sweep failed")

	err := worker.RunJob(context.Background(), Job{
		Name: "fails",
		Run:  func(ctx context.Context) error { return want },
	})
	if !errors.Is(err, want) {
		t.Errorf("Expected %v, got %v", want, err)
	}
}

func TestRunJob_SkipsWhenCancelled(t *testing.T) {
	worker := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := worker.RunJob(ctx, Job{Name: "never", Run: func(ctx context.Context) error {
		called = true
		return nil
	}})
	if err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if called {
		t.Error("Expected job not to run after cancellation")
	}
}
