package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestWarmupRunsBeforeWorkers(t *testing.T) {
	var warmupDone, workerSawWarmup atomic.Bool

	s := New()
	s.Add(Task{Name: "warmup", Kind: Warmup, Run: func(ctx context.Context) error {
		warmupDone.Store(true)
		return nil
	}})
	s.Add(Task{Name: "worker", Kind: Worker, Run: func(ctx context.Context) error {
		workerSawWarmup.Store(warmupDone.Load())
		<-ctx.Done()
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	if !workerSawWarmup.Load() {
		t.Error("expected the worker to observe the warmup task had already completed")
	}
}

func TestWarmupFailureAbortsRun(t *testing.T) {
	workerStarted := make(chan struct{}, 1)

	s := New()
	s.Add(Task{Name: "warmup", Kind: Warmup, Run: func(ctx context.Context) error {
		return errors.New("boom")
	}})
	s.Add(Task{Name: "worker", Kind: Worker, Run: func(ctx context.Context) error {
		workerStarted <- struct{}{}
		return nil
	}})

	err := s.Run(context.Background())
	if err == nil {
		t.Fatal("expected an error from a failing warmup task")
	}
	select {
	case <-workerStarted:
		t.Error("worker task should never have started")
	default:
	}
}

func TestPeriodicTaskRunsRepeatedly(t *testing.T) {
	var count atomic.Int32

	s := New()
	s.Add(Task{Name: "tick", Kind: Periodic, Interval: 10 * time.Millisecond, Run: func(ctx context.Context) error {
		count.Add(1)
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(55 * time.Millisecond)
	cancel()
	<-done

	if count.Load() < 2 {
		t.Errorf("expected the periodic task to have run at least twice, ran %d times", count.Load())
	}
}

func TestShutdownCallsListenerShutdownBeforeCancel(t *testing.T) {
	shutdownCalled := make(chan struct{})

	s := New()
	s.Add(Task{
		Name: "listener",
		Kind: Listener,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		},
		Shutdown: func(ctx context.Context) error {
			close(shutdownCalled)
			return nil
		},
	})

	go s.Run(context.Background())
	time.Sleep(10 * time.Millisecond)

	if err := s.Shutdown(time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	select {
	case <-shutdownCalled:
	default:
		t.Error("expected listener Shutdown to have been called")
	}
}

func TestShutdownTimesOutOnStuckTask(t *testing.T) {
	s := New()
	s.Add(Task{Name: "stuck", Kind: Worker, Run: func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(time.Second)
		return nil
	}})

	go s.Run(context.Background())
	time.Sleep(10 * time.Millisecond)

	if err := s.Shutdown(20 * time.Millisecond); err == nil {
		t.Fatal("expected a shutdown timeout error")
	}
}
