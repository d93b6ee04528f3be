// Package supervisor runs the Edge's background tasks — warmup steps
// that must finish before the process serves traffic, long-running
// workers, network listeners, and periodic jobs — under one shared
// cancellation context, the same goroutine-plus-context-cancel shape
// the teacher uses for its DNS server and ingress proxy lifecycles.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/posedge/edge/pkg/log"
)

// Kind distinguishes how a Task is scheduled and supervised.
type Kind int

const (
	// Warmup tasks run once, sequentially, before any Worker,
	// Listener, or Periodic task starts. A Warmup error aborts Run.
	Warmup Kind = iota
	// Worker tasks run once in their own goroutine for the lifetime of
	// the supervisor; a Worker that returns is not restarted.
	Worker
	// Listener tasks are Workers that additionally get Shutdown called
	// before Run's context is cancelled, giving them a chance to stop
	// accepting new connections cleanly.
	Listener
	// Periodic tasks run on a fixed interval until cancelled.
	Periodic
)

// Task is one unit of supervised work.
type Task struct {
	Name     string
	Kind     Kind
	Run      func(ctx context.Context) error
	Shutdown func(ctx context.Context) error // Listener only, optional
	Interval time.Duration                   // Periodic only
}

// Supervisor owns a cancellation context shared by every task it
// starts: cancelling it is the cooperative signal tasks check at their
// suspension points (I/O waits, channel receives, ticker fires)
// instead of being preempted.
type Supervisor struct {
	tasks  []Task
	logger zerolog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	errs     []error
	listenrs []Task
}

// New returns an empty Supervisor.
func New() *Supervisor {
	return &Supervisor{logger: log.WithComponent("supervisor")}
}

// Add registers a task to run when Run is called. Add must not be
// called after Run.
func (s *Supervisor) Add(t Task) {
	s.tasks = append(s.tasks, t)
}

// Run executes every Warmup task in order, then starts every Worker,
// Listener, and Periodic task in its own goroutine, and blocks until
// ctx is cancelled. It returns the first Warmup error, if any; errors
// from Worker/Listener/Periodic tasks are logged, not returned, since
// one background task failing shouldn't be fatal to the others.
func (s *Supervisor) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	for _, t := range s.tasks {
		if t.Kind != Warmup {
			continue
		}
		s.logger.Info().Str("task", t.Name).Msg("running warmup task")
		if err := t.Run(runCtx); err != nil {
			cancel()
			return fmt.Errorf("supervisor: warmup task %q failed: %w", t.Name, err)
		}
	}

	for _, t := range s.tasks {
		switch t.Kind {
		case Worker, Listener:
			s.startBackground(runCtx, t)
			if t.Kind == Listener {
				s.listenrs = append(s.listenrs, t)
			}
		case Periodic:
			s.startPeriodic(runCtx, t)
		}
	}

	<-runCtx.Done()
	return nil
}

func (s *Supervisor) startBackground(ctx context.Context, t Task) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info().Str("task", t.Name).Msg("starting task")
		if err := t.Run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Str("task", t.Name).Msg("task exited with error")
			s.recordErr(fmt.Errorf("task %q: %w", t.Name, err))
		}
	}()
}

func (s *Supervisor) startPeriodic(ctx context.Context, t Task) {
	if t.Interval <= 0 {
		t.Interval = time.Minute
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(t.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := t.Run(ctx); err != nil {
					s.logger.Error().Err(err).Str("task", t.Name).Msg("periodic task cycle failed")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *Supervisor) recordErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

// Shutdown gives registered Listener tasks up to timeout to stop
// accepting new work, then cancels the shared context and waits for
// every task goroutine to return.
func (s *Supervisor) Shutdown(timeout time.Duration) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for _, t := range s.listenrs {
		if t.Shutdown == nil {
			continue
		}
		if err := t.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Str("task", t.Name).Msg("listener shutdown returned an error")
		}
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-shutdownCtx.Done():
		return fmt.Errorf("supervisor: shutdown timed out waiting for tasks to stop")
	}
}

// Errors returns every error recorded by Worker/Listener/Periodic
// tasks so far.
func (s *Supervisor) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]error, len(s.errs))
	copy(out, s.errs)
	return out
}
